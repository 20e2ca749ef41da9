package memory

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Memory is a durable fact about the user, extracted from conversation and
// stored with an embedding for semantic retrieval. Rows are append-only and
// never updated.
type Memory struct {
	ID         string          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RoomID     string          `gorm:"column:room_id;type:uuid;index" json:"roomId"`
	Content    string          `gorm:"column:content;type:text" json:"content"`
	Embedding  pgvector.Vector `gorm:"column:embedding;type:vector(1536)" json:"-"`
	Importance int             `gorm:"column:importance;default:5" json:"importance"`
	CreatedAt  time.Time       `gorm:"column:created_at" json:"createdAt"`
}

func (Memory) TableName() string { return "memories" }

// Match pairs a stored memory with its cosine similarity to a query vector.
type Match struct {
	Memory
	Similarity float64 `gorm:"column:similarity" json:"similarity"`
}
