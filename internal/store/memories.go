package store

import (
	"context"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/jhyang-dev/reverie/backend/internal/model/memory"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
)

// MemoryRepo persists room-scoped semantic memories. The similarity search is
// the only read path; the core treats it as an opaque ANN capability.
type MemoryRepo interface {
	Insert(ctx context.Context, mem *memory.Memory) error
	// SearchSimilar returns memories in the room whose cosine similarity to
	// the query embedding is at least threshold, best match first.
	SearchSimilar(ctx context.Context, roomID string, embedding []float32, threshold float64, limit int) ([]memory.Match, error)
}

type memoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewMemoryRepo builds the gorm-backed memory repository.
func NewMemoryRepo(db *gorm.DB, baseLog *logger.Logger) MemoryRepo {
	return &memoryRepo{db: db, log: baseLog.With("repo", "memories")}
}

func (r *memoryRepo) Insert(ctx context.Context, mem *memory.Memory) error {
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(mem).Error
}

func (r *memoryRepo) SearchSimilar(ctx context.Context, roomID string, embedding []float32, threshold float64, limit int) ([]memory.Match, error) {
	vec := pgvector.NewVector(embedding)

	var matches []memory.Match
	err := r.db.WithContext(ctx).Raw(`
		SELECT *, 1 - (embedding <=> ?) AS similarity
		FROM memories
		WHERE room_id = ?
		  AND 1 - (embedding <=> ?) >= ?
		ORDER BY embedding <=> ?
		LIMIT ?`,
		vec, roomID, vec, threshold, vec, limit,
	).Scan(&matches).Error
	if err != nil {
		return nil, err
	}
	return matches, nil
}
