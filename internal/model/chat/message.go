package chat

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultBranch is the branch every room starts on.
const DefaultBranch = "main"

// Message is one persisted turn of a room. Rows are append-only: rollback and
// regeneration only ever toggle IsActiveBranch/IsDeleted, never delete.
type Message struct {
	ID              string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RoomID          string    `gorm:"column:room_id;type:uuid;index" json:"roomId"`
	UserID          string    `gorm:"column:user_id;type:uuid;index" json:"userId"`
	Role            string    `gorm:"column:role;type:text" json:"role"`
	Content         string    `gorm:"column:content;type:text" json:"content"`
	SequenceNumber  int       `gorm:"column:sequence_number" json:"sequenceNumber"`
	ParentMessageID string    `gorm:"column:parent_message_id;type:uuid" json:"parentMessageId,omitempty"`
	BranchName      string    `gorm:"column:branch_name;type:text;default:main" json:"branchName"`
	IsActiveBranch  bool      `gorm:"column:is_active_branch;default:true" json:"isActiveBranch"`
	IsDeleted       bool      `gorm:"column:is_deleted;default:false" json:"isDeleted"`
	TokensUsed      int       `gorm:"column:tokens_used" json:"tokensUsed"`
	Cost            int       `gorm:"column:cost" json:"cost"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (Message) TableName() string { return "messages" }

// Visible reports whether the message belongs to the active conversation view.
func (m Message) Visible() bool {
	return m.IsActiveBranch && !m.IsDeleted
}
