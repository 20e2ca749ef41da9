package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jhyang-dev/reverie/backend/internal/model/chat"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
)

// MessageRepo persists the append-only message ledger. Messages are never
// hard-deleted; the soft flags carry rollback and regeneration.
type MessageRepo interface {
	Create(ctx context.Context, msg *chat.Message) error
	GetByID(ctx context.Context, id string) (chat.Message, error)
	// ListActive returns the visible conversation for a room: active branch,
	// not deleted, ordered by sequence number.
	ListActive(ctx context.Context, roomID string) ([]chat.Message, error)
	// MaxSequence returns the highest sequence number in the room across all
	// branches, 0 when the room is empty.
	MaxSequence(ctx context.Context, roomID string) (int, error)
	// SetDeleted toggles the soft-delete flag on one message.
	SetDeleted(ctx context.Context, id string, deleted bool) error
	// DeactivateAfter moves every active message with a higher sequence number
	// onto the named abandoned branch. Returns how many rows moved.
	DeactivateAfter(ctx context.Context, roomID string, sequence int, branchName string) (int64, error)
	// CountAll counts every stored row in the room, soft-removed included.
	CountAll(ctx context.Context, roomID string) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewMessageRepo builds the gorm-backed message repository.
func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "messages")}
}

func (r *messageRepo) Create(ctx context.Context, msg *chat.Message) error {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *messageRepo) GetByID(ctx context.Context, id string) (chat.Message, error) {
	var msg chat.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Message{}, ErrNotFound
	}
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (r *messageRepo) ListActive(ctx context.Context, roomID string) ([]chat.Message, error) {
	var msgs []chat.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND is_active_branch = ? AND is_deleted = ?", roomID, true, false).
		Order("sequence_number ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepo) MaxSequence(ctx context.Context, roomID string) (int, error) {
	var max *int
	err := r.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where("room_id = ?", roomID).
		Select("MAX(sequence_number)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (r *messageRepo) SetDeleted(ctx context.Context, id string, deleted bool) error {
	res := r.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_deleted": deleted, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *messageRepo) DeactivateAfter(ctx context.Context, roomID string, sequence int, branchName string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where("room_id = ? AND is_active_branch = ? AND sequence_number > ?", roomID, true, sequence).
		Updates(map[string]any{
			"is_active_branch": false,
			"branch_name":      branchName,
			"updated_at":       time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *messageRepo) CountAll(ctx context.Context, roomID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where("room_id = ?", roomID).
		Count(&count).Error
	return count, err
}
