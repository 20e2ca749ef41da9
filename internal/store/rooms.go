package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jhyang-dev/reverie/backend/internal/model/chat"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
)

// RoomRepo persists chat rooms and their aggregate counters.
type RoomRepo interface {
	GetByID(ctx context.Context, id string) (chat.Room, error)
	// GetOrCreate resolves the room by id when given, otherwise creates a new
	// room binding the user to the character.
	GetOrCreate(ctx context.Context, roomID, userID, characterID, title string) (chat.Room, error)
	ListByUser(ctx context.Context, userID string) ([]chat.Room, error)
	// TouchExchange refreshes the room preview and bumps the message counter.
	TouchExchange(ctx context.Context, roomID, preview string, added int) error
}

type roomRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewRoomRepo builds the gorm-backed room repository.
func NewRoomRepo(db *gorm.DB, baseLog *logger.Logger) RoomRepo {
	return &roomRepo{db: db, log: baseLog.With("repo", "rooms")}
}

func (r *roomRepo) GetByID(ctx context.Context, id string) (chat.Room, error) {
	var room chat.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Room{}, ErrNotFound
	}
	if err != nil {
		return chat.Room{}, err
	}
	return room, nil
}

func (r *roomRepo) GetOrCreate(ctx context.Context, roomID, userID, characterID, title string) (chat.Room, error) {
	if roomID != "" {
		room, err := r.GetByID(ctx, roomID)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return chat.Room{}, err
		}
	}

	now := time.Now().UTC()
	room := chat.Room{
		ID:          roomID,
		UserID:      userID,
		CharacterID: characterID,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(&room).Error; err != nil {
		return chat.Room{}, err
	}
	r.log.Info("room created", "room", room.ID, "character", characterID)
	return room, nil
}

func (r *roomRepo) ListByUser(ctx context.Context, userID string) ([]chat.Room, error) {
	var rooms []chat.Room
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_message_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *roomRepo) TouchExchange(ctx context.Context, roomID, preview string, added int) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&chat.Room{}).
		Where("id = ?", roomID).
		Updates(map[string]any{
			"last_message":    preview,
			"last_message_at": now,
			"message_count":   gorm.Expr("message_count + ?", added),
			"updated_at":      now,
		}).Error
}
