package chat

import "time"

// Room is a persistent one user / one character conversation. It is created
// lazily on the first send and its aggregates are refreshed after every
// exchange.
type Room struct {
	ID            string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID        string    `gorm:"column:user_id;type:uuid;index" json:"userId"`
	CharacterID   string    `gorm:"column:character_id;type:text;index" json:"characterId"`
	Title         string    `gorm:"column:title;type:text" json:"title"`
	LastMessage   string    `gorm:"column:last_message;type:text" json:"lastMessage"`
	LastMessageAt time.Time `gorm:"column:last_message_at" json:"lastMessageAt"`
	MessageCount  int       `gorm:"column:message_count" json:"messageCount"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (Room) TableName() string { return "chat_rooms" }
