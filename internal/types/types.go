package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Presence is the per-connection record within a room: who is there,
// whether they are editing and, if so, which field.
type Presence struct {
	UserId      int       `json:"userId"`
	UserName    string    `json:"userName"`
	IsEditing   bool      `json:"isEditing"`
	CursorField string    `json:"cursorField,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

type Notification struct {
	Id         string    `json:"id"`
	UserId     int       `json:"user_id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityId   string    `json:"entity_id,omitempty"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}
