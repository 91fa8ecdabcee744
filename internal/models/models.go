package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account holder. DisplayName and AvatarURL are the display
// attributes joined onto messages at read time — messages store only the
// author's ID.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	AvatarURL    string    `json:"avatar_url"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Channel is a named scope grouping messages and memberships.
// Description is optional and may be empty.
type Channel struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   uuid.UUID `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChannelMember is the join table between channels and users.
// (channel_id, user_id) is unique; membership is created lazily the first
// time a user opens a channel, never by invitation.
type ChannelMember struct {
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Message is a single chat message in a channel.
//
// IDs are bigserial: monotonically increasing, so (CreatedAt, ID) gives a
// total order with ID breaking timestamp ties. Messages are append-only —
// no edit or delete in this system.
type Message struct {
	ID        int64     `json:"id"`
	ChannelID uuid.UUID `json:"channel_id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Before reports whether m sorts strictly before other in display order:
// ascending by creation time, ties broken by ID.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Reaction is one user's emoji reaction to one message.
// UNIQUE(message_id, user_id, emoji) at the store level: a second add of
// the same triple is a toggle-off, never a duplicate row.
type Reaction struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionGroup is the aggregated view of one emoji on one message:
// how many reacted and who.
type ReactionGroup struct {
	Emoji string      `json:"emoji"`
	Count int         `json:"count"`
	Users []uuid.UUID `json:"users"`
}

// MessageView is what the live view hands to a renderer: the message, the
// author's display attributes resolved at read time, and the current
// reaction groups.
type MessageView struct {
	Message
	AuthorName   string          `json:"author_name"`
	AuthorAvatar string          `json:"author_avatar,omitempty"`
	Reactions    []ReactionGroup `json:"reactions"`
}
