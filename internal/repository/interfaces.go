package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sidharth-m/ripple/internal/models"
)

// Every method takes a context: these all touch the network, and a
// cancelled request should cancel its queries.
//
// Lookups return nil, nil for not-found; callers translate that to
// whatever their layer needs (404, placeholder author, etc.).

// ChannelRepository defines the contract for channel data operations.
type ChannelRepository interface {
	// Create inserts a channel and the creator's membership as one
	// transaction — a listing must never observe a channel whose creator
	// is not yet a member.
	Create(ctx context.Context, name, description string, createdBy uuid.UUID) (*models.Channel, error)

	// GetByID returns a single channel. Returns nil, nil if not found.
	GetByID(ctx context.Context, channelID uuid.UUID) (*models.Channel, error)

	// List returns all channels, newest first.
	// Returns empty slice (not nil) so JSON serializes to [] not null.
	List(ctx context.Context) ([]models.Channel, error)
}

// MembershipRepository handles who belongs to which channel.
type MembershipRepository interface {
	// AddMember adds a user to a channel. Idempotent: adding an existing
	// member is a no-op, the store's uniqueness constraint is the backstop
	// against concurrent duplicate joins.
	AddMember(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) error

	// IsMember checks if a user belongs to a channel.
	IsMember(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) (bool, error)

	// ListMembers returns all members of a channel.
	ListMembers(ctx context.Context, channelID uuid.UUID) ([]models.ChannelMember, error)
}

// MessageRepository handles chat message persistence.
type MessageRepository interface {
	// Create persists a message and returns it with ID and CreatedAt
	// populated. The insert is announced on the change feed; live views
	// pick it up from there, never from this return value.
	Create(ctx context.Context, channelID uuid.UUID, authorID uuid.UUID, body string) (*models.Message, error)

	// ListByChannel returns messages in a channel, newest first, with
	// cursor pagination: before=0 means "from the latest".
	ListByChannel(ctx context.Context, channelID uuid.UUID, before int64, limit int) ([]models.Message, error)

	// Snapshot returns every message in a channel in display order
	// (ascending creation time, ties by ID) with author display
	// attributes joined. Seeds a live view before events are applied.
	Snapshot(ctx context.Context, channelID uuid.UUID) ([]models.MessageView, error)
}

// UserRepository handles user data.
type UserRepository interface {
	Create(ctx context.Context, email, displayName, avatarURL, passwordHash string) (*models.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// ReactionRepository handles emoji reactions.
//
// Toggle is add-if-absent / remove-if-present on the unique
// (message_id, user_id, emoji) triple. The constraint, not the caller,
// arbitrates concurrent toggles. Each outcome is announced on the
// change feed scoped to the message.
type ReactionRepository interface {
	Toggle(ctx context.Context, messageID int64, userID uuid.UUID, emoji string) (added bool, err error)

	// ListByMessage returns the full current reaction set for a message.
	// Aggregation (grouping by emoji) is re-derived from this by callers.
	ListByMessage(ctx context.Context, messageID int64) ([]models.Reaction, error)

	// ListByMessages batch-loads reactions for many messages at once.
	// Messages with no reactions are absent from the map.
	ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.Reaction, error)
}
