// Package directory tracks the set of channels and their memberships.
// Joining is lazy: a user becomes a member the first time they open a
// channel, never by invitation.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sidharth-m/ripple/internal/models"
	"github.com/sidharth-m/ripple/internal/repository"
	"go.uber.org/zap"
)

// ErrEmptyName rejects channel creation before any I/O happens.
var ErrEmptyName = errors.New("channel name is empty")

type Directory struct {
	channels repository.ChannelRepository
	members  repository.MembershipRepository
	logger   *zap.Logger
}

func New(channels repository.ChannelRepository, members repository.MembershipRepository, logger *zap.Logger) *Directory {
	return &Directory{channels: channels, members: members, logger: logger}
}

// List returns all channels, most recent first.
func (d *Directory) List(ctx context.Context) ([]models.Channel, error) {
	return d.channels.List(ctx)
}

// Get returns one channel, or nil if it does not exist.
func (d *Directory) Get(ctx context.Context, channelID uuid.UUID) (*models.Channel, error) {
	return d.channels.GetByID(ctx, channelID)
}

// Create makes a new channel with the creator already a member. The
// store does both inserts in one transaction, so no listing can observe
// the channel without its creator.
func (d *Directory) Create(ctx context.Context, name, description string, creator uuid.UUID) (*models.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	ch, err := d.channels.Create(ctx, name, strings.TrimSpace(description), creator)
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}

	d.logger.Info("channel created",
		zap.String("channel_id", ch.ID.String()),
		zap.String("name", ch.Name),
	)
	return ch, nil
}

// EnsureMember makes the user a member of the channel if they are not
// already. The check-then-insert is best-effort; the store's uniqueness
// constraint keeps concurrent calls down to one membership row.
func (d *Directory) EnsureMember(ctx context.Context, channelID, userID uuid.UUID) error {
	isMember, err := d.members.IsMember(ctx, channelID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if isMember {
		return nil
	}

	if err := d.members.AddMember(ctx, channelID, userID); err != nil {
		return fmt.Errorf("join channel: %w", err)
	}

	d.logger.Info("user joined channel",
		zap.String("channel_id", channelID.String()),
		zap.String("user_id", userID.String()),
	)
	return nil
}
