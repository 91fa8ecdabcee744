// Package composer is the outbound message path: validate locally,
// insert into the store, and let the change feed carry the new row back
// to every live view — including the sender's. The composer never
// appends to a view itself, so optimistic and authoritative state
// cannot diverge.
package composer

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

// ErrEmptyBody rejects a message that is empty after trimming, before
// any round trip.
var ErrEmptyBody = errors.New("message body is empty")

type Composer struct {
	messages repository.MessageRepository
	logger   *zap.Logger
}

func New(messages repository.MessageRepository, logger *zap.Logger) *Composer {
	return &Composer{messages: messages, logger: logger}
}

// Send validates and persists one message. On error the caller keeps
// its input and may retry; on success the stored row is returned for
// acknowledgement only — display goes through the feed.
func (c *Composer) Send(ctx context.Context, channelID, authorID uuid.UUID, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}

	msg, err := c.messages.Create(ctx, channelID, authorID, body)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	c.logger.Debug("message sent",
		zap.Int64("message_id", msg.ID),
		zap.String("channel_id", channelID.String()),
	)
	return msg, nil
}
