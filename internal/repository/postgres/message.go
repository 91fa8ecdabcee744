package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sidharth-m/ripple/internal/feed"
	"github.com/sidharth-m/ripple/internal/models"
	"go.uber.org/zap"
)

type MessageStore struct {
	pool   *pgxpool.Pool
	bus    feed.Publisher
	logger *zap.Logger
}

func NewMessageStore(pool *pgxpool.Pool, bus feed.Publisher, logger *zap.Logger) *MessageStore {
	return &MessageStore{pool: pool, bus: bus, logger: logger}
}

func (s *MessageStore) Create(ctx context.Context, channelID uuid.UUID, authorID uuid.UUID, body string) (*models.Message, error) {
	// Messages use bigserial; Postgres assigns the ID and RETURNING
	// gives it back.
	query := `
		INSERT INTO messages (channel_id, author_id, body, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, channel_id, author_id, body, created_at`

	var msg models.Message
	err := s.pool.QueryRow(ctx, query, channelID, authorID, body).Scan(
		&msg.ID,
		&msg.ChannelID,
		&msg.AuthorID,
		&msg.Body,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	s.announce(ctx, &msg)
	return &msg, nil
}

func (s *MessageStore) announce(ctx context.Context, msg *models.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("marshal message event", zap.Error(err))
		return
	}
	ev := feed.Event{Kind: feed.KindInsert, Table: feed.TableMessages, New: payload}
	scope := feed.Filter{Column: feed.ColumnChannelID, Value: msg.ChannelID.String()}
	if err := s.bus.Publish(ctx, ev, scope); err != nil {
		s.logger.Warn("publish message event",
			zap.Int64("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

func (s *MessageStore) ListByChannel(ctx context.Context, channelID uuid.UUID, before int64, limit int) ([]models.Message, error) {
	// Cursor pagination: before=0 means first page (newest), otherwise
	// "messages older than this ID". ID order matches time order because
	// the sequence is monotonic.
	var query string
	var args []any

	if before > 0 {
		query = `
			SELECT id, channel_id, author_id, body, created_at
			FROM messages
			WHERE channel_id = $1 AND id < $2
			ORDER BY id DESC
			LIMIT $3`
		args = []any{channelID, before, limit}
	} else {
		query = `
			SELECT id, channel_id, author_id, body, created_at
			FROM messages
			WHERE channel_id = $1
			ORDER BY id DESC
			LIMIT $2`
		args = []any{channelID, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ChannelID,
			&msg.AuthorID,
			&msg.Body,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// Snapshot returns the channel's full message history in display order
// with author display attributes joined. A missing author row (deleted
// account) comes back with empty display fields; the live view renders
// its placeholder for those.
func (s *MessageStore) Snapshot(ctx context.Context, channelID uuid.UUID) ([]models.MessageView, error) {
	query := `
		SELECT m.id, m.channel_id, m.author_id, m.body, m.created_at,
		       COALESCE(u.display_name, ''), COALESCE(u.avatar_url, '')
		FROM messages m
		LEFT JOIN users u ON u.id = m.author_id
		WHERE m.channel_id = $1
		ORDER BY m.created_at ASC, m.id ASC`

	rows, err := s.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("snapshot messages: %w", err)
	}
	defer rows.Close()

	views := make([]models.MessageView, 0)
	for rows.Next() {
		var v models.MessageView
		if err := rows.Scan(
			&v.ID,
			&v.ChannelID,
			&v.AuthorID,
			&v.Body,
			&v.CreatedAt,
			&v.AuthorName,
			&v.AuthorAvatar,
		); err != nil {
			return nil, fmt.Errorf("scan message view: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message views: %w", err)
	}

	return views, nil
}
