package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sidharth-m/ripple/internal/feed"
	"github.com/sidharth-m/ripple/internal/models"
	"go.uber.org/zap"
)

type ChannelStore struct {
	pool   *pgxpool.Pool
	bus    feed.Publisher
	logger *zap.Logger
}

func NewChannelStore(pool *pgxpool.Pool, bus feed.Publisher, logger *zap.Logger) *ChannelStore {
	return &ChannelStore{pool: pool, bus: bus, logger: logger}
}

// Create inserts the channel and the creator's membership in one
// transaction. Readers either see both rows or neither.
func (s *ChannelStore) Create(ctx context.Context, name, description string, createdBy uuid.UUID) (*models.Channel, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO channels (id, name, description, created_by, created_at)
		VALUES (uuid_generate_v4(), $1, $2, $3, now())
		RETURNING id, name, description, created_by, created_at`

	var ch models.Channel
	err = tx.QueryRow(ctx, query, name, description, createdBy).Scan(
		&ch.ID,
		&ch.Name,
		&ch.Description,
		&ch.CreatedBy,
		&ch.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}

	memberQuery := `
		INSERT INTO channel_members (channel_id, user_id, joined_at)
		VALUES ($1, $2, now())
		ON CONFLICT (channel_id, user_id) DO NOTHING`
	if _, err := tx.Exec(ctx, memberQuery, ch.ID, createdBy); err != nil {
		return nil, fmt.Errorf("insert creator membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit channel create: %w", err)
	}

	s.announce(ctx, &ch)
	return &ch, nil
}

// announce publishes the channel insert on the feed. The row is already
// committed; a lost event just means directory views catch up on their
// next listing.
func (s *ChannelStore) announce(ctx context.Context, ch *models.Channel) {
	payload, err := json.Marshal(ch)
	if err != nil {
		s.logger.Warn("marshal channel event", zap.Error(err))
		return
	}
	ev := feed.Event{Kind: feed.KindInsert, Table: feed.TableChannels, New: payload}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish channel event",
			zap.String("channel_id", ch.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *ChannelStore) GetByID(ctx context.Context, channelID uuid.UUID) (*models.Channel, error) {
	query := `
		SELECT id, name, description, created_by, created_at
		FROM channels
		WHERE id = $1`

	var ch models.Channel
	err := s.pool.QueryRow(ctx, query, channelID).Scan(
		&ch.ID,
		&ch.Name,
		&ch.Description,
		&ch.CreatedBy,
		&ch.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &ch, nil
}

func (s *ChannelStore) List(ctx context.Context) ([]models.Channel, error) {
	query := `
		SELECT id, name, description, created_by, created_at
		FROM channels
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := make([]models.Channel, 0)
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(
			&ch.ID,
			&ch.Name,
			&ch.Description,
			&ch.CreatedBy,
			&ch.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	return channels, nil
}
