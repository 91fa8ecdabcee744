package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sidharth-m/ripple/internal/feed"
	"github.com/sidharth-m/ripple/internal/models"
	"go.uber.org/zap"
)

type ReactionStore struct {
	pool   *pgxpool.Pool
	bus    feed.Publisher
	logger *zap.Logger
}

func NewReactionStore(pool *pgxpool.Pool, bus feed.Publisher, logger *zap.Logger) *ReactionStore {
	return &ReactionStore{pool: pool, bus: bus, logger: logger}
}

// Toggle adds the reaction if the (message, user, emoji) triple is absent
// and removes it if present.
//
// The insert runs first with ON CONFLICT DO NOTHING: no row back means
// the triple already existed, so the existing row is deleted instead.
// The UNIQUE constraint arbitrates concurrent toggles — there is no
// window where two rows for the same triple can both land.
func (s *ReactionStore) Toggle(ctx context.Context, messageID int64, userID uuid.UUID, emoji string) (bool, error) {
	insertQuery := `
		INSERT INTO reactions (message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
		RETURNING id, message_id, user_id, emoji, created_at`

	var r models.Reaction
	err := s.pool.QueryRow(ctx, insertQuery, messageID, userID, emoji).Scan(
		&r.ID,
		&r.MessageID,
		&r.UserID,
		&r.Emoji,
		&r.CreatedAt,
	)
	if err == nil {
		s.announce(ctx, feed.KindInsert, &r)
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("toggle reaction insert: %w", err)
	}

	// Triple already present: toggle off.
	deleteQuery := `
		DELETE FROM reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3
		RETURNING id, message_id, user_id, emoji, created_at`

	err = s.pool.QueryRow(ctx, deleteQuery, messageID, userID, emoji).Scan(
		&r.ID,
		&r.MessageID,
		&r.UserID,
		&r.Emoji,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent toggle removed it between our two statements.
			// The end state is "absent", which is what this toggle wanted.
			return false, nil
		}
		return false, fmt.Errorf("toggle reaction delete: %w", err)
	}

	s.announce(ctx, feed.KindDelete, &r)
	return false, nil
}

func (s *ReactionStore) announce(ctx context.Context, kind feed.Kind, r *models.Reaction) {
	payload, err := json.Marshal(r)
	if err != nil {
		s.logger.Warn("marshal reaction event", zap.Error(err))
		return
	}
	ev := feed.Event{Kind: kind, Table: feed.TableReactions}
	if kind == feed.KindDelete {
		ev.Old = payload
	} else {
		ev.New = payload
	}
	scope := feed.Filter{Column: feed.ColumnMessageID, Value: strconv.FormatInt(r.MessageID, 10)}
	if err := s.bus.Publish(ctx, ev, scope); err != nil {
		s.logger.Warn("publish reaction event",
			zap.Int64("message_id", r.MessageID),
			zap.Error(err),
		)
	}
}

func (s *ReactionStore) ListByMessage(ctx context.Context, messageID int64) ([]models.Reaction, error) {
	query := `
		SELECT id, message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	return scanReactions(rows)
}

// ListByMessages batch-loads reactions for a set of messages in one
// query — seeding a live view with N messages should not cost N round
// trips.
func (s *ReactionStore) ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.Reaction, error) {
	if len(messageIDs) == 0 {
		return make(map[int64][]models.Reaction), nil
	}

	query := `
		SELECT id, message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id = ANY($1)
		ORDER BY message_id, created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("list reactions batch: %w", err)
	}
	defer rows.Close()

	reactions, err := scanReactions(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[int64][]models.Reaction)
	for _, r := range reactions {
		result[r.MessageID] = append(result[r.MessageID], r)
	}
	return result, nil
}

func scanReactions(rows pgx.Rows) ([]models.Reaction, error) {
	reactions := make([]models.Reaction, 0)
	for rows.Next() {
		var r models.Reaction
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		reactions = append(reactions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return reactions, nil
}
