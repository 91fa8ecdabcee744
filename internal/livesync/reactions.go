package livesync

import (
	"context"

	"github.com/sidharth-m/ripple/internal/models"
	"go.uber.org/zap"
)

// groupReactions re-derives the emoji → reacting-users grouping from the
// full reaction set of one message. Groups appear in first-reaction
// order (rows arrive sorted by creation time); membership is always a
// function of the current rows, never of previous groupings.
func groupReactions(rows []models.Reaction) []models.ReactionGroup {
	groups := make([]models.ReactionGroup, 0)
	byEmoji := make(map[string]int)

	for _, r := range rows {
		at, ok := byEmoji[r.Emoji]
		if !ok {
			at = len(groups)
			byEmoji[r.Emoji] = at
			groups = append(groups, models.ReactionGroup{Emoji: r.Emoji})
		}
		groups[at].Users = append(groups[at].Users, r.UserID)
		groups[at].Count++
	}
	return groups
}

// refreshReactions refetches one message's reaction rows and swaps in
// the regrouped result. A failed fetch leaves the previous groups in
// place — the next reaction event or snapshot reconciles them.
func (v *LiveView) refreshReactions(messageID int64) {
	if v.closed.Load() {
		return
	}

	rows, err := v.syncer.reactions.ListByMessage(context.Background(), messageID)
	if err != nil {
		v.logger.Warn("reaction refetch failed",
			zap.Int64("message_id", messageID),
			zap.Error(err),
		)
		return
	}

	v.mu.Lock()
	entry, ok := v.index[messageID]
	if ok {
		entry.Reactions = groupReactions(rows)
	}
	v.mu.Unlock()

	if ok {
		v.notify()
	}
}
