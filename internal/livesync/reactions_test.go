package livesync

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sidharth-m/ripple/internal/feed"
	"github.com/sidharth-m/ripple/internal/models"
	"github.com/stretchr/testify/require"
)

func publishReaction(t *testing.T, bus *feed.Memory, kind feed.Kind, r models.Reaction) {
	t.Helper()
	payload, err := json.Marshal(r)
	require.NoError(t, err)
	ev := feed.Event{Kind: kind, Table: feed.TableReactions}
	if kind == feed.KindDelete {
		ev.Old = payload
	} else {
		ev.New = payload
	}
	scope := feed.Filter{Column: feed.ColumnMessageID, Value: strconv.FormatInt(r.MessageID, 10)}
	require.NoError(t, bus.Publish(context.Background(), ev, scope))
}

func TestGroupReactionsDerivesEmojiGroups(t *testing.T) {
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	rows := []models.Reaction{
		{ID: 1, MessageID: 9, UserID: u1, Emoji: "👍"},
		{ID: 2, MessageID: 9, UserID: u2, Emoji: "🎉"},
		{ID: 3, MessageID: 9, UserID: u3, Emoji: "👍"},
	}

	groups := groupReactions(rows)
	require.Len(t, groups, 2)
	require.Equal(t, "👍", groups[0].Emoji)
	require.Equal(t, 2, groups[0].Count)
	require.Equal(t, []uuid.UUID{u1, u3}, groups[0].Users)
	require.Equal(t, "🎉", groups[1].Emoji)
	require.Equal(t, 1, groups[1].Count)
}

func TestGroupReactionsEmptyInput(t *testing.T) {
	require.Empty(t, groupReactions(nil))
}

func TestSnapshotSeedsReactionGroups(t *testing.T) {
	channelID := uuid.New()
	user := uuid.New()

	store := newFakeStore()
	store.snapshot = []models.MessageView{
		{Message: message(1, channelID, uuid.New(), "hi", time.Now()), AuthorName: "Asha"},
	}
	store.setReactions(1, []models.Reaction{
		{ID: 1, MessageID: 1, UserID: user, Emoji: "👍"},
	})

	syncer, _ := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), channelID)
	defer view.Close()

	groups := view.Messages()[0].Reactions
	require.Len(t, groups, 1)
	require.Equal(t, "👍", groups[0].Emoji)
	require.Equal(t, []uuid.UUID{user}, groups[0].Users)
}

func TestReactionEventRegroupsFromStore(t *testing.T) {
	channelID := uuid.New()
	user := uuid.New()

	store := newFakeStore()
	store.snapshot = []models.MessageView{
		{Message: message(1, channelID, uuid.New(), "hi", time.Now()), AuthorName: "Asha"},
	}

	syncer, bus := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), channelID)
	defer view.Close()

	require.Empty(t, view.Messages()[0].Reactions)

	// Toggle on: the store row exists, then the event arrives.
	added := models.Reaction{ID: 1, MessageID: 1, UserID: user, Emoji: "👍"}
	store.setReactions(1, []models.Reaction{added})
	publishReaction(t, bus, feed.KindInsert, added)

	require.Eventually(t, func() bool {
		groups := view.Messages()[0].Reactions
		return len(groups) == 1 && groups[0].Count == 1
	}, time.Second, 5*time.Millisecond)

	// Toggle off: back to the original state.
	store.setReactions(1, nil)
	publishReaction(t, bus, feed.KindDelete, added)

	require.Eventually(t, func() bool {
		return len(view.Messages()[0].Reactions) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestReactionsOnNewlyInsertedMessageAreTracked(t *testing.T) {
	channelID := uuid.New()
	user := uuid.New()

	store := newFakeStore()
	syncer, bus := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), channelID)
	defer view.Close()

	publishInsert(t, bus, message(5, channelID, uuid.New(), "fresh", time.Now()))
	require.Eventually(t, func() bool {
		return len(view.Messages()) == 1
	}, time.Second, 5*time.Millisecond)

	added := models.Reaction{ID: 1, MessageID: 5, UserID: user, Emoji: "❤️"}
	store.setReactions(5, []models.Reaction{added})
	publishReaction(t, bus, feed.KindInsert, added)

	require.Eventually(t, func() bool {
		groups := view.Messages()[0].Reactions
		return len(groups) == 1 && groups[0].Emoji == "❤️"
	}, time.Second, 5*time.Millisecond)
}
