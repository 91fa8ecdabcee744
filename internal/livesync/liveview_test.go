package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sidharth-m/ripple/internal/feed"
	"github.com/sidharth-m/ripple/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore backs a Syncer in tests: canned snapshot, user directory,
// and reaction rows, each with an injectable error.
type fakeStore struct {
	mu          sync.Mutex
	snapshot    []models.MessageView
	snapshotErr error
	users       map[uuid.UUID]*models.User
	userErr     error
	reactions   map[int64][]models.Reaction
	reactionErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[uuid.UUID]*models.User),
		reactions: make(map[int64][]models.Reaction),
	}
}

func (f *fakeStore) Snapshot(ctx context.Context, channelID uuid.UUID) ([]models.MessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	out := make([]models.MessageView, len(f.snapshot))
	copy(out, f.snapshot)
	return out, nil
}

func (f *fakeStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.users[userID], nil
}

func (f *fakeStore) ListByMessage(ctx context.Context, messageID int64) ([]models.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactionErr != nil {
		return nil, f.reactionErr
	}
	return append([]models.Reaction(nil), f.reactions[messageID]...), nil
}

func (f *fakeStore) ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactionErr != nil {
		return nil, f.reactionErr
	}
	out := make(map[int64][]models.Reaction)
	for _, id := range messageIDs {
		if rows := f.reactions[id]; len(rows) > 0 {
			out[id] = append([]models.Reaction(nil), rows...)
		}
	}
	return out, nil
}

func (f *fakeStore) setSnapshotErr(err error) {
	f.mu.Lock()
	f.snapshotErr = err
	f.mu.Unlock()
}

func (f *fakeStore) setReactions(messageID int64, rows []models.Reaction) {
	f.mu.Lock()
	f.reactions[messageID] = rows
	f.mu.Unlock()
}

func newTestSyncer(t *testing.T, store *fakeStore) (*Syncer, *feed.Memory) {
	t.Helper()
	bus := feed.NewMemory(zap.NewNop())
	return NewSyncer(store, store, store, bus, zap.NewNop()), bus
}

func message(id int64, channelID uuid.UUID, authorID uuid.UUID, body string, at time.Time) models.Message {
	return models.Message{
		ID:        id,
		ChannelID: channelID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: at,
	}
}

func publishInsert(t *testing.T, bus *feed.Memory, msg models.Message) {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	ev := feed.Event{Kind: feed.KindInsert, Table: feed.TableMessages, New: payload}
	scope := feed.Filter{Column: feed.ColumnChannelID, Value: msg.ChannelID.String()}
	require.NoError(t, bus.Publish(context.Background(), ev, scope))
}

func messageIDs(views []models.MessageView) []int64 {
	ids := make([]int64, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	return ids
}

func TestOpenSeedsOrderedSnapshot(t *testing.T) {
	channelID := uuid.New()
	base := time.Now()

	store := newFakeStore()
	store.snapshot = []models.MessageView{
		{Message: message(1, channelID, uuid.New(), "first", base), AuthorName: "Asha"},
		{Message: message(2, channelID, uuid.New(), "second", base.Add(time.Second)), AuthorName: "Ben"},
	}

	syncer, _ := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), channelID)
	defer view.Close()

	require.True(t, view.Ready())
	require.NoError(t, view.Err())
	require.Equal(t, []int64{1, 2}, messageIDs(view.Messages()))
	require.Equal(t, "Asha", view.Messages()[0].AuthorName)
}

func TestInsertEventAppendsWithResolvedAuthor(t *testing.T) {
	channelID := uuid.New()
	authorID := uuid.New()

	store := newFakeStore()
	store.users[authorID] = &models.User{ID: authorID, DisplayName: "Asha", AvatarURL: "http://a/x.png"}

	syncer, bus := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), channelID)
	defer view.Close()

	publishInsert(t, bus, message(1, channelID, authorID, "hello", time.Now()))

	require.Eventually(t, func() bool {
		return len(view.Messages()) == 1
	}, time.Second, 5*time.Millisecond)

	got := view.Messages()[0]
	require.Equal(t, "hello", got.Body)
	require.Equal(t, "Asha", got.AuthorName)
	require.Equal(t, "http://a/x.png", got.AuthorAvatar)
}

func TestInsertEventsDeduplicatedByID(t *testing.T) {
	channelID := uuid.New()
	base := time.Now()

	store := newFakeStore()
	store.snapshot = []models.MessageView{
		{Message: message(1, channelID, uuid.New(), "hi", base), AuthorName: "Asha"},
	}

	syncer, bus := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), channelID)
	defer view.Close()

	// Replays of a snapshot row must merge idempotently, not duplicate.
	publishInsert(t, bus, message(1, channelID, uuid.New(), "hi", base))
	publishInsert(t, bus, message(2, channelID, uuid.New(), "next", base.Add(time.Second)))

	require.Eventually(t, func() bool {
		return len(view.Messages()) == 2
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, []int64{1, 2}, messageIDs(view.Messages()))
	// The snapshot's author attribution survives the replayed event.
	require.Equal(t, "Asha", view.Messages()[0].AuthorName)
}

func TestLateEventPatchesIntoSortedPosition(t *testing.T) {
	channelID := uuid.New()
	base := time.Unix(1000, 0)

	store := newFakeStore()
	store.snapshot = []models.MessageView{
		{Message: message(1, channelID, uuid.New(), "hi", base.Add(10 * time.Second)), AuthorName: "Asha"},
	}

	syncer, bus := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), channelID)
	defer view.Close()

	// Older timestamp than the current tail: must land before it.
	publishInsert(t, bus, message(2, channelID, uuid.New(), "earlier", base.Add(5*time.Second)))

	require.Eventually(t, func() bool {
		return len(view.Messages()) == 2
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, []int64{2, 1}, messageIDs(view.Messages()))
}

func TestTimestampTiesBreakByID(t *testing.T) {
	channelID := uuid.New()
	at := time.Unix(1000, 0)

	store := newFakeStore()
	syncer, bus := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), channelID)
	defer view.Close()

	publishInsert(t, bus, message(7, channelID, uuid.New(), "b", at))
	publishInsert(t, bus, message(3, channelID, uuid.New(), "a", at))

	require.Eventually(t, func() bool {
		return len(view.Messages()) == 2
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, []int64{3, 7}, messageIDs(view.Messages()))
}

func TestAuthorLookupFailureUsesPlaceholder(t *testing.T) {
	channelID := uuid.New()

	store := newFakeStore()
	store.userErr = errors.New("user service down")

	syncer, bus := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), channelID)
	defer view.Close()

	publishInsert(t, bus, message(1, channelID, uuid.New(), "still here", time.Now()))

	require.Eventually(t, func() bool {
		return len(view.Messages()) == 1
	}, time.Second, 5*time.Millisecond)

	got := view.Messages()[0]
	require.Equal(t, "Unknown User", got.AuthorName)
	require.Equal(t, "still here", got.Body)
}

func TestEventAfterCloseIsNoOp(t *testing.T) {
	channelID := uuid.New()

	store := newFakeStore()
	syncer, bus := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), channelID)

	view.Close()
	view.Close() // idempotent

	publishInsert(t, bus, message(1, channelID, uuid.New(), "late", time.Now()))

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, view.Messages())
}

func TestSnapshotFailureIsRecoverableViaRetry(t *testing.T) {
	channelID := uuid.New()

	store := newFakeStore()
	store.setSnapshotErr(errors.New("db unavailable"))

	syncer, bus := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), channelID)
	defer view.Close()

	require.False(t, view.Ready())
	var fetchErr *TransientFetchError
	require.ErrorAs(t, view.Err(), &fetchErr)

	// Still failing: retry reports the error and the view stays unready.
	require.Error(t, view.Retry(context.Background()))
	require.False(t, view.Ready())

	store.setSnapshotErr(nil)
	require.NoError(t, view.Retry(context.Background()))
	require.True(t, view.Ready())
	require.NoError(t, view.Err())

	// The retried subscription is live, and there is exactly one of it.
	publishInsert(t, bus, message(1, channelID, uuid.New(), "hello", time.Now()))
	require.Eventually(t, func() bool {
		return len(view.Messages()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []int64{1}, messageIDs(view.Messages()))
}

func TestRetryAfterCloseReturnsClosed(t *testing.T) {
	store := newFakeStore()
	store.setSnapshotErr(errors.New("db unavailable"))

	syncer, _ := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), uuid.New())
	view.Close()

	require.ErrorIs(t, view.Retry(context.Background()), ErrViewClosed)
}

func TestOnChangeFiresAfterMerge(t *testing.T) {
	channelID := uuid.New()

	store := newFakeStore()
	syncer, bus := newTestSyncer(t, store)
	view := syncer.Open(context.Background(), channelID)
	defer view.Close()

	changed := make(chan struct{}, 8)
	view.OnChange(func() { changed <- struct{}{} })

	publishInsert(t, bus, message(1, channelID, uuid.New(), "hi", time.Now()))

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("observer was not notified")
	}
}

func TestViewsAreIndependent(t *testing.T) {
	chanA, chanB := uuid.New(), uuid.New()

	store := newFakeStore()
	syncer, bus := newTestSyncer(t, store)

	viewA := syncer.Open(context.Background(), chanA)
	defer viewA.Close()
	viewB := syncer.Open(context.Background(), chanB)
	defer viewB.Close()

	publishInsert(t, bus, message(1, chanA, uuid.New(), "for A", time.Now()))

	require.Eventually(t, func() bool {
		return len(viewA.Messages()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, viewB.Messages())
}
