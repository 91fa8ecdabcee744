package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sidharth-m/ripple/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memberKey struct {
	channelID uuid.UUID
	userID    uuid.UUID
}

// fakeChannels and fakeMembers share one mutex so Create can insert the
// channel and the creator membership atomically, like the real store's
// transaction does.
type fakeChannels struct {
	mu       sync.Mutex
	channels map[uuid.UUID]models.Channel
	members  map[memberKey]bool
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{
		channels: make(map[uuid.UUID]models.Channel),
		members:  make(map[memberKey]bool),
	}
}

func (f *fakeChannels) Create(ctx context.Context, name, description string, createdBy uuid.UUID) (*models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := models.Channel{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now(),
	}
	f.channels[ch.ID] = ch
	f.members[memberKey{ch.ID, createdBy}] = true
	return &ch, nil
}

func (f *fakeChannels) GetByID(ctx context.Context, channelID uuid.UUID) (*models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[channelID]; ok {
		return &ch, nil
	}
	return nil, nil
}

func (f *fakeChannels) List(ctx context.Context) ([]models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out, nil
}

type fakeMembers struct {
	store     *fakeChannels
	memberErr error
	adds      int
}

func (f *fakeMembers) AddMember(ctx context.Context, channelID, userID uuid.UUID) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.adds++
	f.store.members[memberKey{channelID, userID}] = true
	return nil
}

func (f *fakeMembers) IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if f.memberErr != nil {
		return false, f.memberErr
	}
	return f.store.members[memberKey{channelID, userID}], nil
}

func (f *fakeMembers) ListMembers(ctx context.Context, channelID uuid.UUID) ([]models.ChannelMember, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []models.ChannelMember
	for key := range f.store.members {
		if key.channelID == channelID {
			out = append(out, models.ChannelMember{ChannelID: key.channelID, UserID: key.userID})
		}
	}
	return out, nil
}

func newTestDirectory() (*Directory, *fakeChannels, *fakeMembers) {
	channels := newFakeChannels()
	members := &fakeMembers{store: channels}
	return New(channels, members, zap.NewNop()), channels, members
}

func TestCreateTrimsNameAndAddsCreator(t *testing.T) {
	dir, _, members := newTestDirectory()
	creator := uuid.New()

	ch, err := dir.Create(context.Background(), "  general  ", " talk ", creator)
	require.NoError(t, err)
	require.Equal(t, "general", ch.Name)
	require.Equal(t, "talk", ch.Description)

	isMember, err := members.IsMember(context.Background(), ch.ID, creator)
	require.NoError(t, err)
	require.True(t, isMember)
}

func TestCreateRejectsEmptyName(t *testing.T) {
	dir, store, _ := newTestDirectory()

	_, err := dir.Create(context.Background(), "   ", "", uuid.New())
	require.ErrorIs(t, err, ErrEmptyName)

	channels, err := store.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, channels)
}

func TestGetUnknownChannelReturnsNil(t *testing.T) {
	dir, _, _ := newTestDirectory()

	ch, err := dir.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, ch)
}

func TestEnsureMemberIsIdempotent(t *testing.T) {
	dir, _, members := newTestDirectory()
	channelID, userID := uuid.New(), uuid.New()

	require.NoError(t, dir.EnsureMember(context.Background(), channelID, userID))
	require.NoError(t, dir.EnsureMember(context.Background(), channelID, userID))

	// The second call sees the membership and skips the insert.
	require.Equal(t, 1, members.adds)

	rows, err := members.ListMembers(context.Background(), channelID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestEnsureMemberConcurrentJoinsYieldOneRow(t *testing.T) {
	dir, _, members := newTestDirectory()
	channelID, userID := uuid.New(), uuid.New()

	const joins = 16
	errs := make(chan error, joins)
	var wg sync.WaitGroup
	for i := 0; i < joins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- dir.EnsureMember(context.Background(), channelID, userID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := members.ListMembers(context.Background(), channelID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestEnsureMemberPropagatesCheckFailure(t *testing.T) {
	dir, _, members := newTestDirectory()
	members.memberErr = errors.New("db down")

	err := dir.EnsureMember(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	require.Equal(t, 0, members.adds)
}
