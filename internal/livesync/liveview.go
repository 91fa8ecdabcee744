// Package livesync keeps an in-memory, ordered view of a channel's
// messages and reaction groups consistent with the store while changes
// arrive over the change feed.
//
// A LiveView is seeded from a full snapshot, then merged forward from
// feed events. All mutations run on one goroutine per view; feed pumps
// hand events to that goroutine, so no event is ever applied
// concurrently with another. Readers take a lock only to copy the
// current sequence out.
package livesync

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sidharth-m/ripple/internal/feed"
	"github.com/sidharth-m/ripple/internal/models"
	"go.uber.org/zap"
)

// placeholderAuthor is shown when the author's display attributes cannot
// be resolved. The message itself is never dropped over missing metadata.
const placeholderAuthor = "Unknown User"

// MessageSource provides the snapshot that seeds a view.
type MessageSource interface {
	Snapshot(ctx context.Context, channelID uuid.UUID) ([]models.MessageView, error)
}

// AuthorSource resolves display attributes for message authors.
type AuthorSource interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// ReactionSource provides the reaction rows that groups are re-derived
// from.
type ReactionSource interface {
	ListByMessage(ctx context.Context, messageID int64) ([]models.Reaction, error)
	ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.Reaction, error)
}

// Syncer opens live views. It holds the shared dependencies; each view
// owns its own state and subscriptions, so independent views never
// contend.
type Syncer struct {
	messages  MessageSource
	authors   AuthorSource
	reactions ReactionSource
	feed      feed.Feed
	logger    *zap.Logger
}

func NewSyncer(messages MessageSource, authors AuthorSource, reactions ReactionSource, bus feed.Feed, logger *zap.Logger) *Syncer {
	return &Syncer{
		messages:  messages,
		authors:   authors,
		reactions: reactions,
		feed:      bus,
		logger:    logger,
	}
}

// LiveView is the continuously reconciled message list for one open
// channel. Obtain with Syncer.Open, release with Close.
type LiveView struct {
	channelID uuid.UUID
	syncer    *Syncer
	logger    *zap.Logger

	apply     chan func()
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	mu        sync.RWMutex
	ready     bool
	loadErr   error
	order     []*models.MessageView
	index     map[int64]*models.MessageView
	observers []func()

	// Subscriptions are touched only by the goroutine currently running
	// the open sequence or the apply loop, never concurrently.
	sub          feed.Subscription
	reactionSubs map[int64]feed.Subscription
}

// Open seeds a view for the channel and subscribes it to the feed. The
// returned handle is always usable: if the open sequence failed, Err
// reports why, Ready stays false, and Retry re-runs the sequence.
func (s *Syncer) Open(ctx context.Context, channelID uuid.UUID) *LiveView {
	v := &LiveView{
		channelID:    channelID,
		syncer:       s,
		logger:       s.logger.With(zap.String("channel_id", channelID.String())),
		apply:        make(chan func()),
		done:         make(chan struct{}),
		index:        make(map[int64]*models.MessageView),
		reactionSubs: make(map[int64]feed.Subscription),
	}

	if err := v.open(ctx); err != nil {
		v.logger.Warn("live view open failed", zap.Error(err))
	}

	// The apply loop starts only after the handle's initial open has
	// finished, so the open sequence and the loop never run together.
	go v.run()
	return v
}

func (v *LiveView) ChannelID() uuid.UUID { return v.channelID }

// Ready reports whether the snapshot has been applied. Events delivered
// before that are buffered by the subscription and replayed afterwards.
func (v *LiveView) Ready() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ready
}

// Err returns the error that left the view unready, or nil.
func (v *LiveView) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loadErr
}

// Messages returns a copy of the current ordered sequence with reaction
// groups attached.
func (v *LiveView) Messages() []models.MessageView {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]models.MessageView, len(v.order))
	for i, m := range v.order {
		out[i] = *m
	}
	return out
}

// OnChange registers an observer invoked after every merge that changed
// the view. Observers run on the view's apply goroutine and must not
// block.
func (v *LiveView) OnChange(fn func()) {
	v.mu.Lock()
	v.observers = append(v.observers, fn)
	v.mu.Unlock()
}

// Retry re-runs the open sequence after a failed open: any prior
// subscription is closed first, so a retry never leaks a duplicate.
func (v *LiveView) Retry(ctx context.Context) error {
	errc := make(chan error, 1)
	if !v.post(func() { errc <- v.open(ctx) }) {
		return ErrViewClosed
	}
	select {
	case err := <-errc:
		return err
	case <-v.done:
		return ErrViewClosed
	}
}

// Close tears the view down. Idempotent, safe to call at any point
// relative to Open; events delivered after Close are no-ops.
func (v *LiveView) Close() {
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		close(v.done)
	})
}

// run is the apply loop: every mutation to view state executes here.
func (v *LiveView) run() {
	for {
		select {
		case fn := <-v.apply:
			fn()
		case <-v.done:
			v.teardownSubs()
			return
		}
	}
}

// post hands a closure to the apply loop; reports false if the view is
// closed instead of blocking forever.
func (v *LiveView) post(fn func()) bool {
	select {
	case v.apply <- fn:
		return true
	case <-v.done:
		return false
	}
}

// open runs the full open sequence: subscribe, snapshot, seed reactions,
// mark ready. It runs either on the Open caller (before the apply loop
// starts) or on the apply loop itself (Retry) — never concurrently with
// other mutations.
func (v *LiveView) open(ctx context.Context) error {
	v.teardownSubs()

	filter := &feed.Filter{Column: feed.ColumnChannelID, Value: v.channelID.String()}
	sub, err := v.syncer.feed.Subscribe(ctx, feed.TableMessages, feed.AllKinds, filter)
	if err != nil {
		return v.failOpen(&SubscriptionError{Table: feed.TableMessages, Err: err})
	}

	// The subscription is live before the snapshot read, so an insert
	// committed during the read is either in the snapshot or buffered in
	// the subscription — merged idempotently by ID either way.
	snapshot, err := v.syncer.messages.Snapshot(ctx, v.channelID)
	if err != nil {
		_ = sub.Close()
		return v.failOpen(&TransientFetchError{Op: "load snapshot", Err: err})
	}

	ids := make([]int64, len(snapshot))
	for i := range snapshot {
		ids[i] = snapshot[i].ID
	}
	reactionRows, err := v.syncer.reactions.ListByMessages(ctx, ids)
	if err != nil {
		_ = sub.Close()
		return v.failOpen(&TransientFetchError{Op: "load reactions", Err: err})
	}

	v.mu.Lock()
	v.order = make([]*models.MessageView, 0, len(snapshot))
	v.index = make(map[int64]*models.MessageView, len(snapshot))
	for i := range snapshot {
		view := snapshot[i]
		if view.AuthorName == "" {
			view.AuthorName = placeholderAuthor
		}
		view.Reactions = groupReactions(reactionRows[view.ID])
		v.order = append(v.order, &view)
		v.index[view.ID] = &view
	}
	v.sub = sub
	v.ready = true
	v.loadErr = nil
	v.mu.Unlock()

	go v.pumpMessages(sub)
	for _, id := range ids {
		v.watchReactions(ctx, id)
	}

	if v.closed.Load() {
		// Close raced the open; release what was just acquired.
		v.teardownSubs()
		return ErrViewClosed
	}

	v.notify()
	return nil
}

func (v *LiveView) failOpen(err error) error {
	v.mu.Lock()
	v.ready = false
	v.loadErr = err
	v.mu.Unlock()
	return err
}

// pumpMessages forwards feed events onto the apply loop. It exits when
// the subscription or the view closes.
func (v *LiveView) pumpMessages(sub feed.Subscription) {
	for ev := range sub.Events() {
		ev := ev
		if !v.post(func() { v.handleMessageEvent(ev) }) {
			return
		}
	}
}

func (v *LiveView) handleMessageEvent(ev feed.Event) {
	if v.closed.Load() {
		return
	}

	switch ev.Kind {
	case feed.KindInsert:
		var msg models.Message
		if err := json.Unmarshal(ev.Row(), &msg); err != nil {
			v.logger.Warn("malformed message event", zap.Error(err))
			return
		}
		v.applyInsert(msg)
	case feed.KindUpdate, feed.KindDelete:
		// Messages are append-only here. Anything else on the feed is
		// ignored rather than guessed at.
		v.logger.Debug("unsupported message event ignored",
			zap.String("kind", string(ev.Kind)),
		)
	}
}

func (v *LiveView) applyInsert(msg models.Message) {
	if msg.ChannelID != v.channelID {
		return
	}

	v.mu.RLock()
	_, dup := v.index[msg.ID]
	v.mu.RUnlock()
	if dup {
		// Already merged — from the snapshot or an earlier delivery.
		return
	}

	name, avatar := v.resolveAuthor(msg.AuthorID)
	view := &models.MessageView{
		Message:      msg,
		AuthorName:   name,
		AuthorAvatar: avatar,
		Reactions:    []models.ReactionGroup{},
	}

	// Watch reactions before the message becomes visible so no toggle
	// lands in the gap.
	v.watchReactions(context.Background(), msg.ID)

	v.mu.Lock()
	v.insertOrdered(view)
	v.mu.Unlock()

	v.notify()
}

// resolveAuthor looks up the author's display attributes. Failure is
// swallowed: the message appears under the placeholder author and the
// body is unaffected.
func (v *LiveView) resolveAuthor(authorID uuid.UUID) (name, avatar string) {
	u, err := v.syncer.authors.GetByID(context.Background(), authorID)
	if err != nil {
		v.logger.Warn("author lookup failed",
			zap.String("author_id", authorID.String()),
			zap.Error(err),
		)
		return placeholderAuthor, ""
	}
	if u == nil || u.DisplayName == "" {
		return placeholderAuthor, ""
	}
	return u.DisplayName, u.AvatarURL
}

// insertOrdered places the message at its sorted position. The common
// case is an append at the tail; a late-arriving older message is
// patched in without reordering anything already established.
// Caller holds mu.
func (v *LiveView) insertOrdered(view *models.MessageView) {
	n := len(v.order)
	if n == 0 || v.order[n-1].Message.Before(view.Message) {
		v.order = append(v.order, view)
	} else {
		at := sort.Search(n, func(i int) bool {
			return view.Message.Before(v.order[i].Message)
		})
		v.order = append(v.order, nil)
		copy(v.order[at+1:], v.order[at:])
		v.order[at] = view
	}
	v.index[view.ID] = view
}

// notify invokes observers outside the state lock.
func (v *LiveView) notify() {
	if v.closed.Load() {
		return
	}
	v.mu.RLock()
	observers := make([]func(), len(v.observers))
	copy(observers, v.observers)
	v.mu.RUnlock()

	for _, fn := range observers {
		fn()
	}
}

// teardownSubs releases the message subscription and every per-message
// reaction subscription. Runs on whichever goroutine currently owns
// mutations (open sequence or apply loop).
func (v *LiveView) teardownSubs() {
	if v.sub != nil {
		_ = v.sub.Close()
		v.sub = nil
	}
	for id, sub := range v.reactionSubs {
		_ = sub.Close()
		delete(v.reactionSubs, id)
	}
}

func (v *LiveView) watchReactions(ctx context.Context, messageID int64) {
	if _, ok := v.reactionSubs[messageID]; ok {
		return
	}

	filter := &feed.Filter{Column: feed.ColumnMessageID, Value: strconv.FormatInt(messageID, 10)}
	sub, err := v.syncer.feed.Subscribe(ctx, feed.TableReactions, feed.AllKinds, filter)
	if err != nil {
		// The view keeps working; this message's groups just stop
		// updating until the next snapshot.
		v.logger.Warn("reaction subscription failed",
			zap.Int64("message_id", messageID),
			zap.Error(err),
		)
		return
	}
	v.reactionSubs[messageID] = sub

	go func() {
		for range sub.Events() {
			if !v.post(func() { v.refreshReactions(messageID) }) {
				return
			}
		}
	}()
}
