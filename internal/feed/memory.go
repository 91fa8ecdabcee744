package feed

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// subBuffer bounds how far a subscriber may fall behind before events
// are dropped. A dropped event is recovered by the next event or a
// manual refetch — the store stays the source of truth.
const subBuffer = 256

// Memory is an in-process change feed. It backs single-node deployments
// (no Redis configured) and every test that needs a feed.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{} // topic → subscribers
	closed bool
	logger *zap.Logger
}

func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		subs:   make(map[string]map[*memorySub]struct{}),
		logger: logger,
	}
}

type memorySub struct {
	bus    *Memory
	topic  string
	kinds  map[Kind]bool
	events chan Event
	once   sync.Once
}

func (s *memorySub) Events() <-chan Event { return s.events }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if set, ok := s.bus.subs[s.topic]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.subs, s.topic)
			}
		}
		s.bus.mu.Unlock()
		close(s.events)
	})
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, table string, kinds []Kind, filter *Filter) (Subscription, error) {
	sub := &memorySub{
		bus:    m,
		topic:  Topic(table, filter),
		kinds:  kindSet(kinds),
		events: make(chan Event, subBuffer),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[sub.topic] == nil {
		m.subs[sub.topic] = make(map[*memorySub]struct{})
	}
	m.subs[sub.topic][sub] = struct{}{}
	return sub, nil
}

func (m *Memory) Publish(ctx context.Context, ev Event, scopes ...Filter) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, topic := range topics(ev, scopes) {
		for sub := range m.subs[topic] {
			if sub.kinds != nil && !sub.kinds[ev.Kind] {
				continue
			}
			select {
			case sub.events <- ev:
			default:
				// Slow consumer: drop rather than block the writer.
				m.logger.Warn("feed subscriber lagging, event dropped",
					zap.String("topic", topic),
					zap.String("kind", string(ev.Kind)),
				)
			}
		}
	}
	return nil
}

// Shutdown closes every open subscription.
func (m *Memory) Shutdown() {
	m.mu.Lock()
	subs := make([]*memorySub, 0)
	for _, set := range m.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	m.subs = make(map[string]map[*memorySub]struct{})
	m.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.events) })
	}
}
