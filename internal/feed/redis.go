package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a change feed carried over Redis Pub/Sub, one Pub/Sub channel
// per topic. Delivery is at-most-once: a subscriber that is down misses
// the event and reconciles from the store on its next snapshot.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedis(client *redis.Client, logger *zap.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

type redisSub struct {
	pubsub *redis.PubSub
	events chan Event
	once   sync.Once
}

func (s *redisSub) Events() <-chan Event { return s.events }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		// Closing the PubSub closes its message channel, which ends the
		// forwarding goroutine; that goroutine closes s.events.
		err = s.pubsub.Close()
	})
	return err
}

func (r *Redis) Subscribe(ctx context.Context, table string, kinds []Kind, filter *Filter) (Subscription, error) {
	topic := Topic(table, filter)
	pubsub := r.client.Subscribe(ctx, topic)

	// Receive forces the SUBSCRIBE round trip so a dead broker surfaces
	// here instead of as a silently empty stream.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &redisSub{
		pubsub: pubsub,
		events: make(chan Event, subBuffer),
	}
	wanted := kindSet(kinds)

	go func() {
		defer close(sub.events)
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("malformed feed event",
					zap.String("topic", topic),
					zap.Error(err),
				)
				continue
			}
			if wanted != nil && !wanted[ev.Kind] {
				continue
			}
			select {
			case sub.events <- ev:
			default:
				r.logger.Warn("feed subscriber lagging, event dropped",
					zap.String("topic", topic),
					zap.String("kind", string(ev.Kind)),
				)
			}
		}
	}()

	return sub, nil
}

func (r *Redis) Publish(ctx context.Context, ev Event, scopes ...Filter) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	for _, topic := range topics(ev, scopes) {
		if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
	}
	return nil
}
