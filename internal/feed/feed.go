// Package feed is the change-notification contract: row-level
// insert/update/delete events scoped to a table, with optional
// equality filtering. Writers publish after a successful store write;
// live views subscribe and merge.
//
// Two implementations exist: Redis Pub/Sub for multi-process
// deployments and an in-process bus for single-node runs and tests.
// Delivery is FIFO per subscription; no ordering is guaranteed across
// subscriptions.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind is the event type carried by a change notification.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// AllKinds subscribes to every event type on a table.
var AllKinds = []Kind{KindInsert, KindUpdate, KindDelete}

// Event is one row-level change. New carries the row after an insert or
// update; Old carries the row before a delete. Payloads are raw JSON —
// consumers decode into their typed entities at the boundary.
type Event struct {
	Kind  Kind            `json:"kind"`
	Table string          `json:"table"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

// Row returns the payload that identifies the affected row: New for
// inserts and updates, Old for deletes.
func (e Event) Row() json.RawMessage {
	if e.Kind == KindDelete {
		return e.Old
	}
	return e.New
}

// Filter restricts a subscription to rows where Column equals Value.
type Filter struct {
	Column string
	Value  string
}

// Topic maps a (table, filter) pair onto a broker topic. Scoped topics
// hang off the table topic the way NATS subjects hang off a prefix:
// "feed.messages", "feed.messages.channel_id.<uuid>".
func Topic(table string, filter *Filter) string {
	if filter == nil {
		return "feed." + table
	}
	return fmt.Sprintf("feed.%s.%s.%s", table, filter.Column, filter.Value)
}

// Subscription is a live event stream. Events is closed after Close.
// Close is idempotent and releases broker resources exactly once.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Feed is the consumer side of the contract.
type Feed interface {
	// Subscribe starts delivery of events on table matching the kinds
	// set (nil or empty means all kinds) and the optional filter.
	Subscribe(ctx context.Context, table string, kinds []Kind, filter *Filter) (Subscription, error)
}

// Publisher is the producer side. An event is delivered to the table's
// base topic and to one scoped topic per given scope, so filtered and
// unfiltered subscribers both see it.
type Publisher interface {
	Publish(ctx context.Context, ev Event, scopes ...Filter) error
}

// Bus is a Feed that can also publish. Both implementations satisfy it.
type Bus interface {
	Feed
	Publisher
}

// kindSet builds a membership set for subscriber-side kind filtering.
func kindSet(kinds []Kind) map[Kind]bool {
	if len(kinds) == 0 {
		return nil // nil set means "deliver everything"
	}
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

// topics expands a publish into its delivery topics.
func topics(ev Event, scopes []Filter) []string {
	out := make([]string, 0, 1+len(scopes))
	out = append(out, Topic(ev.Table, nil))
	for i := range scopes {
		out = append(out, Topic(ev.Table, &scopes[i]))
	}
	return out
}
