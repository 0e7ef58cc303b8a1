// Package eventbus provides publish/subscribe infrastructure for edit-session
// broadcasts and execution lifecycle fan-out. Topics are dynamic: one per
// workflow collab stream, one per execution.
package eventbus

import (
	"context"

	"github.com/loomhq/loom/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// Envelope is one decoded message delivered to a subscriber.
type Envelope struct {
	Type  events.EventType
	Key   string
	Event any
}

// EventBus is fire-and-forget on the publish side: a slow subscriber lags,
// it never blocks the publisher. Subscribers that miss messages recover
// through a full resync, not through the bus.
type EventBus interface {
	Publish(ctx context.Context, topic, key string, event Event) error
	Subscribe(ctx context.Context, topic string) (<-chan Envelope, error)
	Close() error
	GenerateID() string
}
