// Package events provides the notification layer for router lifecycle events.
// Instead of an ambient listener registry, consumers subscribe explicitly and
// receive events over a bounded channel, so non-event-loop hosts can drain
// notifications deterministically.
//
// Implementations:
//   - NoopNotifier: discards all events; useful for tests and embedded use
//   - ChannelNotifier: in-process, bounded-channel notifier for single-instance deployments
//   - RedisNotifier: Redis PUBLISH/SUBSCRIBE fan-out across router instances
package events

import (
	"context"
	"time"
)

// Type identifies a router event category.
type Type string

const (
	NodeRegistered       Type = "nodeRegistered"
	NodeUnregistered     Type = "nodeUnregistered"
	NodeSelected         Type = "nodeSelected"
	NodeUnhealthy        Type = "nodeUnhealthy"
	NodeRecovered        Type = "nodeRecovered"
	RebalancingCompleted Type = "rebalancingCompleted"
	RequestCompleted     Type = "requestCompleted"
	RequestFailed        Type = "requestFailed"
	Shutdown             Type = "shutdown"
)

// Event is a single router notification.
type Event struct {
	ID       string            `json:"id"`
	Type     Type              `json:"type"`
	Node     string            `json:"node,omitempty"`
	Request  string            `json:"request,omitempty"`
	Strategy string            `json:"strategy,omitempty"`
	Detail   map[string]string `json:"detail,omitempty"`
	Time     time.Time         `json:"time"`
}

// Notifier delivers router events to subscribers.
//
// Publish must never block the caller: the selection path is synchronous over
// in-memory state, and a slow or absent consumer must not stall it.
// Implementations buffer internally and drop for subscribers that have fallen
// behind.
type Notifier interface {
	// Publish delivers an event to all subscribers.
	Publish(ctx context.Context, ev Event) error

	// Subscribe returns a channel receiving events until the context is
	// cancelled or the notifier is closed.
	Subscribe(ctx context.Context) <-chan Event

	// Close releases all resources held by the notifier.
	Close() error
}

// NoopNotifier discards all events.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (n *NoopNotifier) Publish(_ context.Context, _ Event) error { return nil }

func (n *NoopNotifier) Subscribe(ctx context.Context) <-chan Event {
	// Never written to; closed when the context is cancelled to prevent
	// goroutine leaks in consumers that range over it.
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (n *NoopNotifier) Close() error { return nil }
