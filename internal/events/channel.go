package events

import (
	"context"
	"sync"
)

// defaultBuffer is the per-subscriber channel depth. A subscriber that falls
// more than this many events behind starts losing the oldest unread ones.
const defaultBuffer = 64

// ChannelNotifier is an in-process, bounded-channel notifier suitable for
// single-instance deployments. Publish never blocks: when a subscriber's
// buffer is full the event is dropped for that subscriber only.
type ChannelNotifier struct {
	mu          sync.Mutex
	buffer      int
	subscribers []chan Event
	closed      bool
}

func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{buffer: defaultBuffer}
}

// NewChannelNotifierSize creates a notifier with a custom per-subscriber
// buffer depth.
func NewChannelNotifierSize(buffer int) *ChannelNotifier {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &ChannelNotifier{buffer: buffer}
}

func (n *ChannelNotifier) Publish(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	for _, ch := range n.subscribers {
		select {
		case ch <- ev:
		default:
			// Non-blocking: subscriber buffer is full, drop for this one
		}
	}
	return nil
}

func (n *ChannelNotifier) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, n.buffer)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch
	}
	n.subscribers = append(n.subscribers, ch)
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.closed {
			return
		}
		for i, s := range n.subscribers {
			if s == ch {
				n.subscribers = append(n.subscribers[:i], n.subscribers[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch
}

func (n *ChannelNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for _, ch := range n.subscribers {
		close(ch)
	}
	n.subscribers = nil
	return nil
}
