package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/logging"
)

const redisChannel = "router:events"

// publishQueueDepth bounds the outbound event queue. Publishing to Redis is
// network I/O and must not happen on the selection path, so events are staged
// here and flushed by a background goroutine. Past the cap the oldest staged
// event is dropped.
const publishQueueDepth = 256

// RedisNotifier is a distributed, Redis-backed notifier that broadcasts
// router events across multiple router instances via PUBLISH/SUBSCRIBE.
// Publish stages the event on an internal bounded queue and returns
// immediately; a background goroutine performs the actual network write.
type RedisNotifier struct {
	client *redis.Client
	out    chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRedisNotifier creates a Redis-backed notifier and starts its publish
// loop.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &RedisNotifier{
		client: client,
		out:    make(chan Event, publishQueueDepth),
		cancel: cancel,
	}
	n.wg.Add(1)
	go n.publishLoop(ctx)
	return n
}

func (n *RedisNotifier) Publish(_ context.Context, ev Event) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	for {
		select {
		case n.out <- ev:
			return nil
		default:
			// Queue full: drop the oldest staged event to keep recency.
			select {
			case <-n.out:
			default:
			}
		}
	}
}

func (n *RedisNotifier) publishLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.out:
			data, err := json.Marshal(ev)
			if err != nil {
				logging.Op().Warn("event marshal failed", "type", ev.Type, "error", err)
				continue
			}
			if err := n.client.Publish(ctx, redisChannel, data).Err(); err != nil {
				logging.Op().Warn("event publish failed", "type", ev.Type, "error", err)
			}
		}
	}
}

// Subscribe listens on the shared Redis channel and forwards decoded events.
// Malformed payloads are logged and skipped.
func (n *RedisNotifier) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, defaultBuffer)

	pubsub := n.client.Subscribe(ctx, redisChannel)
	go func() {
		defer pubsub.Close()
		defer close(ch)
		msgCh := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logging.Op().Warn("event decode failed", "error", err)
					continue
				}
				select {
				case ch <- ev:
				default:
					// Non-blocking: subscriber buffer is full, drop
				}
			}
		}
	}()

	return ch
}

func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.cancel()
	n.wg.Wait()
	return nil
}
