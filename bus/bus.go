// Package bus stands in for the out-of-scope messaging layer: Bus is the
// contract the dispatcher sends envelope/origin/magnitude messages
// through; Channel is a channel-backed, non-blocking reference
// implementation, every send either non-blocking or queued unbounded,
// with an every-N-messages sync token for backpressure.
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Message is one published item, tagged with a delivery id for best-effort
// de-dup/idempotency at the broker.
type Message struct {
	Topic      string
	DeliveryID string
	Payload    any
}

// Bus is the messaging-layer contract.
type Bus interface {
	// Attach subscribes to topic, returning a channel of delivered
	// messages. Closed when the Bus itself is closed.
	Attach(topic string) (<-chan Message, error)
	// Send publishes payload to topic. Never blocks the caller beyond the
	// implementation's own bounded queueing.
	Send(topic string, payload any) error
	// Sync blocks until every message sent before the call has been
	// delivered or dropped, or ctx is done. The dispatcher calls this
	// every N sends (default 100) as its backpressure mechanism
	//.
	Sync(ctx context.Context) error
}

// Channel is a non-blocking, in-process Bus: each Send fans out to every
// attached subscriber's buffered channel; a full subscriber channel has
// its oldest pending message dropped (counted) to make room, rather than
// blocking the sender.
type Channel struct {
	bufferSize int

	mu          sync.Mutex
	subscribers map[string][]chan Message

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewChannel returns a Channel bus whose per-subscriber queues hold
// bufferSize messages before the drop-oldest policy engages.
func NewChannel(bufferSize int) *Channel {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Channel{
		bufferSize:  bufferSize,
		subscribers: make(map[string][]chan Message),
	}
}

// Attach subscribes to topic.
func (c *Channel) Attach(topic string) (<-chan Message, error) {
	ch := make(chan Message, c.bufferSize)
	c.mu.Lock()
	c.subscribers[topic] = append(c.subscribers[topic], ch)
	c.mu.Unlock()
	return ch, nil
}

// Send publishes payload to topic, tagging it with a fresh delivery id.
// Delivery to a saturated subscriber drops that subscriber's oldest
// queued message rather than blocking.
func (c *Channel) Send(topic string, payload any) error {
	msg := Message{Topic: topic, DeliveryID: uuid.NewString(), Payload: payload}

	c.mu.Lock()
	subs := append([]chan Message(nil), c.subscribers[topic]...)
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			select {
			case <-ch:
				c.dropped.Add(1)
			default:
			}
			select {
			case ch <- msg:
			default:
				c.dropped.Add(1)
			}
		}
	}
	c.sent.Add(1)
	return nil
}

// Sync is a no-op past the send calls already having returned: Channel's
// Send never blocks and never queues beyond the subscriber buffers
// themselves, so there is nothing further to drain. Reference
// implementations backed by a real broker would block here until an
// acknowledgement round-trip completes.
func (c *Channel) Sync(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Sent returns the number of Send calls completed so far.
func (c *Channel) Sent() uint64 { return c.sent.Load() }

// Dropped returns the number of messages dropped due to a saturated
// subscriber queue.
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

var _ Bus = (*Channel)(nil)
