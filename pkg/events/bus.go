package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// subscriberBuffer is the per-subscription delivery buffer. A subscriber
// that falls further behind than this starts losing events, which the
// at-most-once contract allows; clients resync over REST.
const subscriberBuffer = 256

// Message is one delivered event: the topic it was published on plus the
// marshaled payload.
type Message struct {
	Topic string
	Data  []byte
}

// Subscription is a live feed of one topic. C closes after Close is called
// or the bus shuts down. Close is idempotent.
type Subscription struct {
	C      <-chan Message
	cancel context.CancelFunc
	once   sync.Once
}

// Close tears the subscription down.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Bus is the in-process event fabric: topic based publish/subscribe with
// per-topic ordering and at-most-once delivery. Publishing never blocks on
// slow subscribers; each subscription drains through its own buffer and
// sheds load independently when that buffer fills.
type Bus struct {
	pubsub *gochannel.GoChannel

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewBus creates the bus.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            subscriberBuffer,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NewSlogLogger(slog.Default()),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish sends one payload to every current subscriber of the topic.
// Publishing to a topic nobody listens on is a cheap no-op.
func (b *Bus) Publish(topic string, data []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.Unlock()

	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a feed of the topic. Events published before the call are
// not delivered.
func (b *Bus) Subscribe(topic string) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus is closed")
	}
	b.mu.Unlock()

	subCtx, subCancel := context.WithCancel(b.ctx)
	messages, err := b.pubsub.Subscribe(subCtx, topic)
	if err != nil {
		subCancel()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	out := make(chan Message, subscriberBuffer)
	go func() {
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				return
			case wMsg, ok := <-messages:
				if !ok {
					return
				}
				// Ack immediately: delivery below is best effort and must
				// never back-pressure the publisher.
				wMsg.Ack()
				select {
				case out <- Message{Topic: topic, Data: wMsg.Payload}:
				default:
					slog.Warn("Dropping event for slow subscriber", "topic", topic)
				}
			}
		}
	}()

	return &Subscription{C: out, cancel: subCancel}, nil
}

// Close shuts the bus down and closes every subscription channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	return b.pubsub.Close()
}
