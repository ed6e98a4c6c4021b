// Package events fans sync status events out to live subscribers such as
// websocket clients.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jsamuelsen/quotekeeper/internal/ports"
)

// DefaultBufferSize is the number of events the broker queues before dropping.
const DefaultBufferSize = 64

var (
	// ErrBufferFull is returned by Publish when the broker is not keeping up.
	ErrBufferFull = errors.New("event buffer full, event dropped")

	// ErrBrokerStopped is returned once Run has exited.
	ErrBrokerStopped = errors.New("event broker stopped")
)

// Message is the envelope delivered to subscribers.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscriber consumes broker messages. Send must not block for long; slow
// transports should queue internally.
type Subscriber interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Broker implements ports.EventPublisher. Publish never blocks; a single Run
// loop owns the subscriber set and delivers messages in publish order.
type Broker struct {
	events     chan Message
	register   chan Subscriber
	unregister chan Subscriber
	done       chan struct{}
	now        func() time.Time
	logger     *slog.Logger

	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewBroker creates a broker with the given queue size (DefaultBufferSize if <= 0).
func NewBroker(bufferSize int, logger *slog.Logger) *Broker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Broker{
		events:     make(chan Message, bufferSize),
		register:   make(chan Subscriber),
		unregister: make(chan Subscriber),
		done:       make(chan struct{}),
		now:        time.Now,
		logger:     logger.With(slog.String("component", "events.Broker")),
	}
}

// Run delivers events until ctx is cancelled, then closes every subscriber.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for _, sub := range b.subscribers {
				_ = sub.Close()
			}
			b.subscribers = nil
			b.mu.Unlock()

			b.logger.Info("event broker stopped")

			return

		case sub := <-b.register:
			b.mu.Lock()
			b.subscribers = append(b.subscribers, sub)
			total := len(b.subscribers)
			b.mu.Unlock()

			b.logger.Debug("subscriber registered", slog.Int("subscribers", total))

		case sub := <-b.unregister:
			b.remove(sub)

		case msg := <-b.events:
			b.deliver(ctx, msg)
		}
	}
}

func (b *Broker) remove(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subscribers {
		if s == sub {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			_ = s.Close()

			break
		}
	}

	b.logger.Debug("subscriber unregistered", slog.Int("subscribers", len(b.subscribers)))
}

func (b *Broker) deliver(ctx context.Context, msg Message) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.Send(ctx, msg); err != nil {
			b.logger.WarnContext(ctx, "dropping subscriber after failed send",
				slog.String("event_type", msg.Type),
				slog.Any("error", err),
			)
			b.remove(sub)
		}
	}

	b.logger.DebugContext(ctx, "event delivered",
		slog.String("event_type", msg.Type),
		slog.Int("subscribers", len(subs)),
	)
}

// Publish implements ports.EventPublisher.
func (b *Broker) Publish(ctx context.Context, event ports.Event) error {
	msg := Message{
		Type:      event.EventType(),
		Timestamp: b.now(),
		Data:      event.Payload(),
	}

	select {
	case <-b.done:
		return ErrBrokerStopped
	default:
	}

	select {
	case b.events <- msg:
		return nil
	default:
		b.logger.WarnContext(ctx, "event buffer full, event dropped", slog.String("event_type", msg.Type))

		return ErrBufferFull
	}
}

// Subscribe registers sub. It blocks until the Run loop accepts it.
func (b *Broker) Subscribe(ctx context.Context, sub Subscriber) error {
	select {
	case b.register <- sub:
		return nil
	case <-b.done:
		return ErrBrokerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe removes and closes sub. Unknown subscribers are ignored.
func (b *Broker) Unsubscribe(ctx context.Context, sub Subscriber) error {
	select {
	case b.unregister <- sub:
		return nil
	case <-b.done:
		return ErrBrokerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers)
}
