// Package bus provides the relay transports: an in-process broker and a Redis adapter.
package bus

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MemoryBus broadcasts payloads to every subscription whose pattern matches the topic.
//
// Each subscription owns a buffered channel. Publish enqueues the payload on every
// matching subscription in turn, so a single publisher's payloads reach each subscriber
// in send order. A full buffer blocks the publisher until the subscriber catches up,
// the subscription is closed or the publish context is done. Payloads are never dropped
// for a live subscriber.
//
// MemoryBus is safe for concurrent use by multiple goroutines.
type MemoryBus struct {
	mu              sync.RWMutex
	log             *slog.Logger
	subscriptions   map[uint64]*memorySubscription
	nextID          uint64
	closed          bool
	bufferSize      int
	deliveryTimeout time.Duration
}

// NewMemoryBus builds a bus whose publishers log a warning once a subscriber
// has kept them waiting longer than deliveryTimeout.
func NewMemoryBus(log *slog.Logger, bufferSize int, deliveryTimeout time.Duration) *MemoryBus {
	return &MemoryBus{
		log:             log,
		subscriptions:   make(map[uint64]*memorySubscription),
		bufferSize:      bufferSize,
		deliveryTimeout: deliveryTimeout,
	}
}

// Publish returns ErrTransportUnavailable when ctx ends before every matching
// subscriber has accepted the payload. Some of them may already hold it.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	targets, err := b.matching(topic)
	if err != nil {
		return err
	}
	for _, sub := range targets {
		delivery := contract.Delivery{Topic: topic, Payload: append([]byte(nil), payload...)}
		if err := sub.deliver(ctx, delivery, b.deliveryTimeout); err != nil {
			return err
		}
	}
	return nil
}

// matching snapshots the subscriptions of a topic so that no bus lock is held while a publisher waits.
func (b *MemoryBus) matching(topic string) ([]*memorySubscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("%w: bus closed", errors.ErrTransportUnavailable)
	}
	targets := make([]*memorySubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if Match(sub.pattern, topic) {
			targets = append(targets, sub)
		}
	}
	return targets, nil
}

func (b *MemoryBus) Subscribe(_ context.Context, pattern string) (contract.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%w: bus closed", errors.ErrTransportUnavailable)
	}
	b.nextID++
	sub := &memorySubscription{
		id:         b.nextID,
		pattern:    pattern,
		bus:        b,
		deliveries: make(chan contract.Delivery, b.bufferSize),
		done:       make(chan struct{}),
	}
	b.subscriptions[sub.id] = sub
	b.log.Debug("Subscription registered", "pattern", pattern, "subscriptions", len(b.subscriptions))
	return sub, nil
}

// Close stops every subscription. Later publish and subscribe calls fail.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*memorySubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

// SubscriptionCount is the number of live subscriptions.
func (b *MemoryBus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Load reads len and cap of every subscription buffer. It never blocks publishers for long.
func (b *MemoryBus) Load() contract.BusLoad {
	b.mu.RLock()
	defer b.mu.RUnlock()
	load := contract.BusLoad{Subscriptions: len(b.subscriptions)}
	for _, sub := range b.subscriptions {
		load.Queued += len(sub.deliveries)
		load.Capacity += cap(sub.deliveries)
	}
	return load
}

type memorySubscription struct {
	id         uint64
	pattern    string
	bus        *MemoryBus
	deliveries chan contract.Delivery
	done       chan struct{}
	once       sync.Once

	// mu guards closed. Senders hold it for reading so deliveries is never closed under them.
	mu     sync.RWMutex
	closed bool
}

func (s *memorySubscription) Deliveries() <-chan contract.Delivery {
	return s.deliveries
}

// deliver waits for room in the buffer. A subscription closed meanwhile is skipped.
func (s *memorySubscription) deliver(ctx context.Context, delivery contract.Delivery, warnAfter time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.deliveries <- delivery:
		return nil
	default:
	}

	timer := time.NewTimer(warnAfter)
	defer timer.Stop()
	slow := timer.C
	for {
		select {
		case s.deliveries <- delivery:
			return nil
		case <-s.done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%w: %s not delivered to %s: %w",
				errors.ErrTransportUnavailable, delivery.Topic, s.pattern, ctx.Err())
		case <-slow:
			s.bus.log.Warn("Slow subscriber, publisher waiting",
				"pattern", s.pattern, "topic", delivery.Topic, "waited", warnAfter)
			slow = nil
		}
	}
}

// Close unblocks pending publishers first, then closes the channel once no sender holds it.
func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.mu.Lock()
		delete(s.bus.subscriptions, s.id)
		s.bus.mu.Unlock()

		s.mu.Lock()
		s.closed = true
		close(s.deliveries)
		s.mu.Unlock()
	})
	return nil
}
