package bus

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Dial opens a Redis connection and checks it with a ping.
// The caller owns the returned client and closes it on shutdown.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", errors.ErrTransportUnavailable, err)
	}
	return client, nil
}

// RedisBus relays payloads through Redis PUBLISH / (P)SUBSCRIBE.
// Exact topics use SUBSCRIBE, wildcard patterns use PSUBSCRIBE.
type RedisBus struct {
	client     *redis.Client
	log        *slog.Logger
	bufferSize int

	mu            sync.Mutex
	subscriptions map[*redisSubscription]struct{}
}

func NewRedisBus(client *redis.Client, log *slog.Logger, bufferSize int) *RedisBus {
	return &RedisBus{
		client:        client,
		log:           log,
		bufferSize:    bufferSize,
		subscriptions: make(map[*redisSubscription]struct{}),
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrTransportUnavailable, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, pattern string) (contract.Subscription, error) {
	var pubsub *redis.PubSub
	if IsPattern(pattern) {
		pubsub = b.client.PSubscribe(ctx, pattern)
	} else {
		pubsub = b.client.Subscribe(ctx, pattern)
	}
	// Wait for the subscription confirmation so that nothing published afterwards is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: %v", errors.ErrTransportUnavailable, err)
	}

	sub := &redisSubscription{
		bus:        b,
		pubsub:     pubsub,
		deliveries: make(chan contract.Delivery, b.bufferSize),
		done:       make(chan struct{}),
	}
	b.mu.Lock()
	b.subscriptions[sub] = struct{}{}
	b.mu.Unlock()

	go sub.pump(pubsub.Channel(redis.WithChannelSize(b.bufferSize)))
	b.log.Debug("Redis subscription registered", "pattern", pattern)
	return sub, nil
}

// Close releases the subscriptions opened through this bus. The client stays open.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := make([]*redisSubscription, 0, len(b.subscriptions))
	for sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (b *RedisBus) Load() contract.BusLoad {
	b.mu.Lock()
	defer b.mu.Unlock()
	load := contract.BusLoad{Subscriptions: len(b.subscriptions)}
	for sub := range b.subscriptions {
		load.Queued += len(sub.deliveries)
		load.Capacity += cap(sub.deliveries)
	}
	return load
}

type redisSubscription struct {
	bus        *RedisBus
	pubsub     *redis.PubSub
	deliveries chan contract.Delivery
	done       chan struct{}
	once       sync.Once
}

func (s *redisSubscription) Deliveries() <-chan contract.Delivery {
	return s.deliveries
}

// pump is the only writer of deliveries, it closes the channel on exit.
func (s *redisSubscription) pump(messages <-chan *redis.Message) {
	defer close(s.deliveries)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			select {
			case s.deliveries <- contract.Delivery{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
		s.bus.mu.Lock()
		delete(s.bus.subscriptions, s)
		s.bus.mu.Unlock()
	})
	return err
}
