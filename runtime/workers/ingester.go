package workers

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/repositories"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// IngesterConfig bounds the store retries. There is no attempt limit:
// an append is retried until it succeeds or the worker stops.
type IngesterConfig struct {
	RetryInitial      time.Duration
	RetryMax          time.Duration
	AnnouncePersisted bool
}

// IngesterWorker is the standing subscriber of every conversation channel.
// Each sent envelope is appended to the message store; redeliveries are absorbed
// by the store idempotency window. During a store outage the ingester stops reading,
// so the bus holds publishers back instead of losing messages.
type IngesterWorker struct {
	bus        contract.IRelayBus
	repository repositories.IMessageRepository
	metrics    *observability.RelayMetrics
	log        *slog.Logger
	cfg        IngesterConfig
}

func NewIngesterWorker(bus contract.IRelayBus, repository repositories.IMessageRepository,
	metrics *observability.RelayMetrics, log *slog.Logger, cfg IngesterConfig) *IngesterWorker {
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = backoff.DefaultInitialInterval
	}
	cfg.RetryMax = max(cfg.RetryMax, cfg.RetryInitial)
	return &IngesterWorker{
		bus:        bus,
		repository: repository,
		metrics:    metrics,
		log:        log,
		cfg:        cfg,
	}
}

// Run returns an error when the subscription is lost, or when it stops with a message
// still unpersisted, so that the supervisor resubscribes.
func (w *IngesterWorker) Run(ctx context.Context) error {
	subscription, err := w.bus.Subscribe(ctx, domain.AllConversations)
	if err != nil {
		return err
	}
	defer func() {
		if err := subscription.Close(); err != nil {
			w.log.Debug("Closing ingest subscription", "error", err)
		}
	}()
	w.log.Info("Ingester subscribed", "pattern", domain.AllConversations)

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping ingester")
			return ctx.Err()
		case delivery, ok := <-subscription.Deliveries():
			if !ok {
				return fmt.Errorf("%w: ingest subscription closed", errors.ErrTransportUnavailable)
			}
			// Undeliverable payloads are logged and counted, the loop goes on.
			if err := w.Ingest(ctx, delivery); stderrors.Is(err, errors.ErrStoreUnavailable) {
				return err
			}
		}
	}
}

// Ingest persists one delivery. Persisted announcements are skipped and duplicates return nil.
func (w *IngesterWorker) Ingest(ctx context.Context, delivery contract.Delivery) error {
	envelope, err := domain.DecodeEnvelope(delivery.Payload)
	if err != nil {
		w.log.Warn("Dropping undecodable payload", "channel", delivery.Topic, "error", err)
		w.metrics.IngestFailed("decode")
		return err
	}
	if envelope.Kind == domain.KindPersisted {
		return nil
	}

	candidate := envelope.Candidate()
	if err := candidate.Validate(); err != nil {
		w.log.Warn("Dropping invalid message", "channel", delivery.Topic, "error", err)
		w.metrics.IngestFailed("invalid")
		return err
	}
	channel, err := candidate.Channel()
	if err != nil {
		w.metrics.IngestFailed("invalid")
		return err
	}
	if channel != delivery.Topic {
		w.log.Warn("Dropping message published on a foreign channel",
			"channel", delivery.Topic, "expected", channel, "sender_id", candidate.SenderID)
		w.metrics.IngestFailed("topic")
		return fmt.Errorf("%w: %s carries a message for %s", errors.ErrInvalidChannel, delivery.Topic, channel)
	}

	message, err := w.appendWithRetry(ctx, candidate)
	switch {
	case stderrors.Is(err, errors.ErrDuplicateDelivery):
		w.log.Debug("Duplicate delivery absorbed", "channel", channel, "idempotency_key", candidate.IdempotencyKey, "message_id", message.ID)
		w.metrics.DuplicateAbsorbed()
		return nil
	case err != nil:
		w.log.Error("Message not persisted", "channel", channel, "idempotency_key", candidate.IdempotencyKey, "error", err)
		w.metrics.IngestFailed("store")
		return err
	}

	w.metrics.MessageIngested()
	w.log.Debug("Message persisted", "channel", channel, "message_id", message.ID)
	if w.cfg.AnnouncePersisted {
		w.announce(ctx, channel, message)
	}
	return nil
}

// appendWithRetry retries store outages with capped exponential backoff until ctx is done.
// Appends are never cancelled mid-flight, only the waits between attempts are.
func (w *IngesterWorker) appendWithRetry(ctx context.Context, candidate domain.Candidate) (domain.Message, error) {
	persistCtx := context.WithoutCancel(ctx)
	var lastErr error
	message, err := backoff.RetryNotifyWithData(
		func() (domain.Message, error) {
			message, err := w.repository.Append(persistCtx, candidate)
			if err != nil && !stderrors.Is(err, errors.ErrStoreUnavailable) {
				return message, backoff.Permanent(err)
			}
			lastErr = err
			return message, err
		},
		backoff.WithContext(w.newBackOff(), ctx),
		func(err error, next time.Duration) {
			w.log.Warn("Append failed, retrying", "idempotency_key", candidate.IdempotencyKey, "after", next, "error", err)
		},
	)
	if err != nil && ctx.Err() != nil && lastErr != nil {
		return message, fmt.Errorf("%w: %w", lastErr, ctx.Err())
	}
	return message, err
}

func (w *IngesterWorker) newBackOff() backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = w.cfg.RetryInitial
	exponential.MaxInterval = w.cfg.RetryMax
	exponential.MaxElapsedTime = 0
	exponential.Reset()
	return exponential
}

// announce publishes the persisted copy on the announcement topic, out of reach of the ingester's own pattern.
func (w *IngesterWorker) announce(ctx context.Context, channel string, message domain.Message) {
	topic, err := domain.AnnouncementChannelOf(channel)
	if err != nil {
		w.log.Error("Deriving announcement topic", "channel", channel, "error", err)
		return
	}
	payload, err := domain.PersistedEnvelope(message).Encode()
	if err != nil {
		w.log.Error("Encoding persisted announcement", "message_id", message.ID, "error", err)
		return
	}
	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		w.log.Warn("Persisted announcement not published", "topic", topic, "message_id", message.ID, "error", err)
	}
}
