package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/projection"
	"chat-relay/repositories"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// ConversationView is the state of one open conversation for one viewer.
// It merges a history fetch with the live subscriptions of the conversation channel
// and of its announcement topic. One goroutine per view reads both until Close.
type ConversationView struct {
	viewerID     string
	peerID       string
	channel      string
	announcement string

	bus        contract.IRelayBus
	repository repositories.IMessageRepository
	metrics    *observability.RelayMetrics
	log        *slog.Logger

	mu       sync.Mutex
	history  []domain.Message
	live     []domain.Message
	timeline *projection.Timeline
	closed   bool

	subscription  contract.Subscription
	announcements contract.Subscription
	changes       chan struct{}
	cancel        context.CancelFunc
	done          chan struct{}
	closeOnce     sync.Once
	closeErr      error
}

// OpenConversationView subscribes to the conversation channel and its announcement topic,
// then fetches the history. Subscribing first leaves no gap between the fetch and the live stream;
// messages seen by both are deduplicated by the merge.
func OpenConversationView(ctx context.Context, bus contract.IRelayBus, repository repositories.IMessageRepository,
	metrics *observability.RelayMetrics, log *slog.Logger, viewerID, peerID string) (*ConversationView, error) {
	key, err := domain.NewConversationKey(viewerID, peerID)
	if err != nil {
		return nil, err
	}
	channel, announcement := key.Channel(), key.AnnouncementChannel()
	subscription, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	announcements, err := bus.Subscribe(ctx, announcement)
	if err != nil {
		_ = subscription.Close()
		return nil, err
	}
	history, err := repository.Query(context.WithoutCancel(ctx), viewerID, peerID)
	if err != nil {
		_ = subscription.Close()
		_ = announcements.Close()
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	v := &ConversationView{
		viewerID:      viewerID,
		peerID:        peerID,
		channel:       channel,
		announcement:  announcement,
		bus:           bus,
		repository:    repository,
		metrics:       metrics,
		log:           log.With("viewer_id", viewerID, "peer_id", peerID, "channel", channel),
		history:       history,
		timeline:      projection.NewTimeline(viewerID),
		subscription:  subscription,
		announcements: announcements,
		changes:       make(chan struct{}, 1),
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	v.timeline.Merge(history)
	metrics.ViewOpened()

	go v.listen(loopCtx)
	v.log.Debug("Conversation opened", "history", len(history))
	return v, nil
}

func (v *ConversationView) ViewerID() string { return v.viewerID }
func (v *ConversationView) PeerID() string   { return v.peerID }
func (v *ConversationView) Channel() string  { return v.channel }

// Changes signals that Merged has changed. Signals are coalesced.
func (v *ConversationView) Changes() <-chan struct{} { return v.changes }

// Done is closed once the live loop has stopped, on Close or when the subscription is lost.
func (v *ConversationView) Done() <-chan struct{} { return v.done }

func (v *ConversationView) listen(ctx context.Context) {
	defer close(v.done)
	sent, persisted := v.subscription.Deliveries(), v.announcements.Deliveries()
	for {
		var delivery contract.Delivery
		var ok bool
		select {
		case <-ctx.Done():
			return
		case delivery, ok = <-sent:
		case delivery, ok = <-persisted:
		}
		if !ok {
			// Close cancels ctx before closing the subscriptions.
			if ctx.Err() == nil {
				v.log.Warn("Live subscription lost")
			}
			return
		}
		v.onDelivery(delivery)
	}
}

func (v *ConversationView) onDelivery(delivery contract.Delivery) {
	if delivery.Topic != v.channel && delivery.Topic != v.announcement {
		v.log.Warn("Ignoring delivery for another channel", "topic", delivery.Topic)
		return
	}
	envelope, err := domain.DecodeEnvelope(delivery.Payload)
	if err != nil {
		v.log.Warn("Ignoring undecodable delivery", "error", err)
		return
	}
	message, err := envelope.Message()
	if err != nil {
		v.log.Warn("Ignoring invalid delivery", "error", err)
		return
	}

	status := projection.StatusSent
	if message.Persisted() {
		status = projection.StatusPersisted
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.live = append(v.live, message)
	changed := v.timeline.Insert(message, status)
	v.mu.Unlock()

	if changed {
		v.notify()
	}
}

func (v *ConversationView) notify() {
	select {
	case v.changes <- struct{}{}:
	default:
	}
}

// Merged returns the deduplicated, ordered entries of the conversation.
func (v *ConversationView) Merged() []projection.Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.timeline.Entries()
}

func (v *ConversationView) Messages() []domain.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.timeline.Messages()
}

func (v *ConversationView) History() []domain.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.history)
}

func (v *ConversationView) Live() []domain.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.live)
}

// Send shows the message immediately, then publishes it on the conversation channel.
// A publish failure leaves the entry unsent so that it can be resent.
func (v *ConversationView) Send(ctx context.Context, body string) (projection.Entry, error) {
	candidate := domain.NewCandidate(v.viewerID, v.peerID, body)
	if err := candidate.Validate(); err != nil {
		return projection.Entry{}, err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return projection.Entry{}, errors.ErrConversationClosed
	}
	v.timeline.Insert(candidate.Message(), projection.StatusPending)
	v.mu.Unlock()
	v.notify()

	err := v.publish(ctx, candidate)
	return v.entry(candidate.IdempotencyKey), err
}

// Resend republishes an unsent entry under its original idempotency key.
func (v *ConversationView) Resend(ctx context.Context, idempotencyKey string) (projection.Entry, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return projection.Entry{}, errors.ErrConversationClosed
	}
	entry, ok := v.timeline.Lookup(idempotencyKey)
	if !ok {
		v.mu.Unlock()
		return projection.Entry{}, fmt.Errorf("%w: %s", errors.ErrUnknownEntry, idempotencyKey)
	}
	if entry.Status != projection.StatusUnsent {
		v.mu.Unlock()
		return entry, nil
	}
	_ = v.timeline.SetStatus(idempotencyKey, projection.StatusPending)
	v.mu.Unlock()
	v.notify()

	message := entry.Message
	err := v.publish(ctx, domain.Candidate{
		IdempotencyKey: message.IdempotencyKey,
		SenderID:       message.SenderID,
		ReceiverID:     message.ReceiverID,
		Body:           message.Body,
	})
	return v.entry(idempotencyKey), err
}

func (v *ConversationView) publish(ctx context.Context, candidate domain.Candidate) error {
	status := projection.StatusSent
	payload, err := domain.SentEnvelope(candidate).Encode()
	if err == nil {
		err = v.bus.Publish(ctx, v.channel, payload)
	}
	if err != nil {
		status = projection.StatusUnsent
		v.metrics.PublishFailed()
		v.log.Warn("Message left unsent", "idempotency_key", candidate.IdempotencyKey, "error", err)
	} else {
		v.metrics.MessagePublished()
	}

	v.mu.Lock()
	if !v.closed {
		_ = v.timeline.SetStatus(candidate.IdempotencyKey, status)
	}
	v.mu.Unlock()
	v.notify()
	return err
}

func (v *ConversationView) entry(idempotencyKey string) projection.Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, _ := v.timeline.Lookup(idempotencyKey)
	return entry
}

// Refresh fetches the history again and merges it.
func (v *ConversationView) Refresh(ctx context.Context) error {
	history, err := v.repository.Query(context.WithoutCancel(ctx), v.viewerID, v.peerID)
	if err != nil {
		return err
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return errors.ErrConversationClosed
	}
	v.history = history
	changed := v.timeline.Merge(history)
	v.mu.Unlock()
	if changed {
		v.notify()
	}
	return nil
}

// Close releases the subscription, waits for the live loop and discards the merged state.
func (v *ConversationView) Close() error {
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.closed = true
		v.mu.Unlock()

		v.cancel()
		v.closeErr = stderrors.Join(v.subscription.Close(), v.announcements.Close())
		<-v.done

		v.mu.Lock()
		v.history, v.live = nil, nil
		v.timeline = projection.NewTimeline(v.viewerID)
		v.mu.Unlock()
		v.metrics.ViewClosed()
		v.log.Debug("Conversation closed")
	})
	return v.closeErr
}
