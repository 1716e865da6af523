// Package runtime runs the relay: the supervised ingester and the per-viewer conversation views.
// It wires the bus and the store together without containing presentation concerns.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/observability"
	"chat-relay/projection"
	"chat-relay/repositories"
	"chat-relay/runtime/workers"
	"context"
	"log/slog"
	"sync"
)

type Orchestrator struct {
	mu             sync.Mutex
	log            *slog.Logger
	supervisor     contract.ISupervisor
	registry       *Registry
	bus            contract.IRelayBus
	repository     repositories.IMessageRepository
	metrics        *observability.RelayMetrics
	ingesterConfig workers.IngesterConfig
	started        bool
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor, registry *Registry,
	bus contract.IRelayBus, repository repositories.IMessageRepository,
	metrics *observability.RelayMetrics, ingesterConfig workers.IngesterConfig) *Orchestrator {
	return &Orchestrator{
		log:            log,
		supervisor:     supervisor,
		registry:       registry,
		bus:            bus,
		repository:     repository,
		metrics:        metrics,
		ingesterConfig: ingesterConfig,
	}
}

// Start registers the ingester and runs the supervisor. It blocks until ctx is done or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	ingester := workers.NewIngesterWorker(o.bus, o.repository, o.metrics, o.log, o.ingesterConfig)

	o.mu.Lock()
	if !o.started {
		o.supervisor.Add(ingester)
		o.started = true
	}
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers")
	o.supervisor.Run(ctx)
	return nil
}

// OpenConversation opens a live view of the conversation between viewerID and peerID.
func (o *Orchestrator) OpenConversation(ctx context.Context, viewerID, peerID string) (*ConversationView, error) {
	view, err := OpenConversationView(ctx, o.bus, o.repository, o.metrics, o.log, viewerID, peerID)
	if err != nil {
		return nil, err
	}
	o.registry.Register(view)
	return view, nil
}

// SendMessage goes through an open view of the sender when there is one, for optimistic display.
// Otherwise the message is published directly.
func (o *Orchestrator) SendMessage(ctx context.Context, viewerID, peerID, body string) (projection.Entry, error) {
	if views := o.registry.ViewsOf(viewerID, peerID); len(views) > 0 {
		return views[0].Send(ctx, body)
	}

	candidate := domain.NewCandidate(viewerID, peerID, body)
	if err := candidate.Validate(); err != nil {
		return projection.Entry{}, err
	}
	entry := projection.Entry{Message: candidate.Message(), Status: projection.StatusSent}
	payload, err := domain.SentEnvelope(candidate).Encode()
	if err == nil {
		err = o.bus.Publish(ctx, domain.MustDeriveChannel(viewerID, peerID), payload)
	}
	if err != nil {
		o.metrics.PublishFailed()
		entry.Status = projection.StatusUnsent
		return entry, err
	}
	o.metrics.MessagePublished()
	return entry, nil
}

func (o *Orchestrator) CloseConversation(view *ConversationView) error {
	o.registry.Unregister(view)
	return view.Close()
}

// History returns the persisted conversation without opening a live view.
func (o *Orchestrator) History(ctx context.Context, viewerID, peerID string) ([]domain.Message, error) {
	if _, err := domain.DeriveChannel(viewerID, peerID); err != nil {
		return nil, err
	}
	return o.repository.Query(context.WithoutCancel(ctx), viewerID, peerID)
}

// Stop cancels the supervised workers and closes the views still open.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
	for _, view := range o.registry.All() {
		if err := o.CloseConversation(view); err != nil {
			o.log.Debug("Closing view on shutdown", "channel", view.Channel(), "error", err)
		}
	}
}
