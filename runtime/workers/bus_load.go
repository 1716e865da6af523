package workers

import (
	"chat-relay/contract"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

// BusLoadWorker periodically samples the bus buffers into gauges.
// Reading len and cap of a channel never blocks, so sampling doesn't interfere with delivery.
type BusLoadWorker struct {
	log            *slog.Logger
	reporter       contract.ILoadReporter
	metrics        *observability.RelayMetrics
	metricInterval time.Duration
}

func NewBusLoadWorker(log *slog.Logger, reporter contract.ILoadReporter,
	metrics *observability.RelayMetrics, metricInterval time.Duration) *BusLoadWorker {
	return &BusLoadWorker{
		log:            log,
		reporter:       reporter,
		metrics:        metrics,
		metricInterval: metricInterval,
	}
}

func (w *BusLoadWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping bus load sampling")
			return nil
		case <-ticker.C:
			load := w.reporter.Load()
			w.metrics.BusLoadSampled(load)
			if load.Capacity > 0 && load.Queued*4 >= load.Capacity*3 {
				w.log.Warn("Subscription buffers above 75%",
					"queued", load.Queued, "capacity", load.Capacity, "subscriptions", load.Subscriptions)
			}
		}
	}
}
