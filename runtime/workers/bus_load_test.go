package workers

import (
	"chat-relay/contract"
	"chat-relay/infrastructure/bus"
	"chat-relay/observability"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestBusLoadWorker_Samples_Buffers(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	metrics := observability.NewRelayMetrics(prometheus.NewRegistry())
	memoryBus := bus.NewMemoryBus(log, 4, time.Second)
	defer func() { _ = memoryBus.Close() }()

	// Given two subscriptions, one of them holding an unconsumed payload
	ctx := context.Background()
	first, err := memoryBus.Subscribe(ctx, "chat.*")
	req.NoError(err)
	defer func() { _ = first.Close() }()
	second, err := memoryBus.Subscribe(ctx, "chat.clara:dan")
	req.NoError(err)
	defer func() { _ = second.Close() }()
	req.NoError(memoryBus.Publish(ctx, "chat.alice:bob", []byte("{}")))

	// When the worker runs for a few ticks
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewBusLoadWorker(log, memoryBus, metrics, 10*time.Millisecond).Run(runCtx) }()

	// Then the gauges reflect the bus buffers
	req.Eventually(func() bool {
		return testutil.ToFloat64(metrics.Subscriptions) == 2 &&
			testutil.ToFloat64(metrics.QueuedPayloads) == 1 &&
			testutil.ToFloat64(metrics.QueueCapacity) == 8
	}, time.Second, 10*time.Millisecond)

	cancel()
	req.NoError(<-done)
}

func TestMemoryBus_Load_Is_A_Reporter(t *testing.T) {
	var _ contract.ILoadReporter = (*bus.MemoryBus)(nil)
	var _ contract.ILoadReporter = (*bus.RedisBus)(nil)
}
