package main

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/infrastructure/bus"
	"chat-relay/infrastructure/grpc/chatapi"
	"chat-relay/infrastructure/grpc/server"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the relay and keeps every deferred cleanup on the exit path.
func run() error {
	// 1. Configuration & Logger
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("dotenv error: %w", err)
	}
	config, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewRelayMetrics(registry)

	// 3. Message store
	repository, db, closeStore, err := openStore(config, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 4. Relay bus
	relayBus, closeBus, err := openBus(config, log)
	if err != nil {
		return err
	}
	defer closeBus()

	// 5. Supervision & Orchestration
	sup := workers.NewSupervisor(log, metrics, config.RestartInterval)
	if reporter, ok := relayBus.(contract.ILoadReporter); ok {
		sup.Add(workers.NewBusLoadWorker(log, reporter, metrics, config.MetricInterval))
	}
	views := runtime.NewRegistry()
	orchestrator := runtime.NewOrchestrator(log, sup, views, relayBus, repository, metrics, workers.IngesterConfig{
		RetryInitial:      config.IngestRetryInitial,
		RetryMax:          config.IngestRetryMax,
		AnnouncePersisted: config.AnnouncePersisted,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := orchestrator.Start(ctx); err != nil {
			log.Error("Orchestrator stopped", "error", err)
		}
	}()

	// 6. gRPC Server
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	validator := auth.NewTokenValidator(config.JWTSecret)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(validator)),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(validator)),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s, healthServer)
	var chatOptions []services.ChatServiceOption
	if config.ModerationWordsFile != "" {
		moderator, err := newModerator(config, log)
		if err != nil {
			return err
		}
		chatOptions = append(chatOptions, services.WithModerator(moderator))
	}
	chatapi.RegisterChatServiceServer(s, server.NewChatServer(log, services.NewChatService(orchestrator, chatOptions...)))
	healthServer.SetServingStatus(chatapi.ServiceName, healthpb.HealthCheckResponse_SERVING)

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting gRPC server", "address", address, "at", time.Now().UTC())
		if err := s.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 7. Ops Server
	ops := internal.NewOpsServer(log, config.OpsPort, internal.NewOpsRouter(log, db, registry, func() map[string]any {
		return map[string]any{"open_views": views.Len()}
	}))
	opsErr := ops.Start()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	case err := <-opsErr:
		return err
	}

	// 9. Final Cleanup
	healthServer.Shutdown()
	s.GracefulStop()
	orchestrator.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Warn("Ops server shutdown failed", "error", err)
	}
	log.Info("Program stopped cleanly")

	return nil
}

// openStore returns the badger handle as well when it is the backend, for the inspection endpoint.
func openStore(config internal.Config, log *slog.Logger) (repositories.IMessageRepository, *badger.DB, func(), error) {
	switch config.StoreBackend {
	case "sql":
		db, err := repositories.OpenSQL(config.SQLDialect, config.SQLDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database opening failed: %w", err)
		}
		repository, err := repositories.NewSQLMessageRepository(db, log, config.DedupWindow)
		if err != nil {
			return nil, nil, nil, err
		}
		return repository, nil, func() {
			log.Info("Closing SQL store...")
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}, nil
	default:
		db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.INFO))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database opening failed: %w", err)
		}
		repository, err := repositories.NewMessageRepository(db, log, config.DedupWindow)
		if err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		return repository, db, func() {
			log.Info("Closing BadgerDB...")
			_ = repository.Close()
			_ = db.Close()
		}, nil
	}
}

func openBus(config internal.Config, log *slog.Logger) (contract.IRelayBus, func(), error) {
	switch config.BusBackend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		client, err := bus.Dial(ctx, config.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		relayBus := bus.NewRedisBus(client, log, config.ConnectionBufferSize)
		return relayBus, func() {
			_ = relayBus.Close()
			_ = client.Close()
		}, nil
	default:
		relayBus := bus.NewMemoryBus(log, config.ConnectionBufferSize, config.DeliveryTimeout)
		return relayBus, func() { _ = relayBus.Close() }, nil
	}
}

func newModerator(config internal.Config, log *slog.Logger) (*moderation.Moderator, error) {
	words, err := moderation.LoadWordsFile(config.ModerationWordsFile)
	if err != nil {
		return nil, err
	}
	moderator, err := moderation.NewModerator(words, []rune(config.ModerationCharReplacement)[0], log)
	if err != nil {
		return nil, fmt.Errorf("moderation: %w", err)
	}
	log.Info("Moderation enabled", "words", len(words))
	return moderator, nil
}
