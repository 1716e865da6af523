package internal

import (
	"chat-relay/repositories"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultInspectLimit = 200

type StatsProvider func() map[string]any

type InspectPage struct {
	Prefix  string               `json:"prefix"`
	Records []repositories.Record `json:"records"`
}

// NewOpsRouter exposes health, metrics and, when db is set, a read-only view of the badger keys.
func NewOpsRouter(log *slog.Logger, db *badger.DB, gatherer prometheus.Gatherer, stats StatsProvider) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if stats != nil {
			body["stats"] = stats()
		}
		writeJSON(w, http.StatusOK, body)
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/inspect", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "inspection needs the badger store"})
			return
		}
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = repositories.MessagePrefix
		}
		limit := defaultInspectLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			limit = parsed
		}
		records, err := repositories.ScanRecords(db, prefix, limit)
		if err != nil {
			log.Error("Inspection failed", "prefix", prefix, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, InspectPage{Prefix: prefix, Records: records})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type OpsServer struct {
	log    *slog.Logger
	server *http.Server
}

func NewOpsServer(log *slog.Logger, port int, handler http.Handler) *OpsServer {
	return &OpsServer{
		log: log,
		server: &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in the background and reports a listen failure on the returned channel.
func (o *OpsServer) Start() <-chan error {
	errChan := make(chan error, 1)
	go func() {
		o.log.Info("Starting ops server", "address", o.server.Addr)
		if err := o.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("ops server error: %w", err)
		}
	}()
	return errChan
}

func (o *OpsServer) Shutdown(ctx context.Context) error {
	return o.server.Shutdown(ctx)
}
