package internal

import (
	"chat-relay/domain"
	"chat-relay/observability"
	"chat-relay/repositories"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newOpsFixture(t *testing.T) (*httptest.Server, *badger.DB) {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	registry := prometheus.NewRegistry()
	metrics := observability.NewRelayMetrics(registry)
	metrics.MessagePublished()

	router := NewOpsRouter(log, db, registry, func() map[string]any {
		return map[string]any{"views": 2}
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, db
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestOpsRouter_Healthz(t *testing.T) {
	server, _ := newOpsFixture(t)

	status, body := get(t, server.URL+"/healthz")

	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"status":"ok","stats":{"views":2}}`, body)
}

func TestOpsRouter_Metrics(t *testing.T) {
	server, _ := newOpsFixture(t)

	status, body := get(t, server.URL+"/metrics")

	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "chat_relay_messages_published_total 1")
}

func TestOpsRouter_Inspect(t *testing.T) {
	req := require.New(t)
	server, db := newOpsFixture(t)
	repository, err := repositories.NewMessageRepository(db, logs.GetLoggerFromLevel(slog.LevelDebug), time.Hour)
	req.NoError(err)
	defer func() { _ = repository.Close() }()
	_, err = repository.Append(context.Background(), domain.NewCandidate("alice", "bob", "hello"))
	req.NoError(err)

	status, body := get(t, server.URL+"/inspect")
	req.Equal(http.StatusOK, status)
	var page InspectPage
	req.NoError(json.NewDecoder(strings.NewReader(body)).Decode(&page))
	req.Equal(repositories.MessagePrefix, page.Prefix)
	req.Len(page.Records, 1)
	req.Equal("hello", page.Records[0].Message.Body)

	status, _ = get(t, server.URL+"/inspect?limit=-1")
	req.Equal(http.StatusBadRequest, status)
}

func TestOpsRouter_Inspect_Without_Badger(t *testing.T) {
	router := NewOpsRouter(logs.GetLoggerFromLevel(slog.LevelDebug), nil, prometheus.NewRegistry(), nil)
	server := httptest.NewServer(router)
	defer server.Close()

	status, _ := get(t, server.URL+"/inspect")

	require.Equal(t, http.StatusNotFound, status)
}
