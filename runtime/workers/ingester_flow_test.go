package workers

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/infrastructure/bus"
	"chat-relay/mocks"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// recordingStore appends slowly and fails while down is set.
type recordingStore struct {
	mu       sync.Mutex
	down     bool
	appended []string
}

func (s *recordingStore) append(_ context.Context, candidate domain.Candidate) (domain.Message, error) {
	time.Sleep(5 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return domain.Message{}, fmt.Errorf("%w: down", errors.ErrStoreUnavailable)
	}
	s.appended = append(s.appended, candidate.Body)
	return candidate.Persist(uuid.New(), time.Now()), nil
}

func (s *recordingStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *recordingStore) bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.appended...)
}

func TestIngester_Slow_Store_Behind_MemoryBus_Loses_Nothing(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store := &recordingStore{down: true}
	repository := mocks.NewMockIMessageRepository(ctrl)
	repository.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(store.append).AnyTimes()

	// Given an ingester behind a tiny buffer, with the store down at first
	memoryBus := bus.NewMemoryBus(log, 2, time.Millisecond)
	defer func() { _ = memoryBus.Close() }()
	ingester := NewIngesterWorker(memoryBus, repository, nil, log, IngesterConfig{
		RetryInitial:      time.Millisecond,
		RetryMax:          10 * time.Millisecond,
		AnnouncePersisted: true,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ingester.Run(ctx) }()
	req.Eventually(func() bool { return memoryBus.SubscriptionCount() == 1 }, time.Second, 5*time.Millisecond)

	// When a publisher outpaces it and the store comes back later
	recovered := time.AfterFunc(50*time.Millisecond, func() { store.setDown(false) })
	defer recovered.Stop()
	const published = 20
	want := make([]string, 0, published)
	for i := range published {
		candidate := domain.NewCandidate("alice", "bob", fmt.Sprintf("m%d", i))
		payload, err := domain.SentEnvelope(candidate).Encode()
		req.NoError(err)
		want = append(want, candidate.Body)
		req.NoError(memoryBus.Publish(ctx, "chat.alice:bob", payload))
	}

	// Then every published message is appended, in order
	req.Eventually(func() bool { return len(store.bodies()) == published }, 5*time.Second, 10*time.Millisecond)
	req.Equal(want, store.bodies())
}
