package server_test

import (
	"chat-relay/auth"
	"chat-relay/infrastructure/bus"
	"chat-relay/infrastructure/grpc/chatapi"
	"chat-relay/infrastructure/grpc/client"
	"chat-relay/infrastructure/grpc/server"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const secret = "bufconn-secret"

type testServer struct {
	listener *bufconn.Listener
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	repository, err := repositories.NewMessageRepository(db, log, time.Hour)
	require.NoError(t, err)
	memoryBus := bus.NewMemoryBus(log, 64, time.Second)
	orchestrator := runtime.NewOrchestrator(log, workers.NewSupervisor(log, nil, 50*time.Millisecond),
		runtime.NewRegistry(), memoryBus, repository, nil, workers.IngesterConfig{
			RetryInitial:      10 * time.Millisecond,
			RetryMax:          100 * time.Millisecond,
			AnnouncePersisted: true,
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = orchestrator.Start(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return memoryBus.SubscriptionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	listener := bufconn.Listen(1 << 20)
	validator := auth.NewTokenValidator(secret)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(validator)),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(validator)),
	)
	chatapi.RegisterChatServiceServer(s, server.NewChatServer(log, services.NewChatService(orchestrator)))
	go func() { _ = s.Serve(listener) }()

	t.Cleanup(func() {
		s.Stop()
		orchestrator.Stop()
		cancel()
		<-done
		_ = memoryBus.Close()
		_ = repository.Close()
		_ = db.Close()
	})
	return &testServer{listener: listener}
}

func (s *testServer) dial(t *testing.T, token string) *client.ChatClient {
	t.Helper()
	c, err := client.NewChatClient("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return s.listener.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (s *testServer) dialAs(t *testing.T, viewerID string) *client.ChatClient {
	t.Helper()
	token, err := auth.GenerateToken(secret, viewerID, time.Hour)
	require.NoError(t, err)
	return s.dial(t, token)
}

func recvUntil(t *testing.T, conversation *client.Conversation, accept func(*chatapi.ConversationSnapshot) bool) *chatapi.ConversationSnapshot {
	t.Helper()
	for {
		snapshot, err := conversation.Recv()
		require.NoError(t, err)
		if accept(snapshot) {
			return snapshot
		}
	}
}

func TestChatServer_Rejects_Unauthenticated_Calls(t *testing.T) {
	req := require.New(t)
	s := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.dial(t, "not-a-jwt").History(ctx, "bob")
	req.Equal(codes.Unauthenticated, status.Code(err))

	conversation, err := s.dial(t, "not-a-jwt").Connect(ctx, "bob")
	if err == nil {
		// The stream is only refused once the server answers
		_, err = conversation.Recv()
	}
	req.Equal(codes.Unauthenticated, status.Code(err))
}

func TestChatServer_History_Rejects_Self_Conversation(t *testing.T) {
	s := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.dialAs(t, "alice").History(ctx, "alice")
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestChatServer_Connect_Receives_Live_Messages(t *testing.T) {
	req := require.New(t)
	s := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	alice, bob := s.dialAs(t, "alice"), s.dialAs(t, "bob")

	// Given bob looking at his conversation with alice
	conversation, err := bob.Connect(ctx, "alice")
	req.NoError(err)
	defer func() { _ = conversation.Close() }()
	opened := recvUntil(t, conversation, func(*chatapi.ConversationSnapshot) bool { return true })
	req.Equal("chat.alice:bob", opened.Channel)
	req.Empty(opened.Entries)

	// When alice sends a message
	entry, err := alice.Send(ctx, "bob", "hi")
	req.NoError(err)
	req.Equal("sent", entry.Status)

	// Then bob's merged view ends with the persisted message, once
	snapshot := recvUntil(t, conversation, func(s *chatapi.ConversationSnapshot) bool {
		return len(s.Entries) == 1 && s.Entries[0].Status == "persisted"
	})
	req.Equal("hi", snapshot.Entries[0].Message.Body)
	req.Equal("alice", snapshot.Entries[0].Message.SenderID)
	req.NotEmpty(snapshot.Entries[0].Message.ID)
	req.Equal(entry.Message.IdempotencyKey, snapshot.Entries[0].Message.IdempotencyKey)

	history, err := alice.History(ctx, "bob")
	req.NoError(err)
	req.Len(history, 1)
}

func TestChatServer_Connect_Commands(t *testing.T) {
	req := require.New(t)
	s := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conversation, err := s.dialAs(t, "alice").Connect(ctx, "bob")
	req.NoError(err)
	defer func() { _ = conversation.Close() }()
	recvUntil(t, conversation, func(*chatapi.ConversationSnapshot) bool { return true })

	// An invalid command is reported without ending the stream
	req.NoError(conversation.Send("   "))
	failed := recvUntil(t, conversation, func(s *chatapi.ConversationSnapshot) bool { return s.Error != "" })
	req.Empty(failed.Entries)

	// A message sent on the stream is reconciled with its persisted copy
	req.NoError(conversation.Send("hello bob"))
	recvUntil(t, conversation, func(s *chatapi.ConversationSnapshot) bool {
		return len(s.Entries) == 1 && s.Entries[0].Status == "persisted"
	})

	// Switching peer opens another conversation
	req.NoError(conversation.Open("clara"))
	switched := recvUntil(t, conversation, func(s *chatapi.ConversationSnapshot) bool { return s.PeerID == "clara" })
	req.Equal("chat.alice:clara", switched.Channel)
	req.Empty(switched.Entries)

	req.NoError(conversation.Refresh())
	refreshed := recvUntil(t, conversation, func(*chatapi.ConversationSnapshot) bool { return true })
	req.Empty(refreshed.Error)
}
