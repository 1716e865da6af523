package e2e

import (
	"chat-relay/infrastructure/grpc/client"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type ConversationSuite struct {
	BaseGrpcSuite
}

func TestConversationSuite(t *testing.T) {
	suite.Run(t, new(ConversationSuite))
}

// Participants are unique per run so history from previous runs does not interfere.
func (s *ConversationSuite) participants() (string, string) {
	run := uuid.NewString()[:8]
	return "alice-" + run, "bob-" + run
}

func (s *ConversationSuite) TestSendThenReadHistory() {
	alice, bob := s.participants()

	s.As("alice sends", alice, func(ctx context.Context, chat *client.ChatClient) {
		entry, err := chat.Send(ctx, bob, "hello bob")
		s.Require().NoError(err)
		s.Equal("sent", entry.Status)
	})

	s.As("bob reads", bob, func(ctx context.Context, chat *client.ChatClient) {
		s.Eventually(func() bool {
			messages, err := chat.History(ctx, alice)
			return err == nil && len(messages) == 1 && messages[0].Body == "hello bob"
		}, 5*time.Second, 100*time.Millisecond)
	})
}

func (s *ConversationSuite) TestLiveConversation() {
	alice, bob := s.participants()

	s.As("bob listens", bob, func(ctx context.Context, chat *client.ChatClient) {
		conversation, err := chat.Connect(ctx, alice)
		s.Require().NoError(err)
		defer func() { _ = conversation.Close() }()

		snapshot, err := conversation.Recv()
		s.Require().NoError(err)
		s.Empty(snapshot.Entries)

		s.As("alice sends", alice, func(ctx context.Context, chat *client.ChatClient) {
			_, err := chat.Send(ctx, bob, "are you there?")
			s.Require().NoError(err)
		})

		for {
			snapshot, err = conversation.Recv()
			s.Require().NoError(err)
			if len(snapshot.Entries) == 1 && snapshot.Entries[0].Status == "persisted" {
				break
			}
		}
		s.Equal("are you there?", snapshot.Entries[0].Message.Body)
	})
}
