package services

import (
	"chat-relay/domain"
	"chat-relay/moderation"
	"chat-relay/projection"
	"chat-relay/runtime"
	"context"
)

// IChatService is the surface offered to the edge API.
// Viewer and peer ids are explicit parameters, never read from ambient state.
type IChatService interface {
	OpenConversation(ctx context.Context, viewerID, peerID string) (*runtime.ConversationView, error)
	SendMessage(ctx context.Context, viewerID, peerID, body string) (projection.Entry, error)
	CloseConversation(view *runtime.ConversationView) error
	History(ctx context.Context, viewerID, peerID string) ([]domain.Message, error)
	// Censor returns the body as it may be published.
	Censor(body string) string
}

type ChatService struct {
	orchestrator *runtime.Orchestrator
	moderator    *moderation.Moderator
}

type ChatServiceOption func(*ChatService)

// WithModerator censors every body before it is published.
func WithModerator(moderator *moderation.Moderator) ChatServiceOption {
	return func(s *ChatService) { s.moderator = moderator }
}

func NewChatService(o *runtime.Orchestrator, opts ...ChatServiceOption) *ChatService {
	s := &ChatService{orchestrator: o}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ChatService) Censor(body string) string {
	censored, _ := s.moderator.Censor(body)
	return censored
}

func (s *ChatService) OpenConversation(ctx context.Context, viewerID, peerID string) (*runtime.ConversationView, error) {
	return s.orchestrator.OpenConversation(ctx, viewerID, peerID)
}

func (s *ChatService) SendMessage(ctx context.Context, viewerID, peerID, body string) (projection.Entry, error) {
	return s.orchestrator.SendMessage(ctx, viewerID, peerID, s.Censor(body))
}

func (s *ChatService) CloseConversation(view *runtime.ConversationView) error {
	return s.orchestrator.CloseConversation(view)
}

func (s *ChatService) History(ctx context.Context, viewerID, peerID string) ([]domain.Message, error) {
	return s.orchestrator.History(ctx, viewerID, peerID)
}
