package services

import (
	"chat-relay/errors"
	"chat-relay/projection"
	"chat-relay/runtime"
	"context"
	"sync"
)

// Session holds the single conversation a viewer is looking at.
// Switching to another peer closes the previous view.
type Session struct {
	mu       sync.Mutex
	viewerID string
	chat     IChatService
	current  *runtime.ConversationView
}

func NewSession(chat IChatService, viewerID string) *Session {
	return &Session{chat: chat, viewerID: viewerID}
}

func (s *Session) ViewerID() string { return s.viewerID }

// Switch opens the conversation with peerID. The previous view is closed only once
// the new one is open, so a failed switch keeps the current conversation.
func (s *Session) Switch(ctx context.Context, peerID string) (*runtime.ConversationView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.PeerID() == peerID {
		return s.current, nil
	}
	view, err := s.chat.OpenConversation(ctx, s.viewerID, peerID)
	if err != nil {
		return nil, err
	}
	previous := s.current
	s.current = view
	if previous != nil {
		_ = s.chat.CloseConversation(previous)
	}
	return view, nil
}

func (s *Session) Current() *runtime.ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) view() (*runtime.ConversationView, error) {
	view := s.Current()
	if view == nil {
		return nil, errors.ErrConversationClosed
	}
	return view, nil
}

func (s *Session) Send(ctx context.Context, body string) (projection.Entry, error) {
	view, err := s.view()
	if err != nil {
		return projection.Entry{}, err
	}
	return view.Send(ctx, s.chat.Censor(body))
}

func (s *Session) Resend(ctx context.Context, idempotencyKey string) (projection.Entry, error) {
	view, err := s.view()
	if err != nil {
		return projection.Entry{}, err
	}
	return view.Resend(ctx, idempotencyKey)
}

func (s *Session) Refresh(ctx context.Context) error {
	view, err := s.view()
	if err != nil {
		return err
	}
	return view.Refresh(ctx)
}

// Close releases the current view, if any.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	err := s.chat.CloseConversation(s.current)
	s.current = nil
	return err
}
