package server

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/infrastructure/grpc/chatapi"
	"chat-relay/projection"
	"chat-relay/services"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var validate = validator.New()

type ChatServer struct {
	chatService services.IChatService
	log         *slog.Logger
}

func NewChatServer(log *slog.Logger, chatService services.IChatService) *ChatServer {
	return &ChatServer{chatService: chatService, log: log}
}

func (s *ChatServer) History(ctx context.Context, req *chatapi.HistoryRequest) (*chatapi.HistoryResponse, error) {
	viewerID, err := auth.ViewerIDFromContext(ctx)
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	if err := validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	messages, err := s.chatService.History(ctx, viewerID, req.PeerID)
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return &chatapi.HistoryResponse{Messages: lo.Map(messages, func(m domain.Message, _ int) chatapi.Message {
		return toMessage(m)
	})}, nil
}

// Send publishes a message for the authenticated viewer.
// When the viewer has a Connect stream open on that peer, the entry also shows up there immediately.
func (s *ChatServer) Send(ctx context.Context, req *chatapi.SendRequest) (*chatapi.SendResponse, error) {
	viewerID, err := auth.ViewerIDFromContext(ctx)
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	if err := validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	entry, err := s.chatService.SendMessage(ctx, viewerID, req.PeerID, req.Body)
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return &chatapi.SendResponse{Entry: toEntry(entry)}, nil
}

type incoming struct {
	req *chatapi.ConnectRequest
	err error
}

// Connect keeps one session per stream. The client opens a conversation, then the
// merged view is pushed after every change until the client leaves or switches peer.
func (s *ChatServer) Connect(stream grpc.BidiStreamingServer[chatapi.ConnectRequest, chatapi.ConversationSnapshot]) error {
	ctx := stream.Context()
	viewerID, err := auth.ViewerIDFromContext(ctx)
	if err != nil {
		return errors.MapToGRPCError(err)
	}
	session := services.NewSession(s.chatService, viewerID)
	defer func() {
		if err := session.Close(); err != nil {
			s.log.Debug("Closing session", "viewer_id", viewerID, "error", err)
		}
	}()

	commands := make(chan incoming)
	go func() {
		for {
			req, err := stream.Recv()
			select {
			case commands <- incoming{req: req, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var changes, lost <-chan struct{}
		if view := session.Current(); view != nil {
			changes, lost = view.Changes(), view.Done()
		}

		select {
		case <-ctx.Done():
			s.log.Debug("Client disconnected", "viewer_id", viewerID)
			return nil
		case in := <-commands:
			if stderrors.Is(in.err, io.EOF) {
				return nil
			}
			if in.err != nil {
				return in.err
			}
			if err := s.send(stream, session, s.handle(ctx, session, in.req)); err != nil {
				return err
			}
		case <-changes:
			if err := s.send(stream, session, nil); err != nil {
				return err
			}
		case <-lost:
			s.log.Warn("Live conversation lost", "viewer_id", viewerID)
			return errors.MapToGRPCError(fmt.Errorf("%w: live subscription lost", errors.ErrTransportUnavailable))
		}
	}
}

func (s *ChatServer) handle(ctx context.Context, session *services.Session, req *chatapi.ConnectRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidMessage, err)
	}
	switch req.Action {
	case chatapi.ActionOpen:
		_, err := session.Switch(ctx, req.PeerID)
		return err
	case chatapi.ActionSend:
		_, err := session.Send(ctx, req.Body)
		return err
	case chatapi.ActionResend:
		_, err := session.Resend(ctx, req.IdempotencyKey)
		return err
	case chatapi.ActionRefresh:
		return session.Refresh(ctx)
	}
	return nil
}

func (s *ChatServer) send(stream grpc.BidiStreamingServer[chatapi.ConnectRequest, chatapi.ConversationSnapshot],
	session *services.Session, commandErr error) error {
	snapshot := &chatapi.ConversationSnapshot{Entries: []chatapi.Entry{}}
	if view := session.Current(); view != nil {
		snapshot.PeerID = view.PeerID()
		snapshot.Channel = view.Channel()
		snapshot.Entries = lo.Map(view.Merged(), func(e projection.Entry, _ int) chatapi.Entry {
			return toEntry(e)
		})
	}
	if commandErr != nil {
		snapshot.Error = commandErr.Error()
	}
	if err := stream.Send(snapshot); err != nil {
		s.log.Error("failed to push snapshot to stream", "viewer_id", session.ViewerID(), "error", err)
		return err
	}
	return nil
}

func toMessage(m domain.Message) chatapi.Message {
	message := chatapi.Message{
		IdempotencyKey: m.IdempotencyKey,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Body:           m.Body,
	}
	if m.Persisted() {
		message.ID = m.ID.String()
		message.CreatedAt = lo.ToPtr(m.CreatedAt)
	}
	return message
}

func toEntry(e projection.Entry) chatapi.Entry {
	return chatapi.Entry{
		Message:    toMessage(e.Message),
		Status:     string(e.Status),
		ObservedAt: e.ObservedAt,
	}
}
