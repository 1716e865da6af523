package client

import (
	"chat-relay/infrastructure/grpc/chatapi"
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// bearerToken attaches the viewer token to every call.
type bearerToken string

func (t bearerToken) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(t)}, nil
}

func (bearerToken) RequireTransportSecurity() bool { return false }

type ChatClient struct {
	conn *grpc.ClientConn
	api  chatapi.ChatServiceClient
}

// NewChatClient connects to the relay with the viewer token. Extra options come last and win.
func NewChatClient(address, token string, opts ...grpc.DialOption) (*ChatClient, error) {
	options := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(bearerToken(token)),
	}, opts...)
	conn, err := grpc.NewClient(address, options...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	return &ChatClient{conn: conn, api: chatapi.NewChatServiceClient(conn)}, nil
}

func (c *ChatClient) History(ctx context.Context, peerID string) ([]chatapi.Message, error) {
	res, err := c.api.History(ctx, &chatapi.HistoryRequest{PeerID: peerID})
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

func (c *ChatClient) Send(ctx context.Context, peerID, body string) (chatapi.Entry, error) {
	res, err := c.api.Send(ctx, &chatapi.SendRequest{PeerID: peerID, Body: body})
	if err != nil {
		return chatapi.Entry{}, err
	}
	return res.Entry, nil
}

// Connect opens the command stream and the conversation with peerID.
func (c *ChatClient) Connect(ctx context.Context, peerID string) (*Conversation, error) {
	stream, err := c.api.Connect(ctx)
	if err != nil {
		return nil, err
	}
	conversation := &Conversation{stream: stream}
	if err := conversation.Open(peerID); err != nil {
		// A stream refused by the server reports io.EOF on send: its status comes with Recv.
		if stderrors.Is(err, io.EOF) {
			if _, recvErr := stream.Recv(); recvErr != nil {
				err = recvErr
			}
		}
		return nil, err
	}
	return conversation, nil
}

func (c *ChatClient) Close() error {
	return c.conn.Close()
}

// Conversation is a client side Connect stream.
type Conversation struct {
	stream grpc.BidiStreamingClient[chatapi.ConnectRequest, chatapi.ConversationSnapshot]
}

func (c *Conversation) Open(peerID string) error {
	return c.stream.Send(&chatapi.ConnectRequest{Action: chatapi.ActionOpen, PeerID: peerID})
}

func (c *Conversation) Send(body string) error {
	return c.stream.Send(&chatapi.ConnectRequest{Action: chatapi.ActionSend, Body: body})
}

func (c *Conversation) Resend(idempotencyKey string) error {
	return c.stream.Send(&chatapi.ConnectRequest{Action: chatapi.ActionResend, IdempotencyKey: idempotencyKey})
}

func (c *Conversation) Refresh() error {
	return c.stream.Send(&chatapi.ConnectRequest{Action: chatapi.ActionRefresh})
}

// Recv blocks until the next snapshot of the merged conversation.
func (c *Conversation) Recv() (*chatapi.ConversationSnapshot, error) {
	return c.stream.Recv()
}

func (c *Conversation) Close() error {
	return c.stream.CloseSend()
}
