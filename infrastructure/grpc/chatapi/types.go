package chatapi

import "time"

type Message struct {
	ID             string     `json:"id,omitempty"`
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId"`
	Body           string     `json:"body"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
}

type Entry struct {
	Message    Message   `json:"message"`
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observedAt"`
}

type HistoryRequest struct {
	PeerID string `json:"peerId" validate:"required"`
}

type HistoryResponse struct {
	Messages []Message `json:"messages"`
}

type SendRequest struct {
	PeerID string `json:"peerId" validate:"required"`
	Body   string `json:"body" validate:"required"`
}

type SendResponse struct {
	Entry Entry `json:"entry"`
}

type Action string

const (
	ActionOpen    Action = "open"
	ActionSend    Action = "send"
	ActionResend  Action = "resend"
	ActionRefresh Action = "refresh"
)

// ConnectRequest is one command sent on the Connect stream.
type ConnectRequest struct {
	Action         Action `json:"action" validate:"required,oneof=open send resend refresh"`
	PeerID         string `json:"peerId,omitempty" validate:"required_if=Action open"`
	Body           string `json:"body,omitempty" validate:"required_if=Action send"`
	IdempotencyKey string `json:"idempotencyKey,omitempty" validate:"required_if=Action resend"`
}

// ConversationSnapshot is the merged view pushed on the Connect stream.
// Error reports a command that failed without ending the stream.
type ConversationSnapshot struct {
	PeerID  string  `json:"peerId"`
	Channel string  `json:"channel"`
	Entries []Entry `json:"entries"`
	Error   string  `json:"error,omitempty"`
}
