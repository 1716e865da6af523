package domain

import (
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EnvelopeKind string

const (
	// KindSent is published by a sender and ingested by the store.
	KindSent EnvelopeKind = "sent"
	// KindPersisted is announced once the store has appended the message.
	KindPersisted EnvelopeKind = "persisted"
)

// Envelope is the payload carried on conversation channels.
type Envelope struct {
	Kind           EnvelopeKind `json:"kind"`
	ID             string       `json:"id,omitempty"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
	SenderID       string       `json:"senderId"`
	ReceiverID     string       `json:"receiverId"`
	Body           string       `json:"body"`
	CreatedAt      *time.Time   `json:"createdAt,omitempty"`
}

func SentEnvelope(c Candidate) Envelope {
	return Envelope{
		Kind:           KindSent,
		IdempotencyKey: c.IdempotencyKey,
		SenderID:       c.SenderID,
		ReceiverID:     c.ReceiverID,
		Body:           c.Body,
	}
}

func PersistedEnvelope(m Message) Envelope {
	createdAt := m.CreatedAt
	return Envelope{
		Kind:           KindPersisted,
		ID:             m.ID.String(),
		IdempotencyKey: m.IdempotencyKey,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Body:           m.Body,
		CreatedAt:      &createdAt,
	}
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a bus payload. A payload without kind is treated as sent.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errors.ErrInvalidMessage, err)
	}
	switch e.Kind {
	case "":
		e.Kind = KindSent
	case KindSent, KindPersisted:
	default:
		return Envelope{}, fmt.Errorf("%w: unknown envelope kind %q", errors.ErrInvalidMessage, e.Kind)
	}
	return e, nil
}

func (e Envelope) Candidate() Candidate {
	return Candidate{
		IdempotencyKey: e.IdempotencyKey,
		SenderID:       e.SenderID,
		ReceiverID:     e.ReceiverID,
		Body:           e.Body,
	}
}

// Message converts the envelope into a Message. Persisted envelopes must carry id and createdAt.
func (e Envelope) Message() (Message, error) {
	if err := e.Candidate().Validate(); err != nil {
		return Message{}, err
	}
	m := e.Candidate().Message()
	if e.Kind != KindPersisted {
		return m, nil
	}
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", errors.ErrInvalidMessage, err)
	}
	if e.CreatedAt == nil {
		return Message{}, fmt.Errorf("%w: persisted envelope without createdAt", errors.ErrInvalidMessage)
	}
	m.ID = id
	m.CreatedAt = e.CreatedAt.UTC()
	return m, nil
}
