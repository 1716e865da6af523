// Package domain contains core concepts of the chat relay.
// Messages are immutable once persisted and validated by the domain.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/google/uuid"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

// Message is a chat message exchanged between two participants.
// ID and CreatedAt are assigned by the store: they are zero on the copy
// held by the sender before the message has been persisted.
type Message struct {
	ID             uuid.UUID
	IdempotencyKey string
	SenderID       string
	ReceiverID     string
	Body           string
	CreatedAt      time.Time
}

func (m Message) Persisted() bool {
	return m.ID != uuid.Nil
}

func (m Message) ConversationKey() (ConversationKey, error) {
	return NewConversationKey(m.SenderID, m.ReceiverID)
}

// SameContent reports whether both messages carry the same participants and body.
func (m Message) SameContent(other Message) bool {
	return m.SenderID == other.SenderID &&
		m.ReceiverID == other.ReceiverID &&
		m.Body == other.Body
}

// Candidate is a message that has not been persisted yet.
type Candidate struct {
	IdempotencyKey string `validate:"omitempty,max=128"`
	SenderID       string `validate:"required,excludesall=:.*>,nefield=ReceiverID"`
	ReceiverID     string `validate:"required,excludesall=:.*>"`
	Body           string `validate:"notblank"`
}

// NewCandidate builds a candidate with a fresh idempotency key.
func NewCandidate(senderID, receiverID, body string) Candidate {
	return Candidate{
		IdempotencyKey: uuid.NewString(),
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
	}
}

func (c Candidate) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidMessage, err)
	}
	if _, err := NewConversationKey(c.SenderID, c.ReceiverID); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidMessage, err)
	}
	return nil
}

func (c Candidate) Channel() (string, error) {
	return DeriveChannel(c.SenderID, c.ReceiverID)
}

// Message returns the unpersisted copy of the candidate.
func (c Candidate) Message() Message {
	return Message{
		IdempotencyKey: c.IdempotencyKey,
		SenderID:       c.SenderID,
		ReceiverID:     c.ReceiverID,
		Body:           c.Body,
	}
}

// Persist stamps the candidate with its store identity.
func (c Candidate) Persist(id uuid.UUID, createdAt time.Time) Message {
	m := c.Message()
	m.ID = id
	m.CreatedAt = createdAt
	return m
}
