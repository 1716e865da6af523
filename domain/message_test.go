package domain

import (
	"chat-relay/errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCandidate_Validate(t *testing.T) {
	tests := []struct {
		name      string
		candidate Candidate
		wantErr   bool
	}{
		{"Valid candidate", Candidate{"k1", "alice", "bob", "hi"}, false},
		{"Valid candidate without key", Candidate{"", "alice", "bob", "hi"}, false},
		{"Missing sender", Candidate{"k1", "", "bob", "hi"}, true},
		{"Missing receiver", Candidate{"k1", "alice", "", "hi"}, true},
		{"Sender is receiver", Candidate{"k1", "alice", "alice", "hi"}, true},
		{"Empty body", Candidate{"k1", "alice", "bob", ""}, true},
		{"Blank body", Candidate{"k1", "alice", "bob", "  \t "}, true},
		{"Reserved character in sender", Candidate{"k1", "ali:ce", "bob", "hi"}, true},
		{"Blank sender", Candidate{"k1", "   ", "bob", "hi"}, true},
		{"Key too long", Candidate{strings.Repeat("k", 129), "alice", "bob", "hi"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.candidate.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, errors.ErrInvalidMessage)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCandidate_Persist(t *testing.T) {
	req := require.New(t)
	candidate := NewCandidate("alice", "bob", "hi")
	req.NotEmpty(candidate.IdempotencyKey)

	unpersisted := candidate.Message()
	req.False(unpersisted.Persisted())
	req.True(unpersisted.CreatedAt.IsZero())

	id := uuid.New()
	at := time.Now().UTC()
	persisted := candidate.Persist(id, at)
	req.True(persisted.Persisted())
	req.Equal(id, persisted.ID)
	req.Equal(at, persisted.CreatedAt)
	req.True(persisted.SameContent(unpersisted))
}

func TestEnvelope_SentRoundTrip(t *testing.T) {
	req := require.New(t)
	candidate := NewCandidate("alice", "bob", "hi")

	payload, err := SentEnvelope(candidate).Encode()
	req.NoError(err)

	decoded, err := DecodeEnvelope(payload)
	req.NoError(err)
	req.Equal(KindSent, decoded.Kind)
	req.Equal(candidate, decoded.Candidate())

	message, err := decoded.Message()
	req.NoError(err)
	req.False(message.Persisted())
}

func TestEnvelope_PersistedRoundTrip(t *testing.T) {
	req := require.New(t)
	persisted := NewCandidate("alice", "bob", "hi").Persist(uuid.New(), time.Now().UTC())

	payload, err := PersistedEnvelope(persisted).Encode()
	req.NoError(err)
	decoded, err := DecodeEnvelope(payload)
	req.NoError(err)

	message, err := decoded.Message()
	req.NoError(err)
	req.Equal(persisted.ID, message.ID)
	req.True(persisted.CreatedAt.Equal(message.CreatedAt))
	req.True(persisted.SameContent(message))
}

// Publishers that predate envelope kinds send the bare record.
func TestDecodeEnvelope_LegacyPayload(t *testing.T) {
	req := require.New(t)
	decoded, err := DecodeEnvelope([]byte(`{"senderId":"alice","receiverId":"bob","body":"hi"}`))
	req.NoError(err)
	req.Equal(KindSent, decoded.Kind)
	req.Empty(decoded.IdempotencyKey)
}

func TestDecodeEnvelope_Rejects(t *testing.T) {
	req := require.New(t)
	_, err := DecodeEnvelope([]byte(`not json`))
	req.ErrorIs(err, errors.ErrInvalidMessage)

	_, err = DecodeEnvelope([]byte(`{"kind":"deleted","senderId":"alice","receiverId":"bob","body":"hi"}`))
	req.ErrorIs(err, errors.ErrInvalidMessage)

	decoded, err := DecodeEnvelope([]byte(`{"kind":"persisted","id":"nope","senderId":"alice","receiverId":"bob","body":"hi"}`))
	req.NoError(err)
	_, err = decoded.Message()
	req.ErrorIs(err, errors.ErrInvalidMessage)
}
