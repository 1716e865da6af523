//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	messagePrefix     = "msg:"
	idempotencyPrefix = "idem:"
	sequenceKey       = "seq:messages"
	sequenceBandwidth = 100
)

// IMessageRepository is the durable log of persisted messages.
type IMessageRepository interface {
	// Append persists the candidate and assigns its id and createdAt.
	// A candidate whose idempotency key was already appended within the dedup window
	// returns the stored message together with ErrDuplicateDelivery.
	Append(ctx context.Context, candidate domain.Candidate) (domain.Message, error)
	// Query returns every message exchanged between the two participants, oldest first.
	Query(ctx context.Context, idA, idB string) ([]domain.Message, error)
}

type MessageRepository struct {
	db          *badger.DB
	log         *slog.Logger
	sequence    *badger.Sequence
	dedupWindow time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, dedupWindow time.Duration) (*MessageRepository, error) {
	sequence, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return &MessageRepository{
		db:          db,
		log:         log,
		sequence:    sequence,
		dedupWindow: dedupWindow,
		now:         time.Now,
	}, nil
}

// Close returns the unused sequence range to badger.
func (m *MessageRepository) Close() error {
	return m.sequence.Release()
}

// messageKey is formatted as "msg:{low}:{high}:{timestamp_padded}:{seq_padded}" to:
//  1. Group a conversation under one prefix whatever the direction of the message.
//  2. Sort chronologically using 19-digit zero padding (lexicographical order).
//  3. Break createdAt ties by insertion order with the store sequence.
func messageKey(key domain.ConversationKey, createdAt time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%019d:%020d", conversationPrefix(key), createdAt.UnixNano(), seq))
}

func conversationPrefix(key domain.ConversationKey) string {
	return messagePrefix + key.String() + ":"
}

// Append serialises writers so that every message gets a strictly increasing createdAt.
func (m *MessageRepository) Append(_ context.Context, candidate domain.Candidate) (domain.Message, error) {
	if err := candidate.Validate(); err != nil {
		return domain.Message{}, err
	}
	conversation, err := domain.NewConversationKey(candidate.SenderID, candidate.ReceiverID)
	if err != nil {
		return domain.Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Leasing a sequence range may write to badger, keep it out of the append transaction.
	seq, err := m.sequence.Next()
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}

	var stored domain.Message
	err = m.db.Update(func(txn *badger.Txn) error {
		if candidate.IdempotencyKey != "" {
			existing, found, err := m.lookupIdempotencyKey(txn, candidate.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				stored = existing
				return errors.ErrDuplicateDelivery
			}
		}

		message := candidate.Persist(uuid.New(), m.nextCreatedAt())
		key := messageKey(conversation, message.CreatedAt, seq)
		if err := txn.Set(key, marshalRecord(message)); err != nil {
			return err
		}
		if candidate.IdempotencyKey != "" {
			entry := badger.NewEntry([]byte(idempotencyPrefix+candidate.IdempotencyKey), key)
			if m.dedupWindow > 0 {
				entry = entry.WithTTL(m.dedupWindow)
			}
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
		}
		stored = message
		return nil
	})
	switch {
	case err == nil:
		return stored, nil
	case stderrors.Is(err, errors.ErrDuplicateDelivery):
		m.log.Debug("Duplicate append absorbed", "idempotency_key", candidate.IdempotencyKey, "message_id", stored.ID)
		return stored, err
	default:
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
}

// nextCreatedAt must be called with m.mu held.
func (m *MessageRepository) nextCreatedAt() time.Time {
	at := m.now().UTC()
	if !at.After(m.last) {
		at = m.last.Add(time.Nanosecond)
	}
	m.last = at
	return at
}

func (m *MessageRepository) lookupIdempotencyKey(txn *badger.Txn, idempotencyKey string) (domain.Message, bool, error) {
	item, err := txn.Get([]byte(idempotencyPrefix + idempotencyKey))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, err
	}
	messageKey, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Message{}, false, err
	}
	item, err = txn.Get(messageKey)
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, err
	}
	var message domain.Message
	err = item.Value(func(value []byte) error {
		message, err = unmarshalRecord(value)
		return err
	})
	return message, err == nil, err
}

// Query retrieves the conversation using a prefix scan.
// Thanks to the padded timestamp and sequence in the key, messages are naturally sorted.
func (m *MessageRepository) Query(_ context.Context, idA, idB string) ([]domain.Message, error) {
	conversation, err := domain.NewConversationKey(idA, idB)
	if err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0)
	err = m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(conversationPrefix(conversation))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				message, err := unmarshalRecord(value)
				if err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return messages, nil
}
