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

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// messageRow is the SQL shape of a persisted message.
// Seq is the insertion order and breaks createdAt ties.
type messageRow struct {
	Seq             uint64    `gorm:"primaryKey;autoIncrement"`
	ID              string    `gorm:"size:36;uniqueIndex"`
	ConversationKey string    `gorm:"size:255;index:idx_conversation_created,priority:1"`
	IdempotencyKey  string    `gorm:"size:128"`
	SenderID        string    `gorm:"size:255"`
	ReceiverID      string    `gorm:"size:255"`
	Body            string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"index:idx_conversation_created,priority:2"`
}

func (messageRow) TableName() string { return "messages" }

type idempotencyRow struct {
	IdempotencyKey string `gorm:"primaryKey;size:128"`
	MessageID      string `gorm:"size:36"`
	ExpiresAt      time.Time
}

func (idempotencyRow) TableName() string { return "message_idempotency" }

// OpenSQL opens a gorm connection for one of the supported dialects.
func OpenSQL(dialect, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return db, nil
}

// SQLMessageRepository implements IMessageRepository on top of gorm.
type SQLMessageRepository struct {
	db          *gorm.DB
	log         *slog.Logger
	dedupWindow time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewSQLMessageRepository migrates the schema before returning the repository.
func NewSQLMessageRepository(db *gorm.DB, log *slog.Logger, dedupWindow time.Duration) (*SQLMessageRepository, error) {
	if err := db.AutoMigrate(&messageRow{}, &idempotencyRow{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", errors.ErrStoreUnavailable, err)
	}
	return &SQLMessageRepository{db: db, log: log, dedupWindow: dedupWindow, now: time.Now}, nil
}

func (r *SQLMessageRepository) Append(ctx context.Context, candidate domain.Candidate) (domain.Message, error) {
	if err := candidate.Validate(); err != nil {
		return domain.Message{}, err
	}
	conversation, err := domain.NewConversationKey(candidate.SenderID, candidate.ReceiverID)
	if err != nil {
		return domain.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var stored domain.Message
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now().UTC()
		if candidate.IdempotencyKey != "" {
			var seen idempotencyRow
			err := tx.Where("idempotency_key = ? AND expires_at > ?", candidate.IdempotencyKey, now).
				Limit(1).Find(&seen).Error
			if err != nil {
				return err
			}
			if seen.MessageID != "" {
				var row messageRow
				if err = tx.Where("id = ?", seen.MessageID).First(&row).Error; err != nil {
					return err
				}
				stored, err = row.toMessage()
				if err != nil {
					return err
				}
				return errors.ErrDuplicateDelivery
			}
		}

		message := candidate.Persist(uuid.New(), r.nextCreatedAt(now))
		row := fromMessage(conversation, message)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if candidate.IdempotencyKey != "" {
			expiresAt := now.Add(r.window())
			seen := idempotencyRow{IdempotencyKey: candidate.IdempotencyKey, MessageID: row.ID, ExpiresAt: expiresAt}
			err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&seen).Error
			if err != nil {
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
		r.log.Debug("Duplicate append absorbed", "idempotency_key", candidate.IdempotencyKey, "message_id", stored.ID)
		return stored, err
	default:
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
}

// window without expiry keeps the key for a century.
func (r *SQLMessageRepository) window() time.Duration {
	if r.dedupWindow > 0 {
		return r.dedupWindow
	}
	return 100 * 365 * 24 * time.Hour
}

func (r *SQLMessageRepository) nextCreatedAt(now time.Time) time.Time {
	at := now
	if !at.After(r.last) {
		at = r.last.Add(time.Nanosecond)
	}
	r.last = at
	return at
}

func (r *SQLMessageRepository) Query(ctx context.Context, idA, idB string) ([]domain.Message, error) {
	conversation, err := domain.NewConversationKey(idA, idB)
	if err != nil {
		return nil, err
	}
	var rows []messageRow
	err = r.db.WithContext(ctx).
		Where("conversation_key = ?", conversation.String()).
		Order("created_at ASC").Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	messages := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		message, err := row.toMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func fromMessage(conversation domain.ConversationKey, message domain.Message) messageRow {
	return messageRow{
		ID:              message.ID.String(),
		ConversationKey: conversation.String(),
		IdempotencyKey:  message.IdempotencyKey,
		SenderID:        message.SenderID,
		ReceiverID:      message.ReceiverID,
		Body:            message.Body,
		CreatedAt:       message.CreatedAt,
	}
}

func (row messageRow) toMessage() (domain.Message, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:             id,
		IdempotencyKey: row.IdempotencyKey,
		SenderID:       row.SenderID,
		ReceiverID:     row.ReceiverID,
		Body:           row.Body,
		CreatedAt:      row.CreatedAt.UTC(),
	}, nil
}
