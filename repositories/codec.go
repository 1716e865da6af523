package repositories

import (
	"chat-relay/domain"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of a stored message, encoded in protobuf wire format.
const (
	fieldID             protowire.Number = 1
	fieldIdempotencyKey protowire.Number = 2
	fieldSenderID       protowire.Number = 3
	fieldReceiverID     protowire.Number = 4
	fieldBody           protowire.Number = 5
	fieldCreatedAt      protowire.Number = 6
)

func marshalRecord(message domain.Message) []byte {
	var b []byte
	b = appendString(b, fieldID, message.ID.String())
	b = appendString(b, fieldIdempotencyKey, message.IdempotencyKey)
	b = appendString(b, fieldSenderID, message.SenderID)
	b = appendString(b, fieldReceiverID, message.ReceiverID)
	b = appendString(b, fieldBody, message.Body)
	b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(message.CreatedAt.UnixNano()))
	return b
}

func appendString(b []byte, num protowire.Number, value string) []byte {
	if value == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, value)
}

// unmarshalRecord skips unknown fields so that records written by newer versions stay readable.
func unmarshalRecord(b []byte) (domain.Message, error) {
	var message domain.Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return domain.Message{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && num >= fieldID && num <= fieldBody:
			value, n := protowire.ConsumeString(b)
			if n < 0 {
				return domain.Message{}, protowire.ParseError(n)
			}
			b = b[n:]
			if err := setStringField(&message, num, value); err != nil {
				return domain.Message{}, err
			}
		case typ == protowire.VarintType && num == fieldCreatedAt:
			value, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return domain.Message{}, protowire.ParseError(n)
			}
			b = b[n:]
			message.CreatedAt = time.Unix(0, int64(value)).UTC()
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return domain.Message{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return message, nil
}

func setStringField(message *domain.Message, num protowire.Number, value string) error {
	switch num {
	case fieldID:
		id, err := uuid.Parse(value)
		if err != nil {
			return fmt.Errorf("stored message id: %w", err)
		}
		message.ID = id
	case fieldIdempotencyKey:
		message.IdempotencyKey = value
	case fieldSenderID:
		message.SenderID = value
	case fieldReceiverID:
		message.ReceiverID = value
	case fieldBody:
		message.Body = value
	}
	return nil
}
