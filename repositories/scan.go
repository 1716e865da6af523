package repositories

import (
	"chat-relay/domain"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// MessagePrefix is the key prefix shared by every stored message.
const MessagePrefix = messagePrefix

// Record is a raw badger entry decoded as a message when possible.
type Record struct {
	Key     string         `json:"key"`
	Size    int            `json:"size"`
	Message domain.Message `json:"message"`
	Err     string         `json:"error,omitempty"`
}

// ScanRecords walks the keys under prefix in key order and stops after limit records (0 means no limit).
// Message records are decoded, other values are only reported by size.
func ScanRecords(db *badger.DB, prefix string, limit int) ([]Record, error) {
	records := make([]Record, 0)
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if limit > 0 && len(records) >= limit {
				return nil
			}
			item := it.Item()
			record := Record{Key: string(item.Key())}
			err := item.Value(func(value []byte) error {
				record.Size = len(value)
				if !strings.HasPrefix(record.Key, messagePrefix) {
					return nil
				}
				message, err := unmarshalRecord(value)
				if err != nil {
					record.Err = err.Error()
					return nil
				}
				record.Message = message
				return nil
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
