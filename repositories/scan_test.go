package repositories

import (
	"chat-relay/domain"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanRecords(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := newBadgerRepository(t, nil)

	for _, body := range []string{"one", "two", "three"} {
		_, err := repository.Append(ctx, domain.NewCandidate("alice", "bob", body))
		req.NoError(err)
	}
	_, err := repository.Append(ctx, domain.NewCandidate("clara", "dan", "elsewhere"))
	req.NoError(err)

	records, err := ScanRecords(repository.db, MessagePrefix+"alice:bob:", 0)
	req.NoError(err)
	req.Len(records, 3)
	req.Equal("one", records[0].Message.Body)
	req.Equal("three", records[2].Message.Body)
	req.Empty(records[0].Err)

	limited, err := ScanRecords(repository.db, MessagePrefix, 2)
	req.NoError(err)
	req.Len(limited, 2)

	idem, err := ScanRecords(repository.db, idempotencyPrefix, 0)
	req.NoError(err)
	req.Len(idem, 4)
	req.Positive(idem[0].Size)
	req.Empty(idem[0].Message.Body)
}
