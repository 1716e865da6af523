package main

import (
	"bytes"
	"chat-relay/infrastructure/grpc/chatapi"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	testCases := []struct {
		line string
		want Command
	}{
		{"hello bob", Command{Name: "send", Arg: "hello bob"}},
		{"  /open clara ", Command{Name: "open", Arg: "clara"}},
		{"/resend 1234", Command{Name: "resend", Arg: "1234"}},
		{"/refresh", Command{Name: "refresh"}},
		{"/quit", Command{Name: "quit"}},
	}
	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			require.Equal(t, tc.want, ParseCommand(tc.line))
		})
	}
}

func TestPrinter_Prints_Only_Changes(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	printer := NewPrinter(&out, false)
	at := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	pending := chatapi.Entry{
		Message:    chatapi.Message{IdempotencyKey: "k1", SenderID: "alice", ReceiverID: "bob", Body: "hi"},
		Status:     "unsent",
		ObservedAt: at,
	}
	snapshot := &chatapi.ConversationSnapshot{PeerID: "bob", Channel: "chat.alice:bob", Entries: []chatapi.Entry{pending}}

	printer.Print(snapshot)
	printer.Print(snapshot)

	persisted := pending
	persisted.Status = "persisted"
	persisted.Message.ID = "id-1"
	persisted.Message.CreatedAt = &at
	printer.Print(&chatapi.ConversationSnapshot{PeerID: "bob", Channel: "chat.alice:bob", Entries: []chatapi.Entry{persisted}})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	req.Len(lines, 3)
	req.Contains(lines[0], "chat.alice:bob")
	req.Contains(lines[1], "alice: hi (unsent) /resend k1")
	req.True(strings.HasSuffix(lines[2], "alice: hi"))
}

func TestPrinter_Reports_Errors(t *testing.T) {
	var out bytes.Buffer
	printer := NewPrinter(&out, false)

	printer.Print(&chatapi.ConversationSnapshot{PeerID: "bob", Channel: "chat.alice:bob", Error: "unknown entry"})

	require.Contains(t, out.String(), "! unknown entry")
}
