package main

import (
	"chat-relay/infrastructure/grpc/chatapi"
	"fmt"
	"io"
	"time"

	"github.com/gookit/color"
)

// Printer writes the entries of a snapshot that are new or whose status changed since the last one.
type Printer struct {
	out     io.Writer
	colours bool
	peerID  string
	seen    map[string]string
}

func NewPrinter(out io.Writer, colours bool) *Printer {
	return &Printer{out: out, colours: colours, seen: make(map[string]string)}
}

func (p *Printer) Print(snapshot *chatapi.ConversationSnapshot) {
	if snapshot.PeerID != p.peerID {
		p.peerID = snapshot.PeerID
		p.seen = make(map[string]string)
		p.line(color.New(color.BgBlack, color.FgGreen), fmt.Sprintf("  ====== %s ======", snapshot.Channel))
	}
	if snapshot.Error != "" {
		p.line(color.New(color.FgRed), "! "+snapshot.Error)
	}
	for _, entry := range snapshot.Entries {
		key := entryKey(entry.Message)
		if status, ok := p.seen[key]; ok && status == entry.Status {
			continue
		}
		p.seen[key] = entry.Status
		p.line(styleOf(entry, p.peerID), formatEntry(entry))
	}
}

func (p *Printer) Notice(text string) {
	p.line(color.New(color.FgYellow), text)
}

func (p *Printer) line(style color.Style, text string) {
	if p.colours {
		text = style.Render(text)
	}
	fmt.Fprintln(p.out, text)
}

func entryKey(message chatapi.Message) string {
	if message.IdempotencyKey != "" {
		return message.IdempotencyKey
	}
	return message.ID
}

func formatEntry(entry chatapi.Entry) string {
	at := entry.ObservedAt
	if entry.Message.CreatedAt != nil {
		at = *entry.Message.CreatedAt
	}
	text := fmt.Sprintf("[%s] %s: %s", at.Local().Format(time.TimeOnly), entry.Message.SenderID, entry.Message.Body)
	if entry.Status != "persisted" {
		text += fmt.Sprintf(" (%s)", entry.Status)
	}
	if entry.Status == "unsent" {
		text += " /resend " + entry.Message.IdempotencyKey
	}
	return text
}

func styleOf(entry chatapi.Entry, peerID string) color.Style {
	switch {
	case entry.Status == "unsent":
		return color.New(color.FgRed)
	case entry.Message.SenderID == peerID:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgGreen)
	}
}
