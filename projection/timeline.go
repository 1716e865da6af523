// Package projection builds local timelines from history fetches and live deliveries.
// Handles ordering, deduplication and reconciliation of optimistic entries.
// Does not subscribe, publish or touch the store.
package projection

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
)

type Status string

const (
	// StatusPending is an optimistic local entry not yet accepted by the bus.
	StatusPending Status = "pending"
	// StatusSent was accepted by the bus and awaits persistence.
	StatusSent Status = "sent"
	// StatusUnsent could not be published and can be resent.
	StatusUnsent Status = "unsent"
	// StatusPersisted carries the store id and createdAt.
	StatusPersisted Status = "persisted"
)

type Entry struct {
	Message    domain.Message
	Status     Status
	ObservedAt time.Time
	seq        uint64
}

// Timeline is the merged, deduplicated view of one conversation.
// Persisted entries are ordered by createdAt, then by arrival.
// Unpersisted entries follow every persisted one, in arrival order, until reconciled.
// Timeline is not safe for concurrent use.
type Timeline struct {
	viewerID string
	entries  []Entry
	nextSeq  uint64
	now      func() time.Time
}

// NewTimeline builds the timeline seen by viewerID.
// Only the viewer's own keyless echoes are deduplicated by content.
func NewTimeline(viewerID string) *Timeline {
	return &Timeline{viewerID: viewerID, now: time.Now}
}

// Merge inserts a batch of persisted messages, typically a history fetch,
// and reports whether the timeline changed.
func (t *Timeline) Merge(messages []domain.Message) bool {
	changed := false
	for _, message := range messages {
		if t.Insert(message, StatusPersisted) {
			changed = true
		}
	}
	return changed
}

// Insert adds a message and reports whether the timeline changed.
// A persisted message replaces its unpersisted counterpart; redeliveries are ignored.
func (t *Timeline) Insert(message domain.Message, status Status) bool {
	if message.Persisted() {
		return t.insertPersisted(message)
	}
	if t.findUnpersistedDuplicate(message) >= 0 {
		return false
	}
	t.add(message, status)
	return true
}

func (t *Timeline) insertPersisted(message domain.Message) bool {
	if slices.ContainsFunc(t.entries, func(e Entry) bool { return e.Message.ID == message.ID }) {
		return false
	}
	if i := t.findCounterpart(message); i >= 0 {
		t.entries[i].Message = message
		t.entries[i].Status = StatusPersisted
		t.sort()
		return true
	}
	t.add(message, StatusPersisted)
	return true
}

// findCounterpart returns the oldest unpersisted entry the persisted message reconciles.
func (t *Timeline) findCounterpart(message domain.Message) int {
	return slices.IndexFunc(t.entries, func(e Entry) bool {
		if e.Message.Persisted() {
			return false
		}
		if message.IdempotencyKey != "" || e.Message.IdempotencyKey != "" {
			return message.IdempotencyKey == e.Message.IdempotencyKey
		}
		return e.Message.SameContent(message)
	})
}

// findUnpersistedDuplicate matches keyed messages against every entry and
// the viewer's keyless messages against unpersisted entries by full-field equality.
// Identical keyless messages from the peer are distinct messages.
func (t *Timeline) findUnpersistedDuplicate(message domain.Message) int {
	if message.IdempotencyKey != "" {
		return slices.IndexFunc(t.entries, func(e Entry) bool {
			return e.Message.IdempotencyKey == message.IdempotencyKey
		})
	}
	if message.SenderID != t.viewerID {
		return -1
	}
	return slices.IndexFunc(t.entries, func(e Entry) bool {
		return !e.Message.Persisted() && e.Message.IdempotencyKey == "" && e.Message.SameContent(message)
	})
}

func (t *Timeline) add(message domain.Message, status Status) {
	t.nextSeq++
	t.entries = append(t.entries, Entry{
		Message:    message,
		Status:     status,
		ObservedAt: t.now().UTC(),
		seq:        t.nextSeq,
	})
	t.sort()
}

func (t *Timeline) sort() {
	slices.SortFunc(t.entries, compareEntries)
}

func compareEntries(a, b Entry) int {
	aPersisted, bPersisted := a.Message.Persisted(), b.Message.Persisted()
	switch {
	case aPersisted && !bPersisted:
		return -1
	case !aPersisted && bPersisted:
		return 1
	case aPersisted:
		if c := a.Message.CreatedAt.Compare(b.Message.CreatedAt); c != 0 {
			return c
		}
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

// SetStatus updates the unpersisted entry holding the idempotency key.
func (t *Timeline) SetStatus(idempotencyKey string, status Status) error {
	i := slices.IndexFunc(t.entries, func(e Entry) bool {
		return idempotencyKey != "" && e.Message.IdempotencyKey == idempotencyKey
	})
	if i < 0 {
		return fmt.Errorf("%w: %s", errors.ErrUnknownEntry, idempotencyKey)
	}
	if t.entries[i].Status == StatusPersisted {
		return nil
	}
	t.entries[i].Status = status
	return nil
}

// Lookup returns the entry holding the idempotency key.
func (t *Timeline) Lookup(idempotencyKey string) (Entry, bool) {
	return lo.Find(t.entries, func(e Entry) bool {
		return idempotencyKey != "" && e.Message.IdempotencyKey == idempotencyKey
	})
}

func (t *Timeline) Entries() []Entry {
	return slices.Clone(t.entries)
}

func (t *Timeline) Messages() []domain.Message {
	return lo.Map(t.entries, func(e Entry, _ int) domain.Message { return e.Message })
}

func (t *Timeline) Len() int {
	return len(t.entries)
}
