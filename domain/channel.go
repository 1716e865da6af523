package domain

import (
	"chat-relay/errors"
	"fmt"
	"strings"
)

const (
	// ChannelPrefix is the first segment of every conversation topic.
	ChannelPrefix = "chat"
	// AllConversations matches every conversation channel.
	AllConversations = ChannelPrefix + ".*"
	// AnnouncementPrefix starts the topics carrying persisted copies.
	// Neither AllConversations nor its Redis glob matches them, so the ingester never receives its own announcements.
	AnnouncementPrefix = "persisted"

	keySeparator = ":"
	// reservedChars may not appear inside a participant identifier:
	// they are the key separator, the topic segment separator and the wildcards.
	reservedChars = ":.*>"
)

// ConversationKey identifies the unordered pair of participants of a conversation.
// Low is always lexicographically smaller than High.
type ConversationKey struct {
	Low  string
	High string
}

// NewConversationKey sorts the two identifiers so that NewConversationKey(a, b)
// and NewConversationKey(b, a) are equal.
func NewConversationKey(idA, idB string) (ConversationKey, error) {
	if err := ValidateParticipant(idA); err != nil {
		return ConversationKey{}, err
	}
	if err := ValidateParticipant(idB); err != nil {
		return ConversationKey{}, err
	}
	if idA == idB {
		return ConversationKey{}, fmt.Errorf("%w: %q", errors.ErrSelfConversation, idA)
	}
	if idA > idB {
		idA, idB = idB, idA
	}
	return ConversationKey{Low: idA, High: idB}, nil
}

func (k ConversationKey) String() string {
	return k.Low + keySeparator + k.High
}

// Channel is the bus topic of the conversation, e.g. "chat.alice:bob".
func (k ConversationKey) Channel() string {
	return ChannelPrefix + "." + k.String()
}

// AnnouncementChannel is the topic of the conversation's persisted copies, e.g. "persisted.alice:bob".
func (k ConversationKey) AnnouncementChannel() string {
	return AnnouncementPrefix + "." + k.String()
}

func (k ConversationKey) Contains(id string) bool {
	return k.Low == id || k.High == id
}

// Peer returns the other participant, or an empty string when id is not part of the conversation.
func (k ConversationKey) Peer(id string) string {
	switch id {
	case k.Low:
		return k.High
	case k.High:
		return k.Low
	default:
		return ""
	}
}

// DeriveChannel maps an unordered pair of participants to its bus topic.
// The identifiers are sorted then joined with a separator they cannot contain,
// so two distinct pairs never share a channel.
func DeriveChannel(idA, idB string) (string, error) {
	key, err := NewConversationKey(idA, idB)
	if err != nil {
		return "", err
	}
	return key.Channel(), nil
}

// MustDeriveChannel is DeriveChannel for identifiers that were already validated.
func MustDeriveChannel(idA, idB string) string {
	channel, err := DeriveChannel(idA, idB)
	if err != nil {
		panic(err)
	}
	return channel
}

// AnnouncementChannelOf maps a conversation channel to its announcement topic.
func AnnouncementChannelOf(channel string) (string, error) {
	key, err := ParseChannel(channel)
	if err != nil {
		return "", err
	}
	return key.AnnouncementChannel(), nil
}

// ParseChannel is the inverse of DeriveChannel.
func ParseChannel(topic string) (ConversationKey, error) {
	rest, ok := strings.CutPrefix(topic, ChannelPrefix+".")
	if !ok {
		return ConversationKey{}, fmt.Errorf("%w: %q", errors.ErrInvalidChannel, topic)
	}
	low, high, ok := strings.Cut(rest, keySeparator)
	if !ok || low >= high {
		return ConversationKey{}, fmt.Errorf("%w: %q", errors.ErrInvalidChannel, topic)
	}
	key, err := NewConversationKey(low, high)
	if err != nil {
		return ConversationKey{}, fmt.Errorf("%w: %v", errors.ErrInvalidChannel, err)
	}
	return key, nil
}

func ValidateParticipant(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty identifier", errors.ErrInvalidParticipant)
	}
	if strings.ContainsAny(id, reservedChars) {
		return fmt.Errorf("%w: %q contains one of %q", errors.ErrInvalidParticipant, id, reservedChars)
	}
	return nil
}
