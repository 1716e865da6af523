package domain

import (
	"chat-relay/errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveChannel_Symmetric(t *testing.T) {
	req := require.New(t)
	pairs := [][2]string{
		{"alice", "bob"},
		{"65a1f0c2", "65a1f0c3"},
		{"user-1", "user-10"},
		{"Zed", "adam"},
	}
	for _, p := range pairs {
		ab, err := DeriveChannel(p[0], p[1])
		req.NoError(err)
		ba, err := DeriveChannel(p[1], p[0])
		req.NoError(err)
		req.Equal(ab, ba)
	}
}

func TestDeriveChannel_Format(t *testing.T) {
	req := require.New(t)
	channel, err := DeriveChannel("bob", "alice")
	req.NoError(err)
	req.Equal("chat.alice:bob", channel)
}

// Sorting the characters of "ab"+"c" and "a"+"bc" gives the same string.
// Sorting the identifiers keeps the two pairs apart.
func TestDeriveChannel_AnagramPairsDoNotCollide(t *testing.T) {
	req := require.New(t)
	cases := [][2][2]string{
		{{"ab", "c"}, {"a", "bc"}},
		{{"ab", "cd"}, {"ac", "bd"}},
		{{"12", "34"}, {"13", "24"}},
		{{"abc", "d"}, {"cba", "d"}},
	}
	for _, c := range cases {
		first := MustDeriveChannel(c[0][0], c[0][1])
		second := MustDeriveChannel(c[1][0], c[1][1])
		req.NotEqual(first, second, "%v and %v", c[0], c[1])
	}
}

func TestDeriveChannel_CollisionFree(t *testing.T) {
	req := require.New(t)
	ids := []string{"a", "b", "ab", "ba", "c", "abc", "bc", "ca", "1", "11", "111"}
	seen := make(map[string]string)
	for i, a := range ids {
		for _, b := range ids[i+1:] {
			channel := MustDeriveChannel(a, b)
			pair := fmt.Sprintf("{%s,%s}", a, b)
			previous, ok := seen[channel]
			req.False(ok, "%s collides with %s on %s", pair, previous, channel)
			seen[channel] = pair
		}
	}
}

func TestDeriveChannel_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		a, b   string
		target error
	}{
		{"empty identifier", "", "bob", errors.ErrInvalidParticipant},
		{"blank identifier", "alice", "  ", errors.ErrInvalidParticipant},
		{"separator inside identifier", "al:ice", "bob", errors.ErrInvalidParticipant},
		{"segment separator inside identifier", "alice", "b.ob", errors.ErrInvalidParticipant},
		{"wildcard inside identifier", "*", "bob", errors.ErrInvalidParticipant},
		{"same participant twice", "alice", "alice", errors.ErrSelfConversation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveChannel(tt.a, tt.b)
			require.ErrorIs(t, err, tt.target)
		})
	}
}

func TestMustDeriveChannel_PanicsOnInvalidPair(t *testing.T) {
	require.Panics(t, func() { MustDeriveChannel("alice", "alice") })
}

func TestParseChannel_RoundTrip(t *testing.T) {
	req := require.New(t)
	key, err := NewConversationKey("bob", "alice")
	req.NoError(err)

	parsed, err := ParseChannel(key.Channel())
	req.NoError(err)
	req.Equal(key, parsed)
	req.Equal("alice", parsed.Peer("bob"))
	req.Equal("bob", parsed.Peer("alice"))
	req.Empty(parsed.Peer("clara"))
	req.True(parsed.Contains("alice"))
	req.False(parsed.Contains("clara"))
}

func TestParseChannel_Rejects(t *testing.T) {
	for _, topic := range []string{"", "chat", "chat.", "room.alice:bob", "chat.alice", "chat.bob:alice", "chat.alice:alice"} {
		_, err := ParseChannel(topic)
		require.ErrorIs(t, err, errors.ErrInvalidChannel, topic)
	}
}

func TestAnnouncementChannelOf(t *testing.T) {
	req := require.New(t)

	announcement, err := AnnouncementChannelOf(MustDeriveChannel("bob", "alice"))
	req.NoError(err)
	req.Equal("persisted.alice:bob", announcement)
	req.NotContains(announcement, ChannelPrefix+".")

	_, err = AnnouncementChannelOf("persisted.alice:bob")
	req.ErrorIs(err, errors.ErrInvalidChannel)
}
