package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrlink/hrchat/internal/rest"
	"github.com/hrlink/hrchat/internal/wire"
)

func msg(id, sender, recipient, content string, ts time.Time) wire.Message {
	return wire.Message{
		ID:          id,
		SenderID:    sender,
		RecipientID: recipient,
		Content:     content,
		MessageType: wire.MessageChat,
		Timestamp:   ts,
	}
}

func TestStoreKeysConversationByOtherParty(t *testing.T) {
	s := NewStore("7")
	now := time.Now()

	s.Apply(msg("a", "42", "7", "hi", now))    // inbound from 42
	s.Apply(msg("b", "7", "42", "hello", now)) // outbound to 42
	s.Apply(msg("c", "99", "7", "other", now)) // inbound from 99

	require.Len(t, s.Messages("42"), 2)
	require.Len(t, s.Messages("99"), 1)
	assert.Empty(t, s.Messages("7"), "local user is never a conversation key")
}

func TestStoreAppendsInArrivalOrder(t *testing.T) {
	s := NewStore("7")
	base := time.Now()
	for i, content := range []string{"one", "two", "three"} {
		s.Apply(msg("", "42", "7", content, base.Add(time.Duration(i)*time.Second)))
	}

	got := s.Messages("42")
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, "three", got[2].Content)
}

func TestStoreDropsDuplicateIDs(t *testing.T) {
	s := NewStore("7")
	m := msg("dup", "7", "42", "hi", time.Now())

	s.Apply(m) // optimistic copy
	s.Apply(m) // broker echo

	assert.Len(t, s.Messages("42"), 1)
}

func TestStoreReplaceHistoryReplacesNotAppends(t *testing.T) {
	s := NewStore("7")
	now := time.Now()
	first := []wire.Message{msg("1", "42", "7", "a", now), msg("2", "7", "42", "b", now)}

	s.ReplaceHistory("42", first)
	require.Len(t, s.Messages("42"), 2)

	// Switching away and back re-fetches the same history.
	s.ReplaceHistory("42", first)
	got := s.Messages("42")
	require.Len(t, got, 2, "re-fetch must replace, not append")
	assert.Equal(t, "a", got[0].Content)
	assert.Equal(t, "b", got[1].Content)
}

func TestStoreLiveMessageAfterHistoryReload(t *testing.T) {
	s := NewStore("7")
	now := time.Now()

	s.ReplaceHistory("42", []wire.Message{msg("1", "42", "7", "old", now)})
	s.Apply(msg("2", "42", "7", "new", now.Add(time.Second)))

	got := s.Messages("42")
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[1].Content)
}

func TestStoreTypingSafetyTimeout(t *testing.T) {
	s := NewStoreWithTTL("7", 30*time.Millisecond)

	s.SetTyping("42", true)
	assert.True(t, s.Typing("42"))

	require.Eventually(t, func() bool {
		return !s.Typing("42")
	}, time.Second, 5*time.Millisecond, "stale typing flag never cleared")
}

func TestStoreTypingFalseSignalClearsImmediately(t *testing.T) {
	s := NewStore("7")

	s.SetTyping("42", true)
	s.SetTyping("42", false)

	assert.False(t, s.Typing("42"))
}

func TestStoreApplyPreviewsMergesServerState(t *testing.T) {
	s := NewStore("7")
	s.Apply(msg("1", "42", "7", "hi", time.Now()))

	s.ApplyPreviews([]rest.ConversationPreview{
		{UserID: "42", UserName: "Ada", UnreadCount: 3},
		{UserID: "99", UserName: "Grace", LastMessage: "ping", UnreadCount: 1},
	})

	c42, ok := s.Conversation("42")
	require.True(t, ok)
	assert.Equal(t, "Ada", c42.PeerName)
	assert.Equal(t, 3, c42.Unread)
	assert.Equal(t, "hi", c42.LastMessage, "local messages win over preview metadata")

	c99, ok := s.Conversation("99")
	require.True(t, ok)
	assert.Equal(t, "ping", c99.LastMessage)
	assert.Empty(t, c99.Messages)
}

func TestStoreMessagesReturnsCopy(t *testing.T) {
	s := NewStore("7")
	s.Apply(msg("1", "42", "7", "hi", time.Now()))

	got := s.Messages("42")
	got[0].Content = "mutated"

	assert.Equal(t, "hi", s.Messages("42")[0].Content)
}
