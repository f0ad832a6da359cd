package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hrlink/hrchat/internal/wire"
)

// fakeConn satisfies ConnLike for clients driven directly through the
// manager's channels.
type fakeConn struct{ closed chan struct{} }

func newFakeConn() *fakeConn { return &fakeConn{closed: make(chan struct{})} }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, context.Canceled
}
func (f *fakeConn) WriteMessage(int, []byte) error            { return nil }
func (f *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeConn) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func startManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Start(ctx)
	return m
}

func register(t *testing.T, m *Manager, id, name string) *Client {
	t.Helper()
	c := &Client{ID: id, Name: name, Conn: newFakeConn(), Send: make(chan []byte, 16)}
	m.RegisterChan <- c

	// Drain the CONNECTED ack.
	select {
	case data := <-c.Send:
		var f wire.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		require.Equal(t, wire.CommandConnected, f.Command)
	case <-time.After(time.Second):
		t.Fatal("no CONNECTED ack")
	}

	m.Subscribe(id, wire.QueueMessages)
	m.Subscribe(id, wire.QueueTyping)
	return c
}

func send(m *Manager, from *Client, destination string, payload any) {
	body, _ := json.Marshal(payload)
	m.SendChan <- &Inbound{From: from, Frame: wire.Frame{
		Command: wire.CommandSend, Destination: destination, Body: body,
	}}
}

func recvFrame(t *testing.T, c *Client) wire.Frame {
	t.Helper()
	select {
	case data := <-c.Send:
		var f wire.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return wire.Frame{}
	}
}

func TestManagerRoutesPrivateMessage(t *testing.T) {
	m := startManager(t)
	alice := register(t, m, "1", "Alice")
	bob := register(t, m, "2", "Bob")

	send(m, alice, wire.DestSendMessage, wire.Message{RecipientID: "2", Content: "hi"})

	f := recvFrame(t, bob)
	assert.Equal(t, wire.QueueMessages, f.Destination)
	var msg wire.Message
	require.NoError(t, json.Unmarshal(f.Body, &msg))
	assert.Equal(t, "1", msg.SenderID, "sender identity must come from the connection")
	assert.Equal(t, "hi", msg.Content)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())

	// No echo back to the sender.
	select {
	case data := <-alice.Send:
		t.Fatalf("sender received echo: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManagerSpoofedSenderOverwritten(t *testing.T) {
	m := startManager(t)
	mallory := register(t, m, "3", "Mallory")
	bob := register(t, m, "2", "Bob")

	send(m, mallory, wire.DestSendMessage, wire.Message{SenderID: "1", RecipientID: "2", Content: "pwn"})

	f := recvFrame(t, bob)
	var msg wire.Message
	require.NoError(t, json.Unmarshal(f.Body, &msg))
	assert.Equal(t, "3", msg.SenderID)
}

func TestManagerTypingNotPersisted(t *testing.T) {
	m := startManager(t)
	alice := register(t, m, "1", "Alice")
	bob := register(t, m, "2", "Bob")

	send(m, alice, wire.DestSendTyping, wire.TypingSignal{RecipientID: "2", IsTyping: true})

	f := recvFrame(t, bob)
	assert.Equal(t, wire.QueueTyping, f.Destination)
	assert.Empty(t, m.History("1", "2"))
}

func TestManagerHistoryAndUnread(t *testing.T) {
	m := startManager(t)
	alice := register(t, m, "1", "Alice")
	register(t, m, "2", "Bob")

	send(m, alice, wire.DestSendMessage, wire.Message{RecipientID: "2", Content: "one"})
	send(m, alice, wire.DestSendMessage, wire.Message{RecipientID: "2", Content: "two"})

	require.Eventually(t, func() bool {
		return len(m.History("2", "1")) == 2
	}, time.Second, 5*time.Millisecond)

	convs := m.Conversations("2")
	require.Len(t, convs, 1)
	assert.Equal(t, "1", convs[0].UserID)
	assert.Equal(t, "Alice", convs[0].UserName)
	assert.Equal(t, "two", convs[0].LastMessage)
	assert.Equal(t, 2, convs[0].UnreadCount)

	m.MarkRead("2", "1")
	convs = m.Conversations("2")
	require.Len(t, convs, 1)
	assert.Zero(t, convs[0].UnreadCount)
}

func TestManagerOfflineRecipientStillRecorded(t *testing.T) {
	m := startManager(t)
	alice := register(t, m, "1", "Alice")

	send(m, alice, wire.DestSendMessage, wire.Message{RecipientID: "9", Content: "hello?"})

	require.Eventually(t, func() bool {
		return len(m.History("1", "9")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestManagerSuggestionsExcludeExistingConversations(t *testing.T) {
	m := startManager(t)
	alice := register(t, m, "1", "Alice")
	register(t, m, "2", "Bob")
	register(t, m, "3", "Carol")

	send(m, alice, wire.DestSendMessage, wire.Message{RecipientID: "2", Content: "hi"})
	require.Eventually(t, func() bool {
		return len(m.History("1", "2")) == 1
	}, time.Second, 5*time.Millisecond)

	got := m.Suggestions("1", 5)
	require.Len(t, got, 1)
	assert.Equal(t, "Carol", got[0].UserName)
}

func TestManagerSearchUsers(t *testing.T) {
	m := startManager(t)
	register(t, m, "1", "Alice")
	register(t, m, "2", "Bob")
	register(t, m, "3", "Bobby")

	got := m.SearchUsers("bob", "1")
	require.Len(t, got, 2)
	assert.Equal(t, "Bob", got[0].UserName)
	assert.Equal(t, "Bobby", got[1].UserName)

	got = m.SearchUsers("bob", "2")
	require.Len(t, got, 1, "caller excluded from results")
	assert.Equal(t, "Bobby", got[0].UserName)
}

func TestManagerSecondLoginReplacesFirst(t *testing.T) {
	m := startManager(t)
	first := register(t, m, "1", "Alice")
	second := register(t, m, "1", "Alice")

	// The first connection is closed; the second receives deliveries.
	bob := register(t, m, "2", "Bob")
	send(m, bob, wire.DestSendMessage, wire.Message{RecipientID: "1", Content: "hi"})

	f := recvFrame(t, second)
	assert.Equal(t, wire.QueueMessages, f.Destination)
	_, open := <-first.Send
	assert.False(t, open, "first connection's send queue should be closed")
}
