package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrlink/hrchat/internal/wire"
)

func messageFrame(t *testing.T, dest string, payload any) wire.Frame {
	t.Helper()
	f, err := wire.NewFrame(wire.CommandMessage, dest, payload)
	require.NoError(t, err)
	return f
}

func TestRouterDispatchesByDestination(t *testing.T) {
	var gotMsg []wire.Message
	var gotTyping []wire.TypingSignal
	r := NewRouter(Callbacks{
		OnMessage: func(m wire.Message) { gotMsg = append(gotMsg, m) },
		OnTyping:  func(ts wire.TypingSignal) { gotTyping = append(gotTyping, ts) },
	})

	require.NoError(t, r.Route(messageFrame(t, wire.QueueMessages,
		wire.Message{SenderID: "42", RecipientID: "7", Content: "hi"})))
	require.NoError(t, r.Route(messageFrame(t, wire.QueueTyping,
		wire.TypingSignal{SenderID: "42", RecipientID: "7", IsTyping: true})))

	require.Len(t, gotMsg, 1)
	assert.Equal(t, "hi", gotMsg[0].Content)
	require.Len(t, gotTyping, 1)
	assert.True(t, gotTyping[0].IsTyping)
}

func TestRouterRejectsUnknownDestination(t *testing.T) {
	r := NewRouter(Callbacks{})
	err := r.Route(wire.Frame{Command: wire.CommandMessage, Destination: "/queue/elsewhere"})
	assert.Error(t, err)
}

func TestRouterRejectsMalformedBody(t *testing.T) {
	r := NewRouter(Callbacks{OnMessage: func(wire.Message) {}})
	err := r.Route(wire.Frame{
		Command:     wire.CommandMessage,
		Destination: wire.QueueMessages,
		Body:        json.RawMessage(`{`),
	})
	assert.Error(t, err)
}

func TestRouterUpdateCallbacksSwapsTargets(t *testing.T) {
	oldCalls, newCalls := 0, 0
	r := NewRouter(Callbacks{OnMessage: func(wire.Message) { oldCalls++ }})

	f := messageFrame(t, wire.QueueMessages, wire.Message{SenderID: "42", Content: "a"})
	require.NoError(t, r.Route(f))

	r.UpdateCallbacks(func(wire.Message) { newCalls++ }, nil)
	require.NoError(t, r.Route(f))
	require.NoError(t, r.Route(f))

	assert.Equal(t, 1, oldCalls, "old callback still receiving after swap")
	assert.Equal(t, 2, newCalls)
}

func TestRouterLifecycleDispatch(t *testing.T) {
	var errs []error
	connects := 0
	r := NewRouter(Callbacks{})
	r.setLifecycleHandlers(func(err error) { errs = append(errs, err) }, func() { connects++ })

	r.dispatchConnect()
	r.dispatchError(assert.AnError)

	assert.Equal(t, 1, connects)
	require.Len(t, errs, 1)
}
