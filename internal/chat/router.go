package chat

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hrlink/hrchat/internal/wire"
)

// Callbacks are the dispatch targets for inbound broker events.
type Callbacks struct {
	OnMessage func(wire.Message)
	OnTyping  func(wire.TypingSignal)
	OnError   func(error)
	OnConnect func()
}

// Router demultiplexes inbound frames on the two subscribed queues into typed
// events. Callbacks are replaceable at runtime so the active view can change
// without tearing down the connection.
type Router struct {
	mu sync.RWMutex
	cb Callbacks
}

func NewRouter(cb Callbacks) *Router {
	return &Router{cb: cb}
}

// UpdateCallbacks swaps the message and typing dispatch targets without
// resubscribing. Error and connect handlers are session-scoped and stay put.
func (r *Router) UpdateCallbacks(onMessage func(wire.Message), onTyping func(wire.TypingSignal)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cb.OnMessage = onMessage
	r.cb.OnTyping = onTyping
}

// setLifecycleHandlers binds the session-scoped error and connect targets.
func (r *Router) setLifecycleHandlers(onError func(error), onConnect func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cb.OnError = onError
	r.cb.OnConnect = onConnect
}

// Route dispatches one MESSAGE frame by destination.
func (r *Router) Route(f wire.Frame) error {
	switch f.Destination {
	case wire.QueueMessages:
		var msg wire.Message
		if err := json.Unmarshal(f.Body, &msg); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		r.mu.RLock()
		cb := r.cb.OnMessage
		r.mu.RUnlock()
		if cb != nil {
			cb(msg)
		}
		return nil
	case wire.QueueTyping:
		var ts wire.TypingSignal
		if err := json.Unmarshal(f.Body, &ts); err != nil {
			return fmt.Errorf("decode typing signal: %w", err)
		}
		r.mu.RLock()
		cb := r.cb.OnTyping
		r.mu.RUnlock()
		if cb != nil {
			cb(ts)
		}
		return nil
	default:
		return fmt.Errorf("no subscription for destination %q", f.Destination)
	}
}

func (r *Router) dispatchError(err error) {
	r.mu.RLock()
	cb := r.cb.OnError
	r.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

func (r *Router) dispatchConnect() {
	r.mu.RLock()
	cb := r.cb.OnConnect
	r.mu.RUnlock()
	if cb != nil {
		cb()
	}
}
