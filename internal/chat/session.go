package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hrlink/hrchat/internal/wire"
)

// Backend is the slice of the REST surface the session needs. *rest.Client
// satisfies it.
type Backend interface {
	History(ctx context.Context, recipientID string) ([]wire.Message, error)
	MarkRead(ctx context.Context, recipientID string) error
}

// Session orchestrates one user's chat: it owns the transport, routes inbound
// events into the keyed conversation store, and exposes send/typing/history
// operations to the UI. Exactly one Session (and so one transport) exists per
// authenticated user; views multiplex through it.
type Session struct {
	userID    string
	transport Transport
	router    *Router
	store     *Store
	backend   Backend
	log       *zap.Logger

	mu      sync.Mutex
	active  string
	loading bool
	lastErr error

	deb *typingDebouncer

	onMessage func(wire.Message) // optional UI notification hook
}

// SessionOptions tune session behavior.
type SessionOptions struct {
	TypingQuietPeriod time.Duration // default 3s
	TypingTTL         time.Duration // remote-flag staleness bound, default 6s
}

// NewSession wires a session around an injected transport. The router's
// dispatch targets are bound to the session; UpdateCallbacks on the router
// can later redirect message/typing delivery without resubscribing.
func NewSession(userID string, transport Transport, router *Router, backend Backend, opts SessionOptions, log *zap.Logger) *Session {
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = DefaultTypingTTL
	}
	s := &Session{
		userID:    userID,
		transport: transport,
		router:    router,
		store:     NewStoreWithTTL(userID, opts.TypingTTL),
		backend:   backend,
		log:       log,
	}
	s.deb = newTypingDebouncer(opts.TypingQuietPeriod, s.emitTyping)

	router.UpdateCallbacks(s.handleInbound, s.handleTypingSignal)
	router.setLifecycleHandlers(s.handleTransportError, s.handleConnected)
	return s
}

// Open connects the transport for this session's user. Safe to call again on
// an already-open session.
func (s *Session) Open(ctx context.Context) error {
	return s.transport.Connect(ctx, s.userID)
}

// Close deactivates the transport and cancels pending typing timers.
func (s *Session) Close() {
	s.deb.Stop()
	s.transport.Disconnect()
}

// UserID returns the local user this session belongs to.
func (s *Session) UserID() string { return s.userID }

// Store exposes the conversation store for read-side consumers (list views,
// pollers).
func (s *Session) Store() *Store { return s.store }

// SetActiveRecipient switches the conversation in view, reloads its durable
// history and fires a read receipt. A history load that completes after the
// user has moved on is discarded rather than overwriting the now-active
// conversation.
func (s *Session) SetActiveRecipient(ctx context.Context, recipientID string) {
	s.mu.Lock()
	if s.active == recipientID {
		s.mu.Unlock()
		return
	}
	s.active = recipientID
	s.loading = true
	s.mu.Unlock()

	s.deb.Stop()
	if recipientID == "" {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		return
	}

	go s.loadHistory(ctx, recipientID)
	go func() {
		if err := s.backend.MarkRead(ctx, recipientID); err != nil {
			s.log.Debug("read receipt failed", zap.String("peer", recipientID), zap.Error(err))
		}
	}()
}

func (s *Session) loadHistory(ctx context.Context, recipientID string) {
	msgs, err := s.backend.History(ctx, recipientID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != recipientID {
		// User switched away while the fetch was in flight.
		return
	}
	s.loading = false
	if err != nil {
		s.lastErr = fmt.Errorf("load history: %w", err)
		s.log.Warn("history load failed", zap.String("peer", recipientID), zap.Error(err))
		return
	}
	s.store.ReplaceHistory(recipientID, msgs)
}

// ReloadHistory retries the history load for the current recipient after a
// failure.
func (s *Session) ReloadHistory(ctx context.Context) {
	s.mu.Lock()
	recipient := s.active
	if recipient == "" {
		s.mu.Unlock()
		return
	}
	s.loading = true
	s.lastErr = nil
	s.mu.Unlock()

	go s.loadHistory(ctx, recipient)
}

// SendMessage appends content to the active conversation immediately and
// publishes it. While disconnected nothing is published: the error is
// recorded and returned so the UI can warn instead of silently losing the
// message.
func (s *Session) SendMessage(content string) error {
	s.mu.Lock()
	recipient := s.active
	s.mu.Unlock()
	if recipient == "" {
		return ErrNoActiveRecipient
	}
	if content == "" {
		return nil
	}

	if s.transport.State() != StateConnected {
		s.mu.Lock()
		s.lastErr = ErrPublishDropped
		s.mu.Unlock()
		return ErrPublishDropped
	}

	msg := wire.Message{
		ID:          uuid.NewString(),
		SenderID:    s.userID,
		RecipientID: recipient,
		Content:     content,
		MessageType: wire.MessageChat,
		Timestamp:   time.Now().UTC(),
	}

	// Optimistic insert: visible before any server confirmation.
	s.store.Apply(msg)

	if err := s.transport.Publish(wire.DestSendMessage, msg); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	return nil
}

// HandleTyping records a keystroke. The first call emits typing=true at once;
// a typing=false signal follows after the quiet period, with the timer reset
// by every further call.
func (s *Session) HandleTyping() {
	s.mu.Lock()
	recipient := s.active
	s.mu.Unlock()
	if recipient == "" {
		return
	}
	s.deb.Trigger()
}

func (s *Session) emitTyping(isTyping bool) {
	s.mu.Lock()
	recipient := s.active
	s.mu.Unlock()
	if recipient == "" {
		return
	}
	sig := wire.TypingSignal{SenderID: s.userID, RecipientID: recipient, IsTyping: isTyping}
	if err := s.transport.Publish(wire.DestSendTyping, sig); err != nil {
		s.log.Debug("typing signal dropped", zap.Error(err))
	}
}

// OnMessage installs a hook invoked for every inbound message after it has
// been stored. Used by interactive frontends; nil clears it.
func (s *Session) OnMessage(fn func(wire.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// handleInbound lands every inbound message in the keyed store; the view's
// filter falls out of the keying, not of dropped events.
func (s *Session) handleInbound(msg wire.Message) {
	s.store.Apply(msg)
	s.mu.Lock()
	hook := s.onMessage
	s.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
}

func (s *Session) handleTypingSignal(ts wire.TypingSignal) {
	if ts.SenderID == "" {
		return
	}
	s.store.SetTyping(ts.SenderID, ts.IsTyping)
}

func (s *Session) handleTransportError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Session) handleConnected() {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
}

// IsConnected reports whether the transport is currently connected.
func (s *Session) IsConnected() bool {
	return s.transport.State() == StateConnected
}

// RemoteTyping reports whether the active recipient is typing.
func (s *Session) RemoteTyping() bool {
	s.mu.Lock()
	recipient := s.active
	s.mu.Unlock()
	if recipient == "" {
		return false
	}
	return s.store.Typing(recipient)
}

// Loading reports whether a history fetch is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the last recorded error. Cleared when the transport
// (re)connects.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ActiveRecipient returns the conversation currently in view.
func (s *Session) ActiveRecipient() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Messages projects the active conversation's ordered message list.
func (s *Session) Messages() []wire.Message {
	s.mu.Lock()
	recipient := s.active
	s.mu.Unlock()
	if recipient == "" {
		return nil
	}
	return s.store.Messages(recipient)
}
