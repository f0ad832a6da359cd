package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/hrlink/hrchat/internal/rest"
	"github.com/hrlink/hrchat/internal/wire"
)

// DefaultTypingTTL bounds how long a remote typing flag survives without a
// fresh signal, in case the sender's false-signal frame is lost.
const DefaultTypingTTL = 6 * time.Second

// Conversation is the state held for one remote party.
type Conversation struct {
	PeerID          string
	PeerName        string
	Messages        []wire.Message
	Typing          bool
	Unread          int
	LastMessage     string
	LastMessageTime time.Time
}

// Store keeps every known conversation keyed by the other party's id. All
// inbound events land here regardless of which conversation the UI is
// viewing; the active conversation is a read-only projection. Conversations
// are created lazily and live for the whole session.
type Store struct {
	localUser string
	typingTTL time.Duration

	mu     sync.RWMutex
	convs  map[string]*Conversation
	seen   map[string]map[string]bool // peer -> message id -> delivered
	timers map[string]*time.Timer
}

func NewStore(localUser string) *Store {
	return NewStoreWithTTL(localUser, DefaultTypingTTL)
}

func NewStoreWithTTL(localUser string, typingTTL time.Duration) *Store {
	return &Store{
		localUser: localUser,
		typingTTL: typingTTL,
		convs:     map[string]*Conversation{},
		seen:      map[string]map[string]bool{},
		timers:    map[string]*time.Timer{},
	}
}

// peerOf picks the conversation key: whichever end of the message is not the
// local user.
func (s *Store) peerOf(msg wire.Message) string {
	if msg.SenderID == s.localUser {
		return msg.RecipientID
	}
	return msg.SenderID
}

func (s *Store) ensure(peer string) *Conversation {
	c, ok := s.convs[peer]
	if !ok {
		c = &Conversation{PeerID: peer}
		s.convs[peer] = c
		s.seen[peer] = map[string]bool{}
	}
	return c
}

// Apply appends msg to its conversation. Message lists are append-only;
// duplicate ids (a broker echoing the sender's own publish) are dropped.
func (s *Store) Apply(msg wire.Message) {
	peer := s.peerOf(msg)
	if peer == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensure(peer)
	if msg.ID != "" {
		if s.seen[peer][msg.ID] {
			return
		}
		s.seen[peer][msg.ID] = true
	}
	c.Messages = append(c.Messages, msg)
	c.LastMessage = msg.Content
	c.LastMessageTime = msg.Timestamp
}

// ReplaceHistory swaps in the durable history for peer. Replaces, never
// appends: re-selecting a conversation must not duplicate messages.
func (s *Store) ReplaceHistory(peer string, msgs []wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensure(peer)
	c.Messages = append([]wire.Message(nil), msgs...)
	ids := map[string]bool{}
	for _, m := range msgs {
		if m.ID != "" {
			ids[m.ID] = true
		}
	}
	s.seen[peer] = ids
	if n := len(msgs); n > 0 {
		c.LastMessage = msgs[n-1].Content
		c.LastMessageTime = msgs[n-1].Timestamp
	}
}

// SetTyping flips the typing flag for peer. A true flag auto-clears after the
// store's TTL if no further signal arrives.
func (s *Store) SetTyping(peer string, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensure(peer)
	c.Typing = typing

	if t, ok := s.timers[peer]; ok {
		t.Stop()
		delete(s.timers, peer)
	}
	if typing {
		s.timers[peer] = time.AfterFunc(s.typingTTL, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.convs[peer]; ok {
				c.Typing = false
			}
			delete(s.timers, peer)
		})
	}
}

// ApplyPreviews merges server-derived conversation list data (unread counts,
// display names) into the keyed store.
func (s *Store) ApplyPreviews(previews []rest.ConversationPreview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range previews {
		c := s.ensure(p.UserID)
		c.PeerName = p.UserName
		c.Unread = p.UnreadCount
		if len(c.Messages) == 0 {
			c.LastMessage = p.LastMessage
			c.LastMessageTime = p.LastMessageTime
		}
	}
}

// Messages returns a copy of peer's ordered message list.
func (s *Store) Messages(peer string) []wire.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[peer]
	if !ok {
		return nil
	}
	return append([]wire.Message(nil), c.Messages...)
}

// Typing reports whether peer is currently typing.
func (s *Store) Typing(peer string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[peer]
	return ok && c.Typing
}

// Conversation returns a snapshot of peer's conversation state.
func (s *Store) Conversation(peer string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[peer]
	if !ok {
		return Conversation{}, false
	}
	cp := *c
	cp.Messages = append([]wire.Message(nil), c.Messages...)
	return cp, true
}

// Peers lists known conversation keys, most recent first.
func (s *Store) Peers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.convs))
	for id := range s.convs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.convs[out[i]].LastMessageTime.After(s.convs[out[j]].LastMessageTime)
	})
	return out
}
