// Package broker is an in-process development stand-in for the production
// chat backend: per-user private queues over websocket plus the REST lookups
// the client polls. State is in-memory and dies with the process.
package broker

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hrlink/hrchat/internal/rest"
	"github.com/hrlink/hrchat/internal/wire"
)

// Inbound is one SEND frame with its origin.
type Inbound struct {
	From  *Client
	Frame wire.Frame
}

// Manager routes frames between connected clients and keeps conversation
// history and unread counts.
type Manager struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client         // user id -> connection
	names   map[string]string          // user id -> display name, survives disconnect
	subs    map[string]map[string]bool // user id -> subscribed destinations
	history map[string][]wire.Message  // pair key -> ordered messages
	unread  map[string]map[string]int  // reader -> peer -> count

	RegisterChan   chan *Client
	UnregisterChan chan *Client
	SendChan       chan *Inbound
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		log:            log,
		clients:        map[string]*Client{},
		names:          map[string]string{},
		subs:           map[string]map[string]bool{},
		history:        map[string][]wire.Message{},
		unread:         map[string]map[string]int{},
		RegisterChan:   make(chan *Client),
		UnregisterChan: make(chan *Client),
		SendChan:       make(chan *Inbound, 16),
	}
}

// pairKey is the canonical history key for two users.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Start runs the routing loop until ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-m.RegisterChan:
			m.mu.Lock()
			if prev, ok := m.clients[client.ID]; ok && prev != client {
				close(prev.Send)
				_ = prev.Conn.Close()
			}
			m.clients[client.ID] = client
			m.names[client.ID] = client.Name
			m.subs[client.ID] = map[string]bool{}
			m.mu.Unlock()

			ack, _ := json.Marshal(wire.Frame{Command: wire.CommandConnected})
			select {
			case client.Send <- ack:
			default:
			}
			m.log.Info("client registered", zap.String("userId", client.ID))

		case client := <-m.UnregisterChan:
			m.mu.Lock()
			if cur, ok := m.clients[client.ID]; ok && cur == client {
				delete(m.clients, client.ID)
				delete(m.subs, client.ID)
				close(client.Send)
			}
			m.mu.Unlock()
			m.log.Info("client unregistered", zap.String("userId", client.ID))

		case in := <-m.SendChan:
			m.route(in)
		}
	}
}

// Subscribe opens a destination for userID. Destinations outside the two
// private queues are ignored.
func (m *Manager) Subscribe(userID, destination string) {
	if destination != wire.QueueMessages && destination != wire.QueueTyping {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.subs[userID]; ok {
		set[destination] = true
	}
}

func (m *Manager) route(in *Inbound) {
	switch in.Frame.Destination {
	case wire.DestSendMessage:
		var msg wire.Message
		if err := json.Unmarshal(in.Frame.Body, &msg); err != nil {
			m.sendError(in.From, "malformed message payload")
			return
		}
		msg.SenderID = in.From.ID // sender identity comes from the handshake
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}
		if msg.MessageType == "" {
			msg.MessageType = wire.MessageChat
		}
		m.deliverMessage(msg)

	case wire.DestSendTyping:
		var sig wire.TypingSignal
		if err := json.Unmarshal(in.Frame.Body, &sig); err != nil {
			m.sendError(in.From, "malformed typing payload")
			return
		}
		sig.SenderID = in.From.ID
		m.deliverTyping(sig)

	default:
		m.sendError(in.From, "unknown destination "+in.Frame.Destination)
	}
}

// deliverMessage persists msg and pushes it to the recipient's message queue.
// The sender gets no echo: its client already holds the optimistic copy.
func (m *Manager) deliverMessage(msg wire.Message) {
	m.mu.Lock()
	key := pairKey(msg.SenderID, msg.RecipientID)
	m.history[key] = append(m.history[key], msg)
	if m.unread[msg.RecipientID] == nil {
		m.unread[msg.RecipientID] = map[string]int{}
	}
	m.unread[msg.RecipientID][msg.SenderID]++
	target := m.subscriber(msg.RecipientID, wire.QueueMessages)
	m.mu.Unlock()

	if target != nil {
		m.push(target, wire.QueueMessages, msg)
	}
}

func (m *Manager) deliverTyping(sig wire.TypingSignal) {
	m.mu.RLock()
	target := m.subscriber(sig.RecipientID, wire.QueueTyping)
	m.mu.RUnlock()

	if target != nil {
		m.push(target, wire.QueueTyping, sig)
	}
}

// subscriber returns the online client for userID if it subscribed dest.
// Callers hold m.mu.
func (m *Manager) subscriber(userID, dest string) *Client {
	c, ok := m.clients[userID]
	if !ok || !m.subs[userID][dest] {
		return nil
	}
	return c
}

func (m *Manager) push(c *Client, destination string, payload any) {
	f, err := wire.NewFrame(wire.CommandMessage, destination, payload)
	if err != nil {
		m.log.Warn("encode frame", zap.Error(err))
		return
	}
	data, _ := json.Marshal(f)
	select {
	case c.Send <- data:
	default:
		m.log.Warn("send buffer full, dropping frame", zap.String("userId", c.ID))
	}
}

func (m *Manager) sendError(c *Client, reason string) {
	data, _ := json.Marshal(wire.Frame{Command: wire.CommandError, Body: json.RawMessage(`"` + reason + `"`)})
	select {
	case c.Send <- data:
	default:
	}
}

// History returns the ordered messages between two users.
func (m *Manager) History(a, b string) []wire.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.history[pairKey(a, b)]
	return append([]wire.Message(nil), msgs...)
}

// Conversations builds the list view for userID: one preview per peer with
// history, newest first.
func (m *Manager) Conversations(userID string) []rest.ConversationPreview {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []rest.ConversationPreview{}
	for key, msgs := range m.history {
		if len(msgs) == 0 {
			continue
		}
		peer, ok := otherOf(key, userID)
		if !ok {
			continue
		}
		last := msgs[len(msgs)-1]
		out = append(out, rest.ConversationPreview{
			UserID:          peer,
			UserName:        m.displayName(peer),
			LastMessage:     last.Content,
			LastMessageTime: last.Timestamp,
			UnreadCount:     m.unread[userID][peer],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out
}

// Suggestions lists known users the caller has no conversation with yet.
func (m *Manager) Suggestions(userID string, limit int) []rest.DirectoryUser {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []rest.DirectoryUser{}
	for id, name := range m.names {
		if id == userID {
			continue
		}
		if _, ok := m.history[pairKey(userID, id)]; ok {
			continue
		}
		out = append(out, rest.DirectoryUser{UserID: id, UserName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserName < out[j].UserName })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SearchUsers matches the directory by id or case-insensitive name substring.
func (m *Manager) SearchUsers(query, excludeID string) []rest.DirectoryUser {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []rest.DirectoryUser{}
	for id, name := range m.names {
		if id == excludeID {
			continue
		}
		if id == query || strings.Contains(strings.ToLower(name), q) {
			out = append(out, rest.DirectoryUser{UserID: id, UserName: name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserName < out[j].UserName })
	return out
}

// MarkRead zeroes the reader's unread count for peer.
func (m *Manager) MarkRead(readerID, peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if counts, ok := m.unread[readerID]; ok {
		counts[peerID] = 0
	}
}

func (m *Manager) displayName(userID string) string {
	if name, ok := m.names[userID]; ok && name != "" {
		return name
	}
	return userID
}

// otherOf extracts the non-user side of a pair key, if user is part of it.
func otherOf(key, user string) (string, bool) {
	a, b, ok := strings.Cut(key, "|")
	if !ok {
		return "", false
	}
	switch user {
	case a:
		return b, true
	case b:
		return a, true
	default:
		return "", false
	}
}
