// Package wire defines the frame and payload types spoken between the chat
// client and the message broker.
package wire

import (
	"encoding/json"
	"time"
)

// Frame commands. The broker sends CONNECTED once after the handshake and
// MESSAGE for every delivery on a subscribed destination; clients send
// SUBSCRIBE to open a destination and SEND to publish.
const (
	CommandConnected = "CONNECTED"
	CommandSubscribe = "SUBSCRIBE"
	CommandSend      = "SEND"
	CommandMessage   = "MESSAGE"
	CommandError     = "ERROR"
)

// Publish destinations (client -> broker).
const (
	DestSendMessage = "/app/chat.sendMessage"
	DestSendTyping  = "/app/chat.typing"
)

// Subscription destinations (broker -> client). Both are private to the
// user identified during the handshake.
const (
	QueueMessages = "/user/queue/messages"
	QueueTyping   = "/user/queue/typing"
)

// Frame is the unit of exchange on the websocket.
type Frame struct {
	Command     string          `json:"command"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// NewFrame builds a frame with a JSON-encoded body.
func NewFrame(command, destination string, payload any) (Frame, error) {
	f := Frame{Command: command, Destination: destination}
	if payload == nil {
		return f, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	f.Body = body
	return f, nil
}

// MessageType discriminates chat payloads from broker-originated notices.
type MessageType string

const (
	MessageChat   MessageType = "CHAT"
	MessageSystem MessageType = "SYSTEM"
)

// Message is one chat message. Immutable once created; ordering within a
// conversation follows Timestamp.
type Message struct {
	ID          string      `json:"id,omitempty"` // client uuid or server-assigned
	SenderID    string      `json:"senderId"`
	RecipientID string      `json:"recipientId"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	Timestamp   time.Time   `json:"timestamp"`
}

// TypingSignal is a transient keystroke notification. It is never persisted;
// the sender emits isTyping=false after a quiet period.
type TypingSignal struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}
