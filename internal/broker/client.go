package broker

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/hrlink/hrchat/internal/wire"
)

// DefaultHeartbeatInterval is the broker-side ping cadence.
const DefaultHeartbeatInterval = 4 * time.Second

// Client is one connected user session on the broker side.
type Client struct {
	ID   string // user id from the handshake query param
	Name string
	Conn ConnLike
	Send chan []byte
}

// ConnLike abstracts the websocket connection so tests can fake it.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	WriteControl(int, []byte, time.Time) error
	Close() error
}

// ReadPump consumes frames until the connection dies, then unregisters.
func (c *Client) ReadPump(m *Manager) {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			m.UnregisterChan <- c
			return
		}
		var f wire.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Command {
		case wire.CommandSubscribe:
			m.Subscribe(c.ID, f.Destination)
		case wire.CommandSend:
			m.SendChan <- &Inbound{From: c, Frame: f}
		}
	}
}

// WritePump drains the send queue and pings on the heartbeat interval.
func (c *Client) WritePump(heartbeat time.Duration) {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(heartbeat)); err != nil {
				return
			}
		}
	}
}
