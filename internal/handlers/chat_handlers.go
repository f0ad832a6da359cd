// Package handlers exposes the development broker over fiber: the websocket
// endpoint plus the chat REST surface the client consumes.
package handlers

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/hrlink/hrchat/internal/broker"
)

// Chat bundles the broker with its HTTP surface.
type Chat struct {
	Manager *broker.Manager
	Token   string // bearer token for the REST routes; empty disables the check
	Log     *zap.Logger
}

// Register mounts all routes on app.
func (h *Chat) Register(app *fiber.App) {
	app.Get("/ws", websocket.New(h.WS))

	api := app.Group("/api/chat", h.auth)
	api.Get("/history/:recipientId", h.History)
	api.Get("/conversations", h.Conversations)
	api.Get("/suggestions", h.Suggestions)
	api.Get("/users", h.SearchUsers)
	api.Put("/read/:recipientId", h.MarkRead)
}

func (h *Chat) auth(c *fiber.Ctx) error {
	if h.Token == "" {
		return c.Next()
	}
	header := c.Get(fiber.HeaderAuthorization)
	if strings.TrimPrefix(header, "Bearer ") != h.Token {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	return c.Next()
}

// WS handles GET /ws?userId=&name=
func (h *Chat) WS(c *websocket.Conn) {
	userID := c.Query("userId")
	if userID == "" {
		_ = c.Close()
		return
	}
	name := c.Query("name")
	if name == "" {
		name = userID
	}

	client := &broker.Client{ID: userID, Name: name, Conn: c, Send: make(chan []byte, 16)}
	h.Manager.RegisterChan <- client
	go client.WritePump(broker.DefaultHeartbeatInterval)
	client.ReadPump(h.Manager)
}

// History handles GET /api/chat/history/:recipientId?currentUserId=
func (h *Chat) History(c *fiber.Ctx) error {
	recipient := c.Params("recipientId")
	current := c.Query("currentUserId")
	if recipient == "" || current == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	return c.JSON(h.Manager.History(current, recipient))
}

// Conversations handles GET /api/chat/conversations?userId=
func (h *Chat) Conversations(c *fiber.Ctx) error {
	userID := c.Query("userId")
	if userID == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	return c.JSON(h.Manager.Conversations(userID))
}

// Suggestions handles GET /api/chat/suggestions?userId=
func (h *Chat) Suggestions(c *fiber.Ctx) error {
	userID := c.Query("userId")
	if userID == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	return c.JSON(h.Manager.Suggestions(userID, 5))
}

// SearchUsers handles GET /api/chat/users?query=&currentUserId=
func (h *Chat) SearchUsers(c *fiber.Ctx) error {
	query := c.Query("query")
	if len(query) < 2 {
		return c.JSON([]struct{}{})
	}
	return c.JSON(h.Manager.SearchUsers(query, c.Query("currentUserId")))
}

// MarkRead handles PUT /api/chat/read/:recipientId?readerId=
func (h *Chat) MarkRead(c *fiber.Ctx) error {
	recipient := c.Params("recipientId")
	reader := c.Query("readerId")
	if recipient == "" || reader == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	h.Manager.MarkRead(reader, recipient)
	return c.SendStatus(fiber.StatusNoContent)
}
