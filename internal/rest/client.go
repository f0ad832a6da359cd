// Package rest talks to the HR backend's chat endpoints: durable history,
// conversation lists, contact suggestions, user search and read receipts.
// These are plain bearer-authenticated JSON calls, independent of the
// websocket transport.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/hrlink/hrchat/internal/wire"
)

// DefaultRequestTimeout bounds every backend call.
const DefaultRequestTimeout = 10 * time.Second

// ConversationPreview is one row of the conversation list, keyed by the other
// party. Unread counts are server-derived.
type ConversationPreview struct {
	UserID          string    `json:"userId"`
	UserName        string    `json:"userName"`
	Role            string    `json:"role,omitempty"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount"`
}

// DirectoryUser is a search or suggestion result.
type DirectoryUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Role     string `json:"role,omitempty"`
}

// Client is a chat backend client scoped to one authenticated user.
type Client struct {
	base    string
	token   string
	userID  string
	hc      *fasthttp.Client
	timeout time.Duration
	log     *zap.Logger
}

// New builds a client for base (e.g. http://localhost:8080) authenticating
// with token on behalf of userID.
func New(base, token, userID string, log *zap.Logger) *Client {
	return &Client{
		base:    base,
		token:   token,
		userID:  userID,
		hc:      &fasthttp.Client{},
		timeout: DefaultRequestTimeout,
		log:     log,
	}
}

// WithHTTPClient swaps the underlying fasthttp client. Tests dial an
// in-memory listener through this.
func (c *Client) WithHTTPClient(hc *fasthttp.Client) *Client {
	c.hc = hc
	return c
}

// History fetches the durable message history with recipientID, oldest first.
func (c *Client) History(ctx context.Context, recipientID string) ([]wire.Message, error) {
	var out []wire.Message
	err := c.getJSON(ctx, "/api/chat/history/"+url.PathEscape(recipientID),
		url.Values{"currentUserId": {c.userID}}, &out)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	return out, nil
}

// Conversations fetches the caller's conversation list.
func (c *Client) Conversations(ctx context.Context) ([]ConversationPreview, error) {
	var out []ConversationPreview
	err := c.getJSON(ctx, "/api/chat/conversations", url.Values{"userId": {c.userID}}, &out)
	if err != nil {
		return nil, fmt.Errorf("conversations: %w", err)
	}
	return out, nil
}

// Suggestions fetches contacts the caller has no conversation with yet.
func (c *Client) Suggestions(ctx context.Context) ([]DirectoryUser, error) {
	var out []DirectoryUser
	err := c.getJSON(ctx, "/api/chat/suggestions", url.Values{"userId": {c.userID}}, &out)
	if err != nil {
		return nil, fmt.Errorf("suggestions: %w", err)
	}
	return out, nil
}

// SearchUsers searches the global directory. Queries shorter than two
// characters return no results without a round trip, mirroring the UI.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]DirectoryUser, error) {
	if len(query) < 2 {
		return nil, nil
	}
	var out []DirectoryUser
	err := c.getJSON(ctx, "/api/chat/users",
		url.Values{"query": {query}, "currentUserId": {c.userID}}, &out)
	if err != nil {
		return nil, fmt.Errorf("user search: %w", err)
	}
	return out, nil
}

// MarkRead submits a read receipt for the conversation with recipientID.
// Fire-and-forget at the session layer; failures are logged, not fatal.
func (c *Client) MarkRead(ctx context.Context, recipientID string) error {
	err := c.do(ctx, fasthttp.MethodPut, "/api/chat/read/"+url.PathEscape(recipientID),
		url.Values{"readerId": {c.userID}}, nil)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, fasthttp.MethodGet, path, params, out)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.base + path
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.token)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if remain := time.Until(dl); remain < timeout {
			timeout = remain
		}
	}
	if err := c.hc.DoTimeout(req, resp, timeout); err != nil {
		return err
	}

	code := resp.StatusCode()
	if code < 200 || code >= 300 {
		return fmt.Errorf("unexpected status %d", code)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
