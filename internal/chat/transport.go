package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fasthttp/websocket"
	"go.uber.org/zap"

	"github.com/hrlink/hrchat/internal/wire"
)

// ConnState is the transport lifecycle state. It is owned exclusively by the
// transport; everything else observes it.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateErrored
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Transport is a persistent duplex connection to the message broker.
type Transport interface {
	// Connect establishes the connection for userID and subscribes the two
	// private queues. Calling Connect while already connected for the same
	// user is a no-op that re-fires the connect callback.
	Connect(ctx context.Context, userID string) error

	// Publish serializes payload and sends it to destination. Returns
	// ErrPublishDropped when not connected.
	Publish(destination string, payload any) error

	// Disconnect deactivates the connection. Idempotent.
	Disconnect()

	// State reports the current lifecycle state.
	State() ConnState
}

// TransportOptions tune the websocket transport. Zero values fall back to the
// defaults the backend expects.
type TransportOptions struct {
	HeartbeatInterval time.Duration // outgoing ping cadence, default 4s
	ReconnectInterval time.Duration // fixed retry delay, default 2s
	HandshakeTimeout  time.Duration // dial deadline, default 10s
}

func (o *TransportOptions) withDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 4 * time.Second
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = 2 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
}

// BrokerTransport implements Transport over a websocket. One instance serves
// one authenticated session; it is constructed and owned by the session
// manager, never shared process-wide.
type BrokerTransport struct {
	endpoint string
	router   *Router
	opts     TransportOptions
	log      *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	state   ConnState
	userID  string
	cancel  context.CancelFunc
	gen     uint64 // bumped per Connect/Disconnect so a stale run cannot clobber state
	writeMu sync.Mutex
}

// NewBrokerTransport builds a transport dialing endpoint (ws:// or wss://).
// Inbound frames are handed to router.
func NewBrokerTransport(endpoint string, router *Router, opts TransportOptions, log *zap.Logger) *BrokerTransport {
	opts.withDefaults()
	return &BrokerTransport{
		endpoint: endpoint,
		router:   router,
		opts:     opts,
		log:      log,
	}
}

// Connect implements Transport. The actual dial and all retries run in a
// background goroutine; connection outcomes are reported through the router
// callbacks, not the return value.
func (t *BrokerTransport) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("connect: empty user id")
	}

	t.mu.Lock()
	if t.cancel != nil {
		// A run loop is already active for this transport.
		if t.userID != userID {
			t.mu.Unlock()
			return fmt.Errorf("connect: transport already active for user %s", t.userID)
		}
		connected := t.state == StateConnected
		t.mu.Unlock()
		if connected {
			t.router.dispatchConnect()
		}
		return nil
	}
	t.userID = userID
	t.state = StateConnecting
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	go t.run(runCtx, gen)
	return nil
}

// run dials, pumps frames, and redials on a fixed interval until the context
// is canceled by Disconnect.
func (t *BrokerTransport) run(ctx context.Context, gen uint64) {
	defer func() {
		t.mu.Lock()
		if t.gen == gen {
			if t.conn != nil {
				_ = t.conn.Close()
				t.conn = nil
			}
			t.state = StateDisconnected
			t.cancel = nil
		}
		t.mu.Unlock()
	}()

	policy := backoff.WithContext(backoff.NewConstantBackOff(t.opts.ReconnectInterval), ctx)
	for {
		err := backoff.Retry(func() error {
			if dialErr := t.dial(ctx, gen); dialErr != nil {
				t.log.Warn("broker dial failed", zap.Error(dialErr))
				t.mu.Lock()
				if t.gen == gen {
					t.state = StateErrored
				}
				t.mu.Unlock()
				t.router.dispatchError(fmt.Errorf("connection: %w", dialErr))
				return dialErr
			}
			return nil
		}, policy)
		if err != nil {
			// Context canceled: deliberate disconnect.
			return
		}

		t.readLoop(ctx)

		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		if t.conn != nil {
			_ = t.conn.Close()
			t.conn = nil
		}
		t.state = StateDisconnected
		t.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		t.log.Info("broker connection lost, reconnecting",
			zap.Duration("interval", t.opts.ReconnectInterval))
		policy.Reset()
	}
}

// dial opens the websocket, waits for the CONNECTED frame and subscribes the
// two private queues. Exactly one subscription pair exists per connection.
func (t *BrokerTransport) dial(ctx context.Context, gen uint64) error {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("userId", t.userID)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: t.opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.endpoint, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err := t.awaitConnected(conn); err != nil {
		_ = conn.Close()
		return err
	}

	for _, dest := range []string{wire.QueueMessages, wire.QueueTyping} {
		if err := writeFrame(conn, wire.Frame{Command: wire.CommandSubscribe, Destination: dest}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("subscribe %s: %w", dest, err)
		}
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		_ = conn.Close()
		return errors.New("dial superseded")
	}
	t.conn = conn
	t.state = StateConnected
	t.mu.Unlock()

	go t.heartbeat(ctx, conn)

	t.log.Info("broker connected", zap.String("userId", t.userID))
	t.router.dispatchConnect()
	return nil
}

// awaitConnected reads the broker's handshake acknowledgement.
func (t *BrokerTransport) awaitConnected(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(t.opts.HandshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	var f wire.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("handshake frame: %w", err)
	}
	if f.Command != wire.CommandConnected {
		return fmt.Errorf("handshake: unexpected %s frame", f.Command)
	}
	return nil
}

// readLoop pumps inbound frames until the connection dies. Heartbeat pongs
// extend the read deadline; a silent peer times the read out and trips the
// reconnect path in run.
func (t *BrokerTransport) readLoop(ctx context.Context) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return
	}

	deadline := 2*t.opts.HeartbeatInterval + time.Second
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				t.log.Debug("read loop ended", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))

		var f wire.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		t.handleFrame(f)
	}
}

func (t *BrokerTransport) handleFrame(f wire.Frame) {
	switch f.Command {
	case wire.CommandMessage:
		if err := t.router.Route(f); err != nil {
			t.log.Warn("unroutable frame",
				zap.String("destination", f.Destination), zap.Error(err))
		}
	case wire.CommandError:
		t.router.dispatchError(fmt.Errorf("broker error: %s", string(f.Body)))
	default:
		t.log.Debug("ignoring frame", zap.String("command", f.Command))
	}
}

// heartbeat pings the broker at a fixed interval so both sides detect silent
// failures. The peer answers with pongs that refresh the read deadline.
func (t *BrokerTransport) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(t.opts.HeartbeatInterval))
			if err != nil {
				return
			}
		}
	}
}

// Publish implements Transport.
func (t *BrokerTransport) Publish(destination string, payload any) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected || conn == nil {
		return ErrPublishDropped
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publish %s: %w", destination, err)
	}
	f := wire.Frame{Command: wire.CommandSend, Destination: destination, Body: body}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := writeFrame(conn, f); err != nil {
		return fmt.Errorf("publish %s: %w", destination, err)
	}
	return nil
}

// Disconnect implements Transport.
func (t *BrokerTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.state = StateDisconnected
}

// State implements Transport.
func (t *BrokerTransport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func writeFrame(conn *websocket.Conn, f wire.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
