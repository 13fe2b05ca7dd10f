package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

// MinServerVersion is the oldest server release we can talk to. The
// builtin player commands were stabilized in 2.0.
const MinServerVersion = "2.0.0"

var (
	ErrNotConnected     = errors.New("api: not connected to server")
	ErrServerTooOld     = errors.New("api: server version not supported")
	ErrCommandFailed    = errors.New("api: server rejected command")
	ErrConnectionClosed = errors.New("api: connection closed")
)

type pendingResult struct {
	result json.RawMessage
	err    error
}

// Client talks to a Music Assistant server over its WebSocket control
// plane. One Client owns one socket; all command senders and both event
// streams multiplex over it.
type Client struct {
	BaseURL   string
	Logger    zerolog.Logger
	LogOutput io.Writer

	initLogOnce sync.Once

	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	serverInfo  ServerInfo
	nextID      int64
	pending     map[int64]chan pendingResult
	subscribers map[int64]chan Event
	nextSubID   int64
	readDone    chan struct{}

	// writeMu serializes socket writes. gorilla/websocket allows at
	// most one concurrent writer.
	writeMu sync.Mutex
}

// NewClient returns an unconnected client for the given server base
// URL (http(s)://host:port).
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		pending:     make(map[int64]chan pendingResult),
		subscribers: make(map[int64]chan Event),
	}
}

// Log returns the zerolog logger, initializing it lazily if LogOutput
// is set.
func (c *Client) Log() *zerolog.Logger {
	if c.LogOutput != nil {
		c.initLogOnce.Do(func() {
			c.Logger = zerolog.New(c.LogOutput).With().Timestamp().Logger()
		})
	}
	return &c.Logger
}

// websocketURL derives the ws(s) endpoint from the HTTP base URL.
func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("websocketURL parse error: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	return u.String(), nil
}

// Connect dials the server and waits for its server-info message. The
// connection is rejected when the server predates MinServerVersion.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}

	c.Log().Debug().Str("Method", "Connect").Str("URL", wsURL).Msg("dialing")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("Connect dial error: %w", err)
	}

	// The server greets with its info blob before anything else.
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var info ServerInfo
	if err := conn.ReadJSON(&info); err != nil {
		conn.Close()
		return fmt.Errorf("Connect server info read error: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if !serverVersionSupported(info.ServerVersion) {
		conn.Close()
		return fmt.Errorf("%w: got %s, need >= %s", ErrServerTooOld, info.ServerVersion, MinServerVersion)
	}

	if info.BaseURL == "" {
		info.BaseURL = c.BaseURL
	}

	c.conn = conn
	c.connected = true
	c.serverInfo = info
	c.readDone = make(chan struct{})

	go c.readLoop(conn, c.readDone)

	c.Log().Debug().Str("Method", "Connect").Str("ServerID", info.ServerID).Str("Version", info.ServerVersion).Msg("connected")
	return nil
}

func serverVersionSupported(version string) bool {
	v := strings.TrimSpace(version)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		// Dev and nightly builds report non-semver strings. Let those
		// through rather than locking out test servers.
		return true
	}
	return semver.Compare(v, "v"+MinServerVersion) >= 0
}

// ServerInfo returns the info blob from the handshake.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// IsConnected .
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears the connection down and fails all in-flight commands.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	for id, ch := range c.pending {
		ch <- pendingResult{err: ErrConnectionClosed}
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Subscribe registers an event consumer. The returned cancel func must
// be called on teardown or the subscriber slot leaks. Events are
// dropped, not queued without bound, when the consumer falls behind.
func (c *Client) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Event, 64)
	c.subscribers[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// SendCommand issues a command and blocks for its matched result.
func (c *Client) SendCommand(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := c.conn
	c.nextID++
	id := c.nextID
	resCh := make(chan pendingResult, 1)
	c.pending[id] = resCh
	c.mu.Unlock()

	msg := map[string]any{
		"message_id": id,
		"command":    command,
	}
	if len(args) > 0 {
		msg["args"] = args
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("SendCommand %s write error: %w", command, err)
	}

	select {
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("SendCommand %s: %w", command, res.err)
		}
		return res.result, nil
	}
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// readLoop pumps incoming frames until the socket dies. A cheap key
// probe decides the frame kind before a full decode; events greatly
// outnumber command results on a busy server.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.Log().Debug().Str("Method", "readLoop").Err(err).Msg("socket closed")
			c.Close()
			return
		}

		if eventName, err := jsonparser.GetString(data, "event"); err == nil && eventName != "" {
			c.dispatchEvent(data)
			continue
		}

		if id, err := jsonparser.GetInt(data, "message_id"); err == nil {
			c.dispatchResult(id, data)
			continue
		}

		c.Log().Debug().Str("Method", "readLoop").Msg("unrecognized frame, ignoring")
	}
}

func (c *Client) dispatchEvent(data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.Log().Debug().Str("Method", "dispatchEvent").Err(err).Msg("bad event frame")
		return
	}

	c.mu.Lock()
	subs := make([]chan Event, 0, len(c.subscribers))
	for _, ch := range c.subscribers {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Slow consumer. Dropping beats stalling the read loop.
		}
	}
}

func (c *Client) dispatchResult(id int64, data []byte) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	if code, err := jsonparser.GetString(data, "error_code"); err == nil && code != "" {
		details, _ := jsonparser.GetString(data, "details")
		ch <- pendingResult{err: fmt.Errorf("%w: %s %s", ErrCommandFailed, code, details)}
		return
	}

	result, _, _, err := jsonparser.Get(data, "result")
	if err != nil {
		// Commands without a payload answer with a bare ack.
		ch <- pendingResult{result: nil}
		return
	}

	// Copy out: jsonparser returns a view into the read buffer.
	res := make(json.RawMessage, len(result))
	copy(res, result)
	ch <- pendingResult{result: res}
}

// Run keeps the connection alive, redialing with capped exponential
// backoff after a drop. onConnect runs after every successful dial so
// callers can re-register their builtin player and re-prime caches.
// Run returns when ctx is cancelled.
func (c *Client) Run(ctx context.Context, onConnect func(ctx context.Context) error) {
	backoff := time.Second
	const maxBackoff = time.Minute

	for {
		if err := c.Connect(ctx); err != nil {
			c.Log().Warn().Str("Method", "Run").Err(err).Dur("Backoff", backoff).Msg("connect failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = time.Second

		if onConnect != nil {
			if err := c.runOnConnect(ctx, onConnect); err != nil {
				c.Log().Warn().Str("Method", "Run").Err(err).Msg("post-connect setup failed")
				c.Close()
			}
		}

		c.mu.Lock()
		done := c.readDone
		c.mu.Unlock()

		if done != nil {
			select {
			case <-ctx.Done():
				c.Close()
				return
			case <-done:
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (c *Client) runOnConnect(ctx context.Context, onConnect func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return onConnect(cctx)
}
