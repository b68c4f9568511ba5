package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// defaultWriteWait is how long to wait for a write to complete.
	defaultWriteWait = 10 * time.Second

	// defaultHandshakeTimeout bounds dial, open and namespace connect.
	defaultHandshakeTimeout = 10 * time.Second

	// defaultQueueSize is the outbound backlog before Emit fails.
	defaultQueueSize = 256

	// maxMessageSize is the maximum inbound frame size.
	maxMessageSize = 4 * 1024 * 1024
)

// Handler receives one inbound event.
type Handler func(Event)

// Config configures a Client.
type Config struct {
	// URL is the server base URL (http, https, ws or wss).
	URL string

	// Path is the Engine.IO endpoint path.
	// Default: "/socket.io/"
	Path string

	// Namespace to connect to.
	// Default: "/"
	Namespace string

	// Auth is sent as the namespace CONNECT payload.
	Auth any

	// Header is added to the WebSocket handshake request.
	Header http.Header

	// HandshakeTimeout bounds the whole connect sequence.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration

	// QueueSize is the number of outbound messages buffered.
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = "/socket.io/"
	}
	if c.Namespace == "" {
		c.Namespace = "/"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteWait
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
}

// EndpointURL returns the WebSocket URL for the Engine.IO endpoint.
func (c Config) EndpointURL() (string, error) {
	c.applyDefaults()

	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("socketio: parse url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("socketio: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + c.Path

	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// openPacket is the Engine.IO handshake payload.
type openPacket struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

type frame struct {
	kind int
	data []byte
}

// Client is a Socket.IO client bound to one namespace.
//
// Inbound events are dispatched on a single reader goroutine in the order
// they arrive. All writes go through a single writer goroutine fed by a
// bounded queue, so Emit never blocks.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer

	// Handlers
	handlerMu    sync.RWMutex
	handlers     map[string]Handler
	anyHandler   Handler
	onDisconnect func(reason string)

	// Connection
	conn      *websocket.Conn
	sid       string
	send      chan []frame
	ctrl      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	reason    atomic.Value
	connected atomic.Bool
	started   atomic.Bool
	wg        sync.WaitGroup

	// Heartbeat
	pingInterval time.Duration
	pingTimeout  time.Duration

	// pending collects attachments for a BINARY_EVENT; reader goroutine only.
	pending     *Packet
	pendingData [][]byte
}

// New creates a client. Register handlers before calling Connect.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:      cfg,
		logger:   logger.With("component", "socketio", "namespace", cfg.Namespace),
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		handlers: make(map[string]Handler),
		send:     make(chan []frame, cfg.QueueSize),
		ctrl:     make(chan []byte, 4),
		done:     make(chan struct{}),
	}
}

// On registers the handler for an event name, replacing any previous one.
func (c *Client) On(event string, h Handler) {
	c.handlerMu.Lock()
	c.handlers[event] = h
	c.handlerMu.Unlock()
}

// OnAny registers the handler for events without a specific handler.
func (c *Client) OnAny(h Handler) {
	c.handlerMu.Lock()
	c.anyHandler = h
	c.handlerMu.Unlock()
}

// OnDisconnect registers a callback invoked once, on the reader goroutine,
// after the last inbound event has been dispatched.
func (c *Client) OnDisconnect(fn func(reason string)) {
	c.handlerMu.Lock()
	c.onDisconnect = fn
	c.handlerMu.Unlock()
}

// Connect dials the server, completes the Engine.IO handshake and joins
// the namespace. A client can be connected once.
func (c *Client) Connect(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("socketio: client already started")
	}

	endpoint, err := c.cfg.EndpointURL()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, c.cfg.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("socketio: dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return fmt.Errorf("socketio: dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(maxMessageSize)

	// Abort blocking handshake reads when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := c.handshake(conn); err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return fmt.Errorf("socketio: connect: %w", ctx.Err())
		}
		return err
	}
	if !stop() {
		return fmt.Errorf("socketio: connect: %w", ctx.Err())
	}

	c.conn = conn
	c.connected.Store(true)
	c.resetReadDeadline()

	c.wg.Add(2)
	go c.writePump()
	go c.readPump()

	c.logger.Info("socket connected", "sid", c.sid)
	return nil
}

// handshake reads the open packet and joins the namespace. Writes happen
// inline because the writer goroutine is not running yet.
func (c *Client) handshake(conn *websocket.Conn) error {
	kind, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: read open packet: %w", ErrHandshake, err)
	}
	if kind != websocket.TextMessage || len(data) == 0 || data[0] != EngineOpen {
		return fmt.Errorf("%w: expected open packet, got %q", ErrHandshake, truncate(data))
	}

	var open openPacket
	if err := json.Unmarshal(data[1:], &open); err != nil {
		return fmt.Errorf("%w: decode open packet: %w", ErrHandshake, err)
	}
	c.pingInterval = time.Duration(open.PingInterval) * time.Millisecond
	c.pingTimeout = time.Duration(open.PingTimeout) * time.Millisecond

	connect := Packet{Type: PacketConnect, Namespace: c.cfg.Namespace}
	if c.cfg.Auth != nil {
		auth, err := json.Marshal(c.cfg.Auth)
		if err != nil {
			return fmt.Errorf("socketio: encode auth: %w", err)
		}
		connect.Data = auth
	}
	if err := c.writeInline(conn, connect); err != nil {
		return err
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: await namespace ack: %w", ErrHandshake, err)
		}
		if kind != websocket.TextMessage || len(data) == 0 {
			continue
		}

		switch data[0] {
		case EnginePing:
			if err := conn.WriteMessage(websocket.TextMessage, []byte{EnginePong}); err != nil {
				return fmt.Errorf("socketio: write pong: %w", err)
			}
			continue
		case EngineClose:
			return fmt.Errorf("%w: server closed during handshake", ErrHandshake)
		case EngineMessage:
		default:
			continue
		}

		p, err := DecodePacket(string(data[1:]))
		if err != nil {
			return err
		}
		if p.Namespace != c.cfg.Namespace {
			continue
		}

		switch p.Type {
		case PacketConnect:
			var ack struct {
				SID string `json:"sid"`
			}
			_ = json.Unmarshal(p.Data, &ack)
			c.sid = ack.SID
			return nil
		case PacketConnectError:
			var body struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(p.Data, &body); err != nil || body.Message == "" {
				body.Message = string(p.Data)
			}
			return &ConnectError{Namespace: p.Namespace, Message: body.Message}
		default:
			c.logger.Debug("packet before namespace ack ignored", "type", p.Type)
		}
	}
}

func (c *Client) writeInline(conn *websocket.Conn, p Packet) error {
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	msg := append([]byte{EngineMessage}, p.Encode()...)
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("socketio: write %s: %w", p.Type, err)
	}
	return nil
}

// resetReadDeadline arms the heartbeat watchdog: the server pings every
// pingInterval and a missing ping within pingTimeout closes the socket.
func (c *Client) resetReadDeadline() {
	if c.pingInterval <= 0 {
		c.conn.SetReadDeadline(time.Time{})
		return
	}
	c.conn.SetReadDeadline(time.Now().Add(c.pingInterval + c.pingTimeout))
}

// Emit queues an event. []byte arguments are sent as binary attachments.
func (c *Client) Emit(event string, args ...any) error {
	if !c.connected.Load() {
		select {
		case <-c.done:
			return ErrClosed
		default:
			return ErrNotConnected
		}
	}

	p, attachments, err := EncodeEvent(c.cfg.Namespace, event, args...)
	if err != nil {
		return err
	}
	return c.enqueue(packetFrames(p, attachments))
}

func packetFrames(p Packet, attachments [][]byte) []frame {
	frames := make([]frame, 0, 1+len(attachments))
	frames = append(frames, frame{
		kind: websocket.TextMessage,
		data: append([]byte{EngineMessage}, p.Encode()...),
	})
	for _, a := range attachments {
		frames = append(frames, frame{kind: websocket.BinaryMessage, data: a})
	}
	return frames
}

func (c *Client) enqueue(frames []frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frames:
		return nil
	default:
		return ErrQueueFull
	}
}

// Connected reports whether the namespace connection is open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// ID returns the namespace session id assigned by the server.
func (c *Client) ID() string {
	return c.sid
}

// Close leaves the namespace and closes the connection. It is safe to call
// Close multiple times and before Connect.
func (c *Client) Close() error {
	if !c.started.Load() || c.conn == nil {
		c.shutdown(ReasonClientDisconnect)
		return nil
	}
	if c.connected.Load() {
		_ = c.enqueue(packetFrames(Packet{Type: PacketDisconnect, Namespace: c.cfg.Namespace}, nil))
	}
	c.shutdown(ReasonClientDisconnect)
	return nil
}

// Wait blocks until the reader and writer goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) shutdown(reason string) {
	c.closeOnce.Do(func() {
		c.reason.Store(reason)
		c.connected.Store(false)
		close(c.done)
	})
}

// readPump reads frames and dispatches events. It is the only goroutine
// that invokes handlers.
func (c *Client) readPump() {
	defer c.wg.Done()

	reason := ReasonTransportClose
	defer func() {
		c.shutdown(reason)
		c.conn.Close()

		c.handlerMu.RLock()
		fn := c.onDisconnect
		c.handlerMu.RUnlock()
		if fn != nil {
			r, _ := c.reason.Load().(string)
			c.logger.Info("socket disconnected", "reason", r)
			fn(r)
		}
	}()

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				reason = ReasonPingTimeout
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				reason = ReasonTransportClose
			default:
				reason = ReasonTransportError
			}
			select {
			case <-c.done:
			default:
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		c.resetReadDeadline()

		if kind == websocket.BinaryMessage {
			c.handleAttachment(data)
			continue
		}
		if len(data) == 0 {
			continue
		}

		switch data[0] {
		case EnginePing:
			select {
			case c.ctrl <- []byte{EnginePong}:
			default:
			}
		case EngineClose:
			reason = ReasonTransportClose
			return
		case EngineMessage:
			if c.handlePacket(string(data[1:])) {
				reason = ReasonServerDisconnect
				return
			}
		}
	}
}

// handlePacket dispatches one Socket.IO packet and reports whether the
// server disconnected the namespace.
func (c *Client) handlePacket(s string) bool {
	p, err := DecodePacket(s)
	if err != nil {
		c.logger.Warn("dropping malformed packet", "error", err)
		return false
	}
	if p.Namespace != c.cfg.Namespace {
		return false
	}

	switch p.Type {
	case PacketEvent:
		c.dispatch(p, nil)
	case PacketBinaryEvent:
		if p.Attachments == 0 {
			c.dispatch(p, nil)
			return false
		}
		c.pending = &p
		c.pendingData = nil
	case PacketDisconnect:
		return true
	case PacketConnectError:
		c.logger.Warn("namespace error", "data", string(p.Data))
	}
	return false
}

func (c *Client) handleAttachment(data []byte) {
	if c.pending == nil {
		c.logger.Debug("unexpected binary frame", "bytes", len(data))
		return
	}
	c.pendingData = append(c.pendingData, data)
	if len(c.pendingData) < c.pending.Attachments {
		return
	}
	p, att := *c.pending, c.pendingData
	c.pending, c.pendingData = nil, nil
	c.dispatch(p, att)
}

func (c *Client) dispatch(p Packet, attachments [][]byte) {
	ev, err := ParseEvent(p, attachments)
	if err != nil {
		c.logger.Warn("dropping malformed event", "error", err)
		return
	}

	c.handlerMu.RLock()
	h, ok := c.handlers[ev.Name]
	if !ok {
		h = c.anyHandler
	}
	c.handlerMu.RUnlock()

	if h == nil {
		c.logger.Debug("unhandled event", "event", ev.Name)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	h(ev)
}

// writePump writes queued frames to the connection.
// Only this goroutine writes once Connect has returned.
func (c *Client) writePump() {
	defer func() {
		c.wg.Done()
		c.conn.Close()
	}()

	for {
		select {
		case pong := <-c.ctrl:
			if err := c.write(websocket.TextMessage, pong); err != nil {
				c.shutdown(ReasonTransportError)
				return
			}

		case frames := <-c.send:
			for _, f := range frames {
				if err := c.write(f.kind, f.data); err != nil {
					c.logger.Debug("write failed", "error", err)
					c.shutdown(ReasonTransportError)
					return
				}
			}

		case <-c.done:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is already queued, best effort.
func (c *Client) flush() {
	for {
		select {
		case frames := <-c.send:
			for _, f := range frames {
				if err := c.write(f.kind, f.data); err != nil {
					return
				}
			}
		default:
			return
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(kind, data)
}

func truncate(b []byte) string {
	if len(b) > 64 {
		return string(b[:64]) + "..."
	}
	return string(b)
}
