package devserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/teslashibe/voicenote/pkg/socketio"
	"github.com/teslashibe/voicenote/pkg/voice"
)

const (
	// writeWait is how long to wait for a write to complete.
	writeWait = 10 * time.Second

	// maxMessageSize is the maximum inbound frame size.
	maxMessageSize = 4 * 1024 * 1024

	// sendQueueSize is the outbound backlog before a client is dropped.
	sendQueueSize = 256

	chimeSeconds = 0.3
)

type outFrame struct {
	kind int
	data []byte
}

// client is one Socket.IO connection. The read loop owns protocol state;
// the write pump is the only writer on the socket.
type client struct {
	srv    *Server
	id     string
	ws     *websocket.Conn
	send   chan outFrame
	done   chan struct{}
	logger *slog.Logger

	mu        sync.Mutex
	joined    bool
	token     string
	session   *session
	sendClose sync.Once
}

type session struct {
	id    string
	tools map[string]voice.ToolDeclaration
	names []string
	stop  chan struct{}
	bytes int64
}

func (s *Server) handleSocket(ws *websocket.Conn) {
	c := &client{
		srv:  s,
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan outFrame, sendQueueSize),
		done: make(chan struct{}),
	}
	c.logger = s.logger.With("sid", c.id)

	s.register(c)
	defer s.unregister(c)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	c.readPump()

	c.stopSession(false)
	close(c.done)
	wg.Wait()
}

func (c *client) open() error {
	data, err := json.Marshal(map[string]any{
		"sid":          c.id,
		"upgrades":     []string{},
		"pingInterval": c.srv.cfg.PingInterval.Milliseconds(),
		"pingTimeout":  c.srv.cfg.PingTimeout.Milliseconds(),
		"maxPayload":   maxMessageSize,
	})
	if err != nil {
		return err
	}
	return c.enqueue(outFrame{websocket.TextMessage, append([]byte{socketio.EngineOpen}, data...)})
}

func (c *client) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	deadline := c.srv.cfg.PingInterval + c.srv.cfg.PingTimeout
	c.ws.SetReadDeadline(time.Now().Add(deadline))

	if err := c.open(); err != nil {
		return
	}

	var (
		pending     *socketio.Packet
		attachments [][]byte
	)
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug("read ended", "error", err)
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(deadline))

		if kind == websocket.BinaryMessage {
			if pending == nil {
				c.logger.Warn("unexpected binary frame")
				continue
			}
			attachments = append(attachments, data)
			if len(attachments) == pending.Attachments {
				c.handleEvent(*pending, attachments)
				pending, attachments = nil, nil
			}
			continue
		}

		if len(data) == 0 {
			continue
		}
		switch data[0] {
		case socketio.EnginePong:
		case socketio.EngineClose:
			return
		case socketio.EngineMessage:
			p, err := socketio.DecodePacket(string(data[1:]))
			if err != nil {
				c.logger.Warn("malformed packet", "error", err)
				continue
			}
			switch p.Type {
			case socketio.PacketConnect:
				c.handleConnect(p)
			case socketio.PacketDisconnect:
				c.logger.Debug("client left namespace")
				c.stopSession(false)
				c.mu.Lock()
				c.joined = false
				c.mu.Unlock()
			case socketio.PacketEvent:
				c.handleEvent(p, nil)
			case socketio.PacketBinaryEvent:
				if p.Attachments == 0 {
					c.handleEvent(p, nil)
					continue
				}
				pending, attachments = &p, nil
			}
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(f.kind, f.data); err != nil {
				c.closeSocket()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte{socketio.EnginePing}); err != nil {
				c.closeSocket()
				return
			}
		case <-c.done:
			return
		}
	}
}

// closeSocket unblocks the read loop.
func (c *client) closeSocket() {
	c.sendClose.Do(func() { c.ws.Close() })
}

func (c *client) enqueue(frames ...outFrame) error {
	for _, f := range frames {
		select {
		case c.send <- f:
		case <-c.done:
			return fmt.Errorf("connection closed")
		default:
			c.logger.Warn("dropping slow client")
			c.closeSocket()
			return fmt.Errorf("send queue full")
		}
	}
	return nil
}

func (c *client) writePacket(p socketio.Packet, attachments [][]byte) error {
	frames := make([]outFrame, 0, 1+len(attachments))
	frames = append(frames, outFrame{websocket.TextMessage, append([]byte{socketio.EngineMessage}, p.Encode()...)})
	for _, a := range attachments {
		frames = append(frames, outFrame{websocket.BinaryMessage, a})
	}
	return c.enqueue(frames...)
}

func (c *client) emit(event string, args ...any) {
	p, attachments, err := socketio.EncodeEvent(voice.Namespace, event, args...)
	if err != nil {
		c.logger.Error("encode event", "event", event, "error", err)
		return
	}
	if c.writePacket(p, attachments) == nil {
		c.srv.metrics.EventsSent.WithLabelValues(event).Inc()
	}
}

func (c *client) handleConnect(p socketio.Packet) {
	if p.Namespace != voice.Namespace {
		c.srv.metrics.ConnectRejects.WithLabelValues("namespace").Inc()
		c.connectError(p.Namespace, "Invalid namespace")
		return
	}

	var auth struct {
		Token string `json:"token"`
	}
	if len(p.Data) > 0 {
		_ = json.Unmarshal(p.Data, &auth)
	}
	if auth.Token == "" {
		auth.Token = c.ws.Headers("X-Token")
	}
	if !c.srv.tokenOK(auth.Token) {
		c.srv.metrics.ConnectRejects.WithLabelValues("auth").Inc()
		c.connectError(p.Namespace, "Authentication token required")
		return
	}

	c.mu.Lock()
	c.joined = true
	c.token = auth.Token
	c.mu.Unlock()

	data, _ := json.Marshal(map[string]string{"sid": c.id})
	if err := c.writePacket(socketio.Packet{Type: socketio.PacketConnect, Namespace: voice.Namespace, Data: data}, nil); err != nil {
		return
	}
	c.emit(voice.EventConnected, map[string]any{"clientId": c.id})
}

func (c *client) connectError(ns, msg string) {
	data, _ := json.Marshal(map[string]string{"message": msg})
	_ = c.writePacket(socketio.Packet{Type: socketio.PacketConnectError, Namespace: ns, Data: data}, nil)
}

func (c *client) handleEvent(p socketio.Packet, attachments [][]byte) {
	c.mu.Lock()
	joined := c.joined
	c.mu.Unlock()
	if !joined || p.Namespace != voice.Namespace {
		return
	}

	ev, err := socketio.ParseEvent(p, attachments)
	if err != nil {
		c.logger.Warn("malformed event", "error", err)
		return
	}

	switch ev.Name {
	case "start":
		var msg voice.StartMessage
		if err := ev.Decode(0, &msg); err != nil {
			c.emit(voice.EventError, map[string]any{
				"error": map[string]any{"code": "invalid_start", "message": err.Error()},
			})
			return
		}
		c.startSession(msg)
	case "audio":
		v, _ := ev.Value(0)
		pcm, ok := v.([]byte)
		if !ok {
			c.emit(voice.EventError, map[string]any{
				"error": map[string]any{"code": "invalid_audio", "message": "audio must be binary PCM16"},
			})
			return
		}
		c.srv.metrics.AudioFrames.Inc()
		c.srv.metrics.AudioBytes.Add(float64(len(pcm)))
		c.mu.Lock()
		if c.session != nil {
			c.session.bytes += int64(len(pcm))
		}
		c.mu.Unlock()
	case "stop":
		c.stopSession(true)
	default:
		c.logger.Debug("ignoring event", "event", ev.Name)
	}
}

func (c *client) startSession(msg voice.StartMessage) {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		c.emit(voice.EventError, map[string]any{
			"error": map[string]any{
				"code":    "conversation_already_has_active_response",
				"message": "A session is already active",
			},
		})
		return
	}
	sess := &session{
		id:    uuid.NewString(),
		tools: msg.Config.WSEventHandlers,
		stop:  make(chan struct{}),
	}
	for name := range sess.tools {
		sess.names = append(sess.names, name)
	}
	sort.Strings(sess.names)
	c.session = sess
	c.mu.Unlock()

	c.srv.metrics.Sessions.Inc()
	c.srv.metrics.SessionsTotal.Inc()
	c.logger.Info("session started",
		"session", sess.id,
		"tools", sess.names,
		"sample_rate", msg.Config.Audio.SampleRate,
	)

	c.emit(voice.EventSessionStarted, map[string]any{"sessionId": sess.id})
	c.emit(voice.EventSpeaker, chime(chimeSeconds))
	c.emit(voice.EventSpeakerEnd)

	go c.script(sess)
}

// script emits the scripted transcript and tool events until the session
// stops or the connection closes.
func (c *client) script(sess *session) {
	ticker := time.NewTicker(c.srv.cfg.WritingInterval)
	defer ticker.Stop()

	for tick := 1; ; tick++ {
		select {
		case <-sess.stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		received := sess.bytes
		c.mu.Unlock()

		role := "user"
		if tick%2 == 0 {
			role = "assistant"
		}
		c.emit(voice.EventWriting, map[string]any{
			"role": role,
			"text": fmt.Sprintf("Line %d, %d KB of audio received", tick, received/1024),
		})
		for _, name := range sess.names {
			c.emit(name, toolPayload(name, sess.tools[name], tick))
		}
	}
}

func (c *client) stopSession(notify bool) {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	if sess == nil {
		return
	}

	close(sess.stop)
	c.srv.metrics.Sessions.Dec()
	c.logger.Info("session stopped", "session", sess.id, "audio_bytes", sess.bytes)
	if notify {
		c.emit(voice.EventSessionStopped, map[string]any{"sessionId": sess.id})
	}
}

func (c *client) sessionTools() ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, false
	}
	return c.session.names, true
}
