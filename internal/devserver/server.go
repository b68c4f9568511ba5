// Package devserver is a local stand-in for the voice backend. It speaks
// the /voice Socket.IO protocol over WebSocket, accepts recording uploads
// and exposes health and Prometheus endpoints.
//
// Sessions are scripted: after a start message the server plays a short
// chime, then every WritingInterval it emits a transcript line and one
// event per declared tool with a payload generated from the tool schema.
package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Config configures the dev server.
type Config struct {
	// Addr is the listen address for ListenAndServe.
	// Default: ":3001"
	Addr string

	// WritingInterval is the gap between scripted transcript lines.
	// Default: 1s
	WritingInterval time.Duration

	// PingInterval and PingTimeout are advertised in the Engine.IO open
	// packet. Defaults: 25s and 20s.
	PingInterval time.Duration
	PingTimeout  time.Duration

	// Token, when set, is the only accepted token. Otherwise any
	// non-empty token is accepted.
	Token string

	// MaxUploadSize caps /upload-v3 bodies.
	// Default: 100MB
	MaxUploadSize int

	// Registry receives the Prometheus collectors. Default: a new registry.
	Registry *prometheus.Registry

	// Debug enables per-request access logs.
	Debug bool

	// Logger for server events. Default: slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":3001"
	}
	if c.WritingInterval <= 0 {
		c.WritingInterval = time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 20 * time.Second
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = 100 << 20
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
		c.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server is the dev backend.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	app     *fiber.App
	metrics *Metrics

	mu      sync.RWMutex
	clients map[string]*client
	uploads []Upload
}

// Upload records one accepted upload.
type Upload struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Token    string    `json:"token"`
	At       time.Time `json:"at"`
}

// New creates a server and registers its routes.
func New(cfg Config) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "devserver"),
		metrics: NewMetrics(cfg.Registry),
		clients: make(map[string]*client),
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             cfg.MaxUploadSize,
	})
	s.registerRoutes()
	return s
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) registerRoutes() {
	s.app.Use(recover.New())
	if s.cfg.Debug {
		s.app.Use(logger.New())
	}

	s.app.Use("/socket.io", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/socket.io", websocket.New(s.handleSocket))

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "stats": s.Stats()})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(
		promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{}),
	))
	s.app.Post("/upload-v3", s.handleUpload)
}

// ListenAndServe listens on Config.Addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("devserver: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("dev server listening", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.app.Listener(ln)
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	token := c.Get("anonymous-token")
	if !s.tokenOK(token) {
		s.metrics.Uploads.WithLabelValues("unauthorized").Inc()
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Missing anonymous token"})
	}

	fh, err := c.FormFile("file")
	if err != nil {
		s.metrics.Uploads.WithLabelValues("bad_request").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "No file uploaded"})
	}

	up := Upload{Filename: fh.Filename, Size: fh.Size, Token: token, At: time.Now()}
	s.mu.Lock()
	s.uploads = append(s.uploads, up)
	s.mu.Unlock()

	s.metrics.Uploads.WithLabelValues("ok").Inc()
	s.metrics.UploadBytes.Add(float64(fh.Size))
	s.logger.Info("upload received", "file", fh.Filename, "size", fh.Size)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":       uuid.NewString(),
		"filename": fh.Filename,
		"size":     fh.Size,
		"url":      "/recordings/" + fh.Filename,
	})
}

func (s *Server) tokenOK(token string) bool {
	if token == "" {
		return false
	}
	return s.cfg.Token == "" || token == s.cfg.Token
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()
	s.metrics.Connections.Inc()
	s.logger.Debug("client connected", "sid", c.id, "total", n)
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	n := len(s.clients)
	s.mu.Unlock()
	s.metrics.Connections.Dec()
	s.logger.Debug("client disconnected", "sid", c.id, "remaining", n)
}

// Stats summarizes server activity.
type Stats struct {
	Connections int      `json:"connections"`
	Sessions    int      `json:"sessions"`
	Uploads     int      `json:"uploads"`
	Tools       []string `json:"tools,omitempty"`
}

// Stats returns a snapshot of connected clients and uploads.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Connections: len(s.clients), Uploads: len(s.uploads)}
	seen := make(map[string]bool)
	for _, c := range s.clients {
		tools, active := c.sessionTools()
		if !active {
			continue
		}
		st.Sessions++
		for _, t := range tools {
			if !seen[t] {
				seen[t] = true
				st.Tools = append(st.Tools, t)
			}
		}
	}
	sort.Strings(st.Tools)
	return st
}

// Uploads returns the accepted uploads in arrival order.
func (s *Server) Uploads() []Upload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Upload(nil), s.uploads...)
}
