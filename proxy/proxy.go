// Package proxy provides the chat server: it relays prompts to the completion
// API and streams the growing answer back to browsers as server-sent events.
package proxy

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatstream/pkg/chat"
	"github.com/papercomputeco/chatstream/pkg/history"
	"github.com/papercomputeco/chatstream/pkg/llm"
)

// Proxy serves the chat event streams, the history endpoints and the landing
// page. Every stream runs on a context derived from the proxy's own, so
// Shutdown stops them all.
type Proxy struct {
	config    Config
	store     history.Store
	generator *chat.Generator
	logger    *zap.Logger
	server    *fiber.App

	ctx    context.Context
	cancel context.CancelFunc

	active atomic.Int64
}

// New creates a new Proxy that requests completions from completer.
func New(config Config, completer llm.Completer, logger *zap.Logger) (*Proxy, error) {
	var store history.Store
	var err error

	if config.DBPath != "" {
		store, err = history.NewSQLiteStore(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite store: %w", err)
		}
		logger.Info("using SQLite history", zap.String("path", config.DBPath))
	} else {
		store = history.NewMemoryStore(config.Settings.MaxTurns)
		logger.Info("using in-memory history", zap.Int("max_turns", config.Settings.MaxTurns))
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	ctx, cancel := context.WithCancel(context.Background())

	p := &Proxy{
		config:    config,
		store:     store,
		generator: chat.NewGenerator(completer, store, config.Settings, logger),
		logger:    logger,
		server:    app,
		ctx:       ctx,
		cancel:    cancel,
	}

	app.Use(p.logRequests)

	// Chat stream
	app.Post("/api/sse/", p.handleSSE)

	// Health check
	app.Get("/health", p.handleHealth)

	// History inspection endpoints
	app.Get("/api/sessions", p.handleListSessions)
	app.Get("/api/history", p.handleListTurns)
	app.Get("/api/history/:hash", p.handleGetTurn)

	// Model Context Protocol access to the same history
	app.All("/mcp", adaptor.HTTPHandler(p.mcpHandler()))

	// Landing page for every other path; must stay last
	app.Get("/*", adaptor.HTTPHandlerFunc(p.handleLanding))

	return p, nil
}

// Run starts the server on the configured listening address.
func (p *Proxy) Run() error {
	p.logger.Info("starting chat server",
		zap.String("listen", p.config.ListenAddr),
		zap.String("model", p.generator.Settings().Model),
	)

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener serves on an existing listener.
func (p *Proxy) RunWithListener(ln net.Listener) error {
	p.logger.Info("starting chat server",
		zap.String("listen", ln.Addr().String()),
		zap.String("model", p.generator.Settings().Model),
	)

	return p.server.Listener(ln)
}

// Reconfigure replaces the generator settings for streams started from now on.
// An in-memory history also takes the new max_turns as its eviction limit.
func (p *Proxy) Reconfigure(settings chat.Settings) {
	p.generator.SetSettings(settings)
	s := p.generator.Settings()

	if mem, ok := p.store.(*history.MemoryStore); ok {
		mem.SetMaxTurns(s.MaxTurns)
	}

	p.logger.Info("generator settings updated",
		zap.String("model", s.Model),
		zap.Duration("keepalive", s.KeepAlive),
		zap.Int("max_turns", s.MaxTurns),
	)
}

// ActiveStreams returns the number of event streams currently being served.
func (p *Proxy) ActiveStreams() int64 {
	return p.active.Load()
}

// Shutdown stops every running stream and then the server. If ctx has no
// deadline the configured shutdown timeout applies.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.cancel()

	if _, ok := ctx.Deadline(); !ok {
		timeout := p.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = DefaultShutdownTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return p.server.ShutdownWithContext(ctx)
}

// Close stops every running stream and releases the history store.
func (p *Proxy) Close() error {
	p.cancel()
	return p.store.Close()
}

// handleHealth reports liveness and the number of open streams.
func (p *Proxy) handleHealth(c *fiber.Ctx) error {
	return c.JSON(map[string]any{
		"status":         "ok",
		"active_streams": p.ActiveStreams(),
	})
}

// logRequests logs every request once its handler returns. For event streams
// that is when the stream starts, not when it ends.
func (p *Proxy) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	p.logger.Debug("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("duration", time.Since(start)),
	)

	return err
}
