// Package server exposes the job subsystem over HTTP: the inline chat path,
// job and schedule management, a live job stream, health and metrics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/peterbot/ai/tracker"
	"github.com/teranos/peterbot/delivery"
	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/pulse/async"
	"github.com/teranos/peterbot/pulse/schedule"
)

const (
	// ShutdownTimeout bounds the wait for stream goroutines on Shutdown
	ShutdownTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
)

// Config is the listen address and websocket origin policy
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string // prefix match; empty = localhost only
	MessageLimit   int      // conversation echo size; 0 = async.DefaultMessageLimit
}

// TickerStats reports scheduler loop statistics
type TickerStats interface {
	GetStats() map[string]interface{}
}

// UsageReporter summarises model calls
type UsageReporter interface {
	GetUsageStats(ctx context.Context, since time.Time) (*tracker.UsageStats, error)
}

// Deps are the components served over HTTP. Jobs and Schedules are required.
type Deps struct {
	Jobs       *async.Queue
	Schedules  *schedule.Store
	Dispatcher *async.Dispatcher // nil disables /api/chat
	Tasks      *async.TaskQueue  // with Delivery, echoes chat results to the conversation
	Delivery   delivery.Gateway
	Metrics    http.Handler // served at /metrics when set
	Ticker     TickerStats
	Usage      UsageReporter
	Logger     *zap.SugaredLogger
}

// Server is the peterbot HTTP surface
type Server struct {
	cfg      Config
	deps     Deps
	logger   *zap.SugaredLogger
	router   chi.Router
	upgrader websocket.Upgrader

	httpServer *http.Server

	// Cancelled on Shutdown; job streams exit on it
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedAt time.Time
	now       func() time.Time
}

// New creates a server and builds its routes
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Jobs == nil || deps.Schedules == nil {
		return nil, errors.AssertionFailedf("server needs a job queue and a schedule store")
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = async.DefaultMessageLimit
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
		now:       time.Now,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s, nil
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the host:port the server listens on
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Infow(fmt.Sprintf("HTTP server listening on %s", s.Addr()),
		"allowed_origins", s.cfg.AllowedOrigins)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "failed to serve on %s", s.Addr())
	}
	return nil
}

// Shutdown closes job streams first, since hijacked websocket connections
// are not tracked by http.Server, then drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debugw("Job streams closed")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Job stream shutdown timed out", "timeout", ShutdownTimeout)
	case <-ctx.Done():
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown")
	}
	s.logger.Infow("HTTP server stopped")
	return nil
}
