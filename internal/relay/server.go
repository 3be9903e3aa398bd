// Package relay implements the backend: the WebSocket chat endpoint with its
// per-connection session state machine, the non-streaming convenience
// endpoint, the health probe, and the metrics listener.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stulentsev/jean/internal/archive"
	"github.com/stulentsev/jean/internal/llm"
	"github.com/stulentsev/jean/internal/metrics"
	"github.com/stulentsev/jean/internal/protocol"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Completer is the completion capability the relay forwards rounds to.
// *llm.Client satisfies it; tests substitute fakes.
type Completer interface {
	StreamCompletion(ctx context.Context, transcript []protocol.Turn) <-chan llm.Event
	Complete(ctx context.Context, transcript []protocol.Turn) (string, error)
	Model() string
}

// Config holds the relay listener settings.
type Config struct {
	Host           string
	Port           int
	MetricsEnabled bool
}

// Server hosts the relay HTTP surface.
type Server struct {
	cfg    Config
	llm    Completer
	store  *archive.Store // nil disables archiving
	logger *zap.Logger

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The relay binds to loopback; browser origins are not a concern.
		return true
	},
}

// NewServer creates a relay server. The archive store may be nil.
func NewServer(cfg Config, completer Completer, store *archive.Store, logger *zap.Logger) (*Server, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		llm:    completer,
		store:  store,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start begins serving. It returns once the listener goroutine is launched.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("relay listening",
			zap.String("addr", s.httpServer.Addr),
			zap.Bool("metrics", s.cfg.MetricsEnabled))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down: stop accepting, drain with a
// timeout, cancel in-flight sessions.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("relay stopping")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
	}

	s.cancel()
	s.wg.Wait()

	s.logger.Info("relay stopped")
	return nil
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/ws/chat", s.handleWS)
	if s.cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
}

// handleWS upgrades the connection and runs one session on it until the
// client disconnects or the server shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	metrics.SessionsTotal.Inc()
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	sess := newSession(conn, r.RemoteAddr, s.llm, s.store, s.logger)
	s.logger.Info("session opened", zap.String("remote", r.RemoteAddr))
	sess.run(ctx)
	s.logger.Info("session closed", zap.String("remote", r.RemoteAddr))
}
