package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/franckalain/nutritrack/internal/backend"
	"github.com/franckalain/nutritrack/internal/capture"
	"github.com/franckalain/nutritrack/internal/journal"
	"github.com/franckalain/nutritrack/internal/metrics"
)

// Images arrive base64 encoded inside a single message.
const maxMessageSize = 16 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, this should be more restrictive
	},
}

// Config wires the server to its collaborators. History and Backend are
// optional.
type Config struct {
	Recognizer     capture.Recognizer
	Journal        capture.Journal
	History        journal.History
	Backend        *backend.Client
	IdentitySecret string
	IdentityIssuer string
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
	Timeout        time.Duration
	ImageDir       string
	StaticDir      string
}

type Server struct {
	cfg     Config
	logger  *slog.Logger
	clients sync.Map
}

func New(cfg Config) (*Server, error) {
	if cfg.Recognizer == nil {
		return nil, errors.New("server requires a recognizer")
	}
	if cfg.Journal == nil {
		return nil, errors.New("server requires a journal")
	}
	if cfg.IdentitySecret == "" {
		return nil, errors.New("server requires an identity secret")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = capture.DefaultTimeout
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = filepath.Join(os.TempDir(), "nutritrack-images")
	}
	if err := os.MkdirAll(cfg.ImageDir, 0o700); err != nil {
		return nil, fmt.Errorf("error creating image dir: %w", err)
	}

	cfg.Logger.Debug("server configured",
		"image_dir", cfg.ImageDir,
		"history", cfg.History != nil,
	)
	return &Server{cfg: cfg, logger: cfg.Logger}, nil
}

// Handler returns the HTTP routes: the websocket shell, health and metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	// Serve static files
	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return r
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	// Hijacked websocket connections are not tracked by http.Server.
	s.clients.Range(func(_, v any) bool {
		v.(*client).conn.Close()
		return true
	})
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	// Store client connection
	clientID := uuid.New().String()
	c, err := s.newClient(clientID, conn)
	if err != nil {
		s.logger.Error("error creating client", "error", err)
		return
	}
	s.clients.Store(clientID, c)
	defer s.clients.Delete(clientID)
	defer c.close()

	c.logger.Debug("client connected", "request_id", middleware.GetReqID(r.Context()))
	c.readLoop()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
