package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"event-board/internal/blob"
)

type Config struct {
	Addr    string // e.g. ":3000"
	Version string

	Auth   AuthConfig
	Events EventStore
	Blob   blob.Store

	// DB backs the readiness probe. Optional.
	DB *sql.DB

	UploadsDir string
	PublicDir  string

	// RequireImage rejects inserts without an image.
	RequireImage bool

	// RequireBlob fails uploads the blob store rejects instead of keeping
	// the local copy.
	RequireBlob bool

	// LoginRateLimit caps login attempts per client IP per minute. Zero
	// disables the limit.
	LoginRateLimit int

	// TrustProxy lets the login limit key on proxy headers instead of the
	// connection address.
	TrustProxy bool

	Logger   *slog.Logger
	Registry *prometheus.Registry

	// Now overrides the clock for upload names and timestamps.
	Now func() time.Time
}

type Server struct {
	httpServer *http.Server
	handler    http.Handler

	store        EventStore
	blob         blob.Store
	auth         *Authenticator
	metrics      *Metrics
	db           *sql.DB
	log          *slog.Logger
	clock        func() time.Time
	version      string
	uploadsDir   string
	publicDir    string
	requireImage bool
	requireBlob  bool
}

func New(cfg Config) (*Server, error) {
	if cfg.Events == nil {
		return nil, errors.New("server: event store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Blob
	if store == nil {
		store = blob.Disabled{}
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	uploadsDir := cfg.UploadsDir
	if uploadsDir == "" {
		uploadsDir = "uploads/images"
	}
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}

	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	auth, err := NewAuthenticator(cfg.Auth, metrics, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:        cfg.Events,
		blob:         store,
		auth:         auth,
		metrics:      metrics,
		db:           cfg.DB,
		log:          logger,
		clock:        cfg.Now,
		version:      cfg.Version,
		uploadsDir:   uploadsDir,
		publicDir:    cfg.PublicDir,
		requireImage: cfg.RequireImage,
		requireBlob:  cfg.RequireBlob,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.HandleLive)
	mux.HandleFunc("GET /ready", s.HandleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	var loginLimiter *rateLimiter
	if cfg.LoginRateLimit > 0 {
		loginLimiter = newRateLimiter(cfg.LoginRateLimit, time.Minute)
		loginLimiter.trustProxy = cfg.TrustProxy
	}
	mux.Handle("POST /api/login", loginLimiter.middleware(auth.loginHandler()))
	mux.HandleFunc("POST /api/logout", auth.logoutHandler())
	mux.HandleFunc("GET /api/auth/status", auth.statusHandler())

	mux.HandleFunc("GET /api/events", s.handleListEvents)
	mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	mux.Handle("POST /api/events", auth.requireLoginJSON(http.HandlerFunc(s.handleCreateEvent)))
	mux.Handle("PUT /api/events/{id}", auth.requireLoginJSON(http.HandlerFunc(s.handleUpdateEvent)))
	mux.Handle("DELETE /api/events/{id}", auth.requireLoginJSON(http.HandlerFunc(s.handleDeleteEvent)))
	mux.HandleFunc("GET /api/distinct/{column}", s.handleDistinct)
	mux.HandleFunc("GET /api/search", s.handleSearch)

	s.registerPages(mux)

	// requestID -> logging -> security headers -> tracing -> metrics -> mux
	var handler http.Handler = mux
	handler = metrics.middleware(handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = loggingMiddleware(logger, handler)
	handler = requestIDMiddleware(handler)
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Authenticator exposes the credential check and session store.
func (s *Server) Authenticator() *Authenticator { return s.auth }

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info("server_listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
