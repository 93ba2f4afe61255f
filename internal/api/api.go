// Package api exposes the copilot core over HTTP REST.
//
// Endpoints:
//
//	POST /api/v1/repos       → register a repository and queue indexing
//	GET  /api/v1/repos       → list repositories with indexing state
//	GET  /api/v1/repos/{id}  → one repository's state
//	POST /api/v1/chat        → ask a question against a ready repository
//	GET  /health             → liveness probe
//	GET  /ready              → readiness probe (database ping)
//
// File structure:
//   - api.go: server setup and lifecycle
//   - repos.go: repository registration and listing
//   - chat.go: question answering
//   - middleware.go: recovery, request id, logging, CORS
//   - ratelimit.go: per-IP token bucket
//   - response.go: JSON response helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = ":8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to resist slowloris clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Generation calls can take a while; this bounds the worst case.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// Options configures the HTTP surface.
type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// Server is the HTTP server for the copilot REST API.
type Server struct {
	mux    *http.ServeMux
	pool   *pgxpool.Pool
	limit  *rateLimiter
	cors   []string
	logger *slog.Logger

	repos *RepoHandler
	chat  *ChatHandler
}

// NewServer creates an HTTP server with all routes registered.
// pool is used only by the readiness probe; it may be nil in tests.
func NewServer(repos *RepoHandler, chat *ChatHandler, pool *pgxpool.Pool, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 5
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 10
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:    mux,
		pool:   pool,
		limit:  newRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		cors:   opts.CORSOrigins,
		logger: logger,
		repos:  repos,
		chat:   chat,
	}

	s.repos.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	mux.HandleFunc("GET /health", s.liveness)
	mux.HandleFunc("GET /ready", s.readiness)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Order: recovery, request id, logging, CORS, rate limit, routes.
// Request id runs before logging so request_id appears in log attributes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		requestIDMiddleware(),
		loggingMiddleware(s.logger),
		corsMiddleware(s.cors),
		rateLimitMiddleware(s.limit, s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// liveness reports that the process is alive.
func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness reports that dependencies are reachable.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		http.Error(w, "database pool not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.pool.Ping(r.Context()); err != nil {
		s.logger.Error("readiness check failed", "error", err)
		http.Error(w, "database not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
