// Package web provides the HTTP API that submits bulk product imports and
// reports their progress.
package web

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/productimport/internal/job"
	"github.com/JonMunkholm/productimport/internal/queue"
	"github.com/JonMunkholm/productimport/internal/staging"
	"github.com/JonMunkholm/productimport/internal/web/middleware"
)

// ObjectStore receives uploads in remote staging mode.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Delete(ctx context.Context, key string) error
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators of a Server. Bucket is only needed with
// Options.RemoteStaging.
type Deps struct {
	Jobs     job.Repository
	Stager   *staging.Stager
	Bucket   ObjectStore
	Producer *queue.Producer
	Limiter  *UploadLimiter
	Checks   map[string]HealthCheck
}

// Options tunes a Server.
type Options struct {
	// MaxFileSize bounds the uploaded file; the request body may exceed it
	// by the multipart overhead.
	MaxFileSize int64

	// MaxRetries bounds explicit retries of failed jobs.
	MaxRetries int

	// RemoteStaging moves uploads into the bucket under KeyPrefix.
	RemoteStaging bool
	KeyPrefix     string

	TrustedProxies []string
	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// Server is the HTTP server of the import API.
type Server struct {
	jobs     job.Repository
	stager   *staging.Stager
	bucket   ObjectStore
	producer *queue.Producer
	limiter  *UploadLimiter
	checks   map[string]HealthCheck
	opts     Options

	router *chi.Mux
	server *http.Server
}

// NewServer creates a Server with its routes registered.
func NewServer(deps Deps, opts Options) *Server {
	if deps.Limiter == nil {
		deps.Limiter = NewUploadLimiter(DefaultMaxConcurrentUploads, DefaultMaxWaitTime)
	}
	s := &Server{
		jobs:     deps.Jobs,
		stager:   deps.Stager,
		bucket:   deps.Bucket,
		producer: deps.Producer,
		limiter:  deps.Limiter,
		checks:   deps.Checks,
		opts:     opts,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	if s.opts.RequestTimeout > 0 {
		s.router.Use(chimw.Timeout(s.opts.RequestTimeout))
	}
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/imports", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{jobID}", s.handleGet)
		r.Post("/{jobID}/retry", s.handleRetry)
	})
}

// Start listens on addr until Shutdown is called. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	slog.Info("server starting", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight uploads.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.limiter.WaitForDrain(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
