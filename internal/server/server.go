// Package server exposes the pipeline manager's command surface over HTTP
// and streams lifecycle events as server-sent events.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// maxBodyBytes caps request bodies. Definitions are small.
const maxBodyBytes = 1 << 20

// Manager is the command surface the API serves.
type Manager interface {
	Launch(ctx context.Context, def pipeline.Definition) (string, error)
	Abort(ctx context.Context, id string) error
	Escalate(ctx context.Context, id, reason string) error
	ResumeFromEscalation(ctx context.Context, id string, d pipeline.Decision) error
	Get(id string) (*pipeline.Pipeline, error)
	List(statuses ...pipeline.Status) []*pipeline.Pipeline
	Delete(ctx context.Context, id string) error
}

// Server routes API requests to a Manager.
type Server struct {
	manager Manager
	bus     *event.Bus
	logger  *logging.Logger
	router  chi.Router

	heartbeat time.Duration
	http      *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithHeartbeat sets how often idle event streams receive a keep-alive comment.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// New creates a Server. bus may be nil, in which case the event stream
// endpoint reports 503.
func New(manager Manager, bus *event.Bus, logger *logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		manager:   manager,
		bus:       bus,
		logger:    logger.WithComponent("server"),
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)

		r.Route("/pipelines", func(r chi.Router) {
			r.Post("/", s.handleLaunch)
			r.Get("/", s.handleList)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Delete("/", s.handleDelete)
				r.Post("/abort", s.handleAbort)
				r.Post("/resume", s.handleResume)
				r.Post("/escalate", s.handleEscalate)
				r.Get("/events", s.handleEvents)
			})
		})
	})
	return r
}

// ListenAndServe serves the API on addr until ctx is canceled, then shuts
// the listener down gracefully. Open event streams are closed by ctx.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()
	s.logger.Info("api listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("api stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
