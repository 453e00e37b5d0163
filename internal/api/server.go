// File: internal/api/server.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/palmtree/internal/agent"
	"github.com/xkilldash9x/palmtree/internal/config"
	"github.com/xkilldash9x/palmtree/internal/metrics"
	"github.com/xkilldash9x/palmtree/internal/progress"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TaskService is the engine surface the API drives.
type TaskService interface {
	Run(ctx context.Context, instruction string) (*agent.TaskResult, error)
	Submit(instruction string) (*agent.Task, error)
	Get(ctx context.Context, id string) (*agent.TaskResult, error)
	Cancel(id string) error
}

// TaskLister lists persisted tasks.
type TaskLister interface {
	ListTasks(ctx context.Context, limit int) ([]agent.TaskResult, error)
}

// Dependencies are the components behind the API. Tasks and Status are
// required; the rest are optional.
type Dependencies struct {
	Tasks   TaskService
	Status  progress.Reader
	History TaskLister
	Metrics *metrics.Collector
}

// Server hosts the status and task HTTP API.
type Server struct {
	cfg        config.ServerConfig
	logger     *zap.Logger
	handlers   *Handlers
	hub        *StatusHub
	metrics    *metrics.Collector
	limiter    *rate.Limiter
	httpServer *http.Server
}

// NewServer wires the handlers and the status hub.
func NewServer(cfg config.ServerConfig, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.Tasks == nil {
		return nil, errors.New("api server requires a task service")
	}
	if deps.Status == nil {
		return nil, errors.New("api server requires a status reader")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("api"),
		handlers: NewHandlers(logger, deps.Tasks, deps.Status, deps.History),
		hub:      NewStatusHub(deps.Status, cfg.StatusPollInterval, logger),
		metrics:  deps.Metrics,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s, nil
}

// Hub exposes the status hub so the caller can run it.
func (s *Server) Hub() *StatusHub { return s.hub }

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// WebSocket routes stay outside the request timeout and access logging.
	r.Get("/ws/v1/status", s.hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(s.accessLog)
		r.Use(s.instrument)
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}

		r.Get("/healthz", s.handlers.HandleHealthCheck)
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", s.handlers.HandleStatus)
			r.Get("/tasks", s.handlers.HandleListTasks)
			r.Get("/tasks/{taskID}", s.handlers.HandleGetTask)
			r.Delete("/tasks/{taskID}", s.handlers.HandleCancelTask)

			r.Group(func(r chi.Router) {
				r.Use(s.rateLimit)
				r.Post("/chat", s.handlers.HandleChat)
				r.Post("/tasks", s.handlers.HandleSubmitTask)
			})
		})
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully. The status
// hub runs for the lifetime of the server.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening.", zap.String("addr", ln.Addr().String()))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopHub()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}
