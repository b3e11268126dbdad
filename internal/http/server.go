package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sqlci/internal/config"
)

// Options configures the HTTP host.
type Options struct {
	Addr string
	// DeployTimeout bounds a single deployment started over HTTP. Zero means
	// no limit.
	DeployTimeout time.Duration
}

type Server struct {
	opts    Options
	logger  *slog.Logger
	project config.Project

	// deploying serializes deployments; a second request gets 409.
	deploying sync.Mutex
}

func New(opts Options, logger *slog.Logger, project config.Project) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{opts: opts, logger: logger, project: project}
}

func (s *Server) Start(ctx context.Context) error {
	writeTimeout := 30 * time.Second
	if s.opts.DeployTimeout > 0 {
		writeTimeout += s.opts.DeployTimeout
	} else {
		writeTimeout = 0
	}
	httpServer := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.opts.Addr, "environments", len(s.project.Environments))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.logger))

	h := &EnvironmentHandler{server: s}

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(read chi.Router) {
			read.Use(middleware.Timeout(60 * time.Second))
			read.Method(http.MethodGet, "/health", HealthHandler{Project: s.project})
			read.Get("/environments", h.List)
			read.Get("/environments/{env}/history", h.History)
		})

		// Deployments run past the read timeout and are bounded by
		// Options.DeployTimeout instead.
		api.Post("/environments/{env}/deploy", h.Deploy)
	})

	return r
}
