// Package httpapi exposes stored index prices over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pricefeed/pricefeed/internal/config"
	"github.com/pricefeed/pricefeed/internal/metrics"
	"github.com/pricefeed/pricefeed/internal/storage"
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wire the router to its collaborators. Health and Metrics are optional.
type Options struct {
	Prefix  string
	Reader  storage.PriceReader
	Health  Pinger
	Metrics *metrics.Metrics
}

// NewRouter builds the query API router.
func NewRouter(opts Options, logger zerolog.Logger) http.Handler {
	h := &handlers{
		reader: opts.Reader,
		health: opts.Health,
		logger: logger.With().Str("component", "httpapi").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", h.healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	prefix := "/" + strings.Trim(opts.Prefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	r.Route(prefix+"/prices", func(r chi.Router) {
		r.Get("/all", h.allPrices)
		r.Get("/last", h.lastPrice)
		r.Get("/lastAtTime", h.lastPriceAtTime)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

// Server owns the HTTP listener lifecycle.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer wraps handler in an http.Server configured from cfg.
func NewServer(cfg config.HTTPConfig, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		logger: logger.With().Str("component", "http_server").Logger(),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("query api listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	s.logger.Info().Msg("query api stopped")
	return nil
}
