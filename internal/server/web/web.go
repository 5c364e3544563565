// Package web serves the HTTP surface: the WebSocket transport, Prometheus
// metrics and a JSON view of live devices and sessions.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/librepad/librepad/internal/registry"
	"github.com/librepad/librepad/internal/server/udp"
)

type Config struct {
	Addr string `help:"HTTP listen address for /ws, /metrics and /devices (empty disables)" default:":8765" env:"LIBREPAD_WEB_ADDR"`
}

// Registry is the read-only registry view served by /devices.
type Registry interface {
	Available() []string
	Snapshot() []registry.Entry
}

// SessionLister is implemented by the UDP server.
type SessionLister interface {
	Sessions() []udp.SessionInfo
}

// Devices is the /devices response body.
type Devices struct {
	Available []string          `json:"available"`
	Live      []registry.Entry  `json:"live"`
	Sessions  []udp.SessionInfo `json:"sessions"`
}

// Deps wires the handlers. Nil members disable their route.
type Deps struct {
	Registry Registry
	Sessions SessionLister
	WS       http.Handler
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	if d.WS != nil {
		r.Handle("/ws", d.WS)
	}
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	if d.Registry != nil {
		r.Get("/devices", devicesHandler(d.Registry, d.Sessions, logger))
	}
	return r
}

func devicesHandler(reg Registry, sessions SessionLister, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := Devices{
			Available: reg.Available(),
			Live:      reg.Snapshot(),
			Sessions:  []udp.SessionInfo{},
		}
		if sessions != nil {
			if s := sessions.Sessions(); s != nil {
				body.Sessions = s
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logger.Warn("Failed to write /devices response", "error", err)
		}
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path,
				"status", ww.Status(), "remote", r.RemoteAddr, "duration", time.Since(start))
		})
	}
}

// Server runs the router on its own listener.
type Server struct {
	config  Config
	handler http.Handler
	logger  *slog.Logger

	mu   sync.Mutex
	http *http.Server
	ln   net.Listener
}

func New(config Config, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{config: config, handler: handler, logger: logger}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.http = &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Unlock()
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve blocks until Shutdown. Listen must have succeeded.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv, ln := s.http, s.ln
	s.mu.Unlock()
	if srv == nil {
		return errors.New("web server is not listening")
	}
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
