// Package udp implements the LibrePad UDP control protocol server.
//
// One reader goroutine hands datagrams to a single dispatch loop that owns
// the session table. Device acquisition for CONNECT and device release run
// in background tasks whose results are posted back to the loop, so a slow
// registry never stalls packet processing.
package udp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/librepad/librepad/device"
	"github.com/librepad/librepad/internal/log"
	"github.com/librepad/librepad/internal/metrics"
)

const tracerName = "github.com/librepad/librepad/internal/server/udp"

// Registry is the device registry contract the server depends on.
type Registry interface {
	Acquire(typ, displayName string) (device.Device, error)
	Release(typ string)
}

type datagram struct {
	data []byte
	addr *net.UDPAddr
}

// completion is the outcome of a background CONNECT acquisition.
type completion struct {
	sessionID uint32
	addr      *net.UDPAddr
	typ       string
	dev       device.Device
	err       error
}

type Server struct {
	config   ServerConfig
	registry Registry
	logger   *slog.Logger
	raw      log.RawLogger
	capture  log.Capture
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time

	sessions    *sessionTable
	inbox       chan datagram
	completions chan completion
	tasks       sync.WaitGroup

	conn      *net.UDPConn
	connMu    sync.RWMutex
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
}

type Option func(*Server)

// WithRawLogger dumps every datagram in and out.
func WithRawLogger(r log.RawLogger) Option {
	return func(s *Server) { s.raw = r }
}

// WithCapture records every frame in and out.
func WithCapture(c log.Capture) Option {
	return func(s *Server) { s.capture = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

func New(config ServerConfig, registry Registry, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := config.withDefaults()
	s := &Server{
		config:      cfg,
		registry:    registry,
		logger:      logger,
		raw:         log.NewRaw(nil),
		capture:     log.NopCapture{},
		now:         time.Now,
		sessions:    newSessionTable(),
		inbox:       make(chan datagram, cfg.QueueSize),
		completions: make(chan completion),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// ListenAndServe binds the UDP socket and runs the dispatch loop until Close
// is called.
func (s *Server) ListenAndServe() error {
	defer close(s.loopDone)

	laddr, err := net.ResolveUDPAddr("udp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.config.Addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}
	if s.config.SocketBuffer > 0 {
		if err := conn.SetReadBuffer(s.config.SocketBuffer); err != nil {
			s.logger.Warn("Failed to set socket receive buffer", "size", s.config.SocketBuffer, "error", err)
		}
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("LibrePad UDP server listening", "addr", conn.LocalAddr().String())

	select {
	case <-s.done:
		// Close raced with startup.
		_ = conn.Close()
		return nil
	default:
	}

	go s.readLoop(conn)

	for {
		select {
		case dg := <-s.inbox:
			s.handleDatagram(dg)
		case c := <-s.completions:
			s.complete(c)
		case <-s.done:
			s.shutdown()
			s.logger.Info("LibrePad UDP server stopped")
			return nil
		}
	}
}

func (s *Server) readLoop(conn *net.UDPConn) {
	buf := make([]byte, s.config.ReadBufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("UDP read error", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case s.inbox <- datagram{data: data, addr: addr}:
		case <-s.done:
			return
		}
	}
}

// shutdown releases every bound device so the registry closes them.
func (s *Server) shutdown() {
	for _, sess := range s.sessions.drain() {
		if sess.device != nil && sess.deviceType != "" {
			s.releaseNow(sess.deviceType)
		}
	}
	s.metrics.SetSessions(0)
}

// Ready returns a channel that is closed once the socket is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Sessions returns a snapshot of the session table ordered by id.
func (s *Server) Sessions() []SessionInfo { return s.sessions.snapshot() }

// Close stops the server and waits for the loop and all background tasks.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()
		if conn != nil {
			err = conn.Close()
			<-s.loopDone
		}
		s.tasks.Wait()
	})
	return err
}

// goTask runs fn in the background; Close waits for it.
func (s *Server) goTask(fn func()) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn()
	}()
}
