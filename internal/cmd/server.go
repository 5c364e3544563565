package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/librepad/librepad/internal/discovery"
	"github.com/librepad/librepad/internal/log"
	"github.com/librepad/librepad/internal/metrics"
	"github.com/librepad/librepad/internal/registry"
	"github.com/librepad/librepad/internal/server/udp"
	"github.com/librepad/librepad/internal/server/web"
	"github.com/librepad/librepad/internal/server/ws"
)

type Server struct {
	UDP             udp.ServerConfig `embed:"" prefix:"udp."`
	Web             web.Config       `embed:"" prefix:"web."`
	WS              ws.Config        `embed:"" prefix:"ws."`
	Discovery       discovery.Config `embed:"" prefix:"discovery."`
	ShutdownTimeout time.Duration    `help:"Time allowed for HTTP connections to drain on shutdown" default:"5s" env:"LIBREPAD_SHUTDOWN_TIMEOUT"`
}

// Run is called by Kong when the server command is executed.
func (s *Server) Run(logger *slog.Logger, rawLogger log.RawLogger, capture log.Capture) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.StartServer(ctx, logger, rawLogger, capture, nil)
}

// StartServer runs every configured listener until ctx is cancelled. A nil
// promReg gets a fresh registry with the Go and process collectors.
func (s *Server) StartServer(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger, capture log.Capture, promReg *prometheus.Registry) error {
	if promReg == nil {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(promReg)
	reg := registry.NewDefault(logger, registry.WithObserver(m.DeviceClients))
	logger.Info("Device types available", "types", reg.Available())

	udpSrv := udp.New(s.UDP, reg, logger,
		udp.WithRawLogger(rawLogger),
		udp.WithCapture(capture),
		udp.WithMetrics(m),
	)
	udpErrCh := make(chan error, 1)
	go func() {
		udpErrCh <- udpSrv.ListenAndServe()
	}()
	select {
	case err := <-udpErrCh:
		return fmt.Errorf("UDP server: %w", err)
	case <-udpSrv.Ready():
	}

	var (
		webSrv   *web.Server
		wsH      *ws.Handler
		webErrCh = make(chan error, 1)
	)
	if s.Web.Addr != "" {
		wsH = ws.NewHandler(s.WS, reg, logger, ws.WithMetrics(m))
		router := web.NewRouter(web.Deps{
			Registry: reg,
			Sessions: udpSrv,
			WS:       wsH,
			Gatherer: promReg,
			Logger:   logger,
		})
		webSrv = web.New(s.Web, router, logger)
		if err := webSrv.Listen(); err != nil {
			_ = udpSrv.Close()
			<-udpErrCh
			return fmt.Errorf("HTTP server: %w", err)
		}
		go func() { webErrCh <- webSrv.Serve() }()
	} else {
		logger.Info("HTTP server disabled")
	}

	if s.Discovery.Enabled {
		adv := discovery.NewAdvertiser(s.Discovery)
		port := udpSrv.Addr().(*net.UDPAddr).Port
		name, err := adv.Advertise(discovery.Info{Port: port, Devices: reg.Available()})
		if err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			logger.Info("Advertising over mDNS", "instance", name, "service", discovery.ServiceType, "port", port)
			defer adv.Stop()
		}
	}

	var (
		runErr  error
		udpDone bool
	)
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-udpErrCh:
		runErr, udpDone = err, true
	case err := <-webErrCh:
		runErr = fmt.Errorf("HTTP server: %w", err)
	}

	if webSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		if err := webSrv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("HTTP shutdown", "error", err)
		}
		cancel()
		wsH.Close()
	}
	_ = udpSrv.Close()
	if !udpDone {
		<-udpErrCh
	}
	return runErr
}
