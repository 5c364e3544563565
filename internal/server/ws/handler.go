// Package ws serves the JSON-over-WebSocket control transport. Each
// connection may hold one connected device and any number of devices
// acquired implicitly by input events; all of them are released when the
// connection closes.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/librepad/librepad/device"
	"github.com/librepad/librepad/internal/metrics"
)

// Registry is the device registry contract the transport depends on.
type Registry interface {
	Acquire(typ, displayName string) (device.Device, error)
	Release(typ string)
	Get(typ string) (device.Device, bool)
	Available() []string
}

type Handler struct {
	config   Config
	registry Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	active sync.WaitGroup
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(config Config, registry Registry, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		config:   config.withDefaults(),
		registry: registry,
		logger:   logger,
		conns:    make(map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Controllers connect from phones on the LAN, not from a browser origin we know.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &conn{
		h:      h,
		ws:     wsConn,
		logger: h.logger.With("remote", r.RemoteAddr),
		held:   make(map[string]int),
	}
	h.active.Add(1)
	defer h.active.Done()
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.WSConnOpened()
	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		h.metrics.WSConnClosed()
	}()

	c.serve()
}

// Close drops every open connection and waits until their devices are
// released. Hijacked connections are not covered by http.Server.Shutdown.
func (h *Handler) Close() {
	h.mu.Lock()
	for c := range h.conns {
		_ = c.ws.Close()
	}
	h.mu.Unlock()
	h.active.Wait()
}

type conn struct {
	h      *Handler
	ws     *websocket.Conn
	logger *slog.Logger

	// writeMu serialises data frames; control frames may interleave.
	writeMu sync.Mutex
	// device is the type bound with connect, empty when none.
	device string
	// held counts registry references taken by this connection per type.
	held map[string]int
}

func (c *conn) serve() {
	c.logger.Info("New WebSocket client")
	defer c.cleanup()

	cfg := c.h.config
	c.ws.SetReadLimit(cfg.ReadLimit)
	deadline := cfg.PingInterval + cfg.PongTimeout
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	stop := make(chan struct{})
	defer close(stop)
	go c.keepalive(stop)

	if err := c.writeJSON(newWelcome(c.h.registry.Available())); err != nil {
		c.logger.Warn("Failed to send welcome", "error", err)
		return
	}

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("WebSocket client disconnected")
			} else {
				c.logger.Info("WebSocket connection closed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))

		reply := c.handle(raw)
		if err := c.writeJSON(reply); err != nil {
			c.logger.Warn("Failed to write reply", "error", err)
			return
		}
	}
}

func (c *conn) keepalive(stop <-chan struct{}) {
	t := time.NewTicker(c.h.config.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.h.config.WriteTimeout)); err != nil {
				c.logger.Debug("Keepalive ping failed", "error", err)
				return
			}
		}
	}
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.config.WriteTimeout))
	return c.ws.WriteJSON(v)
}

func (c *conn) cleanup() {
	for typ, n := range c.held {
		for range n {
			c.h.registry.Release(typ)
		}
		c.logger.Info("Released device", "type", typ, "refs", n)
	}
	clear(c.held)
	c.device = ""
	_ = c.ws.Close()
}

func (c *conn) handle(raw []byte) Reply {
	if !json.Valid(raw) {
		return errorReply(CodeInvalidJSON, "Could not decode message as JSON")
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return errorReply(CodeInvalidMessage, err.Error())
	}
	reply, err := c.process(ev)
	if err != nil {
		c.logger.Warn("Failed to process message", "event", ev.Event, "error", err)
		return errorReply(CodeInvalidMessage, err.Error())
	}
	return reply
}

var (
	errAlreadyConnected = errors.New("already connected")
	errNotConnected     = errors.New("not connected")
)

func (c *conn) process(ev Event) (Reply, error) {
	switch ev.Event {
	case "":
		return Reply{}, errors.New("Message missing 'event' field")
	case "connect":
		return c.connect(ev)
	case "disconnect":
		return c.disconnect()
	case "rename":
		if c.device == "" {
			return Reply{}, fmt.Errorf("%w; call 'connect' first", errNotConnected)
		}
		if ev.Name == nil || *ev.Name == "" {
			return Reply{}, errors.New("Rename requires a 'name' string")
		}
		c.logger.Warn("Rename requested but device names are immutable", "type", c.device)
		return Reply{Type: "error", Message: "Device names cannot be changed after creation. Use 'name' in the connect event."}, nil
	case "button":
		if ev.Name == nil || ev.Pressed == nil {
			return Reply{}, errors.New("Button event requires 'name' and 'pressed'")
		}
		dev, err := c.target(ev)
		if err != nil {
			return Reply{}, err
		}
		if err := dev.SetButton(*ev.Name, *ev.Pressed); err != nil {
			return Reply{}, err
		}
		return okReply(), nil
	case "axis":
		if ev.Name == nil || ev.Value == nil {
			return Reply{}, errors.New("Axis event requires 'name' and 'value'")
		}
		dev, err := c.target(ev)
		if err != nil {
			return Reply{}, err
		}
		if err := dev.SetAxis(*ev.Name, *ev.Value); err != nil {
			return Reply{}, err
		}
		return okReply(), nil
	case "ping":
		return Reply{Type: "pong"}, nil
	default:
		return Reply{}, fmt.Errorf("Unsupported event '%s'", ev.Event)
	}
}

func (c *conn) connect(ev Event) (Reply, error) {
	if c.device != "" {
		return Reply{}, fmt.Errorf("%w to '%s'; disconnect first", errAlreadyConnected, c.device)
	}
	typ := DefaultDeviceType
	if ev.Device != nil && *ev.Device != "" {
		typ = *ev.Device
	}
	var name string
	if ev.Name != nil {
		name = *ev.Name
	}
	dev, err := c.h.registry.Acquire(typ, name)
	if err != nil {
		return Reply{}, err
	}
	c.held[typ]++
	c.device = typ
	c.logger.Info("Client connected to device", "type", typ, "name", dev.Name())
	return Reply{Type: "ok", Connected: typ, Name: dev.Name()}, nil
}

func (c *conn) disconnect() (Reply, error) {
	if c.device == "" {
		return Reply{}, fmt.Errorf("%w to any device", errNotConnected)
	}
	typ := c.device
	c.release(typ)
	c.device = ""
	c.logger.Info("Client disconnected from device", "type", typ)
	return okReply(), nil
}

func (c *conn) release(typ string) {
	if c.held[typ] == 0 {
		return
	}
	c.held[typ]--
	if c.held[typ] == 0 {
		delete(c.held, typ)
	}
	c.h.registry.Release(typ)
}

// target resolves the device an input event addresses: the explicit device
// field, else the connected device. A device that is not live is acquired
// and held until the connection closes.
func (c *conn) target(ev Event) (device.Device, error) {
	typ := c.device
	if ev.Device != nil && *ev.Device != "" {
		typ = *ev.Device
	}
	if typ == "" {
		return nil, fmt.Errorf("%w; call 'connect' first or specify 'device' in event", errNotConnected)
	}
	if dev, ok := c.h.registry.Get(typ); ok {
		return dev, nil
	}
	dev, err := c.h.registry.Acquire(typ, "")
	if err != nil {
		return nil, err
	}
	c.held[typ]++
	c.logger.Info("Auto-acquired device", "type", typ)
	return dev, nil
}
