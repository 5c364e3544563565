package udp

import (
	"context"
	"fmt"
	"net"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/librepad/librepad/device"
	"github.com/librepad/librepad/internal/log"
	"github.com/librepad/librepad/internal/metrics"
	"github.com/librepad/librepad/protocol"
)

func (s *Server) handleDatagram(dg datagram) {
	start := s.now()
	addr := dg.addr
	s.raw.Log(true, addr, dg.data)

	pkt, err := protocol.ParsePacket(dg.data)
	if err != nil {
		s.logger.Warn("Packet too small", "remote", addr.String(), "size", len(dg.data))
		s.capture.Record(log.CaptureEvent{Timestamp: start, Direction: log.DirectionIn, Remote: addr.String(), Frame: dg.data, Note: "short packet"})
		s.metrics.Dropped(metrics.DropMalformed)
		return
	}
	s.capture.Record(log.CaptureEvent{
		Timestamp: start,
		Direction: log.DirectionIn,
		Remote:    addr.String(),
		SessionID: pkt.SessionID,
		MsgType:   uint8(pkt.Type),
		Frame:     dg.data,
	})
	typeName := pkt.Type.String()
	s.metrics.PacketReceived(typeName)

	ctx, span := s.tracer.Start(context.Background(), "librepad.udp "+typeName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("librepad.msg_type", typeName),
			attribute.Int64("librepad.session_id", int64(pkt.SessionID)),
			attribute.Int64("librepad.seq", int64(pkt.Seq)),
			attribute.String("net.peer.addr", addr.String()),
		),
	)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while handling datagram", "remote", addr.String(), "type", typeName, "panic", r)
			s.sendError(ctx, addr, 0, protocol.ErrKindInternalError, fmt.Sprint(r))
		}
		span.End()
		s.metrics.ObserveDispatch(typeName, s.now().Sub(start))
	}()

	if pkt.Version != protocol.Version {
		s.logger.Warn("Unsupported protocol version", "remote", addr.String(), "version", pkt.Version)
		s.sendError(ctx, addr, 0, protocol.ErrKindUnsupportedVersion, "Protocol version not supported")
		return
	}

	s.sessions.touch(addr, start)
	s.dispatch(ctx, pkt, addr)
}

func (s *Server) dispatch(ctx context.Context, pkt protocol.Packet, addr *net.UDPAddr) {
	switch pkt.Type {
	case protocol.MsgHello:
		s.handleHello(ctx, pkt, addr)
	case protocol.MsgPing:
		s.sendPong(addr, pkt)
	case protocol.MsgConnect:
		s.handleConnect(ctx, pkt, addr)
	case protocol.MsgDisconnect:
		s.handleDisconnect(pkt.SessionID)
	case protocol.MsgButton, protocol.MsgAxis, protocol.MsgMouseMove, protocol.MsgMouseButton, protocol.MsgMouseScroll:
		s.applyInput(pkt.SessionID, pkt.Type, pkt.Payload)
	case protocol.MsgBatch:
		s.handleBatch(ctx, pkt)
	case protocol.MsgSessionEnd:
		s.handleSessionEnd(pkt.SessionID)
	default:
		s.logger.Warn("Unknown message type", "remote", addr.String(), "type", pkt.Type.String())
		s.sendError(ctx, addr, pkt.SessionID, protocol.ErrKindUnknownMessage,
			fmt.Sprintf("Message type 0x%02x not supported", uint8(pkt.Type)))
	}
}

func (s *Server) handleHello(ctx context.Context, pkt protocol.Packet, addr *net.UDPAddr) {
	var hello protocol.Hello
	if err := hello.UnmarshalBinary(pkt.Payload); err != nil {
		s.logger.Warn("Invalid HELLO", "remote", addr.String(), "error", err)
		s.sendError(ctx, addr, 0, protocol.ErrKindInvalidMessage, err.Error())
		return
	}
	sess := s.sessions.create(addr, hello.Capabilities(), hello.Name, s.now())
	s.metrics.SetSessions(s.sessions.len())
	s.logger.Info("New session", "session", sess.ID, "remote", addr.String(), "client", hello.Name,
		"caps", fmt.Sprintf("0x%02x", sess.Caps))
	s.sendWelcome(addr, sess.ID, pkt.Seq)
}

// handleConnect validates the request and starts the acquisition in the
// background. The result arrives later through complete.
func (s *Server) handleConnect(ctx context.Context, pkt protocol.Packet, addr *net.UDPAddr) {
	sess := s.sessions.get(pkt.SessionID)
	if sess == nil {
		s.sendError(ctx, addr, pkt.SessionID, protocol.ErrKindConnectFailed, "Unknown session")
		return
	}
	var req protocol.Connect
	if err := req.UnmarshalBinary(pkt.Payload); err != nil {
		s.sendError(ctx, addr, pkt.SessionID, protocol.ErrKindConnectFailed, err.Error())
		return
	}
	s.logger.Info("Session connecting", "session", sess.ID, "type", req.DeviceType, "name", req.DisplayName)

	c := completion{sessionID: sess.ID, addr: addr, typ: req.DeviceType}
	s.goTask(func() {
		c.dev, c.err = s.acquire(c.typ, req.DisplayName)
		select {
		case s.completions <- c:
		case <-s.done:
			if c.err == nil {
				s.releaseNow(c.typ)
			}
		}
	})
}

// acquire turns a panicking device constructor into an error so the client
// gets ConnectFailed.
func (s *Server) acquire(typ, displayName string) (dev device.Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while acquiring device", "type", typ, "panic", r)
			dev, err = nil, fmt.Errorf("device acquisition panicked: %v", r)
		}
	}()
	return s.registry.Acquire(typ, displayName)
}

func (s *Server) complete(c completion) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while completing connect", "session", c.sessionID, "type", c.typ, "panic", r)
			s.sendError(ctx, c.addr, c.sessionID, protocol.ErrKindInternalError, fmt.Sprint(r))
		}
	}()
	if c.err != nil {
		s.logger.Error("Device acquisition failed", "session", c.sessionID, "type", c.typ, "error", c.err)
		s.sendError(ctx, c.addr, c.sessionID, protocol.ErrKindConnectFailed, c.err.Error())
		return
	}
	sess := s.sessions.get(c.sessionID)
	if sess == nil {
		s.logger.Warn("Session ended before device was bound", "session", c.sessionID, "type", c.typ)
		s.release(c.typ)
		return
	}
	if sess.device != nil {
		if old := s.sessions.unbind(sess); old != "" {
			s.release(old)
		}
	}
	s.sessions.bind(sess, c.typ, c.dev)
	s.logger.Info("Session connected", "session", sess.ID, "type", c.typ, "name", c.dev.Name())
	s.sendStatus(c.addr, sess.ID, protocol.StatusDeviceConnected, "device connected")
}

// release drops a registry reference without blocking the loop.
func (s *Server) release(typ string) {
	s.goTask(func() { s.releaseNow(typ) })
}

// releaseNow drops a registry reference. A panicking Close is logged.
func (s *Server) releaseNow(typ string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while releasing device", "type", typ, "panic", r)
		}
	}()
	s.registry.Release(typ)
}

func (s *Server) handleDisconnect(sessionID uint32) {
	sess := s.sessions.get(sessionID)
	if sess == nil {
		return
	}
	if sess.device != nil {
		if typ := s.sessions.unbind(sess); typ != "" {
			s.release(typ)
		}
	}
	s.logger.Info("Session disconnected", "session", sessionID)
}

func (s *Server) handleSessionEnd(sessionID uint32) {
	sess := s.sessions.remove(sessionID)
	if sess == nil {
		return
	}
	if sess.device != nil && sess.deviceType != "" {
		s.release(sess.deviceType)
	}
	s.metrics.SetSessions(s.sessions.len())
	s.logger.Info("Session ended", "session", sessionID)
}
