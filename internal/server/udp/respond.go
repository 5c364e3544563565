package udp

import (
	"context"
	"net"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/librepad/librepad/internal/log"
	"github.com/librepad/librepad/protocol"
)

func (s *Server) send(addr *net.UDPAddr, h protocol.Header, timestamp uint64, payload []byte, note string) {
	h.Version = protocol.Version
	frame := protocol.Frame(h, timestamp, payload)

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return
	}
	if _, err := conn.WriteToUDP(frame, addr); err != nil {
		s.logger.Error("Failed to send frame", "remote", addr.String(), "type", h.Type.String(), "error", err)
		return
	}
	s.raw.Log(false, addr, frame)
	s.capture.Record(log.CaptureEvent{
		Timestamp: s.now(),
		Direction: log.DirectionOut,
		Remote:    addr.String(),
		SessionID: h.SessionID,
		MsgType:   uint8(h.Type),
		Frame:     frame,
		Note:      note,
	})
	s.metrics.PacketSent(h.Type.String())
}

func (s *Server) sendWelcome(addr *net.UDPAddr, sessionID, seq uint32) {
	w := protocol.DefaultWelcome(sessionID)
	payload, err := w.MarshalBinary()
	if err != nil {
		s.logger.Error("Failed to encode WELCOME", "error", err)
		return
	}
	s.send(addr, protocol.Header{Type: protocol.MsgWelcome, SessionID: sessionID, Seq: seq}, 0, payload, "")
}

// sendPong echoes session id, seq and flags of the PING, including the
// timestamp extension when it was flagged.
func (s *Server) sendPong(addr *net.UDPAddr, ping protocol.Packet) {
	h := protocol.Header{
		Type:      protocol.MsgPong,
		Flags:     ping.Flags,
		SessionID: ping.SessionID,
		Seq:       ping.Seq,
	}
	s.send(addr, h, ping.Timestamp, nil, "")
}

func (s *Server) sendStatus(addr *net.UDPAddr, sessionID uint32, code uint16, msg string) {
	st := protocol.Status{Code: code, Message: msg}
	payload, _ := st.MarshalBinary()
	s.send(addr, protocol.Header{Type: protocol.MsgStatus, SessionID: sessionID}, 0, payload, msg)
}

// sendError replies with an ERROR frame and marks the datagram's span failed.
func (s *Server) sendError(ctx context.Context, addr *net.UDPAddr, sessionID uint32, kind protocol.ErrorKind, msg string) {
	trace.SpanFromContext(ctx).SetStatus(codes.Error, string(kind)+": "+msg)
	e := protocol.ErrorPayload{Code: protocol.ErrorCodeFor(kind), Message: msg}
	payload, _ := e.MarshalBinary()
	s.send(addr, protocol.Header{Type: protocol.MsgError, SessionID: sessionID}, 0, payload, string(kind))
	s.metrics.ErrorSent(string(kind))
}
