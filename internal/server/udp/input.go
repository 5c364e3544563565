package udp

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/librepad/librepad/device"
	"github.com/librepad/librepad/internal/metrics"
	"github.com/librepad/librepad/protocol"
)

// applyInput decodes one input payload and applies it to the session's
// bound device. Nothing is ever sent back: unknown sessions, missing
// devices, malformed payloads and device errors are logged and dropped.
// Unknown or kind-mismatched control codes are silently ignored.
func (s *Server) applyInput(sessionID uint32, typ protocol.MsgType, payload []byte) {
	sess := s.sessions.get(sessionID)
	if sess == nil {
		s.logger.Warn("Input for unknown session", "session", sessionID, "type", typ.String())
		s.metrics.Dropped(metrics.DropUnknownSession)
		return
	}
	dev := sess.device
	if dev == nil {
		s.logger.Warn("Input without a connected device", "session", sessionID, "type", typ.String())
		s.metrics.Dropped(metrics.DropNoDevice)
		return
	}

	var err error
	switch typ {
	case protocol.MsgButton:
		err = s.applyButton(dev, payload)
	case protocol.MsgAxis:
		err = s.applyAxis(dev, payload)
	case protocol.MsgMouseMove:
		err = s.applyMouseMove(dev, payload)
	case protocol.MsgMouseButton:
		err = s.applyMouseButton(dev, payload)
	case protocol.MsgMouseScroll:
		err = s.applyMouseScroll(dev, payload)
	}
	if err != nil {
		s.logger.Warn("Input dropped", "session", sessionID, "type", typ.String(), "error", err)
		s.metrics.Dropped(metrics.DropDeviceError)
	}
}

func (s *Server) applyButton(dev device.Device, payload []byte) error {
	var m protocol.Button
	if err := m.UnmarshalBinary(payload); err != nil {
		return err
	}
	name, ok := protocol.LookupKind(m.Code, protocol.KindButton)
	if !ok {
		s.logger.Debug("Ignoring control code", "code", m.Code, "expected", protocol.KindButton.String())
		return nil
	}
	return dev.SetButton(name, m.Pressed)
}

func (s *Server) applyAxis(dev device.Device, payload []byte) error {
	var m protocol.Axis
	if err := m.UnmarshalBinary(payload); err != nil {
		return err
	}
	name, ok := protocol.LookupKind(m.Code, protocol.KindAxis)
	if !ok {
		s.logger.Debug("Ignoring control code", "code", m.Code, "expected", protocol.KindAxis.String())
		return nil
	}
	return dev.SetAxis(name, m.Normalized())
}

// applyMouseMove prefers the relative-move capability and falls back to
// the "dx"/"dy" axes for each nonzero component.
func (s *Server) applyMouseMove(dev device.Device, payload []byte) error {
	var m protocol.MouseMove
	if err := m.UnmarshalBinary(payload); err != nil {
		return err
	}
	if mover, ok := dev.(device.RelativeMover); ok {
		return mover.MoveRelative(int(m.DX), int(m.DY))
	}
	if m.DX != 0 {
		if err := dev.SetAxis("dx", float64(m.DX)); err != nil {
			return err
		}
	}
	if m.DY != 0 {
		return dev.SetAxis("dy", float64(m.DY))
	}
	return nil
}

func (s *Server) applyMouseButton(dev device.Device, payload []byte) error {
	var m protocol.MouseButton
	if err := m.UnmarshalBinary(payload); err != nil {
		return err
	}
	name, ok := protocol.LookupKind(m.Code, protocol.KindButton)
	if !ok {
		s.logger.Debug("Ignoring control code", "code", m.Code, "expected", protocol.KindButton.String())
		return nil
	}
	return dev.SetButton(name, m.Pressed)
}

// applyMouseScroll sends vertical scroll through the Scroller capability
// when present and horizontal scroll as the "hwheel" axis.
func (s *Server) applyMouseScroll(dev device.Device, payload []byte) error {
	var m protocol.MouseScroll
	if err := m.UnmarshalBinary(payload); err != nil {
		return err
	}
	if m.Y != 0 {
		if sc, ok := dev.(device.Scroller); ok {
			if err := sc.Scroll(int(m.Y)); err != nil {
				return err
			}
		} else if err := dev.SetAxis("wheel", float64(m.Y)); err != nil {
			return err
		}
	}
	if m.X != 0 {
		return dev.SetAxis("hwheel", float64(m.X))
	}
	return nil
}

// handleBatch splits the payload and applies every recovered sub-event
// exactly as the matching single message.
func (s *Server) handleBatch(ctx context.Context, pkt protocol.Packet) {
	if s.sessions.get(pkt.SessionID) == nil {
		s.logger.Warn("BATCH for unknown session", "session", pkt.SessionID)
		s.metrics.Dropped(metrics.DropUnknownSession)
		return
	}
	res, err := protocol.DecodeBatch(pkt.Payload)
	if err != nil {
		s.logger.Warn("Invalid BATCH", "session", pkt.SessionID, "error", err)
		s.metrics.Dropped(metrics.DropMalformed)
		return
	}
	if res.Skipped > 0 {
		s.logger.Warn("Could not parse batched bytes", "session", pkt.SessionID, "skipped", res.Skipped)
	}
	if res.Truncated {
		s.logger.Warn("Batch payload truncated", "session", pkt.SessionID, "decoded", len(res.Events), "declared", res.Declared)
	}
	for _, ev := range res.Events {
		s.applyInput(pkt.SessionID, ev.Type, ev.Payload)
	}
	s.metrics.ObserveBatch(len(res.Events))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("librepad.batch.declared", res.Declared),
		attribute.Int("librepad.batch.events", len(res.Events)),
		attribute.Int("librepad.batch.skipped", res.Skipped),
	)
	s.logger.Debug("Processed batch", "session", pkt.SessionID, "events", len(res.Events),
		"declared", res.Declared, "size", len(pkt.Payload))
}
