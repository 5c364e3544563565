package protocol

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"math"
)

// Batch heuristic bounds.
const (
	maxBatchMouseDelta  = 1000
	maxBatchScrollDelta = 100
)

// BatchEvent is one sub-event recovered from a BATCH payload. Payload holds
// exactly the bytes of the sub-event and decodes with the single-message
// type named by Type.
type BatchEvent struct {
	Type    MsgType
	Offset  int
	Payload []byte
}

// BatchResult is the outcome of DecodeBatch.
type BatchResult struct {
	// Declared is the event_count byte.
	Declared int
	Events   []BatchEvent
	// Skipped counts bytes discarded during resynchronisation.
	Skipped int
	// Truncated is set when the payload ran out before Declared iterations.
	Truncated bool
}

// DecodeBatch splits a BATCH payload (event_count:u8 followed by untagged
// sub-events) into individual events.
//
// At every offset the interpretations are tried in a fixed order and the
// first one whose predicate holds wins:
//
//  1. BUTTON (5 bytes) when the control code is a button
//  2. AXIS (6 bytes) when the control code is an axis
//  3. MOUSE_MOVE (4 bytes) when both deltas lie within ±1000
//  4. MOUSE_BUTTON (3 bytes) when the code is one of the mouse button codes
//  5. MOUSE_SCROLL (4 bytes) when a value is nonzero and both lie within ±100
//
// When nothing matches a single byte is dropped. Each attempt, successful or
// not, uses up one of the event_count iterations.
func DecodeBatch(payload []byte) (BatchResult, error) {
	if len(payload) < 1 {
		return BatchResult{}, shortPayload("BATCH")
	}
	res := BatchResult{Declared: int(payload[0])}
	n := len(payload)
	off := 1
	for i := 0; i < res.Declared; i++ {
		if off >= n {
			res.Truncated = true
			break
		}
		typ, size := matchBatchEvent(payload[off:])
		if size == 0 {
			res.Skipped++
			off++
			continue
		}
		res.Events = append(res.Events, BatchEvent{
			Type:    typ,
			Offset:  off,
			Payload: payload[off : off+size],
		})
		off += size
	}
	return res, nil
}

func matchBatchEvent(b []byte) (MsgType, int) {
	if len(b) >= ButtonSize {
		if _, ok := LookupKind(binary.LittleEndian.Uint16(b[2:]), KindButton); ok {
			return MsgButton, ButtonSize
		}
	}
	if len(b) >= AxisSize {
		if _, ok := LookupKind(binary.LittleEndian.Uint16(b[2:]), KindAxis); ok {
			return MsgAxis, AxisSize
		}
	}
	if len(b) >= MouseMoveSize {
		dx, dy := readI16Pair(b)
		if absInt(dx) <= maxBatchMouseDelta && absInt(dy) <= maxBatchMouseDelta {
			return MsgMouseMove, MouseMoveSize
		}
	}
	if len(b) >= MouseButtonSize {
		if IsMouseButton(binary.LittleEndian.Uint16(b[0:])) {
			return MsgMouseButton, MouseButtonSize
		}
	}
	if len(b) >= MouseScrollSize {
		x, y := readI16Pair(b)
		if (x != 0 || y != 0) && absInt(x) <= maxBatchScrollDelta && absInt(y) <= maxBatchScrollDelta {
			return MsgMouseScroll, MouseScrollSize
		}
	}
	return 0, 0
}

func readI16Pair(b []byte) (int, int) {
	return int(int16(binary.LittleEndian.Uint16(b[0:]))), int(int16(binary.LittleEndian.Uint16(b[2:])))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// EncodeBatch concatenates sub-events into a BATCH payload. Only *Button,
// *Axis, *MouseMove, *MouseButton and *MouseScroll are accepted. No type tag
// is written, so the receiver may interpret ambiguous sequences differently.
func EncodeBatch(events ...encoding.BinaryMarshaler) ([]byte, error) {
	if len(events) > math.MaxUint8 {
		return nil, ErrTooManyBatchEvents
	}
	out := []byte{byte(len(events))}
	for i, ev := range events {
		switch ev.(type) {
		case *Button, *Axis, *MouseMove, *MouseButton, *MouseScroll:
		default:
			return nil, fmt.Errorf("batch event %d (%T): %w", i, ev, errUnknownBatchPayload)
		}
		b, err := ev.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("batch event %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}
