package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a captured frame.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

func (d Direction) String() string {
	if d == DirectionOut {
		return "OUT"
	}
	return "IN"
}

// CaptureEvent is one protocol frame as seen on the wire.
// CBOR encoding uses integer keys for compactness.
type CaptureEvent struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	Direction Direction `cbor:"2,keyasint"`
	Remote    string    `cbor:"3,keyasint,omitempty"`
	SessionID uint32    `cbor:"4,keyasint,omitempty"`
	MsgType   uint8     `cbor:"5,keyasint"`
	Frame     []byte    `cbor:"6,keyasint"`
	// Note carries a drop reason or error detail.
	Note string `cbor:"7,keyasint,omitempty"`
}

// Capture records protocol frames.
type Capture interface {
	Record(ev CaptureEvent)
	Close() error
}

// NopCapture discards everything.
type NopCapture struct{}

func (NopCapture) Record(CaptureEvent) {}
func (NopCapture) Close() error        { return nil }

var (
	captureEncMode cbor.EncMode
	captureDecMode cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	captureEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture CBOR encoder mode: %v", err))
	}
	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	captureDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture CBOR decoder mode: %v", err))
	}
}

// EncodeCaptureEvent encodes ev to CBOR.
func EncodeCaptureEvent(ev CaptureEvent) ([]byte, error) {
	return captureEncMode.Marshal(ev)
}

// DecodeCaptureEvent decodes one CBOR-encoded event.
func DecodeCaptureEvent(data []byte) (CaptureEvent, error) {
	var ev CaptureEvent
	if err := captureDecMode.Unmarshal(data, &ev); err != nil {
		return CaptureEvent{}, err
	}
	return ev, nil
}

// StreamCapture writes a CBOR sequence of events to an io.Writer.
// It is safe for concurrent use.
type StreamCapture struct {
	mu     sync.Mutex
	w      io.Writer
	enc    *cbor.Encoder
	closer io.Closer
	closed bool
}

// NewStreamCapture encodes events onto w. Close closes w when it is an io.Closer.
func NewStreamCapture(w io.Writer) *StreamCapture {
	c := &StreamCapture{w: w, enc: captureEncMode.NewEncoder(w)}
	if cl, ok := w.(io.Closer); ok {
		c.closer = cl
	}
	return c
}

// OpenCaptureFile appends events to path, creating it if needed.
func OpenCaptureFile(path string) (*StreamCapture, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	return NewStreamCapture(f), nil
}

func (c *StreamCapture) Record(ev CaptureEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	// Capture must never disturb packet handling.
	_ = c.enc.Encode(ev)
}

// Close is safe to call more than once.
func (c *StreamCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

var _ Capture = (*StreamCapture)(nil)

// CaptureReader iterates over a capture stream.
type CaptureReader struct {
	dec    *cbor.Decoder
	closer io.Closer
}

func NewCaptureReader(r io.Reader) *CaptureReader {
	cr := &CaptureReader{dec: captureDecMode.NewDecoder(r)}
	if cl, ok := r.(io.Closer); ok {
		cr.closer = cl
	}
	return cr
}

// OpenCaptureReader opens a capture file for reading.
func OpenCaptureReader(path string) (*CaptureReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewCaptureReader(f), nil
}

// Next returns the next event or io.EOF.
func (r *CaptureReader) Next() (CaptureEvent, error) {
	var ev CaptureEvent
	if err := r.dec.Decode(&ev); err != nil {
		if errors.Is(err, io.EOF) {
			return CaptureEvent{}, io.EOF
		}
		return CaptureEvent{}, err
	}
	return ev, nil
}

func (r *CaptureReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
