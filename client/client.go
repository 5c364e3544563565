// Package client speaks the LibrePad UDP control protocol from the
// controller side.
package client

import (
	"encoding"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/librepad/librepad/protocol"
)

var ErrTimeout = errors.New("timed out waiting for server")

// ServerError is an ERROR frame received from the server.
type ServerError struct {
	Code    uint16
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error 0x%04x: %s", e.Code, e.Message)
}

type Client struct {
	conn    *net.UDPConn
	session atomic.Uint32
	seq     atomic.Uint32
	timeout time.Duration

	// readMu serialises receivers.
	readMu sync.Mutex
	buf    []byte
}

type Option func(*Client)

// WithTimeout bounds every wait for a server reply. Default one second.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Dial opens a UDP socket connected to addr.
func Dial(addr string, opts ...Option) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, timeout: time.Second, buf: make([]byte, 2048)}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// SessionID is the id assigned by the last WELCOME, or set with SetSessionID.
func (c *Client) SessionID() uint32 { return c.session.Load() }

func (c *Client) SetSessionID(id uint32) { c.session.Store(id) }

// Send writes one frame with the current session id and the next seq.
func (c *Client) Send(typ protocol.MsgType, flags uint16, timestamp uint64, payload []byte) (uint32, error) {
	seq := c.seq.Add(1)
	h := protocol.Header{
		Version:   protocol.Version,
		Type:      typ,
		Flags:     flags,
		SessionID: c.SessionID(),
		Seq:       seq,
	}
	_, err := c.conn.Write(protocol.Frame(h, timestamp, payload))
	return seq, err
}

// SendRaw writes b unchanged.
func (c *Client) SendRaw(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

func (c *Client) sendMsg(typ protocol.MsgType, m encoding.BinaryMarshaler) error {
	payload, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.Send(typ, 0, 0, payload)
	return err
}

// Receive reads the next frame, waiting at most the client timeout.
func (c *Client) Receive() (protocol.Packet, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return protocol.Packet{}, err
	}
	n, err := c.conn.Read(c.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return protocol.Packet{}, ErrTimeout
		}
		return protocol.Packet{}, err
	}
	data := make([]byte, n)
	copy(data, c.buf[:n])
	return protocol.ParsePacket(data)
}

// Expect reads frames until one of type typ arrives. An ERROR frame ends
// the wait with a *ServerError.
func (c *Client) Expect(typ protocol.MsgType) (protocol.Packet, error) {
	for {
		p, err := c.Receive()
		if err != nil {
			return protocol.Packet{}, err
		}
		if p.Type == typ {
			return p, nil
		}
		if p.Type == protocol.MsgError {
			var e protocol.ErrorPayload
			if err := e.UnmarshalBinary(p.Payload); err != nil {
				return p, err
			}
			return p, &ServerError{Code: e.Code, Message: e.Message}
		}
	}
}

// Hello opens a session and records the assigned id.
func (c *Client) Hello(name string, caps ...byte) (protocol.Welcome, error) {
	if err := c.sendMsg(protocol.MsgHello, &protocol.Hello{Caps: caps, Name: name}); err != nil {
		return protocol.Welcome{}, err
	}
	p, err := c.Expect(protocol.MsgWelcome)
	if err != nil {
		return protocol.Welcome{}, err
	}
	var w protocol.Welcome
	if err := w.UnmarshalBinary(p.Payload); err != nil {
		return protocol.Welcome{}, err
	}
	c.SetSessionID(w.SessionID)
	return w, nil
}

// Connect requests a device without waiting for the outcome.
func (c *Client) Connect(deviceType, displayName string) error {
	return c.sendMsg(protocol.MsgConnect, &protocol.Connect{DeviceType: deviceType, DisplayName: displayName})
}

// ConnectWait requests a device and waits for the STATUS or ERROR reply.
func (c *Client) ConnectWait(deviceType, displayName string) (protocol.Status, error) {
	if err := c.Connect(deviceType, displayName); err != nil {
		return protocol.Status{}, err
	}
	p, err := c.Expect(protocol.MsgStatus)
	if err != nil {
		return protocol.Status{}, err
	}
	var st protocol.Status
	err = st.UnmarshalBinary(p.Payload)
	return st, err
}

// Ping measures the round trip using the timestamp extension.
func (c *Client) Ping() (time.Duration, error) {
	sent := time.Now()
	seq, err := c.Send(protocol.MsgPing, protocol.FlagHasTimestamp, uint64(sent.UnixNano()), nil)
	if err != nil {
		return 0, err
	}
	for {
		p, err := c.Expect(protocol.MsgPong)
		if err != nil {
			return 0, err
		}
		if p.Seq == seq {
			return time.Since(sent), nil
		}
	}
}

func (c *Client) Disconnect() error {
	_, err := c.Send(protocol.MsgDisconnect, 0, 0, nil)
	return err
}

// End closes the session on the server.
func (c *Client) End() error {
	_, err := c.Send(protocol.MsgSessionEnd, 0, 0, nil)
	return err
}

func (c *Client) Button(code uint16, pressed bool) error {
	return c.sendMsg(protocol.MsgButton, &protocol.Button{Code: code, Pressed: pressed})
}

func (c *Client) Axis(code uint16, value int16) error {
	return c.sendMsg(protocol.MsgAxis, &protocol.Axis{Code: code, Value: value})
}

func (c *Client) MouseMove(dx, dy int16) error {
	return c.sendMsg(protocol.MsgMouseMove, &protocol.MouseMove{DX: dx, DY: dy})
}

func (c *Client) MouseButton(code uint16, pressed bool) error {
	return c.sendMsg(protocol.MsgMouseButton, &protocol.MouseButton{Code: code, Pressed: pressed})
}

func (c *Client) MouseScroll(x, y int16) error {
	return c.sendMsg(protocol.MsgMouseScroll, &protocol.MouseScroll{X: x, Y: y})
}

// Batch sends events in one BATCH frame. The server recovers event
// boundaries heuristically; see protocol.DecodeBatch.
func (c *Client) Batch(events ...encoding.BinaryMarshaler) error {
	payload, err := protocol.EncodeBatch(events...)
	if err != nil {
		return err
	}
	_, err = c.Send(protocol.MsgBatch, 0, 0, payload)
	return err
}
