package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// MsgType identifies the frame payload.
type MsgType uint8

const (
	MsgHello       MsgType = 0x01
	MsgWelcome     MsgType = 0x02
	MsgPing        MsgType = 0x03
	MsgPong        MsgType = 0x04
	MsgSessionEnd  MsgType = 0x05
	MsgConnect     MsgType = 0x10
	MsgDisconnect  MsgType = 0x11
	MsgButton      MsgType = 0x20
	MsgAxis        MsgType = 0x21
	MsgMouseMove   MsgType = 0x22
	MsgMouseButton MsgType = 0x23
	MsgKeyEvent    MsgType = 0x24 // reserved, not handled by the server
	MsgTextInput   MsgType = 0x25 // reserved, not handled by the server
	MsgMouseScroll MsgType = 0x26
	MsgError       MsgType = 0x30
	MsgStatus      MsgType = 0x32
	MsgBatch       MsgType = 0x40
)

func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "HELLO"
	case MsgWelcome:
		return "WELCOME"
	case MsgPing:
		return "PING"
	case MsgPong:
		return "PONG"
	case MsgSessionEnd:
		return "SESSION_END"
	case MsgConnect:
		return "CONNECT"
	case MsgDisconnect:
		return "DISCONNECT"
	case MsgButton:
		return "BUTTON"
	case MsgAxis:
		return "AXIS"
	case MsgMouseMove:
		return "MOUSE_MOVE"
	case MsgMouseButton:
		return "MOUSE_BUTTON"
	case MsgKeyEvent:
		return "KEY_EVENT"
	case MsgTextInput:
		return "TEXT_INPUT"
	case MsgMouseScroll:
		return "MOUSE_SCROLL"
	case MsgError:
		return "ERROR"
	case MsgStatus:
		return "STATUS"
	case MsgBatch:
		return "BATCH"
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}

func shortPayload(msg string) error {
	return fmt.Errorf("invalid %s payload: %w", msg, ErrShortPayload)
}

func decodeText(msg, field string, b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", fmt.Errorf("invalid %s %s: %w", msg, field, ErrInvalidUTF8)
	}
	return string(b), nil
}

func appendString8(dst []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint8 {
		return nil, ErrMessageTooLong
	}
	dst = append(dst, byte(len(s)))
	return append(dst, s...), nil
}

// Hello opens a session.
// Wire: caps_len:u16 | caps:[caps_len]u8 | name_len:u8 | name
type Hello struct {
	Caps []byte
	Name string
}

// Capabilities returns the first capability byte, the only one the server records.
func (m *Hello) Capabilities() uint8 {
	if len(m.Caps) == 0 {
		return 0
	}
	return m.Caps[0]
}

func (m *Hello) MarshalBinary() ([]byte, error) {
	if len(m.Caps) > math.MaxUint16 {
		return nil, ErrMessageTooLong
	}
	b := binary.LittleEndian.AppendUint16(nil, uint16(len(m.Caps)))
	b = append(b, m.Caps...)
	return appendString8(b, m.Name)
}

func (m *Hello) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return shortPayload("HELLO")
	}
	capsLen := int(binary.LittleEndian.Uint16(data[0:2]))
	if len(data) < 2+capsLen+1 {
		return shortPayload("HELLO")
	}
	m.Caps = append([]byte(nil), data[2:2+capsLen]...)
	offset := 2 + capsLen
	nameLen := int(data[offset])
	if len(data) < offset+1+nameLen {
		return fmt.Errorf("invalid HELLO client name length: %w", ErrShortPayload)
	}
	name, err := decodeText("HELLO", "client name", data[offset+1:offset+1+nameLen])
	if err != nil {
		return err
	}
	m.Name = name
	return nil
}

// WelcomeDevice is one entry of the WELCOME device catalogue.
type WelcomeDevice struct {
	Type string
	ID   uint16
}

// Welcome answers HELLO.
// Wire: session_id:u32 | caps_len:u16 | caps | dev_count:u8 | [type_len:u8 | type | device_id:u16]*
type Welcome struct {
	SessionID uint32
	Caps      []byte
	Devices   []WelcomeDevice
}

// DefaultWelcome is the fixed announcement the server sends to every client:
// the accepted capability set and a single "standard" device with id 0.
func DefaultWelcome(sessionID uint32) Welcome {
	return Welcome{
		SessionID: sessionID,
		Caps:      []byte{AcceptedCaps},
		Devices:   []WelcomeDevice{{Type: "standard", ID: 0}},
	}
}

func (m *Welcome) MarshalBinary() ([]byte, error) {
	if len(m.Devices) > math.MaxUint8 {
		return nil, ErrMessageTooLong
	}
	b := binary.LittleEndian.AppendUint32(nil, m.SessionID)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(m.Caps)))
	b = append(b, m.Caps...)
	b = append(b, byte(len(m.Devices)))
	var err error
	for _, d := range m.Devices {
		if b, err = appendString8(b, d.Type); err != nil {
			return nil, err
		}
		b = binary.LittleEndian.AppendUint16(b, d.ID)
	}
	return b, nil
}

func (m *Welcome) UnmarshalBinary(data []byte) error {
	if len(data) < 7 {
		return shortPayload("WELCOME")
	}
	m.SessionID = binary.LittleEndian.Uint32(data[0:4])
	capsLen := int(binary.LittleEndian.Uint16(data[4:6]))
	off := 6
	if len(data) < off+capsLen+1 {
		return shortPayload("WELCOME")
	}
	m.Caps = append([]byte(nil), data[off:off+capsLen]...)
	off += capsLen
	count := int(data[off])
	off++
	m.Devices = make([]WelcomeDevice, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < off+1 {
			return shortPayload("WELCOME")
		}
		n := int(data[off])
		if len(data) < off+1+n+2 {
			return shortPayload("WELCOME")
		}
		m.Devices = append(m.Devices, WelcomeDevice{
			Type: string(data[off+1 : off+1+n]),
			ID:   binary.LittleEndian.Uint16(data[off+1+n:]),
		})
		off += 1 + n + 2
	}
	return nil
}

// Connect asks the server to bind a device to the session.
// Wire: type_len:u8 | device_type | name_len:u8 | display_name
type Connect struct {
	DeviceType  string
	DisplayName string
}

func (m *Connect) MarshalBinary() ([]byte, error) {
	b, err := appendString8(nil, m.DeviceType)
	if err != nil {
		return nil, err
	}
	return appendString8(b, m.DisplayName)
}

// UnmarshalBinary decodes a CONNECT payload. A display name shorter than its
// declared length is truncated to the bytes present; an empty display name
// defaults to the device type.
func (m *Connect) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return shortPayload("CONNECT")
	}
	typeLen := int(data[0])
	if len(data) < 1+typeLen+1 {
		return shortPayload("CONNECT")
	}
	typ, err := decodeText("CONNECT", "device type", data[1:1+typeLen])
	if err != nil {
		return err
	}
	offset := 1 + typeLen
	nameLen := int(data[offset])
	end := min(offset+1+nameLen, len(data))
	name, err := decodeText("CONNECT", "display name", data[offset+1:end])
	if err != nil {
		return err
	}
	m.DeviceType, m.DisplayName = typ, name
	if nameLen == 0 {
		m.DisplayName = m.DeviceType
	}
	return nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

const (
	ButtonSize      = 5
	AxisSize        = 6
	MouseMoveSize   = 4
	MouseButtonSize = 3
	MouseScrollSize = 4
)

// Button is a digital gamepad input.
// Wire: device_id:u16 | control_code:u16 | pressed:u8
type Button struct {
	DeviceID uint16
	Code     uint16
	Pressed  bool
}

func (m *Button) MarshalBinary() ([]byte, error) {
	b := make([]byte, ButtonSize)
	binary.LittleEndian.PutUint16(b[0:], m.DeviceID)
	binary.LittleEndian.PutUint16(b[2:], m.Code)
	b[4] = boolByte(m.Pressed)
	return b, nil
}

func (m *Button) UnmarshalBinary(data []byte) error {
	if len(data) < ButtonSize {
		return shortPayload("BUTTON")
	}
	m.DeviceID = binary.LittleEndian.Uint16(data[0:])
	m.Code = binary.LittleEndian.Uint16(data[2:])
	m.Pressed = data[4] != 0
	return nil
}

// Axis is an analog gamepad input.
// Wire: device_id:u16 | control_code:u16 | value:i16
type Axis struct {
	DeviceID uint16
	Code     uint16
	Value    int16
}

// Normalized returns Value mapped onto [-1, 1].
func (m *Axis) Normalized() float64 { return NormalizeAxis(m.Value) }

func (m *Axis) MarshalBinary() ([]byte, error) {
	b := make([]byte, AxisSize)
	binary.LittleEndian.PutUint16(b[0:], m.DeviceID)
	binary.LittleEndian.PutUint16(b[2:], m.Code)
	binary.LittleEndian.PutUint16(b[4:], uint16(m.Value))
	return b, nil
}

func (m *Axis) UnmarshalBinary(data []byte) error {
	if len(data) < AxisSize {
		return shortPayload("AXIS")
	}
	m.DeviceID = binary.LittleEndian.Uint16(data[0:])
	m.Code = binary.LittleEndian.Uint16(data[2:])
	m.Value = int16(binary.LittleEndian.Uint16(data[4:]))
	return nil
}

// MouseMove is a relative pointer movement.
// Wire: dx:i16 | dy:i16
type MouseMove struct {
	DX, DY int16
}

func (m *MouseMove) MarshalBinary() ([]byte, error) {
	b := make([]byte, MouseMoveSize)
	binary.LittleEndian.PutUint16(b[0:], uint16(m.DX))
	binary.LittleEndian.PutUint16(b[2:], uint16(m.DY))
	return b, nil
}

func (m *MouseMove) UnmarshalBinary(data []byte) error {
	if len(data) < MouseMoveSize {
		return shortPayload("MOUSE_MOVE")
	}
	m.DX = int16(binary.LittleEndian.Uint16(data[0:]))
	m.DY = int16(binary.LittleEndian.Uint16(data[2:]))
	return nil
}

// MouseButton is a mouse click.
// Wire: control_code:u16 | pressed:u8
type MouseButton struct {
	Code    uint16
	Pressed bool
}

func (m *MouseButton) MarshalBinary() ([]byte, error) {
	b := make([]byte, MouseButtonSize)
	binary.LittleEndian.PutUint16(b[0:], m.Code)
	b[2] = boolByte(m.Pressed)
	return b, nil
}

func (m *MouseButton) UnmarshalBinary(data []byte) error {
	if len(data) < MouseButtonSize {
		return shortPayload("MOUSE_BUTTON")
	}
	m.Code = binary.LittleEndian.Uint16(data[0:])
	m.Pressed = data[2] != 0
	return nil
}

// MouseScroll is a wheel movement.
// Wire: scroll_x:i16 | scroll_y:i16
type MouseScroll struct {
	X, Y int16
}

func (m *MouseScroll) MarshalBinary() ([]byte, error) {
	b := make([]byte, MouseScrollSize)
	binary.LittleEndian.PutUint16(b[0:], uint16(m.X))
	binary.LittleEndian.PutUint16(b[2:], uint16(m.Y))
	return b, nil
}

func (m *MouseScroll) UnmarshalBinary(data []byte) error {
	if len(data) < MouseScrollSize {
		return shortPayload("MOUSE_SCROLL")
	}
	m.X = int16(binary.LittleEndian.Uint16(data[0:]))
	m.Y = int16(binary.LittleEndian.Uint16(data[2:]))
	return nil
}

// Status is an informational server notice.
// Wire: status_code:u16 | msg_len:u8 | message
type Status struct {
	Code    uint16
	Message string
}

func (m *Status) MarshalBinary() ([]byte, error) {
	return appendCodeMessage(m.Code, m.Message), nil
}

func (m *Status) UnmarshalBinary(data []byte) error {
	code, msg, err := parseCodeMessage("STATUS", data)
	m.Code, m.Message = code, msg
	return err
}

// ErrorPayload is the body of an ERROR frame.
// Wire: code:u16 | msg_len:u8 | message
type ErrorPayload struct {
	Code    uint16
	Message string
}

func (m *ErrorPayload) MarshalBinary() ([]byte, error) {
	return appendCodeMessage(m.Code, m.Message), nil
}

func (m *ErrorPayload) UnmarshalBinary(data []byte) error {
	code, msg, err := parseCodeMessage("ERROR", data)
	m.Code, m.Message = code, msg
	return err
}

// appendCodeMessage truncates messages to 255 bytes.
func appendCodeMessage(code uint16, msg string) []byte {
	if len(msg) > math.MaxUint8 {
		msg = msg[:math.MaxUint8]
	}
	b := binary.LittleEndian.AppendUint16(make([]byte, 0, 3+len(msg)), code)
	b = append(b, byte(len(msg)))
	return append(b, msg...)
}

func parseCodeMessage(name string, data []byte) (uint16, string, error) {
	if len(data) < 3 {
		return 0, "", shortPayload(name)
	}
	code := binary.LittleEndian.Uint16(data[0:2])
	n := int(data[2])
	if len(data) < 3+n {
		return code, "", shortPayload(name)
	}
	return code, string(data[3 : 3+n]), nil
}

// NormalizeAxis maps a signed 16-bit axis value onto [-1, 1]:
// 32767 → 1.0, 0 → 0.0 and -32768 clamps to -1.0.
func NormalizeAxis(v int16) float64 {
	f := float64(v) / 32767.0
	return max(-1.0, min(1.0, f))
}

// DenormalizeAxis is the client-side inverse of NormalizeAxis.
func DenormalizeAxis(f float64) int16 {
	f = max(-1.0, min(1.0, f))
	return int16(math.Round(f * 32767.0))
}
