// Package protocol implements the LibrePad UDP control protocol wire format:
// the common frame header, per-message payloads, the control code table and
// the untagged batch format.
//
// All integers are little-endian. Every frame starts with a 12-byte header:
//
//	version:u8 | msg_type:u8 | flags:u16 | session_id:u32 | seq:u32
//
// When flags carries FlagHasTimestamp an 8-byte timestamp follows the header
// and the payload starts at offset 20.
package protocol

import (
	"encoding/binary"
)

const (
	// Version is the only protocol version understood by this implementation.
	Version uint8 = 1

	HeaderSize    = 12
	TimestampSize = 8
)

// Header flags.
const (
	FlagAckRequest   uint16 = 0x0001
	FlagHasTimestamp uint16 = 0x0002
)

// Capability bits advertised by clients in HELLO.
const (
	CapAck       uint8 = 0x01
	CapTimestamp uint8 = 0x02
	CapBatch     uint8 = 0x08
	CapFeedback  uint8 = 0x10

	// AcceptedCaps is announced in every WELCOME regardless of what the
	// client asked for.
	AcceptedCaps = CapAck | CapTimestamp | CapBatch
)

// Header is the common frame header.
type Header struct {
	Version   uint8
	Type      MsgType
	Flags     uint16
	SessionID uint32
	Seq       uint32
}

// HasTimestamp reports whether the timestamp extension is flagged.
func (h Header) HasTimestamp() bool { return h.Flags&FlagHasTimestamp != 0 }

// Packet is a parsed inbound frame.
type Packet struct {
	Header
	// Timestamp is the raw extension field, zero when absent or truncated.
	Timestamp uint64
	Payload   []byte
}

// ParsePacket splits a datagram into header, optional timestamp and payload.
// The version is not checked here; callers decide how to answer a mismatch.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, ErrShortPacket
	}
	p := Packet{
		Header: Header{
			Version:   b[0],
			Type:      MsgType(b[1]),
			Flags:     binary.LittleEndian.Uint16(b[2:4]),
			SessionID: binary.LittleEndian.Uint32(b[4:8]),
			Seq:       binary.LittleEndian.Uint32(b[8:12]),
		},
	}
	offset := HeaderSize
	if p.HasTimestamp() {
		offset = HeaderSize + TimestampSize
		if len(b) >= offset {
			p.Timestamp = binary.LittleEndian.Uint64(b[HeaderSize:offset])
		}
	}
	if offset < len(b) {
		p.Payload = b[offset:]
	} else {
		p.Payload = []byte{}
	}
	return p, nil
}

// AppendHeader appends the 12-byte encoding of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = append(dst, h.Version, byte(h.Type))
	dst = binary.LittleEndian.AppendUint16(dst, h.Flags)
	dst = binary.LittleEndian.AppendUint32(dst, h.SessionID)
	dst = binary.LittleEndian.AppendUint32(dst, h.Seq)
	return dst
}

// Frame builds a complete frame. The timestamp extension is written only
// when h carries FlagHasTimestamp.
func Frame(h Header, timestamp uint64, payload []byte) []byte {
	size := HeaderSize + len(payload)
	if h.HasTimestamp() {
		size += TimestampSize
	}
	out := make([]byte, 0, size)
	out = AppendHeader(out, h)
	if h.HasTimestamp() {
		out = binary.LittleEndian.AppendUint64(out, timestamp)
	}
	return append(out, payload...)
}
