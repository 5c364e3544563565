package log

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// RawLogger writes one line per datagram with a hex dump of its bytes.
type RawLogger interface {
	Log(in bool, remote net.Addr, data []byte)
}

type rawLogger struct {
	w  io.Writer
	mu sync.Mutex
}

// NewRaw returns a RawLogger writing to w. A nil w yields a no-op logger.
func NewRaw(w io.Writer) RawLogger {
	if w == nil {
		return nopRaw{}
	}
	return &rawLogger{w: w}
}

type nopRaw struct{}

func (nopRaw) Log(bool, net.Addr, []byte) {}

// Log emits a single line. in=true means client->server.
func (r *rawLogger) Log(in bool, remote net.Addr, data []byte) {
	if len(data) == 0 {
		return
	}

	dir := "S->C"
	if in {
		dir = "C->S"
	}
	peer := "-"
	if remote != nil {
		peer = remote.String()
	}

	var hexbuf bytes.Buffer
	const hexdigits = "0123456789abcdef"
	for i, b := range data {
		if i > 0 {
			hexbuf.WriteByte(' ')
		}
		hexbuf.WriteByte(hexdigits[b>>4])
		hexbuf.WriteByte(hexdigits[b&0x0f])
	}

	line := fmt.Sprintf("%s %s %s datagram: %d bytes, hex: %s\n",
		time.Now().Format("2006/01/02 15:04:05.000"),
		dir,
		peer,
		len(data),
		hexbuf.String())

	r.mu.Lock()
	_, _ = io.WriteString(r.w, line)
	r.mu.Unlock()
}
