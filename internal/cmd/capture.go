package cmd

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/librepad/librepad/internal/log"
	"github.com/librepad/librepad/protocol"
)

// CaptureCommand groups tools for protocol capture files.
type CaptureCommand struct {
	Dump CaptureDump `cmd:"" help:"Print the frames recorded in a capture file"`
}

type CaptureDump struct {
	File    string `arg:"" type:"existingfile" help:"Capture file written with --log.capture-file"`
	Session uint32 `help:"Only show frames of this session id (0 shows all)"`
	Hex     bool   `help:"Include the raw frame bytes"`
	JSON    bool   `name:"json" help:"Print one JSON object per frame"`
}

func (c *CaptureDump) Run() error {
	r, err := log.OpenCaptureReader(c.File)
	if err != nil {
		return err
	}
	defer r.Close()
	return c.dump(r, os.Stdout)
}

type dumpedFrame struct {
	Time      time.Time `json:"time"`
	Direction string    `json:"direction"`
	Remote    string    `json:"remote,omitempty"`
	SessionID uint32    `json:"session_id"`
	Type      string    `json:"type"`
	Seq       uint32    `json:"seq"`
	Size      int       `json:"size"`
	Note      string    `json:"note,omitempty"`
	Frame     string    `json:"frame,omitempty"`
}

func (c *CaptureDump) dump(r *log.CaptureReader, w io.Writer) error {
	enc := json.NewEncoder(w)
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}
		if c.Session != 0 && ev.SessionID != c.Session {
			continue
		}
		f := dumpedFrame{
			Time:      ev.Timestamp,
			Direction: ev.Direction.String(),
			Remote:    ev.Remote,
			SessionID: ev.SessionID,
			Type:      protocol.MsgType(ev.MsgType).String(),
			Size:      len(ev.Frame),
			Note:      ev.Note,
		}
		if p, err := protocol.ParsePacket(ev.Frame); err == nil {
			f.Seq = p.Seq
		}
		if c.Hex {
			f.Frame = hex.EncodeToString(ev.Frame)
		}
		if c.JSON {
			if err := enc.Encode(f); err != nil {
				return err
			}
			continue
		}
		line := fmt.Sprintf("%s %-3s %-21s session=%d %-12s seq=%d %dB",
			f.Time.Format("15:04:05.000000"), f.Direction, f.Remote, f.SessionID, f.Type, f.Seq, f.Size)
		if f.Note != "" {
			line += " (" + f.Note + ")"
		}
		if f.Frame != "" {
			line += " " + f.Frame
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
}
