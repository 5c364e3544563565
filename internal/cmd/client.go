package cmd

import (
	"encoding"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/librepad/librepad/client"
	"github.com/librepad/librepad/protocol"
)

type Client struct {
	Addr    string        `help:"Server UDP address" default:"127.0.0.1:9775" env:"LIBREPAD_CLIENT_ADDR"`
	Name    string        `help:"Client name sent with hello" default:"librepad-cli" env:"LIBREPAD_CLIENT_NAME"`
	Timeout time.Duration `help:"How long to wait for a reply" default:"1s" env:"LIBREPAD_CLIENT_TIMEOUT"`
}

// Run is called by Kong when the client command is executed.
func (c *Client) Run(logger *slog.Logger) error {
	conn, err := client.Dial(c.Addr, client.WithTimeout(c.Timeout))
	if err != nil {
		return err
	}
	defer conn.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "librepad> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	logger.Info("Interactive client", "server", c.Addr, "local", conn.LocalAddr().String())
	sh := &shell{conn: conn, name: c.Name, out: rl.Stdout()}
	sh.help()
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(rl.Stdout(), "Exiting...")
			return nil
		}
		quit, err := sh.execute(line)
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "Error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

type shell struct {
	conn *client.Client
	name string
	out  io.Writer
}

func (s *shell) help() {
	fmt.Fprintln(s.out, `Commands:
  hello [name]                 open a session
  connect <type> [name]        bind a device (standard, mouse)
  button <name|code> <0|1>     press or release a gamepad button
  axis <name|code> <value>     set an axis; a decimal value is in [-1, 1]
  move <dx> <dy>               relative mouse movement
  click <left|right|middle> <0|1>
  scroll <x> <y>               mouse wheel
  batch <cmd>; <cmd>; ...      send button/axis/move/click/scroll in one frame
  ping                         measure the round trip
  disconnect                   release the device
  end                          close the session
  status                       show the session id
  quit`)
}

func (s *shell) execute(line string) (bool, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		s.help()
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true, nil
	case "hello":
		name := s.name
		if len(args) > 0 {
			name = strings.Join(args, " ")
		}
		w, err := s.conn.Hello(name, protocol.CapTimestamp|protocol.CapBatch)
		if err != nil {
			return false, err
		}
		types := make([]string, 0, len(w.Devices))
		for _, d := range w.Devices {
			types = append(types, d.Type)
		}
		fmt.Fprintf(s.out, "session %d, devices: %s\n", w.SessionID, strings.Join(types, ", "))
	case "connect":
		if len(args) < 1 {
			return false, errors.New("usage: connect <type> [name]")
		}
		st, err := s.conn.ConnectWait(args[0], strings.Join(args[1:], " "))
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "status 0x%04x: %s\n", st.Code, st.Message)
	case "ping":
		rtt, err := s.conn.Ping()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "pong in %s\n", rtt.Round(time.Microsecond))
	case "disconnect":
		return false, s.conn.Disconnect()
	case "end":
		if err := s.conn.End(); err != nil {
			return false, err
		}
		s.conn.SetSessionID(0)
	case "status":
		fmt.Fprintf(s.out, "session %d\n", s.conn.SessionID())
	case "batch":
		events, err := parseBatch(strings.Join(args, " "))
		if err != nil {
			return false, err
		}
		return false, s.conn.Batch(events...)
	default:
		ev, typ, err := parseInput(cmd, args)
		if err != nil {
			return false, err
		}
		payload, err := ev.MarshalBinary()
		if err != nil {
			return false, err
		}
		_, err = s.conn.Send(typ, 0, 0, payload)
		return false, err
	}
	return false, nil
}

func parseBatch(spec string) ([]encoding.BinaryMarshaler, error) {
	var out []encoding.BinaryMarshaler
	for _, part := range strings.Split(spec, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		ev, _, err := parseInput(strings.ToLower(fields[0]), fields[1:])
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if len(out) == 0 {
		return nil, errors.New("usage: batch <cmd>; <cmd>; ...")
	}
	return out, nil
}

// parseInput turns one input command into its message.
func parseInput(cmd string, args []string) (encoding.BinaryMarshaler, protocol.MsgType, error) {
	switch cmd {
	case "button":
		if len(args) != 2 {
			return nil, 0, errors.New("usage: button <name|code> <0|1>")
		}
		code, err := parseControl(protocol.KindButton, args[0])
		if err != nil {
			return nil, 0, err
		}
		pressed, err := parseBool(args[1])
		if err != nil {
			return nil, 0, err
		}
		return &protocol.Button{Code: code, Pressed: pressed}, protocol.MsgButton, nil
	case "axis":
		if len(args) != 2 {
			return nil, 0, errors.New("usage: axis <name|code> <value>")
		}
		code, err := parseControl(protocol.KindAxis, args[0])
		if err != nil {
			return nil, 0, err
		}
		v, err := parseAxisValue(args[1])
		if err != nil {
			return nil, 0, err
		}
		return &protocol.Axis{Code: code, Value: v}, protocol.MsgAxis, nil
	case "move":
		x, y, err := parsePair(args, "move <dx> <dy>")
		if err != nil {
			return nil, 0, err
		}
		return &protocol.MouseMove{DX: x, DY: y}, protocol.MsgMouseMove, nil
	case "scroll":
		x, y, err := parsePair(args, "scroll <x> <y>")
		if err != nil {
			return nil, 0, err
		}
		return &protocol.MouseScroll{X: x, Y: y}, protocol.MsgMouseScroll, nil
	case "click":
		if len(args) != 2 {
			return nil, 0, errors.New("usage: click <left|right|middle> <0|1>")
		}
		code, err := parseControl(protocol.KindButton, args[0])
		if err != nil {
			return nil, 0, err
		}
		if !protocol.IsMouseButton(code) {
			return nil, 0, fmt.Errorf("%q is not a mouse button", args[0])
		}
		pressed, err := parseBool(args[1])
		if err != nil {
			return nil, 0, err
		}
		return &protocol.MouseButton{Code: code, Pressed: pressed}, protocol.MsgMouseButton, nil
	default:
		return nil, 0, fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

// parseControl accepts a control name of the given kind or a numeric code.
func parseControl(kind protocol.ControlKind, s string) (uint16, error) {
	if code, ok := protocol.ControlCode(kind, strings.ToLower(s)); ok {
		return code, nil
	}
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown %s %q", kind, s)
	}
	return uint16(n), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "down", "on", "true", "press":
		return true, nil
	case "0", "up", "off", "false", "release":
		return false, nil
	}
	return false, fmt.Errorf("invalid button state %q", s)
}

// parseAxisValue takes a raw int16 or a decimal in [-1, 1].
func parseAxisValue(s string) (int16, error) {
	if !strings.Contains(s, ".") {
		n, err := strconv.ParseInt(s, 0, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid axis value %q: %w", s, err)
		}
		return int16(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid axis value %q: %w", s, err)
	}
	return protocol.DenormalizeAxis(f), nil
}

func parsePair(args []string, usage string) (int16, int16, error) {
	if len(args) != 2 {
		return 0, 0, errors.New("usage: " + usage)
	}
	x, err := strconv.ParseInt(args[0], 10, 16)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.ParseInt(args[1], 10, 16)
	if err != nil {
		return 0, 0, err
	}
	return int16(x), int16(y), nil
}
