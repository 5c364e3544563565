package udp_test

import (
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librepad/librepad/client"
	"github.com/librepad/librepad/internal/registry"
	"github.com/librepad/librepad/internal/server/udp"
	th "github.com/librepad/librepad/internal/testing"
	"github.com/librepad/librepad/protocol"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	srv     *udp.Server
	reg     *registry.Registry
	factory *th.Factory
	addr    string
}

func startServer(t testing.TB) *harness {
	t.Helper()
	f := th.NewFactory()
	reg := registry.New(f.Catalogue(t), slog.Default())
	srv := udp.New(udp.ServerConfig{Addr: "127.0.0.1:0"}, reg, slog.Default())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-srv.Ready():
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(waitFor):
		t.Fatal("server did not become ready")
	}
	t.Cleanup(func() { _ = srv.Close() })
	return &harness{srv: srv, reg: reg, factory: f, addr: srv.Addr().String()}
}

func (h *harness) dial(t testing.TB) *client.Client {
	t.Helper()
	c, err := client.Dial(h.addr, client.WithTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// connected returns a client with a session bound to a device of typ.
func (h *harness) connected(t testing.TB, typ string) *client.Client {
	t.Helper()
	c := h.dial(t)
	_, err := c.Hello("test")
	require.NoError(t, err)
	st, err := c.ConnectWait(typ, "")
	require.NoError(t, err)
	require.Equal(t, protocol.StatusDeviceConnected, st.Code)
	return c
}

func (h *harness) device(t testing.TB, typ string) *th.Device {
	t.Helper()
	built := h.factory.Built(typ)
	require.Len(t, built, 1)
	return built[0]
}

func waitCalls(t *testing.T, d *th.Device, n int) []th.Call {
	t.Helper()
	require.Eventually(t, func() bool { return len(d.Calls()) >= n }, waitFor, tick)
	return d.Calls()
}

func TestHelloAssignsSequentialSessionIDs(t *testing.T) {
	h := startServer(t)

	w1, err := h.dial(t).Hello("phone", protocol.CapTimestamp)
	require.NoError(t, err)
	w2, err := h.dial(t).Hello("tablet")
	require.NoError(t, err)

	assert.Equal(t, uint32(1000), w1.SessionID)
	assert.Equal(t, uint32(1001), w2.SessionID)
	assert.Equal(t, protocol.DefaultWelcome(1000), w1)

	sessions := h.srv.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "phone", sessions[0].ClientName)
	assert.Equal(t, protocol.CapTimestamp, sessions[0].Caps)
	assert.Equal(t, "tablet", sessions[1].ClientName)
}

func TestMalformedHelloIsRejected(t *testing.T) {
	h := startServer(t)
	c := h.dial(t)

	_, err := c.Send(protocol.MsgHello, 0, 0, []byte{0x00})
	require.NoError(t, err)
	p, err := c.Expect(protocol.MsgWelcome)
	var se *client.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, protocol.ErrorCodeFor(protocol.ErrKindInvalidMessage), se.Code)
	assert.Equal(t, uint32(0), p.SessionID)
	assert.Empty(t, h.srv.Sessions())
}

func TestConnectThenButton(t *testing.T) {
	h := startServer(t)
	c := h.connected(t, "standard")

	require.NoError(t, c.Button(protocol.CtrlBtnA, true))

	dev := h.device(t, "standard")
	calls := waitCalls(t, dev, 1)
	assert.Equal(t, []th.Call{{Op: "button", Name: "a", Pressed: true}}, calls)
	assert.Equal(t, "standard", dev.Name(), "empty display name falls back to the type")
	assert.Equal(t, 1, h.reg.Clients("standard"))
}

func TestAxisIsNormalized(t *testing.T) {
	h := startServer(t)
	c := h.connected(t, "standard")

	require.NoError(t, c.Axis(protocol.CtrlAxisLX, 16383))

	calls := waitCalls(t, h.device(t, "standard"), 1)
	require.Len(t, calls, 1)
	assert.Equal(t, "axis", calls[0].Op)
	assert.Equal(t, "lx", calls[0].Name)
	assert.InDelta(t, 0.5003, calls[0].Value, 1e-3)
}

func TestBatchAppliesEveryEvent(t *testing.T) {
	h := startServer(t)
	c := h.connected(t, "standard")

	require.NoError(t, c.Batch(
		&protocol.Button{Code: protocol.CtrlBtnA, Pressed: true},
		&protocol.Button{Code: protocol.CtrlBtnB, Pressed: false},
	))

	calls := waitCalls(t, h.device(t, "standard"), 2)
	assert.Equal(t, []th.Call{
		{Op: "button", Name: "a", Pressed: true},
		{Op: "button", Name: "b", Pressed: false},
	}, calls)
}

func TestDisconnectReleasesDevice(t *testing.T) {
	h := startServer(t)
	c := h.connected(t, "standard")
	dev := h.device(t, "standard")

	require.NoError(t, c.Disconnect())

	require.Eventually(t, func() bool { return dev.Closed() == 1 }, waitFor, tick)
	assert.Equal(t, 0, h.reg.Clients("standard"))
	_, ok := h.reg.Get("standard")
	assert.False(t, ok)

	// The session survives and can bind again.
	require.NoError(t, c.Button(protocol.CtrlBtnA, true))
	st, err := c.ConnectWait("standard", "Again")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusDeviceConnected, st.Code)
	assert.Len(t, h.factory.Built("standard"), 2)
	assert.Empty(t, dev.Calls(), "input without a device is dropped")
}

func TestUnknownControlCodeIsIgnored(t *testing.T) {
	h := startServer(t)
	c := h.connected(t, "standard")

	require.NoError(t, c.Button(0x0999, true))
	require.NoError(t, c.Button(protocol.CtrlAxisLX, true))
	require.NoError(t, c.Axis(protocol.CtrlBtnA, 100))
	require.NoError(t, c.Button(protocol.CtrlBtnY, true))

	calls := waitCalls(t, h.device(t, "standard"), 1)
	assert.Equal(t, []th.Call{{Op: "button", Name: "y", Pressed: true}}, calls)

	_, err := c.Receive()
	assert.ErrorIs(t, err, client.ErrTimeout, "ignored input must not produce a reply")
}

func TestPingEchoesTimestamp(t *testing.T) {
	h := startServer(t)
	c := h.dial(t)
	c.SetSessionID(77)

	seq, err := c.Send(protocol.MsgPing, protocol.FlagHasTimestamp|0x0001, 0x0102030405060708, nil)
	require.NoError(t, err)
	p, err := c.Expect(protocol.MsgPong)
	require.NoError(t, err)

	assert.Equal(t, seq, p.Seq)
	assert.Equal(t, uint32(77), p.SessionID)
	assert.Equal(t, protocol.FlagHasTimestamp|0x0001, p.Flags)
	assert.Equal(t, uint64(0x0102030405060708), p.Timestamp)
	assert.Empty(t, p.Payload)

	rtt, err := c.Ping()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestErrorReplies(t *testing.T) {
	tests := []struct {
		name     string
		send     func(c *client.Client) error
		wantCode uint16
		wantSID  uint32
		wantMsg  string
	}{
		{
			name: "unsupported version",
			send: func(c *client.Client) error {
				frame := protocol.Frame(protocol.Header{Version: 2, Type: protocol.MsgPing, SessionID: 1000}, 0, nil)
				return c.SendRaw(frame)
			},
			wantCode: protocol.ErrorCodeFor(protocol.ErrKindUnsupportedVersion),
			wantSID:  0,
			wantMsg:  "Protocol version not supported",
		},
		{
			name: "unknown message type",
			send: func(c *client.Client) error {
				c.SetSessionID(1234)
				_, err := c.Send(protocol.MsgKeyEvent, 0, 0, []byte{0x01})
				return err
			},
			wantCode: protocol.ErrorCodeFor(protocol.ErrKindUnknownMessage),
			wantSID:  1234,
			wantMsg:  "Message type 0x24 not supported",
		},
		{
			name: "connect for unknown session",
			send: func(c *client.Client) error {
				c.SetSessionID(4242)
				return c.Connect("standard", "")
			},
			wantCode: protocol.ErrorCodeFor(protocol.ErrKindConnectFailed),
			wantSID:  4242,
			wantMsg:  "Unknown session",
		},
		{
			name: "hello with invalid utf-8 name",
			send: func(c *client.Client) error {
				_, err := c.Send(protocol.MsgHello, 0, 0, []byte{0x00, 0x00, 0x02, 0xff, 0xfe})
				return err
			},
			wantCode: protocol.ErrorCodeFor(protocol.ErrKindInvalidMessage),
			wantSID:  0,
			wantMsg:  "invalid HELLO client name: text field is not valid UTF-8",
		},
		{
			name: "connect with invalid utf-8 type",
			send: func(c *client.Client) error {
				if _, err := c.Hello("test"); err != nil {
					return err
				}
				_, err := c.Send(protocol.MsgConnect, 0, 0, []byte{0x02, 0xc3, 0x28, 0x00})
				return err
			},
			wantCode: protocol.ErrorCodeFor(protocol.ErrKindConnectFailed),
			wantSID:  1000,
			wantMsg:  "invalid CONNECT device type: text field is not valid UTF-8",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startServer(t)
			c := h.dial(t)
			require.NoError(t, tt.send(c))

			p, err := c.Expect(protocol.MsgStatus)
			var se *client.ServerError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantCode, se.Code)
			assert.Equal(t, tt.wantMsg, se.Message)
			assert.Equal(t, tt.wantSID, p.SessionID)
		})
	}
}

func TestInvalidHelloCreatesNoSession(t *testing.T) {
	h := startServer(t)
	c := h.dial(t)

	_, err := c.Send(protocol.MsgHello, 0, 0, []byte{0x00, 0x00, 0x02, 0xff, 0xfe})
	require.NoError(t, err)
	_, err = c.Expect(protocol.MsgWelcome)
	var se *client.ServerError
	require.ErrorAs(t, err, &se)
	assert.Empty(t, h.srv.Sessions())
}

func TestConnectFailures(t *testing.T) {
	t.Run("unknown device type", func(t *testing.T) {
		h := startServer(t)
		c := h.dial(t)
		_, err := c.Hello("test")
		require.NoError(t, err)

		_, err = c.ConnectWait("flightstick", "")
		var se *client.ServerError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, protocol.ErrorCodeFor(protocol.ErrKindConnectFailed), se.Code)
		assert.Contains(t, se.Message, "flightstick")
	})

	t.Run("construction error", func(t *testing.T) {
		h := startServer(t)
		h.factory.FailType("standard", errors.New("no uinput"))
		c := h.dial(t)
		_, err := c.Hello("test")
		require.NoError(t, err)

		_, err = c.ConnectWait("standard", "")
		var se *client.ServerError
		require.ErrorAs(t, err, &se)
		assert.Contains(t, se.Message, "no uinput")
		assert.Equal(t, 0, h.reg.Clients("standard"))
	})
}

func TestPanicsDoNotStopTheServer(t *testing.T) {
	t.Run("device constructor", func(t *testing.T) {
		h := startServer(t)
		h.factory.PanicType("standard", "backend exploded")
		c := h.dial(t)
		_, err := c.Hello("test")
		require.NoError(t, err)

		_, err = c.ConnectWait("standard", "")
		var se *client.ServerError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, protocol.ErrorCodeFor(protocol.ErrKindConnectFailed), se.Code)
		assert.Contains(t, se.Message, "backend exploded")
		assert.Equal(t, 0, h.reg.Clients("standard"))

		_, err = c.Ping()
		require.NoError(t, err)
	})

	t.Run("device input", func(t *testing.T) {
		h := startServer(t)
		c := h.connected(t, "standard")
		h.device(t, "standard").SetPanic("input exploded")

		require.NoError(t, c.Button(protocol.CtrlBtnA, true))
		p, err := c.Expect(protocol.MsgStatus)
		var se *client.ServerError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, uint16(0x0005), se.Code)
		assert.Equal(t, protocol.ErrorCodeFor(protocol.ErrKindInternalError), se.Code)
		assert.Equal(t, uint32(0), p.SessionID)

		_, err = c.Ping()
		require.NoError(t, err)
	})

	t.Run("device close", func(t *testing.T) {
		h := startServer(t)
		c := h.connected(t, "standard")
		dev := h.device(t, "standard")
		dev.SetClosePanic("close exploded")

		require.NoError(t, c.Disconnect())
		require.Eventually(t, func() bool { return dev.Closed() == 1 }, waitFor, tick)
		require.Eventually(t, func() bool { _, ok := h.reg.Get("standard"); return !ok }, waitFor, tick)

		_, err := c.Ping()
		require.NoError(t, err)
		st, err := c.ConnectWait("standard", "")
		require.NoError(t, err)
		assert.Equal(t, protocol.StatusDeviceConnected, st.Code)
	})
}

func TestAcquisitionAfterSessionEndIsReleased(t *testing.T) {
	h := startServer(t)
	release := h.factory.Hold()
	defer release()

	c := h.dial(t)
	_, err := c.Hello("test")
	require.NoError(t, err)
	require.NoError(t, c.Connect("standard", ""))
	require.NoError(t, c.End())
	require.Eventually(t, func() bool { return len(h.srv.Sessions()) == 0 }, waitFor, tick)

	release()
	require.Eventually(t, func() bool {
		built := h.factory.Built("standard")
		return len(built) == 1 && built[0].Closed() == 1
	}, waitFor, tick)
	assert.Equal(t, 0, h.reg.Clients("standard"))

	_, err = c.Receive()
	assert.ErrorIs(t, err, client.ErrTimeout, "no STATUS for an ended session")
}

func TestDisconnectWhileAcquisitionPending(t *testing.T) {
	h := startServer(t)
	release := h.factory.Hold()
	defer release()

	c := h.dial(t)
	_, err := c.Hello("test")
	require.NoError(t, err)
	require.NoError(t, c.Connect("standard", ""))
	require.NoError(t, c.Disconnect())
	_, err = c.Ping()
	require.NoError(t, err)

	release()
	st, err := c.Expect(protocol.MsgStatus)
	require.NoError(t, err, "the pending acquisition still binds the device")
	assert.Equal(t, c.SessionID(), st.SessionID)

	require.Eventually(t, func() bool {
		sessions := h.srv.Sessions()
		return len(sessions) == 1 && sessions[0].DeviceType == "standard"
	}, waitFor, tick)
	assert.Equal(t, 1, h.reg.Clients("standard"))

	require.NoError(t, c.Button(protocol.CtrlBtnA, true))
	waitCalls(t, h.device(t, "standard"), 1)
}

func TestSlowAcquisitionDoesNotStallOtherSessions(t *testing.T) {
	h := startServer(t)
	release := h.factory.Hold()
	defer release()

	slow := h.dial(t)
	_, err := slow.Hello("slow")
	require.NoError(t, err)
	require.NoError(t, slow.Connect("standard", ""))

	fast := h.dial(t)
	_, err = fast.Ping()
	require.NoError(t, err, "loop must keep serving while a device is built")

	release()
	p, err := slow.Expect(protocol.MsgStatus)
	require.NoError(t, err)
	assert.Equal(t, slow.SessionID(), p.SessionID)
}

func TestSessionsShareDevice(t *testing.T) {
	h := startServer(t)
	c1 := h.connected(t, "standard")
	c2 := h.connected(t, "standard")

	assert.Equal(t, 2, h.reg.Clients("standard"))
	dev := h.device(t, "standard")

	require.NoError(t, c1.Button(protocol.CtrlBtnA, true))
	waitCalls(t, dev, 1)
	require.NoError(t, c2.Button(protocol.CtrlBtnB, true))
	waitCalls(t, dev, 2)

	require.NoError(t, c1.Disconnect())
	require.Eventually(t, func() bool { return h.reg.Clients("standard") == 1 }, waitFor, tick)
	assert.Equal(t, 0, dev.Closed())

	require.NoError(t, c2.Disconnect())
	require.Eventually(t, func() bool { return dev.Closed() == 1 }, waitFor, tick)
}

func TestReconnectSwitchesDeviceType(t *testing.T) {
	h := startServer(t)
	c := h.connected(t, "standard")
	pad := h.device(t, "standard")

	st, err := c.ConnectWait("mouse", "")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusDeviceConnected, st.Code)

	require.Eventually(t, func() bool { return pad.Closed() == 1 }, waitFor, tick)
	assert.Equal(t, 1, h.reg.Clients("mouse"))

	sessions := h.srv.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "mouse", sessions[0].DeviceType)
}

func TestMouseInput(t *testing.T) {
	h := startServer(t)
	c := h.connected(t, "mouse")
	dev := h.device(t, "mouse")

	require.NoError(t, c.MouseMove(5, -3))
	require.NoError(t, c.MouseButton(protocol.CtrlMouseRight, true))
	require.NoError(t, c.MouseScroll(0, 2))
	require.NoError(t, c.MouseScroll(-1, 0))

	calls := waitCalls(t, dev, 4)
	assert.Equal(t, []th.Call{
		{Op: "move", DX: 5, DY: -3},
		{Op: "button", Name: "right", Pressed: true},
		{Op: "scroll", DY: 2},
		{Op: "axis", Name: "hwheel", Value: -1},
	}, calls)
}

func TestMouseMoveFallsBackToAxes(t *testing.T) {
	h := startServer(t)
	c := h.connected(t, "standard")

	require.NoError(t, c.MouseMove(0, 7))
	require.NoError(t, c.MouseScroll(0, -2))

	calls := waitCalls(t, h.device(t, "standard"), 2)
	assert.Equal(t, []th.Call{
		{Op: "axis", Name: "dy", Value: 7},
		{Op: "axis", Name: "wheel", Value: -2},
	}, calls)
}

func TestDeviceErrorsAreDropped(t *testing.T) {
	h := startServer(t)
	c := h.connected(t, "standard")
	dev := h.device(t, "standard")
	dev.SetFail(errors.New("write failed"))

	require.NoError(t, c.Button(protocol.CtrlBtnA, true))
	_, err := c.Receive()
	assert.ErrorIs(t, err, client.ErrTimeout)

	_, err = c.Ping()
	require.NoError(t, err, "server keeps serving after a device error")
}

func TestSessionEndRemovesSession(t *testing.T) {
	h := startServer(t)
	c := h.connected(t, "standard")
	dev := h.device(t, "standard")

	require.NoError(t, c.End())

	require.Eventually(t, func() bool { return dev.Closed() == 1 }, waitFor, tick)
	assert.Empty(t, h.srv.Sessions())

	require.NoError(t, c.Connect("standard", ""))
	_, err := c.Expect(protocol.MsgStatus)
	var se *client.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Unknown session", se.Message)
}

func TestShortPacketIsDropped(t *testing.T) {
	h := startServer(t)
	c := h.dial(t)

	require.NoError(t, c.SendRaw([]byte{0x01, 0x03, 0x00}))
	_, err := c.Receive()
	assert.ErrorIs(t, err, client.ErrTimeout)
}

func TestCloseReleasesDevices(t *testing.T) {
	h := startServer(t)
	h.connected(t, "standard")
	h.connected(t, "mouse")
	pad := h.device(t, "standard")
	mouse := h.device(t, "mouse")

	require.NoError(t, h.srv.Close())

	assert.Equal(t, 1, pad.Closed())
	assert.Equal(t, 1, mouse.Closed())
	assert.Empty(t, h.reg.Snapshot())
	assert.Empty(t, h.srv.Sessions())
	require.NoError(t, h.srv.Close(), "Close is idempotent")
}

func TestCloseBeforeListen(t *testing.T) {
	srv := udp.New(udp.ServerConfig{Addr: "127.0.0.1:0"}, registry.New(nil, slog.Default()), slog.Default())
	require.NoError(t, srv.Close())

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("ListenAndServe did not return after Close")
	}
	assert.NotNil(t, srv.Addr())
	_, isUDP := srv.Addr().(*net.UDPAddr)
	assert.True(t, isUDP)
}
