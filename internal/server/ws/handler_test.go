package ws_test

import (
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librepad/librepad/internal/metrics"
	"github.com/librepad/librepad/internal/registry"
	"github.com/librepad/librepad/internal/server/ws"
	th "github.com/librepad/librepad/internal/testing"
)

type harness struct {
	reg     *registry.Registry
	factory *th.Factory
	handler *ws.Handler
	url     string
}

func newHarness(t *testing.T, opts ...ws.Option) *harness {
	t.Helper()
	f := th.NewFactory()
	reg := registry.New(f.Catalogue(t), slog.Default())
	h := ws.NewHandler(ws.Config{}, reg, slog.Default(), opts...)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &harness{
		reg:     reg,
		factory: f,
		handler: h,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

// dial connects and consumes the welcome message.
func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	var w ws.Welcome
	readJSON(t, c, &w)
	require.Equal(t, "welcome", w.Type)
	return c
}

func readJSON(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, c.ReadJSON(v))
}

func roundTrip(t *testing.T, c *websocket.Conn, msg string) ws.Reply {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(msg)))
	var r ws.Reply
	readJSON(t, c, &r)
	return r
}

func TestWelcome(t *testing.T) {
	h := newHarness(t)
	c, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	defer c.Close()

	var w ws.Welcome
	readJSON(t, c, &w)
	assert.Equal(t, "welcome", w.Type)
	assert.Equal(t, []string{"mouse", "standard"}, w.Devices)
	for _, ev := range []string{"connect", "disconnect", "rename", "button", "axis", "ping"} {
		assert.Contains(t, w.Schema, ev)
	}
}

func TestEvents(t *testing.T) {
	tests := []struct {
		name  string
		setup []string
		msg   string
		want  ws.Reply
	}{
		{
			name: "ping",
			msg:  `{"event":"ping"}`,
			want: ws.Reply{Type: "pong"},
		},
		{
			name: "invalid json",
			msg:  `{"event":`,
			want: ws.Reply{Type: "error", Code: ws.CodeInvalidJSON, Message: "Could not decode message as JSON"},
		},
		{
			name: "missing event",
			msg:  `{"name":"a"}`,
			want: ws.Reply{Type: "error", Code: ws.CodeInvalidMessage, Message: "Message missing 'event' field"},
		},
		{
			name: "unsupported event",
			msg:  `{"event":"vibrate"}`,
			want: ws.Reply{Type: "error", Code: ws.CodeInvalidMessage, Message: "Unsupported event 'vibrate'"},
		},
		{
			name: "connect with default type",
			msg:  `{"event":"connect"}`,
			want: ws.Reply{Type: "ok", Connected: "standard", Name: "standard"},
		},
		{
			name: "connect with display name",
			msg:  `{"event":"connect","device":"mouse","name":"Couch Mouse"}`,
			want: ws.Reply{Type: "ok", Connected: "mouse", Name: "Couch Mouse"},
		},
		{
			name:  "second connect",
			setup: []string{`{"event":"connect"}`},
			msg:   `{"event":"connect","device":"mouse"}`,
			want:  ws.Reply{Type: "error", Code: ws.CodeInvalidMessage, Message: "already connected to 'standard'; disconnect first"},
		},
		{
			name: "disconnect without device",
			msg:  `{"event":"disconnect"}`,
			want: ws.Reply{Type: "error", Code: ws.CodeInvalidMessage, Message: "not connected to any device"},
		},
		{
			name:  "rename is refused",
			setup: []string{`{"event":"connect"}`},
			msg:   `{"event":"rename","name":"Other"}`,
			want:  ws.Reply{Type: "error", Message: "Device names cannot be changed after creation. Use 'name' in the connect event."},
		},
		{
			name:  "rename without name",
			setup: []string{`{"event":"connect"}`},
			msg:   `{"event":"rename"}`,
			want:  ws.Reply{Type: "error", Code: ws.CodeInvalidMessage, Message: "Rename requires a 'name' string"},
		},
		{
			name: "button without device",
			msg:  `{"event":"button","name":"a","pressed":true}`,
			want: ws.Reply{Type: "error", Code: ws.CodeInvalidMessage, Message: "not connected; call 'connect' first or specify 'device' in event"},
		},
		{
			name:  "button missing pressed",
			setup: []string{`{"event":"connect"}`},
			msg:   `{"event":"button","name":"a"}`,
			want:  ws.Reply{Type: "error", Code: ws.CodeInvalidMessage, Message: "Button event requires 'name' and 'pressed'"},
		},
		{
			name:  "axis missing value",
			setup: []string{`{"event":"connect"}`},
			msg:   `{"event":"axis","name":"lx"}`,
			want:  ws.Reply{Type: "error", Code: ws.CodeInvalidMessage, Message: "Axis event requires 'name' and 'value'"},
		},
		{
			name:  "button",
			setup: []string{`{"event":"connect"}`},
			msg:   `{"event":"button","name":"a","pressed":true}`,
			want:  ws.Reply{Type: "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			c := h.dial(t)
			for _, m := range tt.setup {
				require.Equal(t, "ok", roundTrip(t, c, m).Type)
			}
			assert.Equal(t, tt.want, roundTrip(t, c, tt.msg))
		})
	}
}

func TestInputReachesDevice(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	require.Equal(t, "ok", roundTrip(t, c, `{"event":"connect","name":"Pad"}`).Type)
	require.Equal(t, "ok", roundTrip(t, c, `{"event":"button","name":"b","pressed":true}`).Type)
	require.Equal(t, "ok", roundTrip(t, c, `{"event":"axis","name":"rx","value":-0.5}`).Type)

	built := h.factory.Built("standard")
	require.Len(t, built, 1)
	assert.Equal(t, []th.Call{
		{Op: "button", Name: "b", Pressed: true},
		{Op: "axis", Name: "rx", Value: -0.5},
	}, built[0].Calls())
}

func TestAutoAcquireIsReleasedOnClose(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	require.Equal(t, "ok", roundTrip(t, c, `{"event":"connect"}`).Type)
	require.Equal(t, "ok", roundTrip(t, c, `{"event":"axis","device":"mouse","name":"dx","value":3}`).Type)
	require.Equal(t, "ok", roundTrip(t, c, `{"event":"button","device":"mouse","name":"left","pressed":true}`).Type)

	assert.Equal(t, 1, h.reg.Clients("standard"))
	assert.Equal(t, 1, h.reg.Clients("mouse"), "a live device is not acquired twice")

	require.NoError(t, c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = c.Close()

	require.Eventually(t, func() bool { return len(h.reg.Snapshot()) == 0 }, 2*time.Second, 5*time.Millisecond)
	for _, typ := range []string{"standard", "mouse"} {
		built := h.factory.Built(typ)
		require.Len(t, built, 1)
		assert.Equal(t, 1, built[0].Closed(), typ)
	}
}

func TestDisconnectThenConnectAgain(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	require.Equal(t, "ok", roundTrip(t, c, `{"event":"connect"}`).Type)
	require.Equal(t, "ok", roundTrip(t, c, `{"event":"disconnect"}`).Type)
	assert.Equal(t, 0, h.reg.Clients("standard"))

	r := roundTrip(t, c, `{"event":"connect","device":"mouse"}`)
	assert.Equal(t, "mouse", r.Connected)
}

func TestConnectionsShareDevices(t *testing.T) {
	h := newHarness(t)
	c1 := h.dial(t)
	c2 := h.dial(t)

	require.Equal(t, "ok", roundTrip(t, c1, `{"event":"connect"}`).Type)
	require.Equal(t, "ok", roundTrip(t, c2, `{"event":"connect"}`).Type)
	assert.Equal(t, 2, h.reg.Clients("standard"))

	_ = c1.Close()
	require.Eventually(t, func() bool { return h.reg.Clients("standard") == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.factory.Built("standard")[0].Closed())
}

func TestConnectUnknownType(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	r := roundTrip(t, c, `{"event":"connect","device":"wheel"}`)
	assert.Equal(t, "error", r.Type)
	assert.Equal(t, ws.CodeInvalidMessage, r.Code)
	assert.Contains(t, r.Message, "unknown device type")

	// A failed connect leaves the connection unbound.
	assert.Equal(t, "ok", roundTrip(t, c, `{"event":"connect"}`).Type)
}

func TestConnectionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, ws.WithMetrics(metrics.New(reg)))
	c := h.dial(t)

	gauge := func() float64 {
		mfs, err := reg.Gather()
		require.NoError(t, err)
		for _, mf := range mfs {
			if mf.GetName() == "librepad_ws_connections" {
				return mf.GetMetric()[0].GetGauge().GetValue()
			}
		}
		return -1
	}
	assert.Equal(t, 1.0, gauge())

	_ = c.Close()
	require.Eventually(t, func() bool { return gauge() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestCloseReleasesAllConnections(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	require.Equal(t, "ok", roundTrip(t, c, `{"event":"connect"}`).Type)

	h.handler.Close()

	assert.Empty(t, h.reg.Snapshot())
	assert.Equal(t, 1, h.factory.Built("standard")[0].Closed())
}
