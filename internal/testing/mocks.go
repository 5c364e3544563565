// Package testing holds fakes shared by package tests.
package testing

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/librepad/librepad/device"
)

// Event is one call recorded by Emitter.
type Event struct {
	Type  uint16
	Code  uint16
	Value int32
}

// Emitter records emitted events instead of writing them to a kernel node.
type Emitter struct {
	mu     sync.Mutex
	events []Event
	closed int
	Err    error
}

func (e *Emitter) Emit(typ, code uint16, value int32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	e.events = append(e.events, Event{typ, code, value})
	return nil
}

func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

// Events returns a copy of the recorded events.
func (e *Emitter) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// Closed reports how many times Close was called.
func (e *Emitter) Closed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Call is one recorded device mutation.
type Call struct {
	Op      string
	Name    string
	Pressed bool
	Value   float64
	DX, DY  int
}

// Device is a device.Device that records every call.
type Device struct {
	name   string
	mu     sync.Mutex
	calls  []Call
	closed atomic.Int32
	fail   error

	// panics hold values passed to panic by mutations and Close.
	panicOnInput any
	panicOnClose any
}

func NewDevice(name string) *Device { return &Device{name: name} }

func (d *Device) record(c Call) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.panicOnInput != nil {
		panic(d.panicOnInput)
	}
	if d.fail != nil {
		return d.fail
	}
	d.calls = append(d.calls, c)
	return nil
}

// SetFail makes every later mutation return err.
func (d *Device) SetFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

// SetPanic makes every later mutation panic with v.
func (d *Device) SetPanic(v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panicOnInput = v
}

// SetClosePanic makes Close panic with v after counting the call.
func (d *Device) SetClosePanic(v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panicOnClose = v
}

func (d *Device) Name() string { return d.name }

func (d *Device) SetButton(name string, pressed bool) error {
	return d.record(Call{Op: "button", Name: name, Pressed: pressed})
}

func (d *Device) SetAxis(name string, value float64) error {
	return d.record(Call{Op: "axis", Name: name, Value: value})
}

func (d *Device) DescribeLayout() map[string]string {
	return map[string]string{"a": "BTN_SOUTH", "lx": "ABS_X"}
}

func (d *Device) Close() error {
	d.closed.Add(1)
	d.mu.Lock()
	v := d.panicOnClose
	d.mu.Unlock()
	if v != nil {
		panic(v)
	}
	return nil
}

// CallCount is len(Calls()) without the copy.
func (d *Device) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// Calls returns a copy of the recorded calls.
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Closed reports how many times Close was called.
func (d *Device) Closed() int { return int(d.closed.Load()) }

// Mouse adds the relative pointer capabilities to Device.
type Mouse struct{ *Device }

func NewMouse(name string) *Mouse { return &Mouse{NewDevice(name)} }

func (m *Mouse) MoveRelative(dx, dy int) error {
	return m.record(Call{Op: "move", DX: dx, DY: dy})
}

func (m *Mouse) Scroll(amount int) error {
	return m.record(Call{Op: "scroll", DY: amount})
}

// Factory hands out recording devices and keeps track of what it built.
type Factory struct {
	mu      sync.Mutex
	built   map[string][]*Device
	gate    chan struct{}
	fail    map[string]error
	panics  map[string]any
	Created atomic.Int32
}

func NewFactory() *Factory {
	return &Factory{built: make(map[string][]*Device), fail: map[string]error{}, panics: map[string]any{}}
}

// Hold blocks construction until the returned function is called.
func (f *Factory) Hold() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// FailType makes construction of typ return err.
func (f *Factory) FailType(typ string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[typ] = err
}

// PanicType makes construction of typ panic with v.
func (f *Factory) PanicType(typ string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics[typ] = v
}

// Catalogue returns constructors for "standard" and "mouse".
func (f *Factory) Catalogue(t testing.TB) map[string]device.Constructor {
	t.Helper()
	return map[string]device.Constructor{
		"standard": f.constructor("standard", false),
		"mouse":    f.constructor("mouse", true),
	}
}

func (f *Factory) constructor(typ string, mouse bool) device.Constructor {
	return func(displayName string) (device.Device, error) {
		f.mu.Lock()
		gate, err, p := f.gate, f.fail[typ], f.panics[typ]
		f.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if p != nil {
			panic(p)
		}
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", typ, err)
		}
		f.Created.Add(1)
		var (
			d   *Device
			out device.Device
		)
		if mouse {
			m := NewMouse(displayName)
			d, out = m.Device, m
		} else {
			d = NewDevice(displayName)
			out = d
		}
		f.mu.Lock()
		f.built[typ] = append(f.built[typ], d)
		f.mu.Unlock()
		return out, nil
	}
}

// Built returns the devices created for typ, oldest first.
func (f *Factory) Built(typ string) []*Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Device(nil), f.built[typ]...)
}

