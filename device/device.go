// Package device defines the capability contract every virtual input device
// satisfies and the catalogue of device types the server can create.
package device

import "errors"

var (
	// ErrUnsupported is returned by devices that have no backend on the
	// current platform.
	ErrUnsupported = errors.New("device backend not available on this platform")
	// ErrUnknownControl is returned for button or axis names a device does
	// not expose.
	ErrUnknownControl = errors.New("unknown control")
)

// Device is a live virtual input device.
type Device interface {
	// Name is the display name given at creation time.
	Name() string
	SetButton(name string, pressed bool) error
	// SetAxis takes a normalized value: [-1, 1] for sticks and hats,
	// [0, 1] for triggers. Relative devices interpret it as a raw delta.
	SetAxis(name string, value float64) error
	// DescribeLayout maps every logical control name to its backend code.
	DescribeLayout() map[string]string
	Close() error
}

// RelativeMover is implemented by pointer devices.
type RelativeMover interface {
	MoveRelative(dx, dy int) error
}

// Scroller is implemented by devices with a scroll wheel.
type Scroller interface {
	Scroll(amount int) error
}

// Constructor creates a device with the given display name. An empty name
// selects the device's default.
type Constructor func(displayName string) (Device, error)

// Emitter is the event sink devices write to. Emit must follow every event
// with a synchronisation report.
type Emitter interface {
	Emit(typ, code uint16, value int32) error
	Close() error
}
