//go:build !linux

package uinput

// Device is unavailable on this platform.
type Device struct{}

func Open(cfg Config) (*Device, error) {
	return nil, ErrUnsupported
}

func (d *Device) Emit(typ, code uint16, value int32) error { return ErrUnsupported }

func (d *Device) Close() error { return nil }
