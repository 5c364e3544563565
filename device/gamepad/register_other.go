//go:build !linux

package gamepad

import "github.com/librepad/librepad/device"

// Stub keeps "standard" in the catalogue on platforms without a backend.
// Every mutation fails with device.ErrUnsupported.
type Stub struct{ name string }

func NewStub(name string) *Stub {
	if name == "" {
		name = DefaultName + " (stub)"
	}
	return &Stub{name: name}
}

func (s *Stub) Name() string { return s.name }
func (s *Stub) SetButton(string, bool) error { return device.ErrUnsupported }
func (s *Stub) SetAxis(string, float64) error { return device.ErrUnsupported }
func (s *Stub) DescribeLayout() map[string]string { return map[string]string{} }
func (s *Stub) Close() error { return nil }

func init() {
	device.Register(TypeName, func(displayName string) (device.Device, error) {
		return NewStub(displayName), nil
	})
}
