package registry

import (
	"log/slog"

	"github.com/librepad/librepad/device"
	_ "github.com/librepad/librepad/device/gamepad" // Register standard gamepad
	_ "github.com/librepad/librepad/device/mouse"   // Register mouse on linux
)

// NewDefault returns a Registry over every device type compiled in for the
// current platform.
func NewDefault(logger *slog.Logger, opts ...Option) *Registry {
	return New(device.Catalogue(), logger, opts...)
}
