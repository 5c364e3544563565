//go:build linux

package mouse

import (
	"github.com/librepad/librepad/device"
	"github.com/librepad/librepad/internal/uinput"
)

func init() {
	device.Register(TypeName, func(displayName string) (device.Device, error) {
		if displayName == "" {
			displayName = DefaultName
		}
		dev, err := uinput.Open(UinputConfig(displayName))
		if err != nil {
			return nil, err
		}
		return New(displayName, dev), nil
	})
}
