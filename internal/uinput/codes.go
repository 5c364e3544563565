// Package uinput creates virtual input devices through the Linux uinput
// subsystem. On other platforms Open returns ErrUnsupported.
package uinput

import "errors"

// Event types from input-event-codes.h.
const (
	EV_SYN uint16 = 0x00
	EV_KEY uint16 = 0x01
	EV_REL uint16 = 0x02
	EV_ABS uint16 = 0x03
)

const SYN_REPORT uint16 = 0

// Gamepad buttons.
const (
	BTN_SOUTH      uint16 = 0x130
	BTN_EAST       uint16 = 0x131
	BTN_NORTH      uint16 = 0x133
	BTN_WEST       uint16 = 0x134
	BTN_TL         uint16 = 0x136
	BTN_TR         uint16 = 0x137
	BTN_TL2        uint16 = 0x138
	BTN_TR2        uint16 = 0x139
	BTN_SELECT     uint16 = 0x13a
	BTN_START      uint16 = 0x13b
	BTN_MODE       uint16 = 0x13c
	BTN_THUMBL     uint16 = 0x13d
	BTN_THUMBR     uint16 = 0x13e
	BTN_DPAD_UP    uint16 = 0x220
	BTN_DPAD_DOWN  uint16 = 0x221
	BTN_DPAD_LEFT  uint16 = 0x222
	BTN_DPAD_RIGHT uint16 = 0x223
)

// Mouse buttons.
const (
	BTN_LEFT   uint16 = 0x110
	BTN_RIGHT  uint16 = 0x111
	BTN_MIDDLE uint16 = 0x112
)

// Absolute axes.
const (
	ABS_X     uint16 = 0x00
	ABS_Y     uint16 = 0x01
	ABS_Z     uint16 = 0x02
	ABS_RX    uint16 = 0x03
	ABS_RY    uint16 = 0x04
	ABS_RZ    uint16 = 0x05
	ABS_HAT0X uint16 = 0x10
	ABS_HAT0Y uint16 = 0x11
)

// Relative axes.
const (
	REL_X      uint16 = 0x00
	REL_Y      uint16 = 0x01
	REL_HWHEEL uint16 = 0x06
	REL_WHEEL  uint16 = 0x08
)

const (
	maxNameSize = 80
	absSize     = 64
)

var ErrUnsupported = errors.New("uinput is only available on linux")

// AbsAxis describes the range of one absolute axis.
type AbsAxis struct {
	Code uint16
	Min  int32
	Max  int32
	Fuzz int32
	Flat int32
}

// Config describes the virtual device to create.
type Config struct {
	Name    string
	Vendor  uint16
	Product uint16
	Version uint16
	Keys    []uint16
	Rels    []uint16
	Abs     []AbsAxis
}

// truncName cuts name so it fits uinput_user_dev.name with a trailing NUL.
func truncName(name string) string {
	if len(name) >= maxNameSize {
		return name[:maxNameSize-1]
	}
	return name
}
