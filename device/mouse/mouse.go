// Package mouse implements the "mouse" device: a relative pointer with three
// buttons and two wheels.
package mouse

import (
	"fmt"
	"strings"

	"github.com/librepad/librepad/device"
	"github.com/librepad/librepad/internal/uinput"
)

const (
	TypeName    = "mouse"
	DefaultName = "Virtual Touchpad Mouse"
)

var buttons = map[string]uint16{
	"left":   uinput.BTN_LEFT,
	"right":  uinput.BTN_RIGHT,
	"middle": uinput.BTN_MIDDLE,
}

var axes = map[string]uint16{
	"dx":     uinput.REL_X,
	"dy":     uinput.REL_Y,
	"wheel":  uinput.REL_WHEEL,
	"hwheel": uinput.REL_HWHEEL,
}

// Mouse writes pointer events to an Emitter.
type Mouse struct {
	name string
	em   device.Emitter
}

var (
	_ device.RelativeMover = (*Mouse)(nil)
	_ device.Scroller      = (*Mouse)(nil)
)

// New wraps em. An empty name selects DefaultName.
func New(name string, em device.Emitter) *Mouse {
	if name == "" {
		name = DefaultName
	}
	return &Mouse{name: name, em: em}
}

// UinputConfig describes the uinput node backing a mouse.
func UinputConfig(name string) uinput.Config {
	return uinput.Config{
		Name: name,
		Keys: []uint16{uinput.BTN_LEFT, uinput.BTN_RIGHT, uinput.BTN_MIDDLE},
		Rels: []uint16{uinput.REL_X, uinput.REL_Y, uinput.REL_WHEEL, uinput.REL_HWHEEL},
	}
}

func (m *Mouse) Name() string { return m.name }

func (m *Mouse) SetButton(name string, pressed bool) error {
	code, ok := buttons[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("mouse button %q: %w", name, device.ErrUnknownControl)
	}
	var v int32
	if pressed {
		v = 1
	}
	return m.em.Emit(uinput.EV_KEY, code, v)
}

// SetAxis emits value truncated to an integer delta on the named relative axis.
func (m *Mouse) SetAxis(name string, value float64) error {
	code, ok := axes[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("mouse axis %q: %w", name, device.ErrUnknownControl)
	}
	return m.em.Emit(uinput.EV_REL, code, int32(value))
}

// MoveRelative emits only the nonzero components.
func (m *Mouse) MoveRelative(dx, dy int) error {
	if dx != 0 {
		if err := m.em.Emit(uinput.EV_REL, uinput.REL_X, int32(dx)); err != nil {
			return err
		}
	}
	if dy != 0 {
		return m.em.Emit(uinput.EV_REL, uinput.REL_Y, int32(dy))
	}
	return nil
}

func (m *Mouse) Scroll(amount int) error {
	if amount == 0 {
		return nil
	}
	return m.em.Emit(uinput.EV_REL, uinput.REL_WHEEL, int32(amount))
}

func (m *Mouse) DescribeLayout() map[string]string {
	return map[string]string{
		"left":   "BTN_LEFT",
		"right":  "BTN_RIGHT",
		"middle": "BTN_MIDDLE",
		"dx":     "REL_X",
		"dy":     "REL_Y",
		"wheel":  "REL_WHEEL",
		"hwheel": "REL_HWHEEL",
	}
}

func (m *Mouse) Close() error { return m.em.Close() }
