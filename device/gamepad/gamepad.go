// Package gamepad implements the "standard" device: an Xbox 360 style
// gamepad exposed through uinput so browsers apply the standard mapping.
package gamepad

import (
	"fmt"
	"math"
	"strings"

	"github.com/librepad/librepad/device"
	"github.com/librepad/librepad/internal/uinput"
)

const (
	TypeName    = "standard"
	DefaultName = "Virtual Standard Gamepad"

	Vendor  uint16 = 0x045E
	Product uint16 = 0x028E
	Version uint16 = 0x0110
)

type button struct {
	code  uint16
	label string
}

// AxisSpec is the backend range of one axis.
type AxisSpec struct {
	Code  uint16
	Label string
	Min   int32
	Max   int32
}

var buttons = map[string]button{
	"a":          {uinput.BTN_SOUTH, "BTN_SOUTH"},
	"b":          {uinput.BTN_EAST, "BTN_EAST"},
	"x":          {uinput.BTN_WEST, "BTN_WEST"},
	"y":          {uinput.BTN_NORTH, "BTN_NORTH"},
	"l1":         {uinput.BTN_TL, "BTN_TL"},
	"r1":         {uinput.BTN_TR, "BTN_TR"},
	"l2_click":   {uinput.BTN_TL2, "BTN_TL2"},
	"r2_click":   {uinput.BTN_TR2, "BTN_TR2"},
	"dpad_up":    {uinput.BTN_DPAD_UP, "BTN_DPAD_UP"},
	"dpad_down":  {uinput.BTN_DPAD_DOWN, "BTN_DPAD_DOWN"},
	"dpad_left":  {uinput.BTN_DPAD_LEFT, "BTN_DPAD_LEFT"},
	"dpad_right": {uinput.BTN_DPAD_RIGHT, "BTN_DPAD_RIGHT"},
	"back":       {uinput.BTN_SELECT, "BTN_SELECT"},
	"start":      {uinput.BTN_START, "BTN_START"},
	"guide":      {uinput.BTN_MODE, "BTN_MODE"},
	"l3":         {uinput.BTN_THUMBL, "BTN_THUMBL"},
	"r3":         {uinput.BTN_THUMBR, "BTN_THUMBR"},
}

var axes = map[string]AxisSpec{
	"lx":     {uinput.ABS_X, "ABS_X", -32768, 32767},
	"ly":     {uinput.ABS_Y, "ABS_Y", -32768, 32767},
	"rx":     {uinput.ABS_RX, "ABS_RX", -32768, 32767},
	"ry":     {uinput.ABS_RY, "ABS_RY", -32768, 32767},
	"lt":     {uinput.ABS_Z, "ABS_Z", 0, 255},
	"rt":     {uinput.ABS_RZ, "ABS_RZ", 0, 255},
	"dpad_x": {uinput.ABS_HAT0X, "ABS_HAT0X", -1, 1},
	"dpad_y": {uinput.ABS_HAT0Y, "ABS_HAT0Y", -1, 1},
}

// Scale maps a normalized value onto the axis range. Unsigned axes take
// [0, 1]; signed axes take [-1, 1]. Halves round to even.
func Scale(value float64, ax AxisSpec) int32 {
	span := float64(ax.Max - ax.Min)
	if ax.Min >= 0 {
		clamped := min(max(value, 0.0), 1.0)
		return int32(math.RoundToEven(float64(ax.Min) + clamped*span))
	}
	clamped := min(max(value, -1.0), 1.0)
	normalized := (clamped + 1.0) / 2.0
	return int32(math.RoundToEven(float64(ax.Min) + normalized*span))
}

// Gamepad writes standard gamepad events to an Emitter.
type Gamepad struct {
	name string
	em   device.Emitter
}

// New wraps em. An empty name selects DefaultName.
func New(name string, em device.Emitter) *Gamepad {
	if name == "" {
		name = DefaultName
	}
	return &Gamepad{name: name, em: em}
}

// UinputConfig describes the uinput node backing a gamepad.
func UinputConfig(name string) uinput.Config {
	cfg := uinput.Config{Name: name, Vendor: Vendor, Product: Product, Version: Version}
	for _, b := range buttons {
		cfg.Keys = append(cfg.Keys, b.code)
	}
	for _, a := range axes {
		cfg.Abs = append(cfg.Abs, uinput.AbsAxis{Code: a.Code, Min: a.Min, Max: a.Max})
	}
	return cfg
}

func (g *Gamepad) Name() string { return g.name }

func (g *Gamepad) SetButton(name string, pressed bool) error {
	b, ok := buttons[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("button %q: %w", name, device.ErrUnknownControl)
	}
	var v int32
	if pressed {
		v = 1
	}
	return g.em.Emit(uinput.EV_KEY, b.code, v)
}

// SetAxis scales value onto the axis range. Hat axes are mirrored into the
// matching DPAD buttons before the axis event itself.
func (g *Gamepad) SetAxis(name string, value float64) error {
	key := strings.ToLower(name)
	ax, ok := axes[key]
	if !ok {
		return fmt.Errorf("axis %q: %w", name, device.ErrUnknownControl)
	}
	scaled := Scale(value, ax)

	switch key {
	case "dpad_x":
		if err := g.mirror(uinput.BTN_DPAD_LEFT, uinput.BTN_DPAD_RIGHT, scaled); err != nil {
			return err
		}
	case "dpad_y":
		if err := g.mirror(uinput.BTN_DPAD_UP, uinput.BTN_DPAD_DOWN, scaled); err != nil {
			return err
		}
	}
	return g.em.Emit(uinput.EV_ABS, ax.Code, scaled)
}

func (g *Gamepad) mirror(neg, pos uint16, scaled int32) error {
	if err := g.em.Emit(uinput.EV_KEY, neg, boolValue(scaled < 0)); err != nil {
		return err
	}
	return g.em.Emit(uinput.EV_KEY, pos, boolValue(scaled > 0))
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (g *Gamepad) DescribeLayout() map[string]string {
	out := make(map[string]string, len(buttons)+len(axes))
	for k, b := range buttons {
		out[k] = b.label
	}
	for k, a := range axes {
		out[k] = a.Label
	}
	return out
}

func (g *Gamepad) Close() error { return g.em.Close() }
