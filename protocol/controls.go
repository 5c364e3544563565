package protocol

// ControlKind distinguishes digital buttons from analog axes.
type ControlKind uint8

const (
	KindButton ControlKind = iota + 1
	KindAxis
)

func (k ControlKind) String() string {
	switch k {
	case KindButton:
		return "button"
	case KindAxis:
		return "axis"
	default:
		return "unknown"
	}
}

// Gamepad buttons.
const (
	CtrlBtnA         uint16 = 0x0001
	CtrlBtnB         uint16 = 0x0002
	CtrlBtnX         uint16 = 0x0003
	CtrlBtnY         uint16 = 0x0004
	CtrlBtnL1        uint16 = 0x0005
	CtrlBtnR1        uint16 = 0x0006
	CtrlBtnL2        uint16 = 0x0007
	CtrlBtnR2        uint16 = 0x0008
	CtrlBtnDPadUp    uint16 = 0x0009
	CtrlBtnDPadDown  uint16 = 0x000A
	CtrlBtnDPadLeft  uint16 = 0x000B
	CtrlBtnDPadRight uint16 = 0x000C
	CtrlBtnBack      uint16 = 0x000D
	CtrlBtnStart     uint16 = 0x000E
	CtrlBtnGuide     uint16 = 0x000F
	CtrlBtnL3        uint16 = 0x0010
	CtrlBtnR3        uint16 = 0x0011
)

// Gamepad axes.
const (
	CtrlAxisLX    uint16 = 0x0101
	CtrlAxisLY    uint16 = 0x0102
	CtrlAxisRX    uint16 = 0x0103
	CtrlAxisRY    uint16 = 0x0104
	CtrlAxisLT    uint16 = 0x0105
	CtrlAxisRT    uint16 = 0x0106
	CtrlAxisDPadX uint16 = 0x0107
	CtrlAxisDPadY uint16 = 0x0108
)

// Mouse controls. The scroll codes are reserved: they have no table entry
// and scrolling travels as MOUSE_SCROLL instead.
const (
	CtrlMouseLeft    uint16 = 0x0201
	CtrlMouseRight   uint16 = 0x0202
	CtrlMouseMiddle  uint16 = 0x0203
	CtrlMouseScrollX uint16 = 0x0204
	CtrlMouseScrollY uint16 = 0x0205
)

// Control is a resolved control code.
type Control struct {
	Kind ControlKind
	Name string
}

var controlTable = map[uint16]Control{
	CtrlBtnA:         {KindButton, "a"},
	CtrlBtnB:         {KindButton, "b"},
	CtrlBtnX:         {KindButton, "x"},
	CtrlBtnY:         {KindButton, "y"},
	CtrlBtnL1:        {KindButton, "l1"},
	CtrlBtnR1:        {KindButton, "r1"},
	CtrlBtnL2:        {KindButton, "l2_click"},
	CtrlBtnR2:        {KindButton, "r2_click"},
	CtrlBtnDPadUp:    {KindButton, "dpad_up"},
	CtrlBtnDPadDown:  {KindButton, "dpad_down"},
	CtrlBtnDPadLeft:  {KindButton, "dpad_left"},
	CtrlBtnDPadRight: {KindButton, "dpad_right"},
	CtrlBtnBack:      {KindButton, "back"},
	CtrlBtnStart:     {KindButton, "start"},
	CtrlBtnGuide:     {KindButton, "guide"},
	CtrlBtnL3:        {KindButton, "l3"},
	CtrlBtnR3:        {KindButton, "r3"},

	CtrlAxisLX:    {KindAxis, "lx"},
	CtrlAxisLY:    {KindAxis, "ly"},
	CtrlAxisRX:    {KindAxis, "rx"},
	CtrlAxisRY:    {KindAxis, "ry"},
	CtrlAxisLT:    {KindAxis, "lt"},
	CtrlAxisRT:    {KindAxis, "rt"},
	CtrlAxisDPadX: {KindAxis, "dpad_x"},
	CtrlAxisDPadY: {KindAxis, "dpad_y"},

	CtrlMouseLeft:   {KindButton, "left"},
	CtrlMouseRight:  {KindButton, "right"},
	CtrlMouseMiddle: {KindButton, "middle"},
}

type controlKey struct {
	kind ControlKind
	name string
}

var controlCodes = func() map[controlKey]uint16 {
	m := make(map[controlKey]uint16, len(controlTable))
	for code, c := range controlTable {
		m[controlKey{c.Kind, c.Name}] = code
	}
	return m
}()

// LookupControl resolves a control code.
func LookupControl(code uint16) (Control, bool) {
	c, ok := controlTable[code]
	return c, ok
}

// LookupKind resolves code only when it is of the given kind.
func LookupKind(code uint16, kind ControlKind) (string, bool) {
	c, ok := controlTable[code]
	if !ok || c.Kind != kind {
		return "", false
	}
	return c.Name, true
}

// ControlCode is the reverse lookup of LookupControl.
func ControlCode(kind ControlKind, name string) (uint16, bool) {
	code, ok := controlCodes[controlKey{kind, name}]
	return code, ok
}

// IsMouseButton reports whether code is literally one of the three mouse
// button codes.
func IsMouseButton(code uint16) bool {
	return code == CtrlMouseLeft || code == CtrlMouseRight || code == CtrlMouseMiddle
}
