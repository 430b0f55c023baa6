package hid

// Keyboard modifier bits (first byte of a boot keyboard report).
const (
	ModLeftCtrl   = 1 << 0
	ModLeftShift  = 1 << 1
	ModLeftAlt    = 1 << 2
	ModLeftGUI    = 1 << 3
	ModRightCtrl  = 1 << 4
	ModRightShift = 1 << 5
	ModRightAlt   = 1 << 6
	ModRightGUI   = 1 << 7
)

// Keyboard LED bits (boot keyboard output report).
const (
	LEDNumLock    = 1 << 0
	LEDCapsLock   = 1 << 1
	LEDScrollLock = 1 << 2
	LEDCompose    = 1 << 3
	LEDKana       = 1 << 4
)

// Keyboard usages outside the letter and digit ranges handled by KeyFor.
const (
	KeyA         = 0x04
	Key1         = 0x1E
	Key0         = 0x27
	KeyEnter     = 0x28
	KeyEscape    = 0x29
	KeyBackspace = 0x2A
	KeyTab       = 0x2B
	KeySpace     = 0x2C
	KeyCapsLock  = 0x39
	KeyF1        = 0x3A
	KeyRight     = 0x4F
	KeyLeft      = 0x50
	KeyDown      = 0x51
	KeyUp        = 0x52
)

// Mouse button bits.
const (
	MouseButtonLeft   = 1 << 0
	MouseButtonRight  = 1 << 1
	MouseButtonMiddle = 1 << 2
)

// Boot report sizes.
const (
	KeyboardReportSize = 8
	KeyboardOutputSize = 1
	MouseReportSize    = 4
)

// punctuation maps US-layout symbols to their usage and whether shift is
// needed.
var punctuation = map[rune]struct {
	usage uint8
	shift bool
}{
	'-': {0x2D, false}, '_': {0x2D, true},
	'=': {0x2E, false}, '+': {0x2E, true},
	'[': {0x2F, false}, '{': {0x2F, true},
	']': {0x30, false}, '}': {0x30, true},
	'\\': {0x31, false}, '|': {0x31, true},
	';': {0x33, false}, ':': {0x33, true},
	'\'': {0x34, false}, '"': {0x34, true},
	'`': {0x35, false}, '~': {0x35, true},
	',': {0x36, false}, '<': {0x36, true},
	'.': {0x37, false}, '>': {0x37, true},
	'/': {0x38, false}, '?': {0x38, true},
	'!': {0x1E, true}, '@': {0x1F, true}, '#': {0x20, true},
	'$': {0x21, true}, '%': {0x22, true}, '^': {0x23, true},
	'&': {0x24, true}, '*': {0x25, true}, '(': {0x26, true},
	')': {0x27, true},
}

// KeyFor returns the keyboard usage and modifiers that type r on a US
// layout.
func KeyFor(r rune) (usage, modifiers uint8, ok bool) {
	switch {
	case r >= 'a' && r <= 'z':
		return KeyA + uint8(r-'a'), 0, true
	case r >= 'A' && r <= 'Z':
		return KeyA + uint8(r-'A'), ModLeftShift, true
	case r == '0':
		return Key0, 0, true
	case r >= '1' && r <= '9':
		return Key1 + uint8(r-'1'), 0, true
	case r == '\n':
		return KeyEnter, 0, true
	case r == '\t':
		return KeyTab, 0, true
	case r == ' ':
		return KeySpace, 0, true
	}
	if p, found := punctuation[r]; found {
		if p.shift {
			modifiers = ModLeftShift
		}
		return p.usage, modifiers, true
	}
	return 0, 0, false
}

// KeyboardReport is a boot keyboard input report.
type KeyboardReport struct {
	Modifiers uint8
	Keys      [6]uint8
}

// MarshalTo writes the report to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *KeyboardReport) MarshalTo(buf []byte) int {
	if len(buf) < KeyboardReportSize {
		return 0
	}
	buf[0] = r.Modifiers
	buf[1] = 0
	copy(buf[2:8], r.Keys[:])
	return KeyboardReportSize
}

// Press adds usage to the pressed keys. It returns false when six keys are
// already down.
func (r *KeyboardReport) Press(usage uint8) bool {
	for i, k := range r.Keys {
		switch k {
		case usage:
			return true
		case 0:
			r.Keys[i] = usage
			return true
		}
	}
	return false
}

// Release removes usage from the pressed keys, keeping the rest in order.
func (r *KeyboardReport) Release(usage uint8) {
	var keys [6]uint8
	n := 0
	for _, k := range r.Keys {
		if k != usage && k != 0 {
			keys[n] = k
			n++
		}
	}
	r.Keys = keys
}

// MouseReport is a boot mouse input report with a wheel byte.
type MouseReport struct {
	Buttons uint8
	X, Y    int8
	Wheel   int8
}

// MarshalTo writes the report to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *MouseReport) MarshalTo(buf []byte) int {
	if len(buf) < MouseReportSize {
		return 0
	}
	buf[0] = r.Buttons
	buf[1] = byte(r.X)
	buf[2] = byte(r.Y)
	buf[3] = byte(r.Wheel)
	return MouseReportSize
}

// KeyboardReportDescriptor describes the boot keyboard report: modifier
// bits, a reserved byte, six key slots, and five LED output bits.
var KeyboardReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xA1, 0x01, // Collection (Application)
	0x05, 0x07, //   Usage Page (Keyboard)
	0x19, 0xE0, //   Usage Minimum (Left Control)
	0x29, 0xE7, //   Usage Maximum (Right GUI)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data, Variable, Absolute)
	0x95, 0x01, //   Report Count (1)
	0x75, 0x08, //   Report Size (8)
	0x81, 0x01, //   Input (Constant)
	0x95, 0x05, //   Report Count (5)
	0x75, 0x01, //   Report Size (1)
	0x05, 0x08, //   Usage Page (LEDs)
	0x19, 0x01, //   Usage Minimum (Num Lock)
	0x29, 0x05, //   Usage Maximum (Kana)
	0x91, 0x02, //   Output (Data, Variable, Absolute)
	0x95, 0x01, //   Report Count (1)
	0x75, 0x03, //   Report Size (3)
	0x91, 0x01, //   Output (Constant)
	0x95, 0x06, //   Report Count (6)
	0x75, 0x08, //   Report Size (8)
	0x15, 0x00, //   Logical Minimum (0)
	0x26, 0xFF, 0x00, // Logical Maximum (255)
	0x05, 0x07, //   Usage Page (Keyboard)
	0x19, 0x00, //   Usage Minimum (0)
	0x2A, 0xFF, 0x00, // Usage Maximum (255)
	0x81, 0x00, //   Input (Data, Array)
	0xC0, // End Collection
}

// MouseReportDescriptor describes the boot mouse report: three buttons,
// relative X and Y, and a wheel.
var MouseReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x02, // Usage (Mouse)
	0xA1, 0x01, // Collection (Application)
	0x09, 0x01, //   Usage (Pointer)
	0xA1, 0x00, //   Collection (Physical)
	0x05, 0x09, //     Usage Page (Button)
	0x19, 0x01, //     Usage Minimum (1)
	0x29, 0x03, //     Usage Maximum (3)
	0x15, 0x00, //     Logical Minimum (0)
	0x25, 0x01, //     Logical Maximum (1)
	0x95, 0x03, //     Report Count (3)
	0x75, 0x01, //     Report Size (1)
	0x81, 0x02, //     Input (Data, Variable, Absolute)
	0x95, 0x01, //     Report Count (1)
	0x75, 0x05, //     Report Size (5)
	0x81, 0x01, //     Input (Constant)
	0x05, 0x01, //     Usage Page (Generic Desktop)
	0x09, 0x30, //     Usage (X)
	0x09, 0x31, //     Usage (Y)
	0x09, 0x38, //     Usage (Wheel)
	0x15, 0x81, //     Logical Minimum (-127)
	0x25, 0x7F, //     Logical Maximum (127)
	0x75, 0x08, //     Report Size (8)
	0x95, 0x03, //     Report Count (3)
	0x81, 0x06, //     Input (Data, Variable, Relative)
	0xC0, //   End Collection
	0xC0, // End Collection
}
