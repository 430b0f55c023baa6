package hid

import (
	"context"

	"github.com/ardnew/usbfunc/pkg"
)

// Keyboard is a boot protocol keyboard.
type Keyboard struct {
	*HID
	report KeyboardReport
}

// NewKeyboard creates a boot keyboard driver.
func NewKeyboard() *Keyboard {
	k := &Keyboard{HID: New(SubclassBoot, ProtocolKeyboard, KeyboardReportDescriptor, KeyboardReportSize)}
	k.owner = k
	return k
}

// LEDs returns the LED bits of the last output report.
func (k *Keyboard) LEDs() uint8 {
	out := k.OutputReport()
	if len(out) < KeyboardOutputSize {
		return 0
	}
	return out[0]
}

func (k *Keyboard) send(ctx context.Context) error {
	var buf [KeyboardReportSize]byte
	k.report.MarshalTo(buf[:])
	return k.SendReport(ctx, buf[:])
}

// Press adds keys to the pressed set with the given modifiers and sends the
// report. Keyboard is not safe for concurrent use.
func (k *Keyboard) Press(ctx context.Context, modifiers uint8, keys ...uint8) error {
	k.report.Modifiers = modifiers
	for _, key := range keys {
		if !k.report.Press(key) {
			return pkg.ErrMaxExceeded
		}
	}
	return k.send(ctx)
}

// Release removes keys from the pressed set, or every key and modifier if
// none are given, and sends the report.
func (k *Keyboard) Release(ctx context.Context, keys ...uint8) error {
	if len(keys) == 0 {
		k.report = KeyboardReport{}
	}
	for _, key := range keys {
		k.report.Release(key)
	}
	return k.send(ctx)
}

// Type sends a press and a release report for each character of s. It
// returns pkg.ErrInvalidArgument before sending anything if s holds a
// character with no US-layout key.
func (k *Keyboard) Type(ctx context.Context, s string) error {
	for _, r := range s {
		if _, _, ok := KeyFor(r); !ok {
			return pkg.ErrInvalidArgument
		}
	}
	for _, r := range s {
		usage, mods, _ := KeyFor(r)
		if err := k.Press(ctx, mods, usage); err != nil {
			return err
		}
		if err := k.Release(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Mouse is a boot protocol mouse with a wheel.
type Mouse struct {
	*HID
	buttons uint8
}

// NewMouse creates a boot mouse driver.
func NewMouse() *Mouse {
	m := &Mouse{HID: New(SubclassBoot, ProtocolMouse, MouseReportDescriptor, MouseReportSize)}
	m.owner = m
	return m
}

func (m *Mouse) send(ctx context.Context, dx, dy, wheel int8) error {
	r := MouseReport{Buttons: m.buttons, X: dx, Y: dy, Wheel: wheel}
	var buf [MouseReportSize]byte
	r.MarshalTo(buf[:])
	return m.SendReport(ctx, buf[:])
}

// Move sends a relative movement with the current buttons held.
func (m *Mouse) Move(ctx context.Context, dx, dy int8) error {
	return m.send(ctx, dx, dy, 0)
}

// Scroll sends a wheel movement.
func (m *Mouse) Scroll(ctx context.Context, wheel int8) error {
	return m.send(ctx, 0, 0, wheel)
}

// Click presses and releases buttons.
func (m *Mouse) Click(ctx context.Context, buttons uint8) error {
	m.buttons |= buttons
	if err := m.send(ctx, 0, 0, 0); err != nil {
		return err
	}
	m.buttons &^= buttons
	return m.send(ctx, 0, 0, 0)
}
