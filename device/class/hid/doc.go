// Package hid implements USB Human Interface Device class drivers for the
// function stack.
//
// HID serves one interface of a given subclass and protocol. It answers
// GET_DESCRIPTOR for the HID class descriptor and the report descriptor,
// which reach the driver because their descriptor types lie outside the
// standard range, and the class requests GET/SET_REPORT, GET/SET_IDLE and
// GET/SET_PROTOCOL. Input reports are sent on the interrupt IN pipe.
//
// Keyboard and Mouse wrap HID with the boot protocol report formats:
//
//	kbd := hid.NewKeyboard()
//	b := device.NewConfigBuilder(1, 0, 50)
//	hid.AppendHID(b, kbd.HID, 0, 0x81, 0, 10)
//	raw, _ := b.Build()
//	stack.RegisterDriver(kbd)
//
//	// After the host selects the configuration:
//	err := kbd.Type(ctx, "hello\n")
package hid
