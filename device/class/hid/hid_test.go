package hid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/internal/usbtest"
	"github.com/ardnew/usbfunc/pkg"
)

func hidConfig(t *testing.T, h *HID, outEP uint8) []byte {
	t.Helper()
	raw, err := AppendHID(device.NewConfigBuilder(1, 0, 50), h, 0, 0x81, outEP, 10).Build()
	require.NoError(t, err)
	return raw
}

func getDescriptor(f *usbtest.Function, descType uint8, length uint16) ([]byte, error) {
	return f.GetDescriptor(device.RequestRecipientInterface, 0, descType, 0, length)
}

func TestHID_Descriptors(t *testing.T) {
	kbd := NewKeyboard()
	f := usbtest.Enumerate(t, hidConfig(t, kbd.HID, 0), kbd)
	require.Same(t, kbd, f.Dev.Interface(0).Driver())

	report, err := getDescriptor(f, device.DescriptorTypeHIDReport, 0xFF)
	require.NoError(t, err)
	assert.Equal(t, KeyboardReportDescriptor, report)

	report, err = getDescriptor(f, device.DescriptorTypeHIDReport, 8)
	require.NoError(t, err)
	assert.Equal(t, KeyboardReportDescriptor[:8], report)

	class, err := getDescriptor(f, device.DescriptorTypeHID, ClassDescriptorSize)
	require.NoError(t, err)
	var desc ClassDescriptor
	require.NoError(t, ParseClassDescriptor(class, &desc))
	assert.Equal(t, ClassDescriptor{HIDVersion: Version, ReportLength: uint16(len(KeyboardReportDescriptor))}, desc)

	_, err = getDescriptor(f, 0x23, 16)
	assert.ErrorIs(t, err, pkg.ErrNotSupported)
}

func TestHID_Matching(t *testing.T) {
	kbd, mouse := NewKeyboard(), NewMouse()
	b := device.NewConfigBuilder(1, 0, 50)
	AppendHID(b, mouse.HID, 0, 0x81, 0, 10)
	AppendHID(b, kbd.HID, 1, 0x82, 0, 10)
	raw, err := b.Build()
	require.NoError(t, err)

	f := usbtest.Enumerate(t, raw, kbd, mouse)
	assert.Same(t, mouse, f.Dev.Interface(0).Driver())
	assert.Same(t, kbd, f.Dev.Interface(1).Driver())
	assert.Equal(t, "hid-keyboard", kbd.Name())
	assert.Equal(t, "hid-mouse", mouse.Name())
	assert.Equal(t, "hid", New(SubclassNone, ProtocolNone, nil, 4).Name())
}

func TestHID_Idle(t *testing.T) {
	kbd := NewKeyboard()
	var rates []uint8
	kbd.SetOnSetIdle(func(rate, _ uint8) { rates = append(rates, rate) })
	f := usbtest.Enumerate(t, hidConfig(t, kbd.HID, 0), kbd)

	require.NoError(t, f.ClassOut(RequestSetIdle, 125<<8, 0, nil))
	assert.Equal(t, uint8(125), kbd.IdleRate())
	assert.Equal(t, []uint8{125}, rates)

	idle, err := f.ClassIn(RequestGetIdle, 0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{125}, idle)
}

func TestHID_Protocol(t *testing.T) {
	kbd := NewKeyboard()
	var modes []uint8
	kbd.SetOnSetProtocol(func(mode uint8) { modes = append(modes, mode) })
	f := usbtest.Enumerate(t, hidConfig(t, kbd.HID, 0), kbd)

	mode, err := f.ClassIn(RequestGetProtocol, 0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{ProtocolModeReport}, mode)

	require.NoError(t, f.ClassOut(RequestSetProtocol, ProtocolModeBoot, 0, nil))
	assert.Equal(t, uint8(ProtocolModeBoot), kbd.ProtocolMode())
	assert.Equal(t, []uint8{ProtocolModeBoot}, modes)

	assert.ErrorIs(t, f.ClassOut(RequestSetProtocol, 2, 0, nil), pkg.ErrInvalidArgument)

	require.NoError(t, f.Stack.Notify(f.Dev, device.EventReset))
	assert.Equal(t, uint8(ProtocolModeReport), kbd.ProtocolMode())
}

func TestHID_ProtocolRequiresBoot(t *testing.T) {
	h := New(SubclassNone, ProtocolNone, MouseReportDescriptor, MouseReportSize)
	f := usbtest.Enumerate(t, hidConfig(t, h, 0), h)

	_, err := f.ClassIn(RequestGetProtocol, 0, 0, 1)
	assert.ErrorIs(t, err, pkg.ErrNotSupported)
	assert.ErrorIs(t, f.ClassOut(RequestSetProtocol, ProtocolModeBoot, 0, nil), pkg.ErrNotSupported)
}

func TestHID_Reports(t *testing.T) {
	kbd := NewKeyboard()
	var leds []byte
	kbd.SetOnOutputReport(func(data []byte) { leds = append(leds, data...) })
	f := usbtest.Enumerate(t, hidConfig(t, kbd.HID, 0), kbd)

	input, err := f.ClassIn(RequestGetReport, ReportTypeInput<<8, 0, KeyboardReportSize)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, KeyboardReportSize), input)

	require.NoError(t, f.ClassOut(RequestSetReport, ReportTypeOutput<<8, 0, []byte{LEDCapsLock | LEDNumLock}))
	assert.Equal(t, uint8(LEDCapsLock|LEDNumLock), kbd.LEDs())
	assert.Equal(t, []byte{LEDCapsLock | LEDNumLock}, leds)

	output, err := f.ClassIn(RequestGetReport, ReportTypeOutput<<8, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{LEDCapsLock | LEDNumLock}, output)

	_, err = f.ClassIn(RequestGetReport, ReportTypeFeature<<8, 0, 8)
	assert.ErrorIs(t, err, pkg.ErrNotSupported)
	assert.ErrorIs(t, f.ClassOut(RequestSetReport, ReportTypeFeature<<8, 0, []byte{1}), pkg.ErrNotSupported)
	assert.ErrorIs(t, f.ClassOut(RequestSetReport, ReportTypeOutput<<8, 0, nil), pkg.ErrInvalidArgument)
}

func TestKeyboard_Type(t *testing.T) {
	kbd := NewKeyboard()
	f := usbtest.Enumerate(t, hidConfig(t, kbd.HID, 0), kbd)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- kbd.Type(ctx, "Hi!") }()

	want := [][]byte{
		{ModLeftShift, 0, KeyA + 7, 0, 0, 0, 0, 0},
		make([]byte, 8),
		{0, 0, KeyA + 8, 0, 0, 0, 0, 0},
		make([]byte, 8),
		{ModLeftShift, 0, Key1, 0, 0, 0, 0, 0},
		make([]byte, 8),
	}
	for _, report := range want {
		assert.Equal(t, report, f.HostRead(t, 0x81))
	}
	require.NoError(t, <-done)

	input, err := f.ClassIn(RequestGetReport, ReportTypeInput<<8, 0, KeyboardReportSize)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, KeyboardReportSize), input)

	assert.ErrorIs(t, kbd.Type(ctx, "é"), pkg.ErrInvalidArgument)
}

func TestKeyboard_PressRelease(t *testing.T) {
	kbd := NewKeyboard()
	f := usbtest.Enumerate(t, hidConfig(t, kbd.HID, 0), kbd)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- kbd.Press(ctx, ModLeftCtrl, KeyA+2, KeyA+21) }()
	assert.Equal(t, []byte{ModLeftCtrl, 0, KeyA + 2, KeyA + 21, 0, 0, 0, 0}, f.HostRead(t, 0x81))
	require.NoError(t, <-done)

	go func() { done <- kbd.Release(ctx, KeyA+2) }()
	assert.Equal(t, []byte{ModLeftCtrl, 0, KeyA + 21, 0, 0, 0, 0, 0}, f.HostRead(t, 0x81))
	require.NoError(t, <-done)

	go func() { done <- kbd.Release(ctx) }()
	assert.Equal(t, make([]byte, 8), f.HostRead(t, 0x81))
	require.NoError(t, <-done)
}

func TestMouse(t *testing.T) {
	mouse := NewMouse()
	f := usbtest.Enumerate(t, hidConfig(t, mouse.HID, 0), mouse)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- mouse.Move(ctx, 10, -5) }()
	assert.Equal(t, []byte{0, 10, 0xFB, 0}, f.HostRead(t, 0x81))
	require.NoError(t, <-done)

	go func() { done <- mouse.Click(ctx, MouseButtonLeft) }()
	assert.Equal(t, []byte{MouseButtonLeft, 0, 0, 0}, f.HostRead(t, 0x81))
	assert.Equal(t, []byte{0, 0, 0, 0}, f.HostRead(t, 0x81))
	require.NoError(t, <-done)

	go func() { done <- mouse.Scroll(ctx, -1) }()
	assert.Equal(t, []byte{0, 0, 0, 0xFF}, f.HostRead(t, 0x81))
	require.NoError(t, <-done)
}

func TestHID_OutputPipe(t *testing.T) {
	kbd := NewKeyboard()
	f := usbtest.Enumerate(t, hidConfig(t, kbd.HID, 0x02), kbd)

	buf := make([]byte, MaxReportSize)
	read := make(chan int, 1)
	go func() {
		n, err := kbd.ReceiveReport(context.Background(), buf)
		assert.NoError(t, err)
		read <- n
	}()
	f.HostWrite(t, 0x02, []byte{LEDScrollLock})
	assert.Equal(t, 1, <-read)
	assert.Equal(t, uint8(LEDScrollLock), kbd.LEDs())
}

func TestHID_Unbound(t *testing.T) {
	kbd := NewKeyboard()
	assert.False(t, kbd.Bound())
	assert.ErrorIs(t, kbd.SendReport(context.Background(), []byte{0}), pkg.ErrInvalidState)
	_, err := kbd.ReceiveReport(context.Background(), make([]byte, 1))
	assert.ErrorIs(t, err, pkg.ErrInvalidState)

	f := usbtest.Enumerate(t, hidConfig(t, kbd.HID, 0), kbd)
	assert.True(t, kbd.Bound())
	_, err = kbd.ReceiveReport(context.Background(), make([]byte, 1))
	assert.ErrorIs(t, err, pkg.ErrInvalidState)

	require.NoError(t, f.Stack.DetachDevice(f.Dev))
	assert.False(t, kbd.Bound())
}
