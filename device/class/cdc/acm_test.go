package cdc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/internal/usbtest"
	"github.com/ardnew/usbfunc/pkg"
)

func acmConfig(t *testing.T) []byte {
	t.Helper()
	raw, err := AppendACM(device.NewConfigBuilder(1, 0, 50), 0, 0x83, 0x81, 0x02, 64).Build()
	require.NoError(t, err)
	return raw
}

func TestACM_Binding(t *testing.T) {
	acm := NewACM()
	f := usbtest.Enumerate(t, acmConfig(t), acm)

	assert.True(t, acm.Bound())
	assert.Same(t, acm, f.Dev.Interface(0).Driver())
	assert.Same(t, acm, f.Dev.Interface(1).Driver())
	assert.Equal(t, DefaultLineCoding, acm.LineCoding())
}

func TestACM_TwoFunctions(t *testing.T) {
	b := device.NewConfigBuilder(1, 0, 50)
	AppendACM(b, 0, 0x83, 0x81, 0x02, 64)
	AppendACM(b, 2, 0x86, 0x84, 0x05, 64)
	raw, err := b.Build()
	require.NoError(t, err)

	first, second := NewACM(), NewACM()
	f := usbtest.Enumerate(t, raw, first, second)

	assert.Same(t, first, f.Dev.Interface(0).Driver())
	assert.Same(t, first, f.Dev.Interface(1).Driver())
	assert.Same(t, second, f.Dev.Interface(2).Driver())
	assert.Same(t, second, f.Dev.Interface(3).Driver())
}

func TestACM_LineCoding(t *testing.T) {
	acm := NewACM()
	var got []LineCoding
	acm.SetOnLineCodingChange(func(lc LineCoding) { got = append(got, lc) })
	f := usbtest.Enumerate(t, acmConfig(t), acm)

	want := LineCoding{DTERate: 9600, CharFormat: StopBits2, ParityType: ParityEven, DataBits: 7}
	var buf [LineCodingSize]byte
	want.MarshalTo(buf[:])
	require.NoError(t, f.ClassOut(RequestSetLineCoding, 0, 0, buf[:]))

	assert.Equal(t, want, acm.LineCoding())
	assert.Equal(t, []LineCoding{want}, got)

	reply, err := f.ClassIn(RequestGetLineCoding, 0, 0, LineCodingSize)
	require.NoError(t, err)
	assert.Equal(t, buf[:], reply)

	reply, err = f.ClassIn(RequestGetLineCoding, 0, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, buf[:4], reply)
}

func TestACM_LineCodingLength(t *testing.T) {
	acm := NewACM()
	f := usbtest.Enumerate(t, acmConfig(t), acm)

	err := f.ClassOut(RequestSetLineCoding, 0, 0, make([]byte, LineCodingSize-1))
	assert.ErrorIs(t, err, pkg.ErrInvalidArgument)
	assert.Equal(t, DefaultLineCoding, acm.LineCoding())
}

func TestACM_ControlLineState(t *testing.T) {
	acm := NewACM()
	var dtr, rts bool
	acm.SetOnControlStateChange(func(d, r bool) { dtr, rts = d, r })
	f := usbtest.Enumerate(t, acmConfig(t), acm)

	require.NoError(t, f.ClassOut(RequestSetControlLineState, ControlLineDTR|ControlLineRTS, 0, nil))
	assert.True(t, acm.DTR())
	assert.True(t, acm.RTS())
	assert.True(t, dtr)
	assert.True(t, rts)

	require.NoError(t, f.ClassOut(RequestSetControlLineState, ControlLineDTR, 0, nil))
	assert.True(t, acm.DTR())
	assert.False(t, acm.RTS())

	require.NoError(t, f.Stack.Notify(f.Dev, device.EventReset))
	assert.False(t, acm.DTR())
	assert.False(t, acm.Bound())
}

func TestACM_SendBreak(t *testing.T) {
	acm := NewACM()
	var millis []uint16
	acm.SetOnBreak(func(ms uint16) { millis = append(millis, ms) })
	f := usbtest.Enumerate(t, acmConfig(t), acm)

	require.NoError(t, f.ClassOut(RequestSendBreak, 250, 0, nil))
	require.NoError(t, f.ClassOut(RequestSendBreak, 0, 0, nil))
	assert.Equal(t, []uint16{250, 0}, millis)
}

func TestACM_UnsupportedRequest(t *testing.T) {
	acm := NewACM()
	f := usbtest.Enumerate(t, acmConfig(t), acm)

	_, err := f.ClassIn(RequestGetEncapsulatedResponse, 0, 0, 16)
	assert.ErrorIs(t, err, pkg.ErrNotSupported)

	setup := device.SetupPacket{
		RequestType: device.RequestDirectionHostToDevice | device.RequestTypeVendor | device.RequestRecipientInterface,
		Request:     RequestSetControlLineState,
	}
	assert.ErrorIs(t, f.Stack.NewSetup(f.Dev, &setup), pkg.ErrNotSupported)
}

func TestACM_ReadWrite(t *testing.T) {
	acm := NewACM()
	f := usbtest.Enumerate(t, acmConfig(t), acm)
	ctx := context.Background()

	written := make(chan error, 1)
	go func() {
		_, err := acm.Write(ctx, []byte("AT\r"))
		written <- err
	}()
	assert.Equal(t, []byte("AT\r"), f.HostRead(t, 0x81))
	require.NoError(t, <-written)

	buf := make([]byte, 64)
	read := make(chan int, 1)
	go func() {
		n, err := acm.Read(ctx, buf)
		assert.NoError(t, err)
		read <- n
	}()
	f.HostWrite(t, 0x02, []byte("OK\r\n"))
	n := <-read
	assert.Equal(t, "OK\r\n", string(buf[:n]))
}

func TestACM_SendSerialState(t *testing.T) {
	acm := NewACM()
	f := usbtest.Enumerate(t, acmConfig(t), acm)

	sent := make(chan error, 1)
	go func() { sent <- acm.SendSerialState(context.Background(), SerialStateRxCarrier|SerialStateTxCarrier) }()

	want := []byte{0xA1, NotificationSerialState, 0, 0, 0, 0, 2, 0, 0x03, 0x00}
	assert.Equal(t, want, f.HostRead(t, 0x83))
	require.NoError(t, <-sent)
}

func TestACM_Unconfigured(t *testing.T) {
	acm := NewACM()
	f := usbtest.Enumerate(t, acmConfig(t), acm)

	require.NoError(t, f.SetConfiguration(0))

	assert.False(t, acm.Bound())
	_, err := acm.Write(context.Background(), []byte{1})
	assert.ErrorIs(t, err, pkg.ErrInvalidState)
	_, err = acm.Read(context.Background(), make([]byte, 1))
	assert.ErrorIs(t, err, pkg.ErrInvalidState)
	assert.ErrorIs(t, acm.SendSerialState(context.Background(), 0), pkg.ErrInvalidState)
}
