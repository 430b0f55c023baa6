// Package usbtest enumerates simulated functions for class driver tests.
//
// A Function is a device built from raw configuration blocks, served by a
// sim.Controller and attached to its own Stack. Enumerate drives it through
// SET_ADDRESS and SET_CONFIGURATION so that class drivers are bound before
// the test starts issuing class requests.
package usbtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/device/hal/sim"
)

// Address is the function address assigned during enumeration.
const Address = 7

// Function is a configured simulated device.
type Function struct {
	HW    *sim.Controller
	Stack *device.Stack
	Dev   *device.Device
}

// Enumerate builds a full-speed device from raw, registers drivers and
// selects the configuration.
func Enumerate(t testing.TB, raw []byte, drivers ...device.ClassDriver) *Function {
	t.Helper()
	b := device.NewDeviceBuilder().
		WithVendorProduct(0x1209, 0x0001).
		AddConfiguration(0, device.SpeedFull, raw)
	return EnumerateDevice(t, b, drivers...)
}

// EnumerateDevice is Enumerate for a caller-prepared builder. The first
// full-speed configuration is selected.
func EnumerateDevice(t testing.TB, b *device.DeviceBuilder, drivers ...device.ClassDriver) *Function {
	t.Helper()
	f := Attach(t, b, drivers...)

	var setup device.SetupPacket
	device.GetSetAddressSetup(&setup, Address)
	_, err := f.Request(&setup)
	require.NoError(t, err)

	raw := f.Dev.ConfigDescriptor(0, device.SpeedFull)
	require.GreaterOrEqual(t, len(raw), device.ConfigurationDescriptorSize)
	require.NoError(t, f.SetConfiguration(raw[5]))
	require.Equal(t, device.StateConfigured, f.Dev.State())
	return f
}

// Attach builds and attaches the device without enumerating it.
func Attach(t testing.TB, b *device.DeviceBuilder, drivers ...device.ClassDriver) *Function {
	t.Helper()
	hw := sim.New()
	dev, err := b.Build(hw)
	require.NoError(t, err)

	s := device.NewStack()
	for _, drv := range drivers {
		require.NoError(t, s.RegisterDriver(drv))
	}
	require.NoError(t, s.AttachDevice(dev))
	return &Function{HW: hw, Stack: s, Dev: dev}
}

// Request runs setup through the stack. For a device-to-host request the
// data stage the function replied with is returned.
func (f *Function) Request(setup *device.SetupPacket) ([]byte, error) {
	if err := f.Stack.NewSetup(f.Dev, setup); err != nil {
		return nil, err
	}
	if !setup.IsDeviceToHost() {
		return nil, nil
	}
	data, _ := f.HW.LastControl()
	return data, nil
}

// GetDescriptor requests a descriptor. recipient and index select the
// device or an interface; class descriptors such as the HID report are
// addressed to their interface.
func (f *Function) GetDescriptor(recipient uint8, index uint16, descType, descIndex uint8, length uint16) ([]byte, error) {
	var setup device.SetupPacket
	device.GetDescriptorSetup(&setup, descType, descIndex, length)
	setup.RequestType |= recipient
	setup.Index = index
	return f.Request(&setup)
}

// SetConfiguration selects configuration value, 0 returning the device to
// the Address state.
func (f *Function) SetConfiguration(value uint8) error {
	var setup device.SetupPacket
	device.GetSetConfigurationSetup(&setup, value)
	_, err := f.Request(&setup)
	return err
}

// GetConfiguration returns the active configuration value.
func (f *Function) GetConfiguration() (uint8, error) {
	var setup device.SetupPacket
	device.GetConfigurationSetup(&setup)
	data, err := f.Request(&setup)
	if err != nil || len(data) == 0 {
		return 0, err
	}
	return data[0], nil
}

// SetInterface selects alternate setting alt of interface number.
func (f *Function) SetInterface(number, alt uint8) error {
	var setup device.SetupPacket
	device.GetSetInterfaceSetup(&setup, number, alt)
	_, err := f.Request(&setup)
	return err
}

// GetInterface returns the current alternate setting of interface number.
func (f *Function) GetInterface(number uint8) (uint8, error) {
	var setup device.SetupPacket
	device.GetInterfaceSetup(&setup, number)
	data, err := f.Request(&setup)
	if err != nil || len(data) == 0 {
		return 0, err
	}
	return data[0], nil
}

// GetStatus returns the status word of the device, an interface or an
// endpoint.
func (f *Function) GetStatus(recipient uint8, index uint16) (uint16, error) {
	var setup device.SetupPacket
	device.GetStatusSetup(&setup, recipient, index)
	data, err := f.Request(&setup)
	if err != nil || len(data) < 2 {
		return 0, err
	}
	return uint16(data[0]) | uint16(data[1])<<8, nil
}

// Halt sets the halt feature of endpoint address.
func (f *Function) Halt(address uint8) error {
	var setup device.SetupPacket
	device.GetSetFeatureSetup(&setup, device.RequestRecipientEndpoint, device.FeatureEndpointHalt, uint16(address))
	_, err := f.Request(&setup)
	return err
}

// ClearHalt clears the halt feature of endpoint address.
func (f *Function) ClearHalt(address uint8) error {
	var setup device.SetupPacket
	device.GetClearFeatureSetup(&setup, device.RequestRecipientEndpoint, device.FeatureEndpointHalt, uint16(address))
	_, err := f.Request(&setup)
	return err
}

// SetSEL issues SET_SEL and delivers the six byte exit latency record.
func (f *Function) SetSEL(sel []byte) error {
	var setup device.SetupPacket
	device.SetSELSetup(&setup)
	if _, err := f.Request(&setup); err != nil {
		return err
	}
	return f.HW.DeliverControl(sel)
}

// ClassIn issues a class IN request to an interface and returns the data
// stage the driver replied with.
func (f *Function) ClassIn(request uint8, value, index, length uint16) ([]byte, error) {
	return f.Request(&device.SetupPacket{
		RequestType: device.RequestDirectionDeviceToHost | device.RequestTypeClass | device.RequestRecipientInterface,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	})
}

// ClassOut issues a class OUT request to an interface. A non-empty data
// stage is delivered once the request is accepted.
func (f *Function) ClassOut(request uint8, value, index uint16, data []byte) error {
	setup := device.SetupPacket{
		RequestType: device.RequestDirectionHostToDevice | device.RequestTypeClass | device.RequestRecipientInterface,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      uint16(len(data)),
	}
	if _, err := f.Request(&setup); err != nil || len(data) == 0 {
		return err
	}
	return f.HW.DeliverControl(data)
}

// WaitPending polls until a transfer is queued on address.
func (f *Function) WaitPending(t testing.TB, address uint8) {
	t.Helper()
	require.Eventually(t, func() bool { return f.HW.Pending(address) > 0 },
		time.Second, time.Millisecond, "no transfer queued on 0x%02X", address)
}

// HostRead waits for an IN transfer on address and completes it, returning
// the bytes the function sent.
func (f *Function) HostRead(t testing.TB, address uint8) []byte {
	t.Helper()
	f.WaitPending(t, address)
	data, err := f.HW.Complete(address, nil)
	require.NoError(t, err)
	return data
}

// HostWrite waits for an OUT transfer on address and completes it with data.
func (f *Function) HostWrite(t testing.TB, address uint8, data []byte) {
	t.Helper()
	f.WaitPending(t, address)
	_, err := f.HW.Complete(address, data)
	require.NoError(t, err)
}
