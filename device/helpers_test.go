package device

import (
	"testing"

	"github.com/ardnew/usbfunc/device/hal/sim"
	"github.com/ardnew/usbfunc/pkg"
)

// Request types used by the tests.
const (
	reqDeviceIn     = RequestDirectionDeviceToHost | RequestRecipientDevice
	reqDeviceOut    = RequestDirectionHostToDevice | RequestRecipientDevice
	reqInterfaceIn  = RequestDirectionDeviceToHost | RequestRecipientInterface
	reqInterfaceOut = RequestDirectionHostToDevice | RequestRecipientInterface
	reqEndpointIn   = RequestDirectionDeviceToHost | RequestRecipientEndpoint
	reqEndpointOut  = RequestDirectionHostToDevice | RequestRecipientEndpoint
)

// testDriver claims interfaces whose class is listed, or the whole device
// when wholeDevice is set, and records every callback.
type testDriver struct {
	UnimplementedDriver

	name        string
	classes     []uint8
	wholeDevice bool

	bound       []uint8
	disconnects int
	alternates  []uint8
	setups      []SetupPacket
	transfers   []uint8
	events      []Event

	reply    []byte
	setupErr error
}

func (t *testDriver) Name() string { return t.name }

func (t *testDriver) ExamineDevice(*DeviceDescriptor) error {
	if t.wholeDevice {
		return nil
	}
	return pkg.ErrNotSupported
}

func (t *testDriver) ExamineInterface(desc *InterfaceDescriptor) error {
	for _, c := range t.classes {
		if desc.InterfaceClass == c {
			return nil
		}
	}
	return pkg.ErrNotSupported
}

func (t *testDriver) InitializeDevice(_ *Stack, d *Device) error {
	d.SetDriver(t)
	return nil
}

func (t *testDriver) InitializeInterface(_ *Stack, _ *Device, intf *Interface) error {
	intf.SetDriver(t)
	t.bound = append(t.bound, intf.Number())
	return nil
}

func (t *testDriver) Disconnect(*Stack, *Device) error {
	t.disconnects++
	return nil
}

func (t *testDriver) SetAlternateSetting(_ *Stack, _ *Device, _ *Interface, alt *AlternateSetting) error {
	t.alternates = append(t.alternates, alt.Value())
	return nil
}

func (t *testDriver) NewSetup(_ *Stack, d *Device, setup *SetupPacket) error {
	t.setups = append(t.setups, *setup)
	if t.reply != nil {
		d.Reply(t.reply)
	}
	return t.setupErr
}

func (t *testDriver) NewTransfer(_ *Stack, _ *Device, pipe *Pipe) error {
	t.transfers = append(t.transfers, pipe.Endpoint().Address())
	return nil
}

func (t *testDriver) Notify(_ *Stack, _ *Device, event Event) error {
	t.events = append(t.events, event)
	return nil
}

func (t *testDriver) hasEvent(kind Event) bool {
	for _, e := range t.events {
		if e.Kind() == kind {
			return true
		}
	}
	return false
}

// bulkInConfig is a configuration with one interface holding one bulk IN
// endpoint.
func bulkInConfig() []byte {
	return []byte{
		9, DescriptorTypeConfiguration, 25, 0, 1, 1, 0, 0x80, 50,
		9, DescriptorTypeInterface, 0, 0, 1, 0xFF, 0, 0, 0,
		7, DescriptorTypeEndpoint, 0x81, EndpointTypeBulk, 64, 0, 0,
	}
}

// vendorConfig builds a two-interface configuration. Interface 0 (vendor
// class) has two alternate settings, the second adding an interrupt
// endpoint; interface 1 (CDC data class) has one bulk endpoint.
func vendorConfig(t *testing.T, value uint8) []byte {
	t.Helper()
	raw, err := NewConfigBuilder(value, ConfigAttrSelfPowered, 50).
		Interface(0, 0, 0xFF, 0, 0).
		Endpoint(0x81, EndpointTypeBulk, 64, 0).
		Endpoint(0x02, EndpointTypeBulk, 64, 0).
		Interface(0, 1, 0xFF, 0, 0).
		Endpoint(0x81, EndpointTypeBulk, 64, 0).
		Endpoint(0x02, EndpointTypeBulk, 64, 0).
		Endpoint(0x83, EndpointTypeInterrupt, 8, 10).
		Interface(1, 0, 0x0A, 0, 0).
		Endpoint(0x84, EndpointTypeBulk, 64, 0).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return raw
}

// superSpeedConfig is vendorConfig's first interface with companions.
func superSpeedConfig(t *testing.T) []byte {
	t.Helper()
	raw, err := NewConfigBuilder(1, ConfigAttrSelfPowered, 50).
		Interface(0, 0, 0xFF, 0, 0).
		Endpoint(0x81, EndpointTypeBulk, 1024, 0).
		Companion(3, 0, 0).
		Endpoint(0x02, EndpointTypeBulk, 1024, 0).
		Companion(3, 0, 0).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return raw
}

// superSpeedBOS declares LPM, SuperSpeed (full, high and super speeds) and
// a container ID.
func superSpeedBOS() []byte {
	return []byte{
		5, DescriptorTypeBOS, 42, 0, 3,
		7, DescriptorTypeDeviceCapability, CapabilityTypeUSB2Extension, 0x02, 0, 0, 0,
		10, DescriptorTypeDeviceCapability, CapabilityTypeSuperSpeed, 0x02, 0x0E, 0, 1, 10, 0x20, 0x00,
		20, DescriptorTypeDeviceCapability, CapabilityTypeContainerID, 0,
		0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0xF0,
		0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF,
	}
}

// fixture is a full-speed-only device attached to a stack with one driver
// for both of vendorConfig's interfaces.
type fixture struct {
	hw    *sim.Controller
	stack *Stack
	dev   *Device
	drv   *testDriver
}

func newFixture(t *testing.T, drivers ...*testDriver) *fixture {
	t.Helper()
	hw := sim.New()
	dev, err := NewDeviceBuilder().
		WithVendorProduct(0x1209, 0x0001).
		WithStrings("Acme", "Widget", "0001").
		AddConfiguration(0, SpeedFull, vendorConfig(t, 1)).
		AddConfiguration(1, SpeedFull, vendorConfig(t, 2)).
		Build(hw)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	f := &fixture{hw: hw, stack: NewStack(), dev: dev}
	if len(drivers) == 0 {
		drivers = []*testDriver{{name: "vendor", classes: []uint8{0xFF, 0x0A}}}
	}
	f.drv = drivers[0]
	for _, drv := range drivers {
		if err := f.stack.RegisterDriver(drv); err != nil {
			t.Fatalf("RegisterDriver() error = %v", err)
		}
	}
	if err := f.stack.AttachDevice(dev); err != nil {
		t.Fatalf("AttachDevice() error = %v", err)
	}
	return f
}

func (f *fixture) request(reqType, req uint8, value, index, length uint16) error {
	return f.stack.NewSetup(f.dev, &SetupPacket{
		RequestType: reqType,
		Request:     req,
		Value:       value,
		Index:       index,
		Length:      length,
	})
}

// configure runs SET_ADDRESS and SET_CONFIGURATION.
func (f *fixture) configure(t *testing.T, value uint8) {
	t.Helper()
	if err := f.request(reqDeviceOut, RequestSetAddress, 5, 0, 0); err != nil {
		t.Fatalf("SET_ADDRESS error = %v", err)
	}
	if err := f.request(reqDeviceOut, RequestSetConfiguration, uint16(value), 0, 0); err != nil {
		t.Fatalf("SET_CONFIGURATION error = %v", err)
	}
	if got := f.dev.State(); got != StateConfigured {
		t.Fatalf("State() = %v, want %v", got, StateConfigured)
	}
}

// reply returns the last IN data stage.
func (f *fixture) reply() []byte {
	data, _ := f.hw.LastControl()
	return data
}
