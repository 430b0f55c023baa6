package device

import (
	"bytes"
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/ardnew/usbfunc/device/hal"
	"github.com/ardnew/usbfunc/device/hal/sim"
	"github.com/ardnew/usbfunc/pkg"
)

func TestLookupRequest(t *testing.T) {
	for req := 0; req <= 0xFF; req++ {
		known := req <= int(RequestSynchFrame) || req == int(RequestSetSEL) || req == int(RequestSetIsochDelay)
		if got := lookupRequest(uint8(req)) != nil; got != known {
			t.Errorf("lookupRequest(0x%02X) present = %v, want %v", req, got, known)
		}
	}
}

func TestUnknownRequest(t *testing.T) {
	f := newFixture(t)
	if err := f.request(reqDeviceIn, 0x0D, 0, 0, 0); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("NewSetup(0x0D) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
	f.configure(t, 1)
	if err := f.request(reqDeviceIn, 0x02, 0, 0, 0); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("NewSetup(0x02) error = %v, want %v", err, pkg.ErrNotSupported)
	}
	for _, req := range []uint8{RequestSetDescriptor, RequestSynchFrame, RequestSetIsochDelay} {
		if err := f.request(reqDeviceOut, req, 0, 0, 0); !errors.Is(err, pkg.ErrNotSupported) {
			t.Errorf("NewSetup(%s) error = %v, want %v", RequestName(req), err, pkg.ErrNotSupported)
		}
	}
}

func TestGetDescriptor_Device(t *testing.T) {
	f := newFixture(t)
	if err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeDevice)<<8, 0, 64); err != nil {
		t.Fatalf("GET_DESCRIPTOR error = %v", err)
	}
	var got DeviceDescriptor
	if err := ParseDeviceDescriptor(f.reply(), &got); err != nil {
		t.Fatalf("ParseDeviceDescriptor() error = %v", err)
	}
	if got.VendorID != 0x1209 || got.NumConfigurations != 2 || got.ProductIndex != 2 {
		t.Errorf("device descriptor = %+v", got)
	}

	// Truncated to wLength.
	if err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeDevice)<<8, 0, 8); err != nil {
		t.Fatalf("GET_DESCRIPTOR error = %v", err)
	}
	if got := len(f.reply()); got != 8 {
		t.Errorf("reply length = %d, want 8", got)
	}
}

func TestGetDescriptor_Configuration(t *testing.T) {
	f := newFixture(t)
	want := vendorConfig(t, 2)

	if err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeConfiguration)<<8|1, 0, 0xFF); err != nil {
		t.Fatalf("GET_DESCRIPTOR error = %v", err)
	}
	if got := f.reply(); !bytes.Equal(got, want) {
		t.Errorf("reply = % X, want % X", got, want)
	}

	if err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeConfiguration)<<8|2, 0, 0xFF); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("GET_DESCRIPTOR(index 2) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
}

func TestGetDescriptor_String(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		index uint8
		lang  uint16
		want  error
	}{
		{"languages", 0, 0, nil},
		{"languages any id", 0, 0x0407, nil},
		{"product", 2, LangIDUSEnglish, nil},
		{"wrong language", 2, 0x0407, pkg.ErrInvalidArgument},
		{"missing", 9, LangIDUSEnglish, pkg.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeString)<<8|uint16(tt.index), tt.lang, 0xFF)
			if !errors.Is(err, tt.want) {
				t.Errorf("GET_DESCRIPTOR error = %v, want %v", err, tt.want)
			}
		})
	}

	var buf [64]byte
	n := StringDescriptorTo(buf[:], "Widget")
	if err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeString)<<8|2, LangIDUSEnglish, 0xFF); err != nil {
		t.Fatalf("GET_DESCRIPTOR error = %v", err)
	}
	if got := f.reply(); !bytes.Equal(got, buf[:n]) {
		t.Errorf("reply = % X, want % X", got, buf[:n])
	}
}

func TestGetDescriptor_ZeroLengthPacket(t *testing.T) {
	f := newFixture(t)
	var buf [64]byte
	n := StringDescriptorTo(buf[:], "0123456789012345678901234567890") // 64 bytes
	if err := f.dev.AddString(4, LangIDUSEnglish, buf[:n]); err != nil {
		t.Fatalf("AddString() error = %v", err)
	}

	tests := []struct {
		length  uint16
		wantZLP bool
	}{
		{0xFF, true},
		{64, false},
		{32, false},
	}
	for _, tt := range tests {
		if err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeString)<<8|4, LangIDUSEnglish, tt.length); err != nil {
			t.Fatalf("GET_DESCRIPTOR error = %v", err)
		}
		if _, zlp := f.hw.LastControl(); zlp != tt.wantZLP {
			t.Errorf("wLength %d: ZLP = %v, want %v", tt.length, zlp, tt.wantZLP)
		}
	}
}

func TestGetDescriptor_NoQualifier(t *testing.T) {
	f := newFixture(t)
	for _, descType := range []uint8{DescriptorTypeDeviceQualifier, DescriptorTypeOtherSpeedConfig} {
		err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(descType)<<8, 0, 10)
		if !errors.Is(err, pkg.ErrRequestError) {
			t.Errorf("GET_DESCRIPTOR(0x%02X) error = %v, want %v", descType, err, pkg.ErrRequestError)
		}
		if errors.Is(err, pkg.ErrInvalidDescriptor) {
			t.Errorf("GET_DESCRIPTOR(0x%02X) error matches %v", descType, pkg.ErrInvalidDescriptor)
		}
	}
}

func TestGetDescriptor_BOS(t *testing.T) {
	f := newFixture(t)
	if err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeBOS)<<8, 0, 0xFF); !errors.Is(err, pkg.ErrInvalidDescriptor) {
		t.Errorf("GET_DESCRIPTOR(BOS) error = %v, want %v", err, pkg.ErrInvalidDescriptor)
	}
	if err := f.request(reqDeviceIn, RequestGetDescriptor, 0x0900, 0, 0xFF); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("GET_DESCRIPTOR(OTG) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
}

// dualSpeed builds a high-speed capable device with different blocks per
// speed.
func dualSpeed(t *testing.T) *fixture {
	t.Helper()
	hw := sim.New()
	hs := vendorConfig(t, 1)
	fs, err := NewConfigBuilder(1, ConfigAttrSelfPowered, 50).
		Interface(0, 0, 0xFF, 0, 0).
		Endpoint(0x81, EndpointTypeBulk, 64, 0).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	dev, err := NewDeviceBuilder().
		WithVendorProduct(0x1209, 0x0002).
		WithQualifier(1).
		AddConfiguration(0, SpeedHigh, hs).
		AddConfiguration(0, SpeedFull, fs).
		Build(hw)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	drv := &testDriver{name: "vendor", classes: []uint8{0xFF, 0x0A}}
	f := &fixture{hw: hw, stack: NewStack(), dev: dev, drv: drv}
	if err := f.stack.RegisterDriver(drv); err != nil {
		t.Fatalf("RegisterDriver() error = %v", err)
	}
	if err := f.stack.AttachDevice(dev); err != nil {
		t.Fatalf("AttachDevice() error = %v", err)
	}
	return f
}

func TestGetDescriptor_OtherSpeed(t *testing.T) {
	f := dualSpeed(t)
	if got := f.dev.State(); got != StatePowered {
		t.Fatalf("State() = %v, want %v", got, StatePowered)
	}
	if err := f.stack.SpeedChange(f.dev, SpeedHigh); err != nil {
		t.Fatalf("SpeedChange() error = %v", err)
	}
	if f.dev.Descriptor.USBVersion != 0x0210 || f.dev.Descriptor.MaxPacketSize0 != 64 {
		t.Errorf("descriptor bcdUSB 0x%04X mps0 %d", f.dev.Descriptor.USBVersion, f.dev.Descriptor.MaxPacketSize0)
	}

	stored := f.dev.ConfigDescriptor(0, SpeedFull)
	before := slices.Clone(stored)
	if err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeOtherSpeedConfig)<<8, 0, 0xFF); err != nil {
		t.Fatalf("GET_DESCRIPTOR(OTHER_SPEED) error = %v", err)
	}
	got := f.reply()
	if got[1] != DescriptorTypeOtherSpeedConfig || !bytes.Equal(got[2:], before[2:]) {
		t.Errorf("reply = % X", got)
	}
	if !bytes.Equal(stored, before) {
		t.Error("stored configuration block was modified")
	}

	if err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeDeviceQualifier)<<8, 0, 10); err != nil {
		t.Fatalf("GET_DESCRIPTOR(QUALIFIER) error = %v", err)
	}
	if got := f.reply(); len(got) != DeviceQualifierDescriptorSize || got[1] != DescriptorTypeDeviceQualifier {
		t.Errorf("reply = % X", got)
	}
}

func TestGetDescriptor_FullSpeedOnDualSpeed(t *testing.T) {
	f := dualSpeed(t)
	f.dev.Qualifier.USBVersion = 0x0250
	f.dev.Qualifier.MaxPacketSize0 = 32
	f.dev.Qualifier.NumConfigurations = 1

	if err := f.stack.SpeedChange(f.dev, SpeedFull); err != nil {
		t.Fatalf("SpeedChange() error = %v", err)
	}
	if !f.dev.OtherSpeed() {
		t.Fatal("OtherSpeed() = false, want true")
	}
	if got := f.dev.Configuration(0).Interface(0).Current().NumEndpoints(); got != 1 {
		t.Errorf("full-speed tree has %d endpoints, want 1", got)
	}

	if err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeDevice)<<8, 0, 18); err != nil {
		t.Fatalf("GET_DESCRIPTOR error = %v", err)
	}
	got := f.reply()
	if v := binary.LittleEndian.Uint16(got[2:4]); v != 0x0250 || got[7] != 32 || got[17] != 1 {
		t.Errorf("device descriptor = % X, want qualifier fields", got)
	}

	if err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeDeviceQualifier)<<8, 0, 10); err != nil {
		t.Fatalf("GET_DESCRIPTOR error = %v", err)
	}
	if got := f.reply(); binary.LittleEndian.Uint16(got[2:4]) != f.dev.Descriptor.USBVersion {
		t.Errorf("qualifier = % X, want device fields", got)
	}

	err := f.request(reqDeviceIn, RequestGetDescriptor, uint16(DescriptorTypeOtherSpeedConfig)<<8, 0, 0xFF)
	if !errors.Is(err, pkg.ErrInvalidDescriptor) {
		t.Errorf("GET_DESCRIPTOR(OTHER_SPEED) error = %v, want %v", err, pkg.ErrInvalidDescriptor)
	}
}

func TestSetAddress(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		value  uint16
		index  uint16
		length uint16
		want   error
	}{
		{"too large", 128, 0, 0, pkg.ErrInvalidArgument},
		{"index", 5, 1, 0, pkg.ErrInvalidArgument},
		{"length", 5, 0, 1, pkg.ErrInvalidArgument},
		{"valid", 5, 0, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.request(reqDeviceOut, RequestSetAddress, tt.value, tt.index, tt.length); !errors.Is(err, tt.want) {
				t.Errorf("SET_ADDRESS error = %v, want %v", err, tt.want)
			}
		})
	}
	if f.dev.State() != StateAddress || f.dev.Address() != 5 || f.hw.Address() != 5 {
		t.Errorf("state %v address %d hw %d", f.dev.State(), f.dev.Address(), f.hw.Address())
	}

	if err := f.request(reqDeviceOut, RequestSetAddress, 0, 0, 0); err != nil {
		t.Fatalf("SET_ADDRESS(0) error = %v", err)
	}
	if f.dev.State() != StateDefault || f.dev.Address() != 0 {
		t.Errorf("state %v address %d, want Default 0", f.dev.State(), f.dev.Address())
	}
}

func TestSetAddress_AutoConfiguration(t *testing.T) {
	f := newFixture(t)
	f.hw.SetCapability(hal.CapabilitySetConfiguration)
	if err := f.request(reqDeviceOut, RequestSetAddress, 3, 0, 0); err != nil {
		t.Fatalf("SET_ADDRESS error = %v", err)
	}
	if f.dev.State() != StateConfigured || f.dev.ActiveIndex() != 0 {
		t.Errorf("state %v active %d, want Configured 0", f.dev.State(), f.dev.ActiveIndex())
	}
	if !f.hw.IsOpen(0x81) {
		t.Error("pipe 0x81 not opened")
	}
}

func TestConfiguration(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)

	if got, want := f.hw.OpenPipes(), []uint8{0x02, 0x81, 0x84}; !slices.Equal(got, want) {
		t.Errorf("OpenPipes() = % X, want % X", got, want)
	}
	if got, want := f.drv.bound, []uint8{0, 1}; !slices.Equal(got, want) {
		t.Errorf("bound = %v, want %v", got, want)
	}

	if err := f.request(reqDeviceIn, RequestGetConfiguration, 0, 0, 1); err != nil {
		t.Fatalf("GET_CONFIGURATION error = %v", err)
	}
	if got := f.reply(); !bytes.Equal(got, []byte{1}) {
		t.Errorf("GET_CONFIGURATION = % X, want 01", got)
	}
	if err := f.request(reqDeviceIn, RequestGetConfiguration, 0, 0, 2); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("GET_CONFIGURATION(wLength 2) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}

	// Same value is a no-op.
	f.hw.ClearCalls()
	if err := f.request(reqDeviceOut, RequestSetConfiguration, 1, 0, 0); err != nil {
		t.Fatalf("SET_CONFIGURATION error = %v", err)
	}
	if calls := f.hw.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}

	// Switching closes the old pipes and disconnects the driver once.
	if err := f.request(reqDeviceOut, RequestSetConfiguration, 2, 0, 0); err != nil {
		t.Fatalf("SET_CONFIGURATION(2) error = %v", err)
	}
	if f.dev.ActiveIndex() != 1 || f.drv.disconnects != 1 {
		t.Errorf("active %d disconnects %d, want 1 1", f.dev.ActiveIndex(), f.drv.disconnects)
	}
	if got := len(f.hw.CallsOf(sim.OpClosePipe)); got != 3 {
		t.Errorf("ClosePipe calls = %d, want 3", got)
	}

	for _, tt := range []struct {
		value, index, length uint16
	}{
		{7, 0, 0},
		{0x0101, 0, 0},
		{1, 1, 0},
		{1, 0, 1},
	} {
		if err := f.request(reqDeviceOut, RequestSetConfiguration, tt.value, tt.index, tt.length); !errors.Is(err, pkg.ErrInvalidArgument) {
			t.Errorf("SET_CONFIGURATION(%+v) error = %v, want %v", tt, err, pkg.ErrInvalidArgument)
		}
	}
}

func TestSetConfiguration_Unconfigure(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)

	if err := f.request(reqDeviceOut, RequestSetConfiguration, 0, 0, 0); err != nil {
		t.Fatalf("SET_CONFIGURATION(0) error = %v", err)
	}
	if got := f.hw.OpenPipes(); len(got) != 0 {
		t.Errorf("OpenPipes() = % X, want none", got)
	}
	if f.drv.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", f.drv.disconnects)
	}
	if f.dev.State() != StateAddress {
		t.Errorf("State() = %v, want %v", f.dev.State(), StateAddress)
	}
	if f.dev.ActiveConfiguration() != nil {
		t.Error("ActiveConfiguration() != nil")
	}

	// Already unconfigured.
	if err := f.request(reqDeviceOut, RequestSetConfiguration, 0, 0, 0); err != nil {
		t.Errorf("SET_CONFIGURATION(0) again error = %v", err)
	}
}

func TestSetConfiguration_OpenFailure(t *testing.T) {
	f := newFixture(t)
	f.hw.FailOpen(0x84, pkg.ErrStall)
	if err := f.request(reqDeviceOut, RequestSetAddress, 5, 0, 0); err != nil {
		t.Fatalf("SET_ADDRESS error = %v", err)
	}
	if err := f.request(reqDeviceOut, RequestSetConfiguration, 1, 0, 0); !errors.Is(err, pkg.ErrStall) {
		t.Fatalf("SET_CONFIGURATION error = %v, want %v", err, pkg.ErrStall)
	}
	if f.dev.ActiveConfiguration() != nil || f.dev.State() != StateAddress {
		t.Errorf("active %v state %v", f.dev.ActiveConfiguration(), f.dev.State())
	}
	if got := f.hw.OpenPipes(); len(got) != 0 {
		t.Errorf("OpenPipes() = % X, want none", got)
	}
}

func TestInterface(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)

	if err := f.request(reqInterfaceIn, RequestGetInterface, 0, 0, 1); err != nil {
		t.Fatalf("GET_INTERFACE error = %v", err)
	}
	if got := f.reply(); !bytes.Equal(got, []byte{0}) {
		t.Errorf("GET_INTERFACE = % X, want 00", got)
	}

	if err := f.request(reqInterfaceOut, RequestSetInterface, 1, 0, 0); err != nil {
		t.Fatalf("SET_INTERFACE error = %v", err)
	}
	if !f.hw.IsOpen(0x83) {
		t.Error("pipe 0x83 not opened")
	}
	if got, want := f.drv.alternates, []uint8{1}; !slices.Equal(got, want) {
		t.Errorf("alternates = %v, want %v", got, want)
	}
	if err := f.request(reqInterfaceIn, RequestGetInterface, 0, 0, 1); err != nil {
		t.Fatalf("GET_INTERFACE error = %v", err)
	}
	if got := f.reply(); !bytes.Equal(got, []byte{1}) {
		t.Errorf("GET_INTERFACE = % X, want 01", got)
	}

	// Same alternate: nothing happens.
	f.hw.ClearCalls()
	if err := f.request(reqInterfaceOut, RequestSetInterface, 1, 0, 0); err != nil {
		t.Fatalf("SET_INTERFACE error = %v", err)
	}
	if calls := f.hw.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}

	if err := f.request(reqInterfaceOut, RequestSetInterface, 3, 0, 0); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("SET_INTERFACE(alt 3) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
	for _, tt := range []struct{ value, index, length uint16 }{
		{1, 0, 1},
		{0, 2, 1},
	} {
		if err := f.request(reqInterfaceIn, RequestGetInterface, tt.value, tt.index, tt.length); !errors.Is(err, pkg.ErrInvalidArgument) {
			t.Errorf("GET_INTERFACE(%+v) error = %v, want %v", tt, err, pkg.ErrInvalidArgument)
		}
	}
}

func TestSetInterface_UnknownInterface(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)
	active := f.dev.ActiveConfiguration()

	if err := f.request(reqInterfaceOut, RequestSetInterface, 0, 2, 0); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Fatalf("SET_INTERFACE error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
	if f.dev.ActiveConfiguration() != active {
		t.Error("active configuration changed")
	}
	for n := uint8(0); n < 2; n++ {
		if f.dev.Interface(n).Driver() != f.drv {
			t.Errorf("interface %d driver changed", n)
		}
	}
}

func TestSetInterface_Rollback(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)
	f.hw.FailOpen(0x83, pkg.ErrStall)

	if err := f.request(reqInterfaceOut, RequestSetInterface, 1, 0, 0); !errors.Is(err, pkg.ErrStall) {
		t.Fatalf("SET_INTERFACE error = %v, want %v", err, pkg.ErrStall)
	}
	if got := f.dev.Interface(0).Current().Value(); got != 0 {
		t.Errorf("current alternate = %d, want 0", got)
	}
	if got, want := f.hw.OpenPipes(), []uint8{0x02, 0x81, 0x84}; !slices.Equal(got, want) {
		t.Errorf("OpenPipes() = % X, want % X", got, want)
	}
	if len(f.drv.alternates) != 0 {
		t.Errorf("alternates = %v, want none", f.drv.alternates)
	}
	ep := f.dev.Interface(0).Current().FindEndpoint(0x81)
	if !ep.Pipe().IsOpen() || ep.Pipe().Device() != f.dev {
		t.Error("restored pipe binding missing")
	}
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)
	f.hw.SetStatus(hal.StatusSelfPowered)
	f.configure(t, 1)

	if err := f.request(reqDeviceOut, RequestSetFeature, FeatureDeviceRemoteWakeup, 0, 0); err != nil {
		t.Fatalf("SET_FEATURE error = %v", err)
	}
	if err := f.request(reqDeviceIn, RequestGetStatus, 0, 0, 2); err != nil {
		t.Fatalf("GET_STATUS error = %v", err)
	}
	if got := f.reply(); !bytes.Equal(got, []byte{0x03, 0x00}) {
		t.Errorf("GET_STATUS = % X, want 03 00", got)
	}

	if err := f.request(reqDeviceOut, RequestClearFeature, FeatureDeviceRemoteWakeup, 0, 0); err != nil {
		t.Fatalf("CLEAR_FEATURE error = %v", err)
	}
	if f.dev.RemoteWakeup() {
		t.Error("RemoteWakeup() = true after CLEAR_FEATURE")
	}

	if err := f.request(reqInterfaceIn, RequestGetStatus, 0, 1, 2); err != nil {
		t.Fatalf("GET_STATUS(interface) error = %v", err)
	}
	if got := f.reply(); !bytes.Equal(got, []byte{0, 0}) {
		t.Errorf("GET_STATUS(interface) = % X, want 00 00", got)
	}
	if err := f.request(reqInterfaceIn, RequestGetStatus, 0, 2, 2); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("GET_STATUS(interface 2) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
	if err := f.request(reqDeviceIn, RequestGetStatus, 1, 0, 2); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("GET_STATUS(wValue 1) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
	if err := f.request(reqDeviceIn, RequestGetStatus, 0, 0, 4); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("GET_STATUS(wLength 4) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
}

func TestGetStatus_Addressed(t *testing.T) {
	f := newFixture(t)
	if err := f.request(reqDeviceOut, RequestSetAddress, 5, 0, 0); err != nil {
		t.Fatalf("SET_ADDRESS error = %v", err)
	}
	if err := f.request(reqEndpointIn, RequestGetStatus, 0, 0, 2); err != nil {
		t.Errorf("GET_STATUS(EP0) error = %v", err)
	}
	if err := f.request(reqEndpointIn, RequestGetStatus, 0, 0x81, 2); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("GET_STATUS(0x81) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
	if err := f.request(reqInterfaceIn, RequestGetStatus, 0, 0, 2); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("GET_STATUS(interface) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
}

func TestEndpointHalt(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)

	if err := f.request(reqEndpointOut, RequestSetFeature, FeatureEndpointHalt, 0x81, 0); err != nil {
		t.Fatalf("SET_FEATURE(HALT) error = %v", err)
	}
	if !f.hw.IsHalted(0x81) {
		t.Error("endpoint 0x81 not halted")
	}
	if err := f.request(reqEndpointIn, RequestGetStatus, 0, 0x81, 2); err != nil {
		t.Fatalf("GET_STATUS error = %v", err)
	}
	if got := f.reply(); !bytes.Equal(got, []byte{0x01, 0x00}) {
		t.Errorf("GET_STATUS = % X, want 01 00", got)
	}

	if err := f.request(reqEndpointOut, RequestClearFeature, FeatureEndpointHalt, 0x81, 0); err != nil {
		t.Fatalf("CLEAR_FEATURE(HALT) error = %v", err)
	}
	if f.hw.IsHalted(0x81) {
		t.Error("endpoint 0x81 still halted")
	}
	if !f.drv.hasEvent(EventClearHaltEndpoint) {
		t.Error("driver not notified of cleared halt")
	}

	if err := f.request(reqEndpointOut, RequestSetFeature, FeatureEndpointHalt, 0x83, 0); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("SET_FEATURE(0x83) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
	if err := f.request(reqEndpointOut, RequestSetFeature, 5, 0x81, 0); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("SET_FEATURE(selector 5) error = %v, want %v", err, pkg.ErrInvalidRequest)
	}
}

func TestEndpointHalt_Addressed(t *testing.T) {
	f := newFixture(t)
	if err := f.request(reqDeviceOut, RequestSetAddress, 5, 0, 0); err != nil {
		t.Fatalf("SET_ADDRESS error = %v", err)
	}
	if err := f.request(reqEndpointOut, RequestSetFeature, FeatureEndpointHalt, 0, 0); err != nil {
		t.Errorf("SET_FEATURE(EP0 HALT) error = %v", err)
	}
	if err := f.request(reqEndpointOut, RequestSetFeature, FeatureEndpointHalt, 0x80, 0); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("SET_FEATURE(0x80) error = %v, want %v", err, pkg.ErrInvalidRequest)
	}
}

func TestDeviceFeature(t *testing.T) {
	f := newFixture(t)
	if err := f.request(reqDeviceOut, RequestSetFeature, FeatureBHNPEnable, 0, 0); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("SET_FEATURE(B_HNP_ENABLE) in default state error = %v, want %v", err, pkg.ErrInvalidState)
	}
	if err := f.request(reqDeviceOut, RequestSetAddress, 5, 0, 0); err != nil {
		t.Fatalf("SET_ADDRESS error = %v", err)
	}
	for _, feature := range []uint16{FeatureDeviceRemoteWakeup, FeatureBHNPEnable, FeatureAHNPSupport, FeatureAAltHNPSupport} {
		if err := f.request(reqDeviceOut, RequestSetFeature, feature, 0, 0); !errors.Is(err, pkg.ErrInvalidState) {
			t.Errorf("SET_FEATURE(%d) addressed error = %v, want %v", feature, err, pkg.ErrInvalidState)
		}
	}
	if f.hw.HNPStarted() || f.dev.OTGStatus() != 0 {
		t.Errorf("OTG state changed before configuration: hnp %v status 0x%02X", f.hw.HNPStarted(), f.dev.OTGStatus())
	}

	if err := f.request(reqDeviceOut, RequestSetConfiguration, 1, 0, 0); err != nil {
		t.Fatalf("SET_CONFIGURATION error = %v", err)
	}
	if err := f.request(reqDeviceOut, RequestSetFeature, FeatureBHNPEnable, 0, 0); err != nil {
		t.Fatalf("SET_FEATURE(B_HNP_ENABLE) error = %v", err)
	}
	if err := f.request(reqDeviceOut, RequestSetFeature, FeatureAHNPSupport, 0, 0); err != nil {
		t.Fatalf("SET_FEATURE(A_HNP_SUPPORT) error = %v", err)
	}
	if !f.hw.HNPStarted() {
		t.Error("HNP not started")
	}
	if got := f.dev.OTGStatus(); got != OTGStatusBHNPEnable|OTGStatusAHNPSupport {
		t.Errorf("OTGStatus() = 0x%02X", got)
	}

	if err := f.request(reqDeviceOut, RequestSetFeature, FeatureTestMode, 0x0400, 0); err != nil {
		t.Fatalf("SET_FEATURE(TEST_MODE) error = %v", err)
	}
	if f.hw.TestMode() != 4 || f.dev.TestMode() != 4 {
		t.Errorf("test mode hw %d device %d, want 4", f.hw.TestMode(), f.dev.TestMode())
	}

	tests := []struct {
		name    string
		req     uint8
		feature uint16
		index   uint16
		length  uint16
	}{
		{"clear test mode", RequestClearFeature, FeatureTestMode, 0, 0},
		{"clear otg", RequestClearFeature, FeatureBHNPEnable, 0, 0},
		{"low index byte", RequestSetFeature, FeatureDeviceRemoteWakeup, 1, 0},
		{"length", RequestSetFeature, FeatureDeviceRemoteWakeup, 0, 1},
		{"unknown", RequestSetFeature, 0x20, 0, 0},
		{"u1 below superspeed", RequestSetFeature, FeatureU1Enable, 0, 0},
		{"ltm below superspeed", RequestSetFeature, FeatureLTMEnable, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.request(reqDeviceOut, tt.req, tt.feature, tt.index, tt.length); !errors.Is(err, pkg.ErrInvalidRequest) {
				t.Errorf("error = %v, want %v", err, pkg.ErrInvalidRequest)
			}
		})
	}
}

func TestInterfaceFeature(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)
	if err := f.request(reqInterfaceOut, RequestSetFeature, FeatureFunctionSuspend, 0x0101, 0); err != nil {
		t.Fatalf("SET_FEATURE(FUNCTION_SUSPEND) error = %v", err)
	}
	if got := f.hw.SuspendOptions(1); got != SuspendOptionLowPower {
		t.Errorf("SuspendOptions(1) = %d, want %d", got, SuspendOptionLowPower)
	}
	last := f.drv.events[len(f.drv.events)-1]
	if last.Kind() != EventFunctionSuspend || !last.Has(EventFlagFunctionSuspend) || last.Has(EventFlagRemoteWake) {
		t.Errorf("event = %v (0x%08X)", last, uint32(last))
	}

	if err := f.request(reqInterfaceOut, RequestClearFeature, FeatureFunctionSuspend, 1, 0); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("CLEAR_FEATURE(FUNCTION_SUSPEND) error = %v, want %v", err, pkg.ErrInvalidRequest)
	}
	if err := f.request(reqInterfaceOut, RequestSetFeature, FeatureFunctionSuspend, 5, 0); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("SET_FEATURE(interface 5) error = %v, want %v", err, pkg.ErrInvalidRequest)
	}
}
