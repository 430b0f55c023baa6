package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/usbfunc/pkg"
)

func TestParseConfigDescriptors_BulkEndpoint(t *testing.T) {
	var cfg Configuration
	if err := ParseConfigDescriptors(&DeviceDescriptor{}, bulkInConfig(), &cfg); err != nil {
		t.Fatalf("ParseConfigDescriptors() error = %v", err)
	}
	if got := cfg.NumInterfaces(); got != 1 {
		t.Fatalf("NumInterfaces() = %d, want 1", got)
	}
	alt := cfg.Interface(0).AlternateSetting(0)
	if alt == nil {
		t.Fatal("AlternateSetting(0) = nil")
	}
	if got := alt.NumEndpoints(); got != 1 {
		t.Fatalf("NumEndpoints() = %d, want 1", got)
	}
	if got := alt.Endpoint(0).Address(); got != 0x81 {
		t.Errorf("Address() = 0x%02X, want 0x81", got)
	}
	if got := cfg.Value(); got != 1 {
		t.Errorf("Value() = %d, want 1", got)
	}
	if !bytes.Equal(cfg.Raw(), bulkInConfig()) {
		t.Errorf("Raw() = % X", cfg.Raw())
	}
}

func TestParseConfigDescriptors_EndpointZero(t *testing.T) {
	raw := bulkInConfig()
	raw[20] = 0x80 // endpoint 0 IN

	cfg := Configuration{numInterfaces: 3}
	err := ParseConfigDescriptors(&DeviceDescriptor{}, raw, &cfg)
	if !errors.Is(err, pkg.ErrInvalidDescriptor) {
		t.Fatalf("ParseConfigDescriptors() error = %v, want %v", err, pkg.ErrInvalidDescriptor)
	}
	if cfg.NumInterfaces() != 0 || cfg.Raw() != nil {
		t.Error("output not zeroed on failure")
	}
}

func TestParseConfigDescriptors_Errors(t *testing.T) {
	multi := &DeviceDescriptor{DeviceClass: ClassMisc, DeviceSubClass: 0x02, DeviceProtocol: 0x01}

	tests := []struct {
		name   string
		dev    *DeviceDescriptor
		mutate func([]byte) []byte
		want   error
	}{
		{"short block", nil, func(b []byte) []byte { return b[:8] }, pkg.ErrInvalidDescriptor},
		{"config bLength", nil, func(b []byte) []byte { b[0] = 10; return b }, pkg.ErrInvalidDescriptor},
		{"total length", nil, func(b []byte) []byte { b[2] = 24; return b }, pkg.ErrInvalidDescriptor},
		{"trailing bytes", nil, func(b []byte) []byte { b[2] = 27; return append(b, 2, 0x24) }, nil},
		{"zero bLength", nil, func(b []byte) []byte { b[2] = 27; return append(b, 0, 0) }, pkg.ErrInvalidDescriptor},
		{"overrun", nil, func(b []byte) []byte { b[2] = 27; return append(b, 5, 0x24) }, pkg.ErrInvalidDescriptor},
		{"dangling byte", nil, func(b []byte) []byte { b[2] = 26; return append(b, 2) }, pkg.ErrInvalidDescriptor},
		{"too many interfaces", nil, func(b []byte) []byte { b[4] = MaxInterfaces + 1; return b }, pkg.ErrMaxExceeded},
		{"interface count mismatch", nil, func(b []byte) []byte { b[4] = 2; return b }, pkg.ErrInvalidDescriptor},
		{"bus power", nil, func(b []byte) []byte { b[8] = MaxBusPower + 1; return b }, pkg.ErrInvalidDescriptor},
		{"self powered draw", nil, func(b []byte) []byte { b[7] |= ConfigAttrSelfPowered; b[8] = 255; return b }, nil},
		{"embedded device", nil, func(b []byte) []byte { b[2] = 27; return append(b, 2, DescriptorTypeDevice) }, pkg.ErrInvalidDescriptor},
		{"missing endpoint", nil, func(b []byte) []byte { b[13] = 2; return b }, pkg.ErrInvalidDescriptor},
		{"extra endpoint", nil, func(b []byte) []byte { b[13] = 0; return b }, pkg.ErrInvalidDescriptor},
		{"too many endpoints", nil, func(b []byte) []byte { b[13] = MaxEndpoints + 1; return b }, pkg.ErrMaxExceeded},
		{"interface number", nil, func(b []byte) []byte { b[11] = MaxInterfaces; return b }, pkg.ErrMaxExceeded},
		{"alternate number", nil, func(b []byte) []byte { b[12] = MaxAlternateSettings; return b }, pkg.ErrMaxExceeded},
		{"interface beyond count", nil, func(b []byte) []byte { b[11] = 1; return b }, pkg.ErrInvalidDescriptor},
		{"subclass without class", nil, func(b []byte) []byte { b[14], b[15] = 0, 1; return b }, pkg.ErrInvalidDescriptor},
		{"iso in alt 0", nil, func(b []byte) []byte { b[21] = EndpointTypeIsochronous; return b }, pkg.ErrInvalidDescriptor},
		{
			"iad without multi-function", nil,
			func(b []byte) []byte { return withIAD(b, 0, 1) },
			pkg.ErrInvalidDescriptor,
		},
		{"iad", multi, func(b []byte) []byte { return withIAD(b, 0, 1) }, nil},
		{"iad beyond interfaces", multi, func(b []byte) []byte { return withIAD(b, 0, 2) }, pkg.ErrInvalidDescriptor},
		{"iad empty", multi, func(b []byte) []byte { return withIAD(b, 0, 0) }, pkg.ErrInvalidDescriptor},
		{
			"companion without endpoint", nil,
			func(b []byte) []byte {
				b[2] = 31
				return append(b[:18:18], append([]byte{6, DescriptorTypeSSEndpointCompanion, 0, 0, 0, 0}, b[18:]...)...)
			},
			pkg.ErrInvalidDescriptor,
		},
		{
			"second otg", nil,
			func(b []byte) []byte { b[2] = 31; return append(b, 3, DescriptorTypeOTG, 3, 3, DescriptorTypeOTG, 3) },
			pkg.ErrInvalidDescriptor,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := tt.dev
			if dev == nil {
				dev = &DeviceDescriptor{}
			}
			var cfg Configuration
			err := ParseConfigDescriptors(dev, tt.mutate(bulkInConfig()), &cfg)
			if tt.want == nil {
				if err != nil {
					t.Errorf("ParseConfigDescriptors() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseConfigDescriptors() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// withIAD inserts an IAD before the interface descriptor of bulkInConfig.
func withIAD(b []byte, first, count uint8) []byte {
	iad := []byte{IADSize, DescriptorTypeInterfaceAssociation, first, count, 0xFF, 0, 0, 0}
	out := append(append(append([]byte(nil), b[:9]...), iad...), b[9:]...)
	out[2] += IADSize
	return out
}

func TestParseConfigDescriptors_NilArguments(t *testing.T) {
	var cfg Configuration
	if err := ParseConfigDescriptors(nil, bulkInConfig(), &cfg); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("ParseConfigDescriptors(nil dev) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
	if err := ParseConfigDescriptors(&DeviceDescriptor{}, bulkInConfig(), nil); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("ParseConfigDescriptors(nil out) error = %v, want %v", err, pkg.ErrInvalidArgument)
	}
}

func TestParseConfigDescriptors_ClassSpecific(t *testing.T) {
	raw, err := NewConfigBuilder(1, 0, 50).
		ClassSpecific(3, 0x24, 0x01).
		Interface(0, 0, 0x02, 0x02, 0x01).
		ClassSpecific(5, 0x24, 0x00, 0x10, 0x01).
		ClassSpecific(4, 0x24, 0x02, 0x02).
		Endpoint(0x83, EndpointTypeInterrupt, 8, 16).
		ClassSpecific(3, 0x25, 0x01).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var cfg Configuration
	if err := ParseConfigDescriptors(&DeviceDescriptor{}, raw, &cfg); err != nil {
		t.Fatalf("ParseConfigDescriptors() error = %v", err)
	}

	if got, want := cfg.ClassSpecific(), []byte{3, 0x24, 0x01}; !bytes.Equal(got, want) {
		t.Errorf("Configuration.ClassSpecific() = % X, want % X", got, want)
	}
	alt := cfg.Interface(0).Current()
	if got, want := alt.ClassSpecific(), []byte{5, 0x24, 0x00, 0x10, 0x01, 4, 0x24, 0x02, 0x02}; !bytes.Equal(got, want) {
		t.Errorf("AlternateSetting.ClassSpecific() = % X, want % X", got, want)
	}
	if got, want := alt.Endpoint(0).ClassSpecific(), []byte{3, 0x25, 0x01}; !bytes.Equal(got, want) {
		t.Errorf("Endpoint.ClassSpecific() = % X, want % X", got, want)
	}

	// Ranges are capped so appending never writes into the stored block.
	cs := alt.ClassSpecific()
	if cap(cs) != len(cs) {
		t.Errorf("cap(ClassSpecific()) = %d, want %d", cap(cs), len(cs))
	}
}

func TestParseConfigDescriptors_Association(t *testing.T) {
	dev := &DeviceDescriptor{DeviceClass: ClassMisc, DeviceSubClass: 0x02, DeviceProtocol: 0x01}
	raw, err := NewConfigBuilder(1, 0, 50).
		Association(0, 2, 0x02, 0x02, 0x01).
		Interface(0, 0, 0x02, 0x02, 0x01).
		Endpoint(0x83, EndpointTypeInterrupt, 8, 16).
		Interface(1, 0, 0x0A, 0, 0).
		Endpoint(0x81, EndpointTypeBulk, 64, 0).
		Endpoint(0x01, EndpointTypeBulk, 64, 0).
		Association(2, 1, 0xFF, 0, 0).
		ClassSpecific(3, 0x24, 0x09).
		Interface(2, 0, 0xFF, 0, 0).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var cfg Configuration
	if err := ParseConfigDescriptors(dev, raw, &cfg); err != nil {
		t.Fatalf("ParseConfigDescriptors() error = %v", err)
	}
	if got := cfg.NumAssociations(); got != 2 {
		t.Fatalf("NumAssociations() = %d, want 2", got)
	}
	for n, want := range []int{0, 0, 1} {
		if got := cfg.Interface(uint8(n)).AssociationIndex(); got != want {
			t.Errorf("Interface(%d).AssociationIndex() = %d, want %d", n, got, want)
		}
	}
	if a := cfg.Association(0); a.First() != 0 || a.Last() != 1 {
		t.Errorf("Association(0) = %d..%d, want 0..1", a.First(), a.Last())
	}
	// A record between an IAD and the next interface has no scope.
	if got := cfg.ClassSpecific(); got != nil {
		t.Errorf("ClassSpecific() = % X, want none", got)
	}
}

func TestParseConfigDescriptors_LeadingClassSpecific(t *testing.T) {
	dev := &DeviceDescriptor{DeviceClass: ClassMisc, DeviceSubClass: 0x02, DeviceProtocol: 0x01}
	raw, err := NewConfigBuilder(1, 0, 50).
		ClassSpecific(3, 0x24, 0xAA).
		Interface(0, 0, 0xFF, 0, 0).
		Association(1, 1, 0xFF, 0, 0).
		ClassSpecific(3, 0x24, 0xBB).
		Interface(1, 0, 0xFF, 0, 0).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var cfg Configuration
	if err := ParseConfigDescriptors(dev, raw, &cfg); err != nil {
		t.Fatalf("ParseConfigDescriptors() error = %v", err)
	}
	if diff := cmp.Diff([]byte{3, 0x24, 0xAA}, cfg.ClassSpecific()); diff != "" {
		t.Errorf("ClassSpecific() mismatch (-want +got):\n%s", diff)
	}
	for n := uint8(0); n < 2; n++ {
		if cs := cfg.Interface(n).Current().ClassSpecific(); cs != nil {
			t.Errorf("Interface(%d) ClassSpecific() = % X, want none", n, cs)
		}
	}
}

func TestParseConfigDescriptors_OverlappingAssociations(t *testing.T) {
	dev := &DeviceDescriptor{DeviceClass: ClassMisc, DeviceSubClass: 0x02, DeviceProtocol: 0x01}
	raw, err := NewConfigBuilder(1, 0, 50).
		Association(0, 2, 0xFF, 0, 0).
		Interface(0, 0, 0xFF, 0, 0).
		Association(1, 1, 0xFF, 0, 0).
		Interface(1, 0, 0xFF, 0, 0).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	var cfg Configuration
	if err := ParseConfigDescriptors(dev, raw, &cfg); !errors.Is(err, pkg.ErrInvalidDescriptor) {
		t.Errorf("ParseConfigDescriptors() error = %v, want %v", err, pkg.ErrInvalidDescriptor)
	}
}

func TestParseConfigDescriptors_AlternateSettings(t *testing.T) {
	var cfg Configuration
	if err := ParseConfigDescriptors(&DeviceDescriptor{}, vendorConfig(t, 1), &cfg); err != nil {
		t.Fatalf("ParseConfigDescriptors() error = %v", err)
	}
	intf := cfg.Interface(0)
	if got := intf.NumAlternateSettings(); got != 2 {
		t.Fatalf("NumAlternateSettings() = %d, want 2", got)
	}
	if got := intf.AlternateSetting(1).NumEndpoints(); got != 3 {
		t.Errorf("alternate 1 NumEndpoints() = %d, want 3", got)
	}
	if intf.AlternateSetting(2) != nil {
		t.Error("AlternateSetting(2) != nil")
	}
	if cfg.Interface(2) != nil {
		t.Error("Interface(2) != nil")
	}
	if ep, owner := cfg.FindEndpoint(0x84); ep == nil || owner.Number() != 1 {
		t.Errorf("FindEndpoint(0x84) = %v, %v", ep, owner)
	}
	// Only the current alternate setting is searched.
	if ep, _ := cfg.FindEndpoint(0x83); ep != nil {
		t.Errorf("FindEndpoint(0x83) = %v, want nil", ep)
	}
}

func TestParseConfigDescriptors_DuplicateAlternate(t *testing.T) {
	raw, err := NewConfigBuilder(1, 0, 50).
		Interface(0, 0, 0xFF, 0, 0).
		Interface(0, 0, 0xFF, 0, 0).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	var cfg Configuration
	if err := ParseConfigDescriptors(&DeviceDescriptor{}, raw, &cfg); !errors.Is(err, pkg.ErrInvalidDescriptor) {
		t.Errorf("ParseConfigDescriptors() error = %v, want %v", err, pkg.ErrInvalidDescriptor)
	}
}

func TestParseConfigDescriptors_MissingAlternateZero(t *testing.T) {
	raw := bulkInConfig()
	raw[12] = 1 // only alternate 1
	var cfg Configuration
	if err := ParseConfigDescriptors(&DeviceDescriptor{}, raw, &cfg); !errors.Is(err, pkg.ErrInvalidDescriptor) {
		t.Errorf("ParseConfigDescriptors() error = %v, want %v", err, pkg.ErrInvalidDescriptor)
	}
}

func TestParseConfigDescriptors_CompanionAndOTG(t *testing.T) {
	raw, err := NewConfigBuilder(1, 0, 50).
		OTG(OTGAttrSRPSupport | OTGAttrHNPSupport).
		Interface(0, 0, 0xFF, 0, 0).
		Endpoint(0x81, EndpointTypeBulk, 1024, 0).
		Companion(15, 4, 0).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	var cfg Configuration
	if err := ParseConfigDescriptors(&DeviceDescriptor{}, raw, &cfg); err != nil {
		t.Fatalf("ParseConfigDescriptors() error = %v", err)
	}
	otg, ok := cfg.OTG()
	if !ok || otg.Attributes != OTGAttrSRPSupport|OTGAttrHNPSupport {
		t.Errorf("OTG() = %+v, %v", otg, ok)
	}
	ep := cfg.Interface(0).Current().Endpoint(0)
	comp, ok := ep.Companion()
	if !ok || comp.MaxBurst != 15 || comp.Attributes != 4 {
		t.Errorf("Companion() = %+v, %v", comp, ok)
	}
	if pc := ep.PipeConfig(); pc.MaxBurst != 15 || pc.SSAttributes != 4 || pc.MaxPacketSize != 1024 {
		t.Errorf("PipeConfig() = %+v", pc)
	}
}

func TestParseConfigDescriptors_Idempotent(t *testing.T) {
	raw := vendorConfig(t, 1)
	var first, second Configuration
	if err := ParseConfigDescriptors(&DeviceDescriptor{}, raw, &first); err != nil {
		t.Fatalf("ParseConfigDescriptors() error = %v", err)
	}
	// A reused output is fully overwritten.
	second.numAssociations = 2
	second.interfaces[5].numAlts = 1
	if err := ParseConfigDescriptors(&DeviceDescriptor{}, raw, &second); err != nil {
		t.Fatalf("ParseConfigDescriptors() error = %v", err)
	}
	opts := cmp.AllowUnexported(Configuration{}, Interface{}, AlternateSetting{}, Endpoint{}, Association{}, Pipe{})
	if diff := cmp.Diff(first, second, opts); diff != "" {
		t.Errorf("second parse differs (-first +second):\n%s", diff)
	}
}
