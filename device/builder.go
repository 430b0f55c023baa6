package device

import (
	"encoding/binary"

	"github.com/ardnew/usbfunc/device/hal"
	"github.com/ardnew/usbfunc/pkg"
)

// ConfigBuilder assembles a raw configuration descriptor block. Counts and
// wTotalLength are filled in by Build.
type ConfigBuilder struct {
	buf    []byte
	intf   int // offset of the last interface descriptor, or -1
	ep     int // offset of the last endpoint descriptor, or -1
	errors []error
}

// NewConfigBuilder starts a configuration block. ConfigAttrBusPowered is
// always set in bmAttributes.
func NewConfigBuilder(value, attributes, maxPower uint8) *ConfigBuilder {
	b := &ConfigBuilder{intf: -1, ep: -1}
	desc := ConfigurationDescriptor{
		ConfigurationValue: value,
		Attributes:         attributes | ConfigAttrBusPowered,
		MaxPower:           maxPower,
	}
	var hdr [ConfigurationDescriptorSize]byte
	desc.MarshalTo(hdr[:])
	b.buf = append(b.buf, hdr[:]...)
	return b
}

// OTG appends a 3-byte OTG descriptor.
func (b *ConfigBuilder) OTG(attributes uint8) *ConfigBuilder {
	b.buf = append(b.buf, 3, DescriptorTypeOTG, attributes)
	return b
}

// Association appends an interface association descriptor.
func (b *ConfigBuilder) Association(first, count, class, subClass, protocol uint8) *ConfigBuilder {
	iad := InterfaceAssociationDescriptor{
		FirstInterface:   first,
		InterfaceCount:   count,
		FunctionClass:    class,
		FunctionSubClass: subClass,
		FunctionProtocol: protocol,
	}
	var rec [IADSize]byte
	iad.MarshalTo(rec[:])
	b.buf = append(b.buf, rec[:]...)
	b.ep = -1
	return b
}

// Interface appends an interface descriptor. Following endpoints are
// counted into its bNumEndpoints.
func (b *ConfigBuilder) Interface(number, alternate, class, subClass, protocol uint8) *ConfigBuilder {
	desc := InterfaceDescriptor{
		InterfaceNumber:   number,
		AlternateSetting:  alternate,
		InterfaceClass:    class,
		InterfaceSubClass: subClass,
		InterfaceProtocol: protocol,
	}
	var rec [InterfaceDescriptorSize]byte
	desc.MarshalTo(rec[:])
	b.intf = len(b.buf)
	b.ep = -1
	b.buf = append(b.buf, rec[:]...)
	return b
}

// Endpoint appends an endpoint descriptor to the last interface.
func (b *ConfigBuilder) Endpoint(address, attributes uint8, maxPacketSize uint16, interval uint8) *ConfigBuilder {
	if b.intf < 0 {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	desc := EndpointDescriptor{
		EndpointAddress: address,
		Attributes:      attributes,
		MaxPacketSize:   maxPacketSize,
		Interval:        interval,
	}
	var rec [EndpointDescriptorSize]byte
	desc.MarshalTo(rec[:])
	b.ep = len(b.buf)
	b.buf = append(b.buf, rec[:]...)
	b.buf[b.intf+4]++
	return b
}

// Companion appends a SuperSpeed companion to the last endpoint.
func (b *ConfigBuilder) Companion(maxBurst, attributes uint8, bytesPerInterval uint16) *ConfigBuilder {
	if b.ep < 0 {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	desc := SSEndpointCompanionDescriptor{
		MaxBurst:         maxBurst,
		Attributes:       attributes,
		BytesPerInterval: bytesPerInterval,
	}
	var rec [SSEndpointCompanionSize]byte
	desc.MarshalTo(rec[:])
	b.buf = append(b.buf, rec[:]...)
	return b
}

// ClassSpecific appends raw descriptor records, such as a CDC functional
// descriptor or a HID class descriptor.
func (b *ConfigBuilder) ClassSpecific(data ...byte) *ConfigBuilder {
	b.buf = append(b.buf, data...)
	return b
}

// Build returns the block with bNumInterfaces and wTotalLength set.
func (b *ConfigBuilder) Build() ([]byte, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if len(b.buf) > ControlBufferSize {
		return nil, pkg.ErrMaxExceeded
	}

	var numInterfaces uint8
	for off := ConfigurationDescriptorSize; off+1 < len(b.buf); {
		n := int(b.buf[off])
		if n < 2 || off+n > len(b.buf) {
			return nil, pkg.ErrInvalidDescriptor
		}
		if b.buf[off+1] == DescriptorTypeInterface && n >= InterfaceDescriptorSize && b.buf[off+3] == 0 {
			numInterfaces++
		}
		off += n
	}
	b.buf[4] = numInterfaces
	binary.LittleEndian.PutUint16(b.buf[2:4], uint16(len(b.buf)))

	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out, nil
}

// DeviceBuilder provides a fluent API for building devices.
type DeviceBuilder struct {
	desc      DeviceDescriptor
	qualifier DeviceQualifierDescriptor
	configs   [MaxConfigurations][NumSpeeds][]byte
	bos       []byte
	strings   []stringEntry
	errors    []error
}

// NewDeviceBuilder creates a builder for a USB 2.0 device with a 64-byte
// control endpoint.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{
		desc: DeviceDescriptor{
			Length:         DeviceDescriptorSize,
			DescriptorType: DescriptorTypeDevice,
			USBVersion:     0x0200,
			MaxPacketSize0: 64,
		},
	}
}

// WithDescriptor replaces the device descriptor.
func (b *DeviceBuilder) WithDescriptor(desc DeviceDescriptor) *DeviceBuilder {
	b.desc = desc
	return b
}

// WithVendorProduct sets vendor and product IDs.
func (b *DeviceBuilder) WithVendorProduct(vendorID, productID uint16) *DeviceBuilder {
	b.desc.VendorID = vendorID
	b.desc.ProductID = productID
	return b
}

// WithClass sets the device class triple.
func (b *DeviceBuilder) WithClass(class, subClass, protocol uint8) *DeviceBuilder {
	b.desc.DeviceClass = class
	b.desc.DeviceSubClass = subClass
	b.desc.DeviceProtocol = protocol
	return b
}

// WithQualifier marks the device dual-speed. The qualifier describes the
// other speed with numConfigurations configurations.
func (b *DeviceBuilder) WithQualifier(numConfigurations uint8) *DeviceBuilder {
	b.qualifier = DeviceQualifierDescriptor{
		Length:            DeviceQualifierDescriptorSize,
		DescriptorType:    DescriptorTypeDeviceQualifier,
		USBVersion:        b.desc.USBVersion,
		DeviceClass:       b.desc.DeviceClass,
		DeviceSubClass:    b.desc.DeviceSubClass,
		DeviceProtocol:    b.desc.DeviceProtocol,
		MaxPacketSize0:    b.desc.MaxPacketSize0,
		NumConfigurations: numConfigurations,
	}
	return b
}

// WithStrings stores the language table and the manufacturer, product and
// serial strings at indices 1, 2 and 3. Empty strings are skipped.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	var buf [256]byte
	n := LanguageDescriptorTo(buf[:], LangIDUSEnglish)
	b.strings = append(b.strings, stringEntry{
		langID: LangIDUSEnglish,
		data:   append([]byte(nil), buf[:n]...),
	})

	indices := [...]*uint8{
		&b.desc.ManufacturerIndex,
		&b.desc.ProductIndex,
		&b.desc.SerialNumberIndex,
	}
	for i, s := range [...]string{manufacturer, product, serial} {
		if s == "" {
			continue
		}
		n := StringDescriptorTo(buf[:], s)
		*indices[i] = uint8(i + 1)
		b.strings = append(b.strings, stringEntry{
			index:  uint8(i + 1),
			langID: LangIDUSEnglish,
			data:   append([]byte(nil), buf[:n]...),
		})
	}
	return b
}

// AddString stores a string descriptor for s at index.
func (b *DeviceBuilder) AddString(index uint8, s string) *DeviceBuilder {
	var buf [256]byte
	n := StringDescriptorTo(buf[:], s)
	b.strings = append(b.strings, stringEntry{
		index:  index,
		langID: LangIDUSEnglish,
		data:   append([]byte(nil), buf[:n]...),
	})
	return b
}

// AddConfiguration stores a raw configuration block at index for speed and
// raises bNumConfigurations to cover it.
func (b *DeviceBuilder) AddConfiguration(index int, speed Speed, raw []byte) *DeviceBuilder {
	if index < 0 || index >= MaxConfigurations || speed >= NumSpeeds {
		b.errors = append(b.errors, pkg.ErrInvalidArgument)
		return b
	}
	b.configs[index][speed] = raw
	if n := uint8(index + 1); b.desc.NumConfigurations < n {
		b.desc.NumConfigurations = n
	}
	return b
}

// WithBOS stores a raw BOS descriptor set.
func (b *DeviceBuilder) WithBOS(raw []byte) *DeviceBuilder {
	b.bos = raw
	return b
}

// Build returns a detached device served by hw.
func (b *DeviceBuilder) Build(hw hal.Controller) (*Device, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if hw == nil {
		return nil, pkg.ErrInvalidArgument
	}

	dev := NewDevice(hw, b.desc)
	dev.SetQualifier(b.qualifier)
	for i := range b.configs {
		for speed, raw := range b.configs[i] {
			if raw == nil {
				continue
			}
			if err := dev.SetConfigDescriptor(i, Speed(speed), raw); err != nil {
				return nil, err
			}
		}
	}
	if b.bos != nil {
		if err := dev.SetBOS(b.bos); err != nil {
			return nil, err
		}
	}
	for _, s := range b.strings {
		if err := dev.AddString(s.index, s.langID, s.data); err != nil {
			return nil, err
		}
	}
	return dev, nil
}
