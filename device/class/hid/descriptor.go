package hid

import (
	"encoding/binary"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/pkg"
)

// Interface subclass and protocol codes (HID 1.11 section 4.2, 4.3).
const (
	SubclassNone = 0x00
	SubclassBoot = 0x01

	ProtocolNone     = 0x00
	ProtocolKeyboard = 0x01
	ProtocolMouse    = 0x02
)

// Class request codes (HID 1.11 section 7.2).
const (
	RequestGetReport   = 0x01
	RequestGetIdle     = 0x02
	RequestGetProtocol = 0x03
	RequestSetReport   = 0x09
	RequestSetIdle     = 0x0A
	RequestSetProtocol = 0x0B
)

// Report types, carried in the high byte of wValue by GET/SET_REPORT.
const (
	ReportTypeInput   = 0x01
	ReportTypeOutput  = 0x02
	ReportTypeFeature = 0x03
)

// Protocol modes selected by SET_PROTOCOL.
const (
	ProtocolModeBoot   = 0x00
	ProtocolModeReport = 0x01
)

// Version is the bcdHID advertised by ClassDescriptor.
const Version = 0x0111

// ClassDescriptorSize is the length of a HID class descriptor declaring one
// report descriptor.
const ClassDescriptorSize = 9

// ClassDescriptor is the HID class descriptor that follows a HID interface
// descriptor.
type ClassDescriptor struct {
	HIDVersion   uint16
	CountryCode  uint8
	ReportLength uint16 // wDescriptorLength of the report descriptor
}

// MarshalTo writes the descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (c *ClassDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ClassDescriptorSize {
		return 0
	}
	buf[0] = ClassDescriptorSize
	buf[1] = device.DescriptorTypeHID
	binary.LittleEndian.PutUint16(buf[2:4], c.HIDVersion)
	buf[4] = c.CountryCode
	buf[5] = 1
	buf[6] = device.DescriptorTypeHIDReport
	binary.LittleEndian.PutUint16(buf[7:9], c.ReportLength)
	return ClassDescriptorSize
}

// ParseClassDescriptor decodes a HID class descriptor. Only the first
// class descriptor entry is read.
func ParseClassDescriptor(data []byte, out *ClassDescriptor) error {
	if len(data) < ClassDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != device.DescriptorTypeHID {
		return pkg.ErrDescriptorTypeMismatch
	}
	if data[5] == 0 || data[6] != device.DescriptorTypeHIDReport {
		return pkg.ErrInvalidDescriptor
	}
	out.HIDVersion = binary.LittleEndian.Uint16(data[2:4])
	out.CountryCode = data[4]
	out.ReportLength = binary.LittleEndian.Uint16(data[7:9])
	return nil
}

// findClassDescriptor returns the HID class descriptor record within the
// class-specific bytes of an alternate setting, or nil.
func findClassDescriptor(cs []byte) []byte {
	for off := 0; off+1 < len(cs); {
		n := int(cs[off])
		if n < 2 || off+n > len(cs) {
			return nil
		}
		if cs[off+1] == device.DescriptorTypeHID {
			return cs[off : off+n]
		}
		off += n
	}
	return nil
}
