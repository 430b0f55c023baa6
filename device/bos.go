package device

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/ardnew/usbfunc/pkg"
)

// BOS header and device capability layout (USB 3.0 Spec 9.6.2).
const (
	BOSDescriptorSize = 5

	// MaxDeviceCapabilities bounds bNumDeviceCaps.
	MaxDeviceCapabilities = 3

	CapabilityTypeUSB2Extension = 0x02
	CapabilityTypeSuperSpeed    = 0x03
	CapabilityTypeContainerID   = 0x04

	USB2ExtensionCapabilitySize = 7
	SuperSpeedCapabilitySize    = 10
	ContainerIDCapabilitySize   = 20
)

// Capability attribute bits.
const (
	USB2ExtAttrLPM      = 0x02 // Link Power Management supported
	SuperSpeedAttrLTM   = 0x02 // Latency Tolerance Messages supported
	speedSupportedLow   = 0x01
	speedSupportedFull  = 0x02
	speedSupportedHigh  = 0x04
	speedSupportedSuper = 0x08
)

// BOSDescriptor is the Binary device Object Store header.
type BOSDescriptor struct {
	Length         uint8
	DescriptorType uint8
	TotalLength    uint16
	NumDeviceCaps  uint8
}

// USB2ExtensionCapability is the USB 2.0 extension device capability.
type USB2ExtensionCapability struct {
	Attributes uint32
}

// SuperSpeedCapability is the SuperSpeed USB device capability.
type SuperSpeedCapability struct {
	Attributes           uint8
	SpeedsSupported      uint16
	FunctionalitySupport uint8
	U1DevExitLat         uint8
	U2DevExitLat         uint16
}

// ContainerIDCapability is the Container ID device capability.
type ContainerIDCapability struct {
	ContainerID [16]byte
}

// UUID returns the container ID as a UUID. The descriptor stores the
// identifier in the same byte order uuid.UUID uses.
func (c *ContainerIDCapability) UUID() uuid.UUID { return uuid.UUID(c.ContainerID) }

// BOS is a parsed BOS descriptor set.
type BOS struct {
	header BOSDescriptor
	raw    []byte

	usb2    USB2ExtensionCapability
	hasUSB2 bool

	ss    SuperSpeedCapability
	hasSS bool

	cid    ContainerIDCapability
	hasCID bool
}

// Header returns the BOS header.
func (b *BOS) Header() BOSDescriptor { return b.header }

// Raw returns the bytes the BOS was parsed from.
func (b *BOS) Raw() []byte { return b.raw }

// USB2Extension returns the USB 2.0 extension capability, if present.
func (b *BOS) USB2Extension() (USB2ExtensionCapability, bool) { return b.usb2, b.hasUSB2 }

// SuperSpeed returns the SuperSpeed capability, if present.
func (b *BOS) SuperSpeed() (SuperSpeedCapability, bool) { return b.ss, b.hasSS }

// LPMSupported reports the USB 2.0 extension LPM bit.
func (b *BOS) LPMSupported() (supported, ok bool) {
	return b.usb2.Attributes&USB2ExtAttrLPM != 0, b.hasUSB2
}

// LTMSupported reports the SuperSpeed capability LTM bit.
func (b *BOS) LTMSupported() (supported, ok bool) {
	return b.ss.Attributes&SuperSpeedAttrLTM != 0, b.hasSS
}

// SpeedsSupported returns wSpeedsSupported.
func (b *BOS) SpeedsSupported() (uint16, bool) { return b.ss.SpeedsSupported, b.hasSS }

// SpeedSupported reports whether wSpeedsSupported includes s. It is false
// when the SuperSpeed capability is absent.
func (b *BOS) SpeedSupported(s Speed) bool {
	if !b.hasSS {
		return false
	}
	var bit uint16
	switch s {
	case SpeedLow:
		bit = speedSupportedLow
	case SpeedFull:
		bit = speedSupportedFull
	case SpeedHigh:
		bit = speedSupportedHigh
	case SpeedSuper:
		bit = speedSupportedSuper
	}
	return b.ss.SpeedsSupported&bit != 0
}

// FunctionalitySupport returns bFunctionalitySupport, the lowest speed at
// which all functionality is available.
func (b *BOS) FunctionalitySupport() (uint8, bool) { return b.ss.FunctionalitySupport, b.hasSS }

// U1ExitLatency returns bU1DevExitLat in microseconds.
func (b *BOS) U1ExitLatency() (uint8, bool) { return b.ss.U1DevExitLat, b.hasSS }

// U2ExitLatency returns wU2DevExitLat in microseconds.
func (b *BOS) U2ExitLatency() (uint16, bool) { return b.ss.U2DevExitLat, b.hasSS }

// ContainerID returns the container ID, if present.
func (b *BOS) ContainerID() (uuid.UUID, bool) {
	if !b.hasCID {
		return uuid.Nil, false
	}
	return b.cid.UUID(), true
}

// ParseBOSDescriptors parses a BOS header and its device capability records
// into out. Unknown or repeated capability types do not stop the walk but
// fail the parse. Success requires exact consumption of raw, a wTotalLength
// equal to len(raw), and exactly bNumDeviceCaps records. On failure out is
// zeroed.
func ParseBOSDescriptors(raw []byte, out *BOS) error {
	if out == nil {
		return pkg.ErrInvalidArgument
	}
	*out = BOS{}
	if err := parseBOS(raw, out); err != nil {
		*out = BOS{}
		pkg.LogDebug(pkg.ComponentParser, "BOS rejected", "length", len(raw), "error", err)
		return err
	}
	pkg.LogDebug(pkg.ComponentParser, "BOS parsed",
		"caps", out.header.NumDeviceCaps,
		"usb2ext", out.hasUSB2, "superspeed", out.hasSS, "containerID", out.hasCID)
	return nil
}

func parseBOS(raw []byte, out *BOS) error {
	if len(raw) < BOSDescriptorSize {
		return invalidf("BOS block of %d bytes", len(raw))
	}
	if raw[0] != BOSDescriptorSize || raw[1] != DescriptorTypeBOS {
		return invalidf("BOS header length %d type 0x%02X", raw[0], raw[1])
	}
	h := BOSDescriptor{
		Length:         raw[0],
		DescriptorType: raw[1],
		TotalLength:    binary.LittleEndian.Uint16(raw[2:4]),
		NumDeviceCaps:  raw[4],
	}
	if h.NumDeviceCaps == 0 || h.NumDeviceCaps > MaxDeviceCapabilities {
		return invalidf("bNumDeviceCaps %d", h.NumDeviceCaps)
	}
	out.header = h

	valid := true
	count := 0
	off := BOSDescriptorSize
	for off < len(raw) {
		if len(raw)-off < 3 {
			return invalidf("truncated capability at offset %d", off)
		}
		n := int(raw[off])
		if n < 3 || off+n > len(raw) {
			return invalidf("capability bLength %d at offset %d", n, off)
		}
		if raw[off+1] != DescriptorTypeDeviceCapability {
			return invalidf("descriptor type 0x%02X in BOS at offset %d", raw[off+1], off)
		}
		if !out.capability(raw[off : off+n : off+n]) {
			valid = false
		}
		count++
		off += n
	}

	switch {
	case int(h.TotalLength) != off:
		return invalidf("wTotalLength %d, consumed %d", h.TotalLength, off)
	case count != int(h.NumDeviceCaps):
		return invalidf("%d capabilities found, %d declared", count, h.NumDeviceCaps)
	case !valid:
		return invalidf("unrecognized or repeated device capability")
	}
	out.raw = raw
	return nil
}

// capability stores one device capability record and reports whether it was
// recognized.
func (b *BOS) capability(rec []byte) bool {
	switch rec[2] {
	case CapabilityTypeUSB2Extension:
		if b.hasUSB2 || len(rec) != USB2ExtensionCapabilitySize {
			return false
		}
		b.usb2.Attributes = binary.LittleEndian.Uint32(rec[3:7])
		b.hasUSB2 = true
	case CapabilityTypeSuperSpeed:
		if b.hasSS || len(rec) != SuperSpeedCapabilitySize {
			return false
		}
		b.ss = SuperSpeedCapability{
			Attributes:           rec[3],
			SpeedsSupported:      binary.LittleEndian.Uint16(rec[4:6]),
			FunctionalitySupport: rec[6],
			U1DevExitLat:         rec[7],
			U2DevExitLat:         binary.LittleEndian.Uint16(rec[8:10]),
		}
		b.hasSS = true
	case CapabilityTypeContainerID:
		if b.hasCID || len(rec) != ContainerIDCapabilitySize {
			return false
		}
		copy(b.cid.ContainerID[:], rec[4:20])
		b.hasCID = true
	default:
		return false
	}
	return true
}

// MarshalTo serializes a BOS header to buf.
func (h *BOSDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < BOSDescriptorSize {
		return 0
	}
	buf[0] = BOSDescriptorSize
	buf[1] = DescriptorTypeBOS
	binary.LittleEndian.PutUint16(buf[2:4], h.TotalLength)
	buf[4] = h.NumDeviceCaps
	return BOSDescriptorSize
}

// MarshalTo serializes the USB 2.0 extension capability to buf.
func (c *USB2ExtensionCapability) MarshalTo(buf []byte) int {
	if len(buf) < USB2ExtensionCapabilitySize {
		return 0
	}
	buf[0] = USB2ExtensionCapabilitySize
	buf[1] = DescriptorTypeDeviceCapability
	buf[2] = CapabilityTypeUSB2Extension
	binary.LittleEndian.PutUint32(buf[3:7], c.Attributes)
	return USB2ExtensionCapabilitySize
}

// MarshalTo serializes the SuperSpeed capability to buf.
func (c *SuperSpeedCapability) MarshalTo(buf []byte) int {
	if len(buf) < SuperSpeedCapabilitySize {
		return 0
	}
	buf[0] = SuperSpeedCapabilitySize
	buf[1] = DescriptorTypeDeviceCapability
	buf[2] = CapabilityTypeSuperSpeed
	buf[3] = c.Attributes
	binary.LittleEndian.PutUint16(buf[4:6], c.SpeedsSupported)
	buf[6] = c.FunctionalitySupport
	buf[7] = c.U1DevExitLat
	binary.LittleEndian.PutUint16(buf[8:10], c.U2DevExitLat)
	return SuperSpeedCapabilitySize
}

// MarshalTo serializes the container ID capability to buf.
func (c *ContainerIDCapability) MarshalTo(buf []byte) int {
	if len(buf) < ContainerIDCapabilitySize {
		return 0
	}
	buf[0] = ContainerIDCapabilitySize
	buf[1] = DescriptorTypeDeviceCapability
	buf[2] = CapabilityTypeContainerID
	buf[3] = 0
	copy(buf[4:20], c.ContainerID[:])
	return ContainerIDCapabilitySize
}
