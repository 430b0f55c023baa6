package msc

import (
	"encoding/binary"

	"github.com/ardnew/usbfunc/pkg"
)

// Interface codes served by MSC.
const (
	SubclassSCSI     = 0x06 // SCSI transparent command set
	ProtocolBulkOnly = 0x50 // Bulk-Only Transport
)

// Bulk-Only Transport class requests.
const (
	RequestBulkOnlyReset = 0xFF
	RequestGetMaxLUN     = 0xFE
)

// Command Block Wrapper.
const (
	CBWSignature  = 0x43425355 // "USBC"
	CBWSize       = 31
	CBWFlagDataIn = 0x80
	maxCBLength   = 16
)

// Command Status Wrapper.
const (
	CSWSignature = 0x53425355 // "USBS"
	CSWSize      = 13
)

// CSW status values.
const (
	CSWStatusPassed     = 0x00
	CSWStatusFailed     = 0x01
	CSWStatusPhaseError = 0x02
)

// CommandBlockWrapper is the command phase of a Bulk-Only transaction.
type CommandBlockWrapper struct {
	Tag                uint32
	DataTransferLength uint32
	Flags              uint8
	LUN                uint8
	CBLength           uint8
	CB                 [maxCBLength]byte
}

// ParseCBW decodes a CBW. The wrapper must be exactly CBWSize bytes with a
// valid signature and command block length; anything else is
// pkg.ErrInvalidRequest.
func ParseCBW(data []byte, out *CommandBlockWrapper) error {
	if len(data) != CBWSize || binary.LittleEndian.Uint32(data[0:4]) != CBWSignature {
		return pkg.ErrInvalidRequest
	}
	n := data[14] & 0x1F
	if n == 0 || n > maxCBLength {
		return pkg.ErrInvalidRequest
	}
	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataTransferLength = binary.LittleEndian.Uint32(data[8:12])
	out.Flags = data[12]
	out.LUN = data[13] & 0x0F
	out.CBLength = n
	copy(out.CB[:], data[15:31])
	return nil
}

// MarshalTo writes the CBW to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (c *CommandBlockWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CBWSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], CBWSignature)
	binary.LittleEndian.PutUint32(buf[4:8], c.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], c.DataTransferLength)
	buf[12] = c.Flags
	buf[13] = c.LUN & 0x0F
	buf[14] = c.CBLength & 0x1F
	copy(buf[15:31], c.CB[:])
	return CBWSize
}

// Command returns the command block.
func (c *CommandBlockWrapper) Command() []byte { return c.CB[:c.CBLength] }

// IsDataIn reports whether the data phase, if any, is device to host.
func (c *CommandBlockWrapper) IsDataIn() bool { return c.Flags&CBWFlagDataIn != 0 }

// CommandStatusWrapper is the status phase of a Bulk-Only transaction.
type CommandStatusWrapper struct {
	Tag     uint32
	Residue uint32
	Status  uint8
}

// MarshalTo writes the CSW to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (c *CommandStatusWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CSWSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], CSWSignature)
	binary.LittleEndian.PutUint32(buf[4:8], c.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], c.Residue)
	buf[12] = c.Status
	return CSWSize
}

// ParseCSW decodes a CSW.
func ParseCSW(data []byte, out *CommandStatusWrapper) error {
	if len(data) != CSWSize || binary.LittleEndian.Uint32(data[0:4]) != CSWSignature {
		return pkg.ErrInvalidRequest
	}
	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.Residue = binary.LittleEndian.Uint32(data[8:12])
	out.Status = data[12]
	return nil
}
