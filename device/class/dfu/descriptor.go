package dfu

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbfunc/pkg"
)

// Interface codes.
const (
	SubclassDFU     = 0x01
	ProtocolRuntime = 0x01
	ProtocolDFU     = 0x02
)

// Class requests.
const (
	RequestDetach    = 0x00
	RequestDnload    = 0x01
	RequestUpload    = 0x02
	RequestGetStatus = 0x03
	RequestClrStatus = 0x04
	RequestGetState  = 0x05
	RequestAbort     = 0x06
)

// Functional descriptor attribute bits.
const (
	AttrCanDnload             = 1 << 0
	AttrCanUpload             = 1 << 1
	AttrManifestationTolerant = 1 << 2
	AttrWillDetach            = 1 << 3
)

// Version is the DFU release advertised in the functional descriptor.
const Version = 0x0110

// DFU functional descriptor type and length.
const (
	DescriptorTypeFunctional = 0x21
	FunctionalSize           = 9
)

// StatusSize is the length of the GETSTATUS response.
const StatusSize = 6

// State is a DFU state.
type State uint8

const (
	StateAppIdle State = iota
	StateAppDetach
	StateIdle
	StateDnloadSync
	StateDnBusy
	StateDnloadIdle
	StateManifestSync
	StateManifest
	StateManifestWaitReset
	StateUploadIdle
	StateError
)

var stateNames = [...]string{
	StateAppIdle:           "appIDLE",
	StateAppDetach:         "appDETACH",
	StateIdle:              "dfuIDLE",
	StateDnloadSync:        "dfuDNLOAD-SYNC",
	StateDnBusy:            "dfuDNBUSY",
	StateDnloadIdle:        "dfuDNLOAD-IDLE",
	StateManifestSync:      "dfuMANIFEST-SYNC",
	StateManifest:          "dfuMANIFEST",
	StateManifestWaitReset: "dfuMANIFEST-WAIT-RESET",
	StateUploadIdle:        "dfuUPLOAD-IDLE",
	StateError:             "dfuERROR",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Status is the bStatus of a GETSTATUS response. Firmware returns a Status
// as its error to report a specific failure.
type Status uint8

const (
	StatusOK Status = iota
	StatusErrTarget
	StatusErrFile
	StatusErrWrite
	StatusErrErase
	StatusErrCheckErased
	StatusErrProg
	StatusErrVerify
	StatusErrAddress
	StatusErrNotDone
	StatusErrFirmware
	StatusErrVendor
	StatusErrUSBReset
	StatusErrPOR
	StatusErrUnknown
	StatusErrStalledPkt
)

var statusNames = [...]string{
	StatusOK:             "OK",
	StatusErrTarget:      "errTARGET",
	StatusErrFile:        "errFILE",
	StatusErrWrite:       "errWRITE",
	StatusErrErase:       "errERASE",
	StatusErrCheckErased: "errCHECK_ERASED",
	StatusErrProg:        "errPROG",
	StatusErrVerify:      "errVERIFY",
	StatusErrAddress:     "errADDRESS",
	StatusErrNotDone:     "errNOTDONE",
	StatusErrFirmware:    "errFIRMWARE",
	StatusErrVendor:      "errVENDOR",
	StatusErrUSBReset:    "errUSBR",
	StatusErrPOR:         "errPOR",
	StatusErrUnknown:     "errUNKNOWN",
	StatusErrStalledPkt:  "errSTALLEDPKT",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) Error() string { return "dfu: " + s.String() }

// StatusBlock is the GETSTATUS response.
type StatusBlock struct {
	Status      Status
	PollTimeout uint32 // milliseconds, 24 bits
	State       State
	StringIndex uint8
}

// MarshalTo writes the status block to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (b *StatusBlock) MarshalTo(buf []byte) int {
	if len(buf) < StatusSize {
		return 0
	}
	buf[0] = uint8(b.Status)
	buf[1] = uint8(b.PollTimeout)
	buf[2] = uint8(b.PollTimeout >> 8)
	buf[3] = uint8(b.PollTimeout >> 16)
	buf[4] = uint8(b.State)
	buf[5] = b.StringIndex
	return StatusSize
}

// ParseStatusBlock decodes a GETSTATUS response.
func ParseStatusBlock(data []byte, out *StatusBlock) error {
	if len(data) < StatusSize {
		return pkg.ErrBufferTooSmall
	}
	out.Status = Status(data[0])
	out.PollTimeout = uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16
	out.State = State(data[4])
	out.StringIndex = data[5]
	return nil
}

// Functional is the DFU functional descriptor.
type Functional struct {
	Attributes    uint8
	DetachTimeout uint16 // milliseconds
	TransferSize  uint16
	DFUVersion    uint16
}

// MarshalTo writes the descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (f *Functional) MarshalTo(buf []byte) int {
	if len(buf) < FunctionalSize {
		return 0
	}
	buf[0] = FunctionalSize
	buf[1] = DescriptorTypeFunctional
	buf[2] = f.Attributes
	binary.LittleEndian.PutUint16(buf[3:5], f.DetachTimeout)
	binary.LittleEndian.PutUint16(buf[5:7], f.TransferSize)
	binary.LittleEndian.PutUint16(buf[7:9], f.DFUVersion)
	return FunctionalSize
}

// ParseFunctional decodes a DFU functional descriptor.
func ParseFunctional(data []byte, out *Functional) error {
	if len(data) < FunctionalSize || int(data[0]) < FunctionalSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeFunctional {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.Attributes = data[2]
	out.DetachTimeout = binary.LittleEndian.Uint16(data[3:5])
	out.TransferSize = binary.LittleEndian.Uint16(data[5:7])
	out.DFUVersion = binary.LittleEndian.Uint16(data[7:9])
	return nil
}

// findFunctional returns the functional descriptor among class-specific
// bytes, or nil.
func findFunctional(cs []byte) []byte {
	for len(cs) >= 2 {
		n := int(cs[0])
		if n < 2 || n > len(cs) {
			return nil
		}
		if cs[1] == DescriptorTypeFunctional {
			return cs[:n]
		}
		cs = cs[n:]
	}
	return nil
}
