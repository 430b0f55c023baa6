package cdc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/pkg"
)

// Functional descriptor subtypes (CDC 1.2 Table 13).
const (
	SubtypeHeader         = 0x00
	SubtypeCallManagement = 0x01
	SubtypeACM            = 0x02
	SubtypeUnion          = 0x06
	SubtypeEthernet       = 0x0F
)

// Communication interface subclasses.
const (
	SubclassACM = 0x02 // Abstract Control Model
	SubclassECM = 0x06 // Ethernet Networking Control Model
)

// Communication interface protocols.
const (
	ProtocolNone = 0x00
	ProtocolAT   = 0x01 // AT commands, V.250
)

// Class request codes (CDC 1.2 Table 19, ECM 1.2 Table 6).
const (
	RequestSendEncapsulatedCommand = 0x00
	RequestGetEncapsulatedResponse = 0x01
	RequestSetLineCoding           = 0x20
	RequestGetLineCoding           = 0x21
	RequestSetControlLineState     = 0x22
	RequestSendBreak               = 0x23
	RequestSetMulticastFilters     = 0x40
	RequestSetPowerFilter          = 0x41
	RequestGetPowerFilter          = 0x42
	RequestSetPacketFilter         = 0x43
	RequestGetStatistic            = 0x44
)

// Notification codes.
const (
	NotificationNetworkConnection = 0x00
	NotificationResponseAvailable = 0x01
	NotificationSerialState       = 0x20
	NotificationSpeedChange       = 0x2A
)

// notificationHeaderSize is the SETUP-shaped header of every notification.
const notificationHeaderSize = 8

// Control line state bits (SET_CONTROL_LINE_STATE wValue).
const (
	ControlLineDTR = 1 << 0
	ControlLineRTS = 1 << 1
)

// Serial state bits (SERIAL_STATE notification).
const (
	SerialStateRxCarrier  = 1 << 0 // DCD
	SerialStateTxCarrier  = 1 << 1 // DSR
	SerialStateBreak      = 1 << 2
	SerialStateRingSignal = 1 << 3
	SerialStateFraming    = 1 << 4
	SerialStateParity     = 1 << 5
	SerialStateOverrun    = 1 << 6
)

// ACM functional descriptor capability bits.
const (
	ACMCapCommFeature = 1 << 0
	ACMCapLineCoding  = 1 << 1
	ACMCapSendBreak   = 1 << 2
	ACMCapNetworkConn = 1 << 3
)

// Ethernet packet filter bits (SET_ETHERNET_PACKET_FILTER wValue).
const (
	PacketFilterPromiscuous  = 1 << 0
	PacketFilterAllMulticast = 1 << 1
	PacketFilterDirected     = 1 << 2
	PacketFilterBroadcast    = 1 << 3
	PacketFilterMulticast    = 1 << 4
)

// MulticastAddressSize is the length of one SET_ETHERNET_MULTICAST_FILTERS
// entry.
const MulticastAddressSize = 6

// LineCodingSize is the length of the line coding structure.
const LineCodingSize = 7

// Stop bit and parity codes of LineCoding.
const (
	StopBits1   = 0
	StopBits1_5 = 1
	StopBits2   = 2

	ParityNone  = 0
	ParityOdd   = 1
	ParityEven  = 2
	ParityMark  = 3
	ParitySpace = 4
)

// LineCoding is the serial configuration exchanged by SET/GET_LINE_CODING.
type LineCoding struct {
	DTERate    uint32 // Baud rate
	CharFormat uint8  // StopBits1, StopBits1_5 or StopBits2
	ParityType uint8
	DataBits   uint8 // 5, 6, 7, 8 or 16
}

// DefaultLineCoding is 115200 8N1.
var DefaultLineCoding = LineCoding{DTERate: 115200, DataBits: 8}

// MarshalTo writes the line coding to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (lc *LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], lc.DTERate)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// ParseLineCoding decodes a line coding structure.
func ParseLineCoding(data []byte, out *LineCoding) error {
	if len(data) < LineCodingSize {
		return pkg.ErrDescriptorTooShort
	}
	out.DTERate = binary.LittleEndian.Uint32(data[0:4])
	out.CharFormat = data[4]
	out.ParityType = data[5]
	out.DataBits = data[6]
	return nil
}

// String returns the conventional form, such as "115200 8N1".
func (lc LineCoding) String() string {
	parity := "?"
	if int(lc.ParityType) < len("NOEMS") {
		parity = string("NOEMS"[lc.ParityType])
	}
	stop := "1"
	switch lc.CharFormat {
	case StopBits1_5:
		stop = "1.5"
	case StopBits2:
		stop = "2"
	}
	return fmt.Sprintf("%d %d%s%s", lc.DTERate, lc.DataBits, parity, stop)
}

// HeaderFunctional returns a Header functional descriptor for bcdCDC.
func HeaderFunctional(version uint16) []byte {
	return []byte{5, device.DescriptorTypeCSInterface, SubtypeHeader,
		byte(version), byte(version >> 8)}
}

// CallManagementFunctional returns a Call Management functional descriptor.
func CallManagementFunctional(capabilities, dataInterface uint8) []byte {
	return []byte{5, device.DescriptorTypeCSInterface, SubtypeCallManagement,
		capabilities, dataInterface}
}

// ACMFunctional returns an Abstract Control Management functional
// descriptor.
func ACMFunctional(capabilities uint8) []byte {
	return []byte{4, device.DescriptorTypeCSInterface, SubtypeACM, capabilities}
}

// UnionFunctional returns a Union functional descriptor grouping control
// with its subordinate interfaces.
func UnionFunctional(control uint8, subordinate ...uint8) []byte {
	out := []byte{byte(4 + len(subordinate)), device.DescriptorTypeCSInterface,
		SubtypeUnion, control}
	return append(out, subordinate...)
}

// EthernetFunctional is the Ethernet Networking functional descriptor.
type EthernetFunctional struct {
	MACAddressIndex    uint8  // String index of the 12-digit hex MAC address
	Statistics         uint32 // Supported Ethernet statistics bitmap
	MaxSegmentSize     uint16
	NumberMCFilters    uint16
	NumberPowerFilters uint8
}

// EthernetFunctionalSize is the length of the Ethernet functional descriptor.
const EthernetFunctionalSize = 13

// MarshalTo writes the descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (e *EthernetFunctional) MarshalTo(buf []byte) int {
	if len(buf) < EthernetFunctionalSize {
		return 0
	}
	buf[0] = EthernetFunctionalSize
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = SubtypeEthernet
	buf[3] = e.MACAddressIndex
	binary.LittleEndian.PutUint32(buf[4:8], e.Statistics)
	binary.LittleEndian.PutUint16(buf[8:10], e.MaxSegmentSize)
	binary.LittleEndian.PutUint16(buf[10:12], e.NumberMCFilters)
	buf[12] = e.NumberPowerFilters
	return EthernetFunctionalSize
}

// ParseEthernetFunctional decodes an Ethernet functional descriptor.
func ParseEthernetFunctional(data []byte, out *EthernetFunctional) error {
	if len(data) < EthernetFunctionalSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != device.DescriptorTypeCSInterface || data[2] != SubtypeEthernet {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.MACAddressIndex = data[3]
	out.Statistics = binary.LittleEndian.Uint32(data[4:8])
	out.MaxSegmentSize = binary.LittleEndian.Uint16(data[8:10])
	out.NumberMCFilters = binary.LittleEndian.Uint16(data[10:12])
	out.NumberPowerFilters = data[12]
	return nil
}

// FindFunctional returns the first class-specific interface record of
// subtype within the class-specific bytes of an alternate setting, or nil.
func FindFunctional(cs []byte, subtype uint8) []byte {
	for off := 0; off+2 < len(cs); {
		n := int(cs[off])
		if n < 3 || off+n > len(cs) {
			return nil
		}
		if cs[off+1] == device.DescriptorTypeCSInterface && cs[off+2] == subtype {
			return cs[off : off+n]
		}
		off += n
	}
	return nil
}

// dataInterface returns the first subordinate interface named by the Union
// functional descriptor in cs, or control+1 if there is none.
func dataInterface(cs []byte, control uint8) uint8 {
	if u := FindFunctional(cs, SubtypeUnion); len(u) >= 5 {
		return u[4]
	}
	return control + 1
}

// notification writes a notification header and payload for intf to buf.
func notification(buf []byte, code uint8, value uint16, intf uint8, payload []byte) []byte {
	buf[0] = device.RequestDirectionDeviceToHost | device.RequestTypeClass | device.RequestRecipientInterface
	buf[1] = code
	binary.LittleEndian.PutUint16(buf[2:4], value)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(intf))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(payload)))
	n := copy(buf[notificationHeaderSize:], payload)
	return buf[:notificationHeaderSize+n]
}
