package msc

import "encoding/binary"

// SCSI operation codes served by MSC.
const (
	SCSITestUnitReady        = 0x00
	SCSIRequestSense         = 0x03
	SCSIInquiry              = 0x12
	SCSIModeSense6           = 0x1A
	SCSIStartStopUnit        = 0x1B
	SCSIPreventAllowRemoval  = 0x1E
	SCSIReadFormatCapacities = 0x23
	SCSIReadCapacity10       = 0x25
	SCSIRead10               = 0x28
	SCSIWrite10              = 0x2A
	SCSIVerify10             = 0x2F
	SCSISynchronizeCache10   = 0x35
	SCSIModeSense10          = 0x5A
	SCSIRead16               = 0x88
	SCSIWrite16              = 0x8A
	SCSIServiceActionIn16    = 0x9E

	ServiceActionReadCapacity16 = 0x10
)

// Sense keys.
const (
	SenseNoSense        = 0x00
	SenseNotReady       = 0x02
	SenseMediumError    = 0x03
	SenseHardwareError  = 0x04
	SenseIllegalRequest = 0x05
	SenseUnitAttention  = 0x06
	SenseDataProtect    = 0x07
)

// Additional sense codes.
const (
	ASCNone                   = 0x00
	ASCWriteFault             = 0x03
	ASCUnrecoveredReadError   = 0x11
	ASCInvalidCommand         = 0x20
	ASCLBAOutOfRange          = 0x21
	ASCInvalidFieldInCDB      = 0x24
	ASCLUNNotSupported        = 0x25
	ASCWriteProtected         = 0x27
	ASCMediumNotPresent       = 0x3A
	ASCMediumRemovalPrevented = 0x53
)

const (
	inquirySize   = 36
	senseSize     = 18
	mode6Header   = 4
	mode10Header  = 8
	cachingPage   = 0x08
	allPages      = 0x3F
	cachingLength = 20
)

// Sense is the fixed-format sense data returned by REQUEST SENSE.
type Sense struct {
	Key  uint8
	ASC  uint8
	ASCQ uint8
}

// MarshalTo writes the sense data to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (s Sense) MarshalTo(buf []byte) int {
	if len(buf) < senseSize {
		return 0
	}
	clear(buf[:senseSize])
	buf[0] = 0x70 // current error, fixed format
	buf[2] = s.Key & 0x0F
	buf[7] = senseSize - 8
	buf[12] = s.ASC
	buf[13] = s.ASCQ
	return senseSize
}

// Inquiry identifies a logical unit in the standard INQUIRY data.
type Inquiry struct {
	Vendor    string // 8 characters
	Product   string // 16 characters
	Revision  string // 4 characters
	Removable bool
}

// MarshalTo writes standard INQUIRY data for a direct-access block device.
// Returns the number of bytes written, or 0 if buf is too small.
func (q *Inquiry) MarshalTo(buf []byte) int {
	if len(buf) < inquirySize {
		return 0
	}
	clear(buf[:inquirySize])
	if q.Removable {
		buf[1] = 0x80
	}
	buf[2] = 0x06 // SPC-4
	buf[3] = 0x02 // response data format
	buf[4] = inquirySize - 5
	pad(buf[8:16], q.Vendor)
	pad(buf[16:32], q.Product)
	pad(buf[32:36], q.Revision)
	return inquirySize
}

func pad(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}

func readCapacity10(buf []byte, blocks uint64, blockSize uint32) []byte {
	last := uint64(0xFFFFFFFF)
	if blocks-1 < last {
		last = blocks - 1
	}
	binary.BigEndian.PutUint32(buf[0:4], uint32(last))
	binary.BigEndian.PutUint32(buf[4:8], blockSize)
	return buf[:8]
}

func readCapacity16(buf []byte, blocks uint64, blockSize uint32) []byte {
	clear(buf[:32])
	binary.BigEndian.PutUint64(buf[0:8], blocks-1)
	binary.BigEndian.PutUint32(buf[8:12], blockSize)
	return buf[:32]
}

// formatCapacities writes a capacity list holding the current formatted
// capacity.
func formatCapacities(buf []byte, blocks uint64, blockSize uint32) []byte {
	clear(buf[:12])
	buf[3] = 8
	binary.BigEndian.PutUint32(buf[4:8], uint32(min(blocks, 0xFFFFFFFF)))
	binary.BigEndian.PutUint32(buf[8:12], blockSize&0x00FFFFFF)
	buf[8] = 0x02 // formatted media
	return buf[:12]
}

// modeSense writes MODE SENSE(6) or MODE SENSE(10) parameter data with
// the caching page when page asks for it. ok is false for other pages.
func modeSense(buf []byte, long bool, page uint8, writeProtect bool) (data []byte, ok bool) {
	header := mode6Header
	if long {
		header = mode10Header
	}
	n := header
	clear(buf[:header+cachingLength])
	switch page {
	case allPages, cachingPage:
		buf[n] = cachingPage
		buf[n+1] = cachingLength - 2
		n += cachingLength
	case 0x00:
	default:
		return nil, false
	}
	var wp uint8
	if writeProtect {
		wp = 0x80
	}
	if long {
		binary.BigEndian.PutUint16(buf[0:2], uint16(n-2))
		buf[3] = wp
	} else {
		buf[0] = uint8(n - 1)
		buf[2] = wp
	}
	return buf[:n], true
}
