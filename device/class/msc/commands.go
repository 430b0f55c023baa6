package msc

import (
	"context"
	"encoding/binary"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/pkg"
)

// task is one command being executed by Serve.
type task struct {
	m     *MSC
	ctx   context.Context
	stack *device.Stack
	in    *device.Pipe
	out   *device.Pipe
	cbw   *CommandBlockWrapper
	unit  Storage

	sent     uint64
	received uint64
	phase    bool
}

type command func(t *task) uint8

var commands = map[uint8]command{
	SCSITestUnitReady:        (*task).testUnitReady,
	SCSIRequestSense:         (*task).requestSense,
	SCSIInquiry:              (*task).inquiry,
	SCSIModeSense6:           (*task).modeSense,
	SCSIModeSense10:          (*task).modeSense,
	SCSIStartStopUnit:        (*task).startStopUnit,
	SCSIPreventAllowRemoval:  (*task).preventAllowRemoval,
	SCSIReadFormatCapacities: (*task).readFormatCapacities,
	SCSIReadCapacity10:       (*task).readCapacity,
	SCSIServiceActionIn16:    (*task).serviceActionIn,
	SCSIRead10:               (*task).read,
	SCSIRead16:               (*task).read,
	SCSIWrite10:              (*task).write,
	SCSIWrite16:              (*task).write,
	SCSIVerify10:             (*task).verify,
	SCSISynchronizeCache10:   (*task).synchronizeCache,
}

// minCommandLength is the CDB length each operation code requires.
func minCommandLength(op uint8) int {
	switch op >> 5 {
	case 0:
		return 6
	case 1, 2:
		return 10
	case 4:
		return 16
	case 5:
		return 12
	}
	return 6
}

func (t *task) run() uint8 {
	cb := t.cbw.Command()
	op := cb[0]
	lun := t.cbw.LUN
	pkg.LogDebug(pkg.ComponentDriver, "scsi command",
		"opcode", op, "lun", lun, "length", t.cbw.DataTransferLength)

	if int(lun) >= len(t.m.units) {
		return t.fail(SenseIllegalRequest, ASCLUNNotSupported, 0)
	}
	t.unit = t.m.units[lun]
	h, ok := commands[op]
	if !ok {
		pkg.LogDebug(pkg.ComponentDriver, "scsi command unsupported", "opcode", op)
		return t.fail(SenseIllegalRequest, ASCInvalidCommand, 0)
	}
	if len(cb) < minCommandLength(op) {
		return t.fail(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
	}
	status := h(t)
	if t.phase {
		return CSWStatusPhaseError
	}
	return status
}

func (t *task) fail(key, asc, ascq uint8) uint8 {
	t.m.setSense(t.cbw.LUN, key, asc, ascq)
	return CSWStatusFailed
}

func (t *task) residue() uint32 {
	moved := uint32(t.sent + t.received)
	if moved > t.cbw.DataTransferLength {
		return 0
	}
	return t.cbw.DataTransferLength - moved
}

func (t *task) remaining() int { return int(t.residue()) }

// send moves data to the host, truncated to what the host asked for. Data
// for a host expecting an OUT phase is a phase error.
func (t *task) send(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !t.cbw.IsDataIn() && t.cbw.DataTransferLength > 0 {
		t.phase = true
		return pkg.ErrInvalidRequest
	}
	data = data[:min(len(data), t.remaining())]
	if len(data) == 0 {
		return nil
	}
	n, err := t.stack.Write(t.ctx, t.in, data)
	t.sent += uint64(n)
	return err
}

// receive fills buf from the host.
func (t *task) receive(buf []byte) error {
	if t.cbw.IsDataIn() || len(buf) > t.remaining() {
		t.phase = true
		return pkg.ErrInvalidRequest
	}
	for off := 0; off < len(buf); {
		n, err := t.stack.Read(t.ctx, t.out, buf[off:])
		t.received += uint64(n)
		if err != nil {
			return err
		}
		if n == 0 {
			return pkg.ErrInvalidRequest
		}
		off += n
	}
	return nil
}

// reply sends data truncated to the allocation length.
func (t *task) reply(data []byte, alloc int) uint8 {
	if err := t.send(data[:min(len(data), alloc)]); err != nil {
		return t.fail(SenseHardwareError, ASCNone, 0)
	}
	return CSWStatusPassed
}

func (t *task) ready() bool {
	if md, ok := t.unit.(Medium); ok && !md.Present() {
		return false
	}
	return t.unit.BlockCount() > 0
}

func (t *task) notReady() uint8 {
	return t.fail(SenseNotReady, ASCMediumNotPresent, 0)
}

func (t *task) testUnitReady() uint8 {
	if !t.ready() {
		return t.notReady()
	}
	return CSWStatusPassed
}

func (t *task) requestSense() uint8 {
	var buf [senseSize]byte
	sense := t.m.takeSense(t.cbw.LUN)
	n := sense.MarshalTo(buf[:])
	return t.reply(buf[:n], int(t.cbw.CB[4]))
}

func (t *task) inquiry() uint8 {
	cb := t.cbw.CB
	if cb[1]&0x01 != 0 || cb[2] != 0 {
		return t.fail(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
	}
	var buf [inquirySize]byte
	n := t.m.inquiry[t.cbw.LUN].MarshalTo(buf[:])
	return t.reply(buf[:n], int(binary.BigEndian.Uint16(cb[3:5])))
}

func (t *task) modeSense() uint8 {
	cb := t.cbw.CB
	long := cb[0] == SCSIModeSense10
	alloc := int(cb[4])
	if long {
		alloc = int(binary.BigEndian.Uint16(cb[7:9]))
	}
	var buf [mode10Header + cachingLength]byte
	data, ok := modeSense(buf[:], long, cb[2]&0x3F, t.unit.ReadOnly())
	if !ok {
		return t.fail(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
	}
	return t.reply(data, alloc)
}

func (t *task) startStopUnit() uint8 {
	start := t.cbw.CB[4]&0x01 != 0
	loadEject := t.cbw.CB[4]&0x02 != 0
	pkg.LogDebug(pkg.ComponentDriver, "scsi start stop unit", "start", start, "eject", loadEject)
	if !loadEject || start {
		return CSWStatusPassed
	}
	md, ok := t.unit.(Medium)
	if !ok || !md.Removable() {
		return CSWStatusPassed
	}
	t.m.mutex.Lock()
	locked := t.m.locked[t.cbw.LUN]
	t.m.mutex.Unlock()
	if locked {
		return t.fail(SenseIllegalRequest, ASCMediumRemovalPrevented, 0x02)
	}
	if err := md.Eject(); err != nil {
		return t.fail(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
	}
	return CSWStatusPassed
}

func (t *task) preventAllowRemoval() uint8 {
	t.m.mutex.Lock()
	t.m.locked[t.cbw.LUN] = t.cbw.CB[4]&0x01 != 0
	t.m.mutex.Unlock()
	return CSWStatusPassed
}

func (t *task) readFormatCapacities() uint8 {
	if !t.ready() {
		return t.notReady()
	}
	var buf [12]byte
	data := formatCapacities(buf[:], t.unit.BlockCount(), t.unit.BlockSize())
	return t.reply(data, int(binary.BigEndian.Uint16(t.cbw.CB[7:9])))
}

func (t *task) readCapacity() uint8 {
	if !t.ready() {
		return t.notReady()
	}
	var buf [8]byte
	return t.reply(readCapacity10(buf[:], t.unit.BlockCount(), t.unit.BlockSize()), len(buf))
}

func (t *task) serviceActionIn() uint8 {
	if t.cbw.CB[1]&0x1F != ServiceActionReadCapacity16 {
		return t.fail(SenseIllegalRequest, ASCInvalidCommand, 0)
	}
	if !t.ready() {
		return t.notReady()
	}
	var buf [32]byte
	data := readCapacity16(buf[:], t.unit.BlockCount(), t.unit.BlockSize())
	return t.reply(data, int(binary.BigEndian.Uint32(t.cbw.CB[10:14])))
}

// extent returns the LBA and block count of a READ, WRITE or VERIFY.
func (t *task) extent() (lba uint64, blocks uint32) {
	cb := t.cbw.CB
	if cb[0] == SCSIRead16 || cb[0] == SCSIWrite16 {
		return binary.BigEndian.Uint64(cb[2:10]), binary.BigEndian.Uint32(cb[10:14])
	}
	return uint64(binary.BigEndian.Uint32(cb[2:6])), uint32(binary.BigEndian.Uint16(cb[7:9]))
}

// checkExtent validates the extent against the medium. It returns the
// failure status, or CSWStatusPassed.
func (t *task) checkExtent(lba uint64, blocks uint32) uint8 {
	if !t.ready() {
		return t.notReady()
	}
	count := t.unit.BlockCount()
	if lba > count || uint64(blocks) > count-lba {
		return t.fail(SenseIllegalRequest, ASCLBAOutOfRange, 0)
	}
	return CSWStatusPassed
}

func (t *task) read() uint8 {
	lba, blocks := t.extent()
	if status := t.checkExtent(lba, blocks); status != CSWStatusPassed {
		return status
	}
	size := uint64(t.unit.BlockSize())
	if uint64(blocks)*size > uint64(t.cbw.DataTransferLength) || !t.cbw.IsDataIn() {
		t.phase = true
		return CSWStatusPhaseError
	}
	chunk := uint64(len(t.m.buf)) / size
	for blocks > 0 {
		n := min(uint64(blocks), chunk)
		buf := t.m.buf[:n*size]
		if _, err := t.unit.ReadAt(buf, int64(lba*size)); err != nil {
			pkg.LogWarn(pkg.ComponentDriver, "msc read failed", "lba", lba, "error", err)
			return t.fail(SenseMediumError, ASCUnrecoveredReadError, 0)
		}
		if err := t.send(buf); err != nil {
			return t.fail(SenseHardwareError, ASCNone, 0)
		}
		lba += n
		blocks -= uint32(n)
	}
	return CSWStatusPassed
}

func (t *task) write() uint8 {
	if t.unit.ReadOnly() {
		return t.fail(SenseDataProtect, ASCWriteProtected, 0)
	}
	lba, blocks := t.extent()
	if status := t.checkExtent(lba, blocks); status != CSWStatusPassed {
		return status
	}
	size := uint64(t.unit.BlockSize())
	if uint64(blocks)*size > uint64(t.cbw.DataTransferLength) || t.cbw.IsDataIn() {
		t.phase = true
		return CSWStatusPhaseError
	}
	chunk := uint64(len(t.m.buf)) / size
	for blocks > 0 {
		n := min(uint64(blocks), chunk)
		buf := t.m.buf[:n*size]
		if err := t.receive(buf); err != nil {
			return t.fail(SenseHardwareError, ASCNone, 0)
		}
		if _, err := t.unit.WriteAt(buf, int64(lba*size)); err != nil {
			pkg.LogWarn(pkg.ComponentDriver, "msc write failed", "lba", lba, "error", err)
			return t.fail(SenseMediumError, ASCWriteFault, 0)
		}
		lba += n
		blocks -= uint32(n)
	}
	return CSWStatusPassed
}

func (t *task) verify() uint8 {
	lba, blocks := t.extent()
	return t.checkExtent(lba, blocks)
}

func (t *task) synchronizeCache() uint8 {
	if sy, ok := t.unit.(Syncer); ok {
		if err := sy.Sync(); err != nil {
			return t.fail(SenseMediumError, ASCWriteFault, 0)
		}
	}
	return CSWStatusPassed
}
