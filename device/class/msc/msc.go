package msc

import (
	"context"
	"errors"
	"sync"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/pkg"
)

// MaxTransferSize is the largest chunk moved between storage and the bulk
// pipes in one transfer.
const MaxTransferSize = 64 * 1024

// Stats counts Bulk-Only traffic. Transfers are the NewTransfer
// notifications raised per pipe; the rest are counted by Serve.
type Stats struct {
	OutTransfers uint64
	InTransfers  uint64
	Commands     uint64
	Failed       uint64
	BytesIn      uint64 // device to host
	BytesOut     uint64 // host to device
	Resets       uint64
}

// MSC is a Bulk-Only mass storage class driver serving one interface with
// one logical unit per Storage.
type MSC struct {
	device.UnimplementedDriver

	units   []Storage
	inquiry []Inquiry
	buf     []byte

	mutex sync.Mutex

	stack  *device.Stack
	dev    *device.Device
	intf   *device.Interface
	inEP   *device.Pipe
	outEP  *device.Pipe
	sense  []Sense
	locked []bool
	cancel context.CancelFunc
	reset  bool
	stats  Stats
}

var _ device.ClassDriver = (*MSC)(nil)

// New creates a mass storage driver exposing units as LUN 0, 1, ... The
// vendor and product strings identify every unit in INQUIRY data.
func New(vendor, product string, units ...Storage) *MSC {
	m := &MSC{
		units:   units,
		inquiry: make([]Inquiry, len(units)),
		buf:     make([]byte, MaxTransferSize),
		sense:   make([]Sense, len(units)),
		locked:  make([]bool, len(units)),
	}
	for i, u := range units {
		m.inquiry[i] = Inquiry{Vendor: vendor, Product: product, Revision: "1.0"}
		if md, ok := u.(Medium); ok {
			m.inquiry[i].Removable = md.Removable()
		}
	}
	return m
}

func (m *MSC) Name() string { return "msc" }

// MaxLUN returns the highest logical unit number.
func (m *MSC) MaxLUN() uint8 { return uint8(max(len(m.units), 1) - 1) }

// Stats returns the traffic counters.
func (m *MSC) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.stats
}

// Sense returns the pending sense data of lun.
func (m *MSC) Sense(lun uint8) Sense {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if int(lun) >= len(m.sense) {
		return Sense{}
	}
	return m.sense[lun]
}

// Bound reports whether the driver serves a configured interface.
func (m *MSC) Bound() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.intf != nil
}

// ExamineInterface accepts SCSI transparent Bulk-Only interfaces.
func (m *MSC) ExamineInterface(desc *device.InterfaceDescriptor) error {
	if desc.InterfaceClass != device.ClassMassStorage ||
		desc.InterfaceSubClass != SubclassSCSI ||
		desc.InterfaceProtocol != ProtocolBulkOnly {
		return pkg.ErrNotSupported
	}
	return nil
}

// InitializeInterface claims intf and binds its bulk pipes.
func (m *MSC) InitializeInterface(s *device.Stack, dev *device.Device, intf *device.Interface) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.intf != nil {
		return nil
	}
	if len(m.units) == 0 {
		return pkg.ErrInvalidState
	}
	m.stack, m.dev, m.intf = s, dev, intf
	m.bindPipes(intf.Current())
	clear(m.sense)
	clear(m.locked)
	intf.SetDriver(m)
	pkg.LogDebug(pkg.ComponentDriver, "msc bound",
		"interface", intf.Number(), "luns", len(m.units))
	return nil
}

func (m *MSC) bindPipes(alt *device.AlternateSetting) {
	m.inEP = alt.FindPipe(device.EndpointTypeBulk, true)
	m.outEP = alt.FindPipe(device.EndpointTypeBulk, false)
}

// Disconnect releases the interface and aborts the command in progress.
func (m *MSC) Disconnect(_ *device.Stack, dev *device.Device) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.dev != dev {
		return nil
	}
	m.stack, m.dev, m.intf = nil, nil, nil
	m.inEP, m.outEP = nil, nil
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

// SetAlternateSetting rebinds the bulk pipes.
func (m *MSC) SetAlternateSetting(_ *device.Stack, _ *device.Device, intf *device.Interface, alt *device.AlternateSetting) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if intf == m.intf {
		m.bindPipes(alt)
	}
	return nil
}

// NewTransfer counts transfers raised on the bulk pipes.
func (m *MSC) NewTransfer(_ *device.Stack, _ *device.Device, p *device.Pipe) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	switch p {
	case m.outEP:
		m.stats.OutTransfers++
	case m.inEP:
		m.stats.InTransfers++
	default:
		return pkg.ErrInvalidArgument
	}
	return nil
}

// NewSetup handles BULK_ONLY_RESET and GET_MAX_LUN.
func (m *MSC) NewSetup(_ *device.Stack, dev *device.Device, setup *device.SetupPacket) error {
	if !setup.IsClass() {
		return pkg.ErrNotSupported
	}
	switch setup.Request {
	case RequestBulkOnlyReset:
		if setup.IsDeviceToHost() || setup.Value != 0 || setup.Length != 0 {
			return pkg.ErrInvalidArgument
		}
		m.mutex.Lock()
		m.reset = true
		if m.cancel != nil {
			m.cancel()
		}
		m.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentDriver, "msc bulk-only reset")
	case RequestGetMaxLUN:
		if !setup.IsDeviceToHost() || setup.Value != 0 || setup.Length != 1 {
			return pkg.ErrInvalidArgument
		}
		dev.Reply([]byte{m.MaxLUN()})
	default:
		return pkg.ErrNotSupported
	}
	return nil
}

// Serve runs the Bulk-Only command loop until ctx ends or the interface is
// released. A BULK_ONLY_RESET aborts the command in progress without a
// status phase and Serve waits for the next CBW. Serve returns
// pkg.ErrInvalidState when the driver is not bound or is released while
// serving.
func (m *MSC) Serve(ctx context.Context) error {
	for {
		err := m.serveCommand(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if m.acknowledgeReset() {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, pkg.ErrCancelled) {
			return pkg.ErrInvalidState
		}
		if err != nil {
			return err
		}
	}
}

func (m *MSC) acknowledgeReset() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.reset {
		return false
	}
	m.reset = false
	m.stats.Resets++
	return true
}

func (m *MSC) serveCommand(ctx context.Context) error {
	m.mutex.Lock()
	s, in, out := m.stack, m.inEP, m.outEP
	if s == nil || in == nil || out == nil {
		m.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.cancel = cancel
	m.mutex.Unlock()

	var raw [CBWSize + 1]byte
	n, err := s.Read(ctx, out, raw[:])
	if err != nil {
		return err
	}
	var cbw CommandBlockWrapper
	if err := ParseCBW(raw[:n], &cbw); err != nil {
		pkg.LogWarn(pkg.ComponentDriver, "msc invalid CBW", "length", n)
		return nil
	}

	t := task{m: m, ctx: ctx, stack: s, in: in, out: out, cbw: &cbw}
	status := t.run()
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	m.mutex.Lock()
	m.stats.Commands++
	if status != CSWStatusPassed {
		m.stats.Failed++
	}
	m.stats.BytesIn += t.sent
	m.stats.BytesOut += t.received
	m.mutex.Unlock()

	csw := CommandStatusWrapper{Tag: cbw.Tag, Residue: t.residue(), Status: status}
	var buf [CSWSize]byte
	csw.MarshalTo(buf[:])
	_, err = s.Write(ctx, in, buf[:])
	return err
}

func (m *MSC) setSense(lun uint8, key, asc, ascq uint8) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if int(lun) < len(m.sense) {
		m.sense[lun] = Sense{Key: key, ASC: asc, ASCQ: ascq}
	}
}

func (m *MSC) takeSense(lun uint8) Sense {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s := m.sense[lun]
	m.sense[lun] = Sense{}
	return s
}

// AppendMSC appends a Bulk-Only interface with a bulk endpoint pair to b.
func AppendMSC(b *device.ConfigBuilder, number, inEP, outEP uint8, maxPacket uint16) *device.ConfigBuilder {
	return b.Interface(number, 0, device.ClassMassStorage, SubclassSCSI, ProtocolBulkOnly).
		Endpoint(inEP, device.EndpointTypeBulk, maxPacket, 0).
		Endpoint(outEP, device.EndpointTypeBulk, maxPacket, 0)
}
