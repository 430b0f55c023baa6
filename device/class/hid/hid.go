package hid

import (
	"context"
	"sync"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/pkg"
)

// MaxReportSize bounds the reports kept for GET_REPORT and SET_REPORT.
const MaxReportSize = 64

// HID is a HID class driver for one interface matching its subclass and
// protocol. The report descriptor is stored by reference.
type HID struct {
	device.UnimplementedDriver

	owner     device.ClassDriver // claimed as the interface driver
	subClass  uint8
	protocol  uint8
	report    []byte
	inputSize int

	mutex sync.Mutex

	stack     *device.Stack
	dev       *device.Device
	intf      *device.Interface
	inEP      *device.Pipe
	outEP     *device.Pipe
	classDesc []byte

	mode   uint8
	idle   uint8
	input  []byte
	output []byte

	onOutput   func(data []byte)
	onProtocol func(mode uint8)
	onIdle     func(rate, reportID uint8)
}

var _ device.ClassDriver = (*HID)(nil)

// New creates a HID driver serving interfaces of the given subclass and
// protocol, describing inputSize-byte input reports with report.
func New(subClass, protocol uint8, report []byte, inputSize int) *HID {
	h := &HID{
		subClass:  subClass,
		protocol:  protocol,
		report:    report,
		inputSize: min(inputSize, MaxReportSize),
		mode:      ProtocolModeReport,
	}
	h.owner = h
	return h
}

// SetOnOutputReport sets the callback run when the host delivers an output
// report by SET_REPORT or on the interrupt OUT pipe.
func (h *HID) SetOnOutputReport(cb func(data []byte)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onOutput = cb
}

// SetOnSetProtocol sets the callback run after SET_PROTOCOL.
func (h *HID) SetOnSetProtocol(cb func(mode uint8)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onProtocol = cb
}

// SetOnSetIdle sets the callback run after SET_IDLE.
func (h *HID) SetOnSetIdle(cb func(rate, reportID uint8)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onIdle = cb
}

// ReportDescriptor returns the report descriptor.
func (h *HID) ReportDescriptor() []byte { return h.report }

// ProtocolMode returns ProtocolModeBoot or ProtocolModeReport.
func (h *HID) ProtocolMode() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.mode
}

// IdleRate returns the idle rate in 4 ms units; 0 means reports are sent
// only on change.
func (h *HID) IdleRate() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.idle
}

// OutputReport returns the last output report received.
func (h *HID) OutputReport() []byte {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]byte(nil), h.output...)
}

// Bound reports whether the driver serves a configured interface.
func (h *HID) Bound() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.intf != nil
}

func (h *HID) Name() string {
	switch h.protocol {
	case ProtocolKeyboard:
		return "hid-keyboard"
	case ProtocolMouse:
		return "hid-mouse"
	}
	return "hid"
}

// ExamineInterface accepts HID interfaces with the driver's subclass and
// protocol.
func (h *HID) ExamineInterface(desc *device.InterfaceDescriptor) error {
	if desc.InterfaceClass != device.ClassHID ||
		desc.InterfaceSubClass != h.subClass ||
		desc.InterfaceProtocol != h.protocol {
		return pkg.ErrNotSupported
	}
	return nil
}

// InitializeInterface claims intf and binds its interrupt pipes.
func (h *HID) InitializeInterface(s *device.Stack, dev *device.Device, intf *device.Interface) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.intf != nil {
		return nil
	}
	alt := intf.Current()
	h.stack, h.dev, h.intf = s, dev, intf
	h.classDesc = findClassDescriptor(alt.ClassSpecific())
	h.bindPipes(alt)
	h.mode = ProtocolModeReport
	h.input = make([]byte, h.inputSize)
	intf.SetDriver(h.owner)
	pkg.LogDebug(pkg.ComponentDriver, "hid bound",
		"driver", h.Name(), "interface", intf.Number())
	return nil
}

func (h *HID) bindPipes(alt *device.AlternateSetting) {
	h.inEP = alt.FindPipe(device.EndpointTypeInterrupt, true)
	h.outEP = alt.FindPipe(device.EndpointTypeInterrupt, false)
}

// Disconnect releases the interface served on dev.
func (h *HID) Disconnect(_ *device.Stack, dev *device.Device) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.dev != dev {
		return nil
	}
	h.stack, h.dev, h.intf = nil, nil, nil
	h.inEP, h.outEP = nil, nil
	h.classDesc = nil
	return nil
}

// SetAlternateSetting rebinds the interrupt pipes.
func (h *HID) SetAlternateSetting(_ *device.Stack, _ *device.Device, intf *device.Interface, alt *device.AlternateSetting) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if intf == h.intf {
		h.bindPipes(alt)
	}
	return nil
}

// Notify restores report protocol on bus reset.
func (h *HID) Notify(_ *device.Stack, dev *device.Device, event device.Event) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.dev == dev && event.Kind() == device.EventReset {
		h.mode = ProtocolModeReport
		h.idle = 0
	}
	return nil
}

// NewSetup serves GET_DESCRIPTOR for the HID and report descriptors and the
// HID class requests.
func (h *HID) NewSetup(_ *device.Stack, dev *device.Device, setup *device.SetupPacket) error {
	if setup.IsStandard() {
		if setup.Request != device.RequestGetDescriptor {
			return pkg.ErrNotSupported
		}
		return h.getDescriptor(dev, setup)
	}
	if !setup.IsClass() {
		return pkg.ErrNotSupported
	}

	switch setup.Request {
	case RequestGetReport:
		return h.getReport(dev, setup)
	case RequestSetReport:
		return h.setReport(dev, setup)
	case RequestGetIdle:
		h.mutex.Lock()
		idle := h.idle
		h.mutex.Unlock()
		dev.Reply([]byte{idle}[:min(int(setup.Length), 1)])
	case RequestSetIdle:
		rate, id := uint8(setup.Value>>8), uint8(setup.Value)
		h.mutex.Lock()
		h.idle = rate
		cb := h.onIdle
		h.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentDriver, "hid idle", "rate", rate, "report", id)
		if cb != nil {
			cb(rate, id)
		}
	case RequestGetProtocol:
		if h.subClass != SubclassBoot {
			return pkg.ErrNotSupported
		}
		h.mutex.Lock()
		mode := h.mode
		h.mutex.Unlock()
		dev.Reply([]byte{mode}[:min(int(setup.Length), 1)])
	case RequestSetProtocol:
		if h.subClass != SubclassBoot {
			return pkg.ErrNotSupported
		}
		if setup.Value > ProtocolModeReport {
			return pkg.ErrInvalidArgument
		}
		mode := uint8(setup.Value)
		h.mutex.Lock()
		h.mode = mode
		cb := h.onProtocol
		h.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentDriver, "hid protocol", "mode", mode)
		if cb != nil {
			cb(mode)
		}
	default:
		return pkg.ErrNotSupported
	}
	return nil
}

func (h *HID) getDescriptor(dev *device.Device, setup *device.SetupPacket) error {
	var data []byte
	switch setup.DescriptorType() {
	case device.DescriptorTypeHIDReport:
		data = h.report
	case device.DescriptorTypeHID:
		h.mutex.Lock()
		data = h.classDesc
		h.mutex.Unlock()
		if data == nil {
			var buf [ClassDescriptorSize]byte
			desc := ClassDescriptor{HIDVersion: Version, ReportLength: uint16(len(h.report))}
			desc.MarshalTo(buf[:])
			data = buf[:]
		}
	default:
		return pkg.ErrNotSupported
	}
	dev.Reply(data[:min(int(setup.Length), len(data))])
	return nil
}

func (h *HID) getReport(dev *device.Device, setup *device.SetupPacket) error {
	var data []byte
	h.mutex.Lock()
	switch uint8(setup.Value >> 8) {
	case ReportTypeInput:
		data = append(data, h.input...)
	case ReportTypeOutput:
		data = append(data, h.output...)
	default:
		h.mutex.Unlock()
		return pkg.ErrNotSupported
	}
	h.mutex.Unlock()
	dev.Reply(data[:min(int(setup.Length), len(data))])
	return nil
}

func (h *HID) setReport(dev *device.Device, setup *device.SetupPacket) error {
	if uint8(setup.Value>>8) != ReportTypeOutput {
		return pkg.ErrNotSupported
	}
	if setup.Length == 0 || setup.Length > MaxReportSize {
		return pkg.ErrInvalidArgument
	}
	dev.Receive(int(setup.Length), h.storeOutput)
	return nil
}

func (h *HID) storeOutput(data []byte) {
	h.mutex.Lock()
	h.output = append(h.output[:0], data...)
	cb := h.onOutput
	h.mutex.Unlock()
	if cb != nil {
		cb(data)
	}
}

// SendReport sends an input report on the interrupt IN pipe. The report is
// also returned by later GET_REPORT(Input) requests.
func (h *HID) SendReport(ctx context.Context, report []byte) error {
	h.mutex.Lock()
	s, p := h.stack, h.inEP
	if p != nil {
		h.input = append(h.input[:0], report...)
	}
	h.mutex.Unlock()
	if p == nil {
		return pkg.ErrInvalidState
	}
	_, err := s.Write(ctx, p, report)
	return err
}

// ReceiveReport reads one output report from the interrupt OUT pipe.
func (h *HID) ReceiveReport(ctx context.Context, buf []byte) (int, error) {
	h.mutex.Lock()
	s, p := h.stack, h.outEP
	h.mutex.Unlock()
	if p == nil {
		return 0, pkg.ErrInvalidState
	}
	n, err := s.Read(ctx, p, buf)
	if err == nil {
		h.storeOutput(buf[:n])
	}
	return n, err
}

// AppendHID appends interface number served by h to b: the interface
// descriptor, the HID class descriptor, and an interrupt IN endpoint. A
// non-zero outEP adds an interrupt OUT endpoint.
func AppendHID(b *device.ConfigBuilder, h *HID, number, inEP, outEP, interval uint8) *device.ConfigBuilder {
	desc := ClassDescriptor{HIDVersion: Version, ReportLength: uint16(len(h.report))}
	var rec [ClassDescriptorSize]byte
	desc.MarshalTo(rec[:])
	b.Interface(number, 0, device.ClassHID, h.subClass, h.protocol).
		ClassSpecific(rec[:]...).
		Endpoint(inEP, device.EndpointTypeInterrupt, uint16(max(h.inputSize, 1)), interval)
	if outEP != 0 {
		b.Endpoint(outEP, device.EndpointTypeInterrupt, MaxReportSize, interval)
	}
	return b
}
