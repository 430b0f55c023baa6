package cdc

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/pkg"
)

// ACM is a CDC Abstract Control Model (virtual serial port) class driver.
// One ACM serves one communication interface and the data interface its
// Union functional descriptor names; register one instance per function.
type ACM struct {
	device.UnimplementedDriver

	mutex sync.Mutex

	stack    *device.Stack
	dev      *device.Device
	control  *device.Interface
	data     *device.Interface
	dataNum  uint8
	notifyEP *device.Pipe
	inEP     *device.Pipe
	outEP    *device.Pipe

	lineCoding   LineCoding
	controlState uint16

	onLineCoding   func(LineCoding)
	onControlState func(dtr, rts bool)
	onBreak        func(millis uint16)
}

var _ device.ClassDriver = (*ACM)(nil)

// NewACM creates an ACM driver with the default line coding.
func NewACM() *ACM {
	return &ACM{lineCoding: DefaultLineCoding}
}

// SetOnLineCodingChange sets the callback run after SET_LINE_CODING.
func (a *ACM) SetOnLineCodingChange(cb func(LineCoding)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onLineCoding = cb
}

// SetOnControlStateChange sets the callback run after
// SET_CONTROL_LINE_STATE.
func (a *ACM) SetOnControlStateChange(cb func(dtr, rts bool)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onControlState = cb
}

// SetOnBreak sets the callback run after SEND_BREAK.
func (a *ACM) SetOnBreak(cb func(millis uint16)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onBreak = cb
}

// LineCoding returns the line coding last set by the host.
func (a *ACM) LineCoding() LineCoding {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.lineCoding
}

// DTR reports whether the host asserted Data Terminal Ready.
func (a *ACM) DTR() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.controlState&ControlLineDTR != 0
}

// RTS reports whether the host asserted Request To Send.
func (a *ACM) RTS() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.controlState&ControlLineRTS != 0
}

// Bound reports whether the driver serves a configured function.
func (a *ACM) Bound() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.control != nil
}

func (a *ACM) Name() string { return "cdc-acm" }

// ExamineInterface accepts ACM communication interfaces and CDC data
// interfaces.
func (a *ACM) ExamineInterface(desc *device.InterfaceDescriptor) error {
	switch {
	case desc.InterfaceClass == device.ClassCDC && desc.InterfaceSubClass == SubclassACM:
		return nil
	case desc.InterfaceClass == device.ClassCDCData:
		return nil
	}
	return pkg.ErrNotSupported
}

// InitializeInterface claims a communication interface together with its
// data interface. A data interface is claimed alone only when it is the one
// paired with the communication interface already bound.
func (a *ACM) InitializeInterface(s *device.Stack, dev *device.Device, intf *device.Interface) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.dev != nil && a.dev != dev {
		return nil
	}
	alt := intf.Current()
	switch alt.Descriptor().InterfaceClass {
	case device.ClassCDC:
		if a.control != nil {
			return nil
		}
		a.stack, a.dev = s, dev
		a.control = intf
		a.dataNum = dataInterface(alt.ClassSpecific(), intf.Number())
		a.notifyEP = alt.FindPipe(device.EndpointTypeInterrupt, true)
		intf.SetDriver(a)
		pkg.LogDebug(pkg.ComponentDriver, "acm control bound",
			"interface", intf.Number(), "data", a.dataNum)

		data := dev.Interface(a.dataNum)
		if data == nil || data.Driver() != nil ||
			data.Current().Descriptor().InterfaceClass != device.ClassCDCData {
			return nil
		}
		a.bindData(data)
	case device.ClassCDCData:
		if a.control == nil || a.data != nil || intf.Number() != a.dataNum {
			return nil
		}
		a.bindData(intf)
	}
	return nil
}

func (a *ACM) bindData(intf *device.Interface) {
	a.data = intf
	a.bindDataPipes(intf.Current())
	intf.SetDriver(a)
	pkg.LogDebug(pkg.ComponentDriver, "acm data bound", "interface", intf.Number())
}

func (a *ACM) bindDataPipes(alt *device.AlternateSetting) {
	a.inEP = alt.FindPipe(device.EndpointTypeBulk, true)
	a.outEP = alt.FindPipe(device.EndpointTypeBulk, false)
}

// Disconnect releases the function served on dev.
func (a *ACM) Disconnect(_ *device.Stack, dev *device.Device) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.dev != dev {
		return nil
	}
	a.stack, a.dev = nil, nil
	a.control, a.data = nil, nil
	a.notifyEP, a.inEP, a.outEP = nil, nil, nil
	a.controlState = 0
	return nil
}

// SetAlternateSetting rebinds the pipes of an interface the driver serves.
func (a *ACM) SetAlternateSetting(_ *device.Stack, _ *device.Device, intf *device.Interface, alt *device.AlternateSetting) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	switch intf {
	case a.control:
		a.notifyEP = alt.FindPipe(device.EndpointTypeInterrupt, true)
	case a.data:
		a.bindDataPipes(alt)
	}
	return nil
}

// NewSetup handles the ACM class requests.
func (a *ACM) NewSetup(_ *device.Stack, dev *device.Device, setup *device.SetupPacket) error {
	if !setup.IsClass() {
		return pkg.ErrNotSupported
	}
	switch setup.Request {
	case RequestSetLineCoding:
		if setup.Length != LineCodingSize {
			return pkg.ErrInvalidArgument
		}
		dev.Receive(LineCodingSize, a.setLineCoding)
	case RequestGetLineCoding:
		var buf [LineCodingSize]byte
		a.mutex.Lock()
		a.lineCoding.MarshalTo(buf[:])
		a.mutex.Unlock()
		dev.Reply(buf[:min(int(setup.Length), LineCodingSize)])
	case RequestSetControlLineState:
		a.mutex.Lock()
		a.controlState = setup.Value
		cb := a.onControlState
		a.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentDriver, "acm control line state",
			"dtr", setup.Value&ControlLineDTR != 0, "rts", setup.Value&ControlLineRTS != 0)
		if cb != nil {
			cb(setup.Value&ControlLineDTR != 0, setup.Value&ControlLineRTS != 0)
		}
	case RequestSendBreak:
		a.mutex.Lock()
		cb := a.onBreak
		a.mutex.Unlock()
		if cb != nil {
			cb(setup.Value)
		}
	default:
		return pkg.ErrNotSupported
	}
	return nil
}

func (a *ACM) setLineCoding(data []byte) {
	var lc LineCoding
	if err := ParseLineCoding(data, &lc); err != nil {
		pkg.LogWarn(pkg.ComponentDriver, "acm line coding rejected", "error", err)
		return
	}
	a.mutex.Lock()
	a.lineCoding = lc
	cb := a.onLineCoding
	a.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentDriver, "acm line coding", "coding", lc.String())
	if cb != nil {
		cb(lc)
	}
}

// Notify drops the control line state on bus reset.
func (a *ACM) Notify(_ *device.Stack, dev *device.Device, event device.Event) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.dev == dev && event.Kind() == device.EventReset {
		a.controlState = 0
	}
	return nil
}

// Read receives serial data from the host.
func (a *ACM) Read(ctx context.Context, buf []byte) (int, error) {
	a.mutex.Lock()
	s, p := a.stack, a.outEP
	a.mutex.Unlock()
	if p == nil {
		return 0, pkg.ErrInvalidState
	}
	return s.Read(ctx, p, buf)
}

// Write sends serial data to the host.
func (a *ACM) Write(ctx context.Context, data []byte) (int, error) {
	a.mutex.Lock()
	s, p := a.stack, a.inEP
	a.mutex.Unlock()
	if p == nil {
		return 0, pkg.ErrInvalidState
	}
	return s.Write(ctx, p, data)
}

// SendSerialState sends a SERIAL_STATE notification with the given
// SerialState bits.
func (a *ACM) SendSerialState(ctx context.Context, state uint16) error {
	a.mutex.Lock()
	s, p, control := a.stack, a.notifyEP, a.control
	a.mutex.Unlock()
	if p == nil || control == nil {
		return pkg.ErrInvalidState
	}
	var payload [2]byte
	binary.LittleEndian.PutUint16(payload[:], state)
	var buf [notificationHeaderSize + 2]byte
	_, err := s.Write(ctx, p, notification(buf[:], NotificationSerialState, 0, control.Number(), payload[:]))
	return err
}

// AppendACM appends an ACM function to b: the communication interface
// number control with its functional descriptors and notification endpoint,
// then data interface control+1 with a bulk endpoint pair.
func AppendACM(b *device.ConfigBuilder, control, notifyEP, inEP, outEP uint8, maxPacket uint16) *device.ConfigBuilder {
	data := control + 1
	return b.Interface(control, 0, device.ClassCDC, SubclassACM, ProtocolAT).
		ClassSpecific(HeaderFunctional(0x0110)...).
		ClassSpecific(CallManagementFunctional(0, data)...).
		ClassSpecific(ACMFunctional(ACMCapLineCoding|ACMCapSendBreak)...).
		ClassSpecific(UnionFunctional(control, data)...).
		Endpoint(notifyEP, device.EndpointTypeInterrupt, 16, 16).
		Interface(data, 0, device.ClassCDCData, 0, 0).
		Endpoint(inEP, device.EndpointTypeBulk, maxPacket, 0).
		Endpoint(outEP, device.EndpointTypeBulk, maxPacket, 0)
}
