package dfu

import (
	"errors"
	"sync"
	"time"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/pkg"
)

// DefaultPollTimeout is the bwPollTimeout reported by GETSTATUS.
const DefaultPollTimeout = 10 // ms

// DFU is a Device Firmware Upgrade class driver. A runtime driver serves
// the DFU interface of an application configuration and only accepts
// DETACH; a DFU mode driver runs the download and upload state machine
// against a Firmware.
type DFU struct {
	device.UnimplementedDriver

	protocol   uint8
	firmware   Firmware
	functional Functional

	mutex sync.Mutex

	stack *device.Stack
	dev   *device.Device
	intf  *device.Interface

	state       State
	status      Status
	block       uint16
	detachUntil time.Time
	pollTimeout uint32

	onDetach func()
	onReset  func(State)
	detached func() // onDetach, run once the request is answered
}

var _ device.ClassDriver = (*DFU)(nil)

// NewRuntime creates a runtime driver. attributes and detachTimeout are
// reported in the functional descriptor.
func NewRuntime(attributes uint8, detachTimeout uint16) *DFU {
	return &DFU{
		protocol: ProtocolRuntime,
		functional: Functional{
			Attributes:    attributes,
			DetachTimeout: detachTimeout,
			DFUVersion:    Version,
		},
		state:       StateAppIdle,
		pollTimeout: DefaultPollTimeout,
	}
}

// New creates a DFU mode driver programming fw in transfers of up to
// transferSize bytes.
func New(fw Firmware, attributes uint8, transferSize uint16) *DFU {
	return &DFU{
		protocol: ProtocolDFU,
		firmware: fw,
		functional: Functional{
			Attributes:   attributes,
			TransferSize: transferSize,
			DFUVersion:   Version,
		},
		state:       StateIdle,
		pollTimeout: DefaultPollTimeout,
	}
}

// SetOnDetach sets the callback run when the function should leave the
// bus and re-enumerate in DFU mode: on DETACH when AttrWillDetach is set,
// otherwise on the bus reset that follows DETACH within the detach timeout.
func (d *DFU) SetOnDetach(cb func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onDetach = cb
}

// SetOnReset sets the callback run on a bus reset in DFU mode with the
// state the reset interrupted. A reset in dfuMANIFEST-WAIT-RESET or after a
// completed manifestation is the host's cue to run the new image.
func (d *DFU) SetOnReset(cb func(State)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onReset = cb
}

// SetPollTimeout sets the bwPollTimeout reported by GETSTATUS.
func (d *DFU) SetPollTimeout(timeout time.Duration) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.pollTimeout = uint32(min(timeout.Milliseconds(), 0xFFFFFF))
}

// Functional returns the functional descriptor advertised by AppendDFU.
func (d *DFU) Functional() Functional { return d.functional }

// State returns the current DFU state.
func (d *DFU) State() State {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.state
}

// Status returns the current DFU status.
func (d *DFU) Status() Status {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.status
}

// Bound reports whether the driver serves a configured interface.
func (d *DFU) Bound() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.intf != nil
}

func (d *DFU) Name() string {
	if d.protocol == ProtocolRuntime {
		return "dfu-runtime"
	}
	return "dfu"
}

// ExamineInterface accepts DFU interfaces of the driver's protocol.
func (d *DFU) ExamineInterface(desc *device.InterfaceDescriptor) error {
	if desc.InterfaceClass != device.ClassAppSpecific ||
		desc.InterfaceSubClass != SubclassDFU ||
		desc.InterfaceProtocol != d.protocol {
		return pkg.ErrNotSupported
	}
	return nil
}

// InitializeInterface claims intf.
func (d *DFU) InitializeInterface(s *device.Stack, dev *device.Device, intf *device.Interface) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.intf != nil {
		return nil
	}
	var fn Functional
	if raw := findFunctional(intf.Current().ClassSpecific()); raw != nil {
		if err := ParseFunctional(raw, &fn); err == nil {
			d.functional = fn
		}
	}
	d.stack, d.dev, d.intf = s, dev, intf
	intf.SetDriver(d)
	pkg.LogDebug(pkg.ComponentDriver, "dfu bound",
		"driver", d.Name(), "interface", intf.Number(), "state", d.state.String())
	return nil
}

// Disconnect releases the interface served on dev.
func (d *DFU) Disconnect(_ *device.Stack, dev *device.Device) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.dev == dev {
		d.stack, d.dev, d.intf = nil, nil, nil
	}
	return nil
}

// Notify applies a bus reset to the state machine.
func (d *DFU) Notify(_ *device.Stack, dev *device.Device, event device.Event) error {
	if event.Kind() != device.EventReset {
		return nil
	}
	d.mutex.Lock()
	if d.dev != nil && d.dev != dev {
		d.mutex.Unlock()
		return nil
	}
	prev := d.state
	var cb func()
	var reset func(State)
	if d.protocol == ProtocolRuntime {
		if prev == StateAppDetach && time.Now().Before(d.detachUntil) {
			cb = d.onDetach
		}
		d.state = StateAppIdle
	} else {
		reset = d.onReset
		d.state, d.status, d.block = StateIdle, StatusOK, 0
	}
	d.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentDriver, "dfu reset", "state", prev.String())
	if cb != nil {
		cb()
	}
	if reset != nil {
		reset(prev)
	}
	return nil
}

// NewSetup runs the DFU class requests through the state machine. A
// request not allowed in the current state fails; in DFU mode it also
// moves the function to dfuERROR with StatusErrStalledPkt.
func (d *DFU) NewSetup(_ *device.Stack, dev *device.Device, setup *device.SetupPacket) error {
	if !setup.IsClass() {
		return pkg.ErrNotSupported
	}
	d.mutex.Lock()
	err := d.request(dev, setup)
	cb := d.detached
	d.detached = nil
	d.mutex.Unlock()
	if cb != nil {
		cb()
	}
	return err
}

func (d *DFU) request(dev *device.Device, setup *device.SetupPacket) error {
	switch setup.Request {
	case RequestGetStatus:
		return d.getStatus(dev, setup)
	case RequestGetState:
		dev.Reply([]byte{uint8(d.state)}[:min(int(setup.Length), 1)])
		return nil
	}

	if d.protocol == ProtocolRuntime {
		if setup.Request != RequestDetach || d.state != StateAppIdle {
			return pkg.ErrInvalidRequest
		}
		return d.detach(setup)
	}

	switch {
	case setup.Request == RequestDnload &&
		(d.state == StateIdle || d.state == StateDnloadIdle):
		return d.download(dev, setup)
	case setup.Request == RequestUpload &&
		(d.state == StateIdle || d.state == StateUploadIdle):
		return d.upload(dev, setup)
	case setup.Request == RequestAbort &&
		(d.state == StateIdle || d.state == StateDnloadIdle || d.state == StateUploadIdle):
		d.state, d.block = StateIdle, 0
		return nil
	case setup.Request == RequestClrStatus && d.state == StateError:
		d.state, d.status = StateIdle, StatusOK
		return nil
	}
	return d.stall()
}

func (d *DFU) stall() error {
	if d.state != StateManifestWaitReset {
		d.fail(StatusErrStalledPkt)
	}
	return pkg.ErrInvalidRequest
}

func (d *DFU) fail(status Status) {
	d.state, d.status = StateError, status
	pkg.LogWarn(pkg.ComponentDriver, "dfu error", "status", status.String())
}

func (d *DFU) detach(setup *device.SetupPacket) error {
	timeout := min(setup.Value, d.functional.DetachTimeout)
	d.state = StateAppDetach
	d.detachUntil = time.Now().Add(time.Duration(timeout) * time.Millisecond)
	pkg.LogInfo(pkg.ComponentDriver, "dfu detach", "timeout", timeout)
	if d.functional.Attributes&AttrWillDetach != 0 {
		d.detached = d.onDetach
	}
	return nil
}

func (d *DFU) download(dev *device.Device, setup *device.SetupPacket) error {
	if d.functional.Attributes&AttrCanDnload == 0 {
		return d.stall()
	}
	if setup.Length == 0 {
		if d.state != StateDnloadIdle {
			return d.stall()
		}
		d.state = StateManifestSync
		return nil
	}
	if setup.Length > d.functional.TransferSize {
		return d.stall()
	}
	if d.state == StateIdle {
		d.block = 0
	}
	if setup.Value != d.block {
		d.fail(StatusErrAddress)
		return pkg.ErrInvalidRequest
	}
	block := setup.Value
	d.state = StateDnloadSync
	dev.Receive(int(setup.Length), func(data []byte) {
		err := d.firmware.Download(block, data)
		d.mutex.Lock()
		defer d.mutex.Unlock()
		if err != nil {
			d.fail(statusOf(err))
			return
		}
		d.block = block + 1
	})
	return nil
}

func (d *DFU) upload(dev *device.Device, setup *device.SetupPacket) error {
	if d.functional.Attributes&AttrCanUpload == 0 || setup.Length == 0 ||
		setup.Length > d.functional.TransferSize {
		return d.stall()
	}
	if d.state == StateIdle {
		d.block = 0
	}
	buf := make([]byte, setup.Length)
	n, err := d.firmware.Upload(d.block, buf)
	if err != nil {
		d.fail(statusOf(err))
		return pkg.ErrInvalidRequest
	}
	if n < len(buf) {
		d.state, d.block = StateIdle, 0
	} else {
		d.state = StateUploadIdle
		d.block++
	}
	dev.Reply(buf[:n])
	return nil
}

// getStatus advances the synchronization states and reports the state
// entered.
func (d *DFU) getStatus(dev *device.Device, setup *device.SetupPacket) error {
	poll := uint32(0)
	switch d.state {
	case StateDnloadSync:
		if d.status == StatusOK {
			d.state = StateDnloadIdle
			poll = d.pollTimeout
		}
	case StateManifestSync:
		if err := d.firmware.Manifest(); err != nil {
			d.fail(statusOf(err))
			break
		}
		pkg.LogInfo(pkg.ComponentDriver, "dfu manifested")
		if d.functional.Attributes&AttrManifestationTolerant != 0 {
			d.state = StateIdle
		} else {
			d.state = StateManifest
			poll = d.pollTimeout
		}
	}
	block := StatusBlock{Status: d.status, PollTimeout: poll, State: d.state}
	var buf [StatusSize]byte
	block.MarshalTo(buf[:])
	dev.Reply(buf[:min(int(setup.Length), StatusSize)])
	if d.state == StateManifest {
		d.state = StateManifestWaitReset
	}
	return nil
}

func statusOf(err error) Status {
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusErrUnknown
}

// AppendDFU appends a DFU interface with its functional descriptor to b.
func AppendDFU(b *device.ConfigBuilder, d *DFU, number uint8) *device.ConfigBuilder {
	var rec [FunctionalSize]byte
	d.functional.MarshalTo(rec[:])
	return b.Interface(number, 0, device.ClassAppSpecific, SubclassDFU, d.protocol).
		ClassSpecific(rec[:]...)
}
