package device

import (
	"encoding/binary"
	"sync"

	"github.com/ardnew/usbfunc/device/hal"
	"github.com/ardnew/usbfunc/pkg"
)

// stringEntry is one pre-encoded string descriptor.
type stringEntry struct {
	index  uint8
	langID uint16
	data   []byte
}

// SystemExitLatency holds the values delivered by SET_SEL.
type SystemExitLatency struct {
	U1SEL uint8  // U1 system exit latency, microseconds
	U1PEL uint8  // U1 device-to-host exit latency, microseconds
	U2SEL uint16 // U2 system exit latency, microseconds
	U2PEL uint16 // U2 device-to-host exit latency, microseconds
}

// setSELLength is the data stage length of SET_SEL.
const setSELLength = 6

// Device is one USB function as seen by the protocol core: its stored
// descriptors, the configuration trees parsed from them for the current
// speed, and the enumeration state driven by SETUP packets and bus events.
//
// Device is not safe for concurrent use. A Stack serializes every entry
// point that touches a device, including driver callbacks.
type Device struct {
	hw    hal.Controller
	stack *Stack

	// Descriptor and Qualifier are the descriptors served for the device's
	// primary speed. A zero Qualifier.Length marks a full-speed-only device.
	Descriptor DeviceDescriptor
	Qualifier  DeviceQualifierDescriptor

	// Raw configuration blocks per index and speed, stored by reference.
	raw        [MaxConfigurations][NumSpeeds][]byte
	configs    [MaxConfigurations]Configuration
	numConfigs int

	strings    [MaxStrings]stringEntry
	numStrings int

	rawBOS []byte
	bos    BOS
	hasBOS bool

	state         State
	previousState State // State before suspend
	speed         Speed
	otherSpeed    bool
	active        *Configuration
	activeIndex   int
	driver        ClassDriver
	address       uint8

	remoteWakeup   bool
	otgStatus      uint8
	testMode       uint8
	u1Enabled      bool
	u2Enabled      bool
	ltmEnabled     bool
	sel            SystemExitLatency
	suspendOptions [MaxInterfaces]uint8

	// Control reply buffer and the control transfer staged by a request.
	buffer [ControlBufferSize]byte
	ctrl   hal.Transfer

	onStateChange func(old, new State)

	mutex sync.Mutex
}

// NewDevice creates a detached device served by hw.
func NewDevice(hw hal.Controller, desc DeviceDescriptor) *Device {
	return &Device{
		hw:          hw,
		Descriptor:  desc,
		state:       StateDetached,
		speed:       SpeedFull,
		activeIndex: -1,
	}
}

// Controller returns the hardware the device is bound to.
func (d *Device) Controller() hal.Controller { return d.hw }

// Stack returns the stack the device is attached to, or nil.
func (d *Device) Stack() *Stack { return d.stack }

// SetQualifier stores the device qualifier descriptor.
func (d *Device) SetQualifier(q DeviceQualifierDescriptor) { d.Qualifier = q }

// SetConfigDescriptor stores the raw configuration block served at index
// for speed. The block is stored by reference and must not be modified.
func (d *Device) SetConfigDescriptor(index int, speed Speed, raw []byte) error {
	if index < 0 || speed >= NumSpeeds {
		return pkg.ErrInvalidArgument
	}
	if index >= MaxConfigurations || len(raw) > ControlBufferSize {
		return pkg.ErrMaxExceeded
	}
	d.raw[index][speed] = raw
	return nil
}

// ConfigDescriptor returns the raw configuration block for index and speed.
func (d *Device) ConfigDescriptor(index int, speed Speed) []byte {
	if index < 0 || index >= MaxConfigurations || speed >= NumSpeeds {
		return nil
	}
	return d.raw[index][speed]
}

// AddString stores a pre-encoded string descriptor. Index 0 is the language
// table and is served for any language ID.
func (d *Device) AddString(index uint8, langID uint16, data []byte) error {
	if len(data) < 2 || int(data[0]) != len(data) || data[1] != DescriptorTypeString {
		return pkg.ErrInvalidDescriptor
	}
	for i := 0; i < d.numStrings; i++ {
		if s := &d.strings[i]; s.index == index && s.langID == langID {
			s.data = data
			return nil
		}
	}
	if d.numStrings >= MaxStrings {
		return pkg.ErrMaxExceeded
	}
	d.strings[d.numStrings] = stringEntry{index: index, langID: langID, data: data}
	d.numStrings++
	return nil
}

// String returns the string descriptor for index and langID, or nil.
func (d *Device) String(index uint8, langID uint16) []byte {
	for i := 0; i < d.numStrings; i++ {
		s := &d.strings[i]
		if s.index == index && (index == 0 || s.langID == langID) {
			return s.data
		}
	}
	return nil
}

// SetBOS stores the raw BOS descriptor set. It is parsed when the device is
// attached to a Stack.
func (d *Device) SetBOS(raw []byte) error {
	if len(raw) > ControlBufferSize {
		return pkg.ErrMaxExceeded
	}
	d.rawBOS = raw
	d.bos = BOS{}
	d.hasBOS = false
	return nil
}

// BOS returns the parsed BOS descriptor set, if the device has one.
func (d *Device) BOS() (*BOS, bool) {
	if !d.hasBOS {
		return nil, false
	}
	return &d.bos, true
}

// State returns the current device state.
func (d *Device) State() State { return d.state }

// setState changes the device state and triggers the callback.
func (d *Device) setState(state State) {
	old := d.state
	d.state = state
	if old == state {
		return
	}
	pkg.LogDebug(pkg.ComponentDevice, "device state changed",
		"from", old.String(),
		"to", state.String())
	if d.onStateChange != nil {
		d.onStateChange(old, state)
	}
}

// SetOnStateChange sets the state change callback. It runs with the device
// locked.
func (d *Device) SetOnStateChange(cb func(old, new State)) { d.onStateChange = cb }

// Speed returns the operating speed.
func (d *Device) Speed() Speed { return d.speed }

// OtherSpeed reports whether the device runs at its qualifier's speed, so
// that device and qualifier descriptors are served swapped.
func (d *Device) OtherSpeed() bool { return d.otherSpeed }

// Address returns the function address.
func (d *Device) Address() uint8 { return d.address }

// NumConfigurations returns the number of configurations parsed for the
// current speed.
func (d *Device) NumConfigurations() int { return d.numConfigs }

// Configuration returns parsed configuration i for the current speed, or nil.
func (d *Device) Configuration(i int) *Configuration {
	if i < 0 || i >= d.numConfigs {
		return nil
	}
	return &d.configs[i]
}

// ActiveConfiguration returns the selected configuration, or nil.
func (d *Device) ActiveConfiguration() *Configuration { return d.active }

// ActiveIndex returns the index of the selected configuration, or -1.
func (d *Device) ActiveIndex() int {
	if d.active == nil {
		return -1
	}
	return d.activeIndex
}

// Driver returns the device-level class driver, or nil.
func (d *Device) Driver() ClassDriver { return d.driver }

// SetDriver binds a device-level class driver. Drivers call it from
// InitializeDevice to claim the device.
func (d *Device) SetDriver(drv ClassDriver) { d.driver = drv }

// Interface returns interface number of the active configuration, or nil.
func (d *Device) Interface(number uint8) *Interface {
	if d.active == nil {
		return nil
	}
	return d.active.Interface(number)
}

// RemoteWakeup reports whether the host enabled remote wakeup.
func (d *Device) RemoteWakeup() bool { return d.remoteWakeup }

// OTGStatus returns the OTG feature bits set by the host.
func (d *Device) OTGStatus() uint8 { return d.otgStatus }

// TestMode returns the last test selector set by the host.
func (d *Device) TestMode() uint8 { return d.testMode }

// LinkPower reports the U1, U2 and LTM enables set by the host.
func (d *Device) LinkPower() (u1, u2, ltm bool) { return d.u1Enabled, d.u2Enabled, d.ltmEnabled }

// SystemExitLatency returns the values of the last SET_SEL.
func (d *Device) SystemExitLatency() SystemExitLatency { return d.sel }

// FunctionSuspendOptions returns the suspend options last applied to an
// interface by FUNCTION_SUSPEND.
func (d *Device) FunctionSuspendOptions(intf uint8) uint8 {
	if intf >= MaxInterfaces {
		return 0
	}
	return d.suspendOptions[intf]
}

// ControlTransfer returns the control transfer staged by the request being
// processed.
func (d *Device) ControlTransfer() *hal.Transfer { return &d.ctrl }

// Reply stages data as the IN data stage of the current control request,
// truncated to the buffer size.
func (d *Device) Reply(data []byte) {
	n := copy(d.buffer[:], data)
	d.replyBuffer(n)
}

// replyBuffer stages the first n bytes of the control buffer as IN data.
func (d *Device) replyBuffer(n int) {
	d.ctrl.Buffer = d.buffer[:n]
	d.ctrl.Length = n
	d.ctrl.In = true
}

// Receive stages an OUT data stage of n bytes for the current control
// request. done runs with the received bytes when the stage completes.
func (d *Device) Receive(n int, done func(data []byte)) {
	if n > len(d.buffer) {
		n = len(d.buffer)
	}
	d.ctrl.Buffer = d.buffer[:n]
	d.ctrl.Length = n
	d.ctrl.In = false
	d.ctrl.Callback = func(t *hal.Transfer) {
		if t.Status != pkg.TransferStatusSuccess || done == nil {
			return
		}
		actual := t.Actual
		if actual > len(t.Buffer) {
			actual = len(t.Buffer)
		}
		done(t.Buffer[:actual])
	}
}

// resetControl clears the control transfer and reply buffer before a new
// SETUP packet.
func (d *Device) resetControl() {
	clear(d.buffer[:])
	d.ctrl.Reset()
}

// storeSEL decodes a SET_SEL data stage.
func (d *Device) storeSEL(data []byte) {
	if len(data) < setSELLength {
		return
	}
	d.sel = SystemExitLatency{
		U1SEL: data[0],
		U1PEL: data[1],
		U2SEL: binary.LittleEndian.Uint16(data[2:4]),
		U2PEL: binary.LittleEndian.Uint16(data[4:6]),
	}
	pkg.LogDebug(pkg.ComponentDevice, "system exit latency set",
		"u1sel", d.sel.U1SEL, "u1pel", d.sel.U1PEL,
		"u2sel", d.sel.U2SEL, "u2pel", d.sel.U2PEL)
}

// maxPacketSize0 returns the EP0 packet size for the descriptor currently
// served.
func (d *Device) maxPacketSize0() int {
	mps := d.Descriptor.MaxPacketSize0
	if d.otherSpeed {
		mps = d.Qualifier.MaxPacketSize0
	}
	if d.speed == SpeedSuper && mps < 32 {
		// bMaxPacketSize0 is an exponent at SuperSpeed.
		return 1 << mps
	}
	return int(mps)
}
