package device

import (
	"sync"

	"github.com/ardnew/usbfunc/device/hal"
	"github.com/ardnew/usbfunc/pkg"
)

// Stack is the function-side protocol core. It holds the registered class
// drivers and attached devices and is driven by the controller through
// NewSetup, NewTransfer, Notify and SpeedChange.
//
// Every entry point serializes on the device it targets. Drivers and
// devices must not be registered or attached from a driver callback.
type Stack struct {
	mutex sync.RWMutex

	drivers    [MaxDrivers]ClassDriver
	numDrivers int

	devices    [MaxDevices]*Device
	numDevices int
}

// NewStack creates an empty stack.
func NewStack() *Stack {
	return &Stack{}
}

// lock acquires d for an entry point. It fails with pkg.ErrNotPresent if d
// is not attached.
func (s *Stack) lock(d *Device) error {
	if d == nil {
		return pkg.ErrInvalidArgument
	}
	s.mutex.RLock()
	if s.deviceIndex(d) < 0 {
		s.mutex.RUnlock()
		return pkg.ErrNotPresent
	}
	d.mutex.Lock()
	return nil
}

func (s *Stack) unlock(d *Device) {
	d.mutex.Unlock()
	s.mutex.RUnlock()
}

func (s *Stack) deviceIndex(d *Device) int {
	for i, dev := range s.devices[:s.numDevices] {
		if dev == d {
			return i
		}
	}
	return -1
}

func (s *Stack) driverIndex(drv ClassDriver) int {
	for i, d := range s.drivers[:s.numDrivers] {
		if d == drv {
			return i
		}
	}
	return -1
}

// Drivers returns the registered drivers in registration order.
func (s *Stack) Drivers() []ClassDriver {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]ClassDriver(nil), s.drivers[:s.numDrivers]...)
}

// Devices returns the attached devices.
func (s *Stack) Devices() []*Device {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]*Device(nil), s.devices[:s.numDevices]...)
}

// RegisterDriver appends drv to the driver list. Drivers are offered
// devices and interfaces in registration order.
func (s *Stack) RegisterDriver(drv ClassDriver) error {
	if drv == nil {
		return pkg.ErrInvalidArgument
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.driverIndex(drv) >= 0 {
		return pkg.ErrInvalidArgument
	}
	if s.numDrivers >= MaxDrivers {
		return pkg.ErrMaxExceeded
	}
	s.drivers[s.numDrivers] = drv
	s.numDrivers++
	pkg.LogInfo(pkg.ComponentStack, "driver registered", "driver", drv.Name())
	return nil
}

// DeregisterDriver removes drv. It fails with pkg.ErrInvalidArgument while
// drv serves an attached device.
func (s *Stack) DeregisterDriver(drv ClassDriver) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	i := s.driverIndex(drv)
	if i < 0 {
		return pkg.ErrNotPresent
	}
	if err := s.disableDriver(drv); err != nil {
		return err
	}
	copy(s.drivers[i:], s.drivers[i+1:s.numDrivers])
	s.numDrivers--
	s.drivers[s.numDrivers] = nil
	pkg.LogInfo(pkg.ComponentStack, "driver deregistered", "driver", drv.Name())
	return nil
}

// AttachDevice adds d to the stack and powers it. The BOS descriptor set, if
// any, is parsed here. A full-speed-only device has its configurations
// parsed immediately; others wait for SpeedChange.
func (s *Stack) AttachDevice(d *Device) error {
	if d == nil || d.hw == nil {
		return pkg.ErrInvalidArgument
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.deviceIndex(d) >= 0 {
		return pkg.ErrInvalidArgument
	}
	if s.numDevices >= MaxDevices {
		return pkg.ErrMaxExceeded
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.hasBOS = false
	if d.rawBOS != nil {
		if err := ParseBOSDescriptors(d.rawBOS, &d.bos); err != nil {
			return err
		}
		d.hasBOS = true
	}

	d.stack = s
	d.resetControl()
	d.setState(StatePowered)
	if d.Qualifier.Length == 0 && d.rawBOS == nil {
		d.speed = SpeedFull
		if err := s.setupDescriptor(d, SpeedFull); err != nil {
			d.stack = nil
			d.setState(StateDetached)
			return err
		}
	}

	s.devices[s.numDevices] = d
	s.numDevices++
	pkg.LogInfo(pkg.ComponentStack, "device attached",
		"vendor", d.Descriptor.VendorID, "product", d.Descriptor.ProductID)
	return nil
}

// DetachDevice closes d's pipes, disconnects its drivers and removes it.
func (s *Stack) DetachDevice(d *Device) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	i := s.deviceIndex(d)
	if i < 0 {
		return pkg.ErrNotPresent
	}

	d.mutex.Lock()
	s.closePipesBestEffort(d, d.active)
	err := s.disableDevice(d)
	d.setState(StateDetached)
	d.stack = nil
	d.mutex.Unlock()

	copy(s.devices[i:], s.devices[i+1:s.numDevices])
	s.numDevices--
	s.devices[s.numDevices] = nil
	pkg.LogInfo(pkg.ComponentStack, "device detached")
	return err
}

// NewSetup processes one SETUP packet. Class and vendor requests go to the
// driver owning the addressed device, interface or endpoint; standard
// requests are validated against the device state and handled here. Any
// data stage staged by the handler is submitted on the control pipe.
//
// A returned error means the request should be answered with a stall.
func (s *Stack) NewSetup(d *Device, setup *SetupPacket) error {
	if setup == nil {
		return pkg.ErrInvalidArgument
	}
	if err := s.lock(d); err != nil {
		return err
	}
	defer s.unlock(d)

	d.resetControl()
	pkg.LogDebug(pkg.ComponentStack, "setup", "packet", setup.String())

	var err error
	if setup.IsClassSpecific() {
		err = s.classSetup(d, setup)
	} else {
		err = s.standardSetup(d, setup)
	}
	if err != nil {
		pkg.LogDebug(pkg.ComponentStack, "setup rejected",
			"request", RequestName(setup.Request), "error", err)
		return err
	}
	if d.ctrl.Length != 0 {
		return d.hw.SubmitControl(&d.ctrl)
	}
	return nil
}

func (s *Stack) standardSetup(d *Device, setup *SetupPacket) error {
	handler := lookupRequest(setup.Request)
	if handler == nil {
		return pkg.ErrInvalidArgument
	}
	if err := d.ValidateSetup(setup); err != nil {
		return err
	}
	return handler(s, d, setup)
}

// classSetup routes a class or vendor request by recipient. Device-recipient
// requests go to the device-level driver, else to interface 0's driver.
func (s *Stack) classSetup(d *Device, setup *SetupPacket) error {
	var (
		drv ClassDriver
		err error
	)
	switch {
	case setup.IsDeviceRecipient():
		if d.driver != nil {
			drv = d.driver
		} else {
			drv, err = d.ValidateInterface(0)
		}
	case setup.IsInterfaceRecipient():
		drv, err = d.ValidateInterface(setup.InterfaceNumber())
		if err == nil && d.driver != nil {
			drv = d.driver
		}
	case setup.IsEndpointRecipient():
		drv, err = d.ValidateEndpoint(setup.EndpointAddress())
	default:
		return pkg.ErrInvalidArgument
	}
	if err != nil {
		return err
	}
	if drv == nil {
		return pkg.ErrNotSupported
	}
	return drv.NewSetup(s, d, setup)
}

// NewTransfer reports a token on a data endpoint to the driver owning it.
func (s *Stack) NewTransfer(d *Device, address uint8) error {
	if err := s.lock(d); err != nil {
		return err
	}
	defer s.unlock(d)

	drv, err := d.ValidateEndpoint(address)
	if err != nil {
		return err
	}
	if drv == nil {
		return pkg.ErrInvalidArgument
	}
	ep, _ := d.active.FindEndpoint(address)
	return drv.NewTransfer(s, d, ep.Pipe())
}

// SubmitTransfer queues t on an open pipe. Drivers call it from callbacks.
func (s *Stack) SubmitTransfer(p *Pipe, t *hal.Transfer) error {
	if p == nil || t == nil || !p.IsOpen() {
		return pkg.ErrInvalidArgument
	}
	return p.device.hw.Submit(p.endpoint.Address(), t)
}

// Notify delivers a bus event to every registered driver and applies its
// effect on the device. Connect, Reset and Disconnect close the active
// configuration's pipes and disconnect its drivers; Reset then applies the
// state implied by the controller's automatic request handling. Suspend
// saves the current state and Resume restores it.
//
// The first driver error is returned after the event has been applied.
func (s *Stack) Notify(d *Device, event Event) error {
	if err := s.lock(d); err != nil {
		return err
	}
	defer s.unlock(d)

	pkg.LogDebug(pkg.ComponentStack, "event", "event", event.String())
	err := s.notifyDrivers(d, event)

	switch event.Kind() {
	case EventConnect, EventReset, EventDisconnect:
		s.closePipesBestEffort(d, d.active)
		if derr := s.disableDevice(d); derr != nil && err == nil {
			err = derr
		}
		d.address = 0
		d.remoteWakeup = false
		d.u1Enabled, d.u2Enabled, d.ltmEnabled = false, false, false
		d.suspendOptions = [MaxInterfaces]uint8{}
		if event.Kind() == EventReset {
			if aerr := s.applyCapability(d); aerr != nil && err == nil {
				err = aerr
			}
		}
	case EventSuspend:
		if d.state != StateSuspended {
			d.previousState = d.state
			d.setState(StateSuspended)
		}
	case EventResume:
		if d.state == StateSuspended {
			d.setState(d.previousState)
		}
	}
	return err
}

func (s *Stack) notifyDrivers(d *Device, event Event) error {
	var firstErr error
	for _, drv := range s.drivers[:s.numDrivers] {
		if err := drv.Notify(s, d, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SpeedChange records the operating speed reported by the controller,
// updates bcdUSB and bMaxPacketSize0 of the device descriptor to match, and
// parses the configuration blocks for that speed.
func (s *Stack) SpeedChange(d *Device, speed Speed) error {
	if speed >= NumSpeeds {
		return pkg.ErrInvalidArgument
	}
	if err := s.lock(d); err != nil {
		return err
	}
	defer s.unlock(d)

	d.Descriptor.USBVersion = speed.USBVersion()
	d.Descriptor.MaxPacketSize0 = speed.bMaxPacketSize0()
	d.speed = speed
	if err := s.setupDescriptor(d, speed); err != nil {
		return err
	}
	return s.notifyDrivers(d, EventSpeedChange)
}
