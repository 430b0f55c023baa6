package device

import (
	"github.com/ardnew/usbfunc/device/hal"
	"github.com/ardnew/usbfunc/pkg"
)

// EnableDevice binds class drivers to d. Each registered driver is offered
// the whole device first; the first to claim it serves every interface.
// Otherwise each unclaimed interface of the active configuration is offered
// to the drivers in registration order.
func (s *Stack) EnableDevice(d *Device) error {
	if err := s.lock(d); err != nil {
		return err
	}
	defer s.unlock(d)
	return s.enableDevice(d)
}

func (s *Stack) enableDevice(d *Device) error {
	for _, drv := range s.drivers[:s.numDrivers] {
		if drv.ExamineDevice(&d.Descriptor) != nil {
			continue
		}
		if err := drv.InitializeDevice(s, d); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "device initialization failed",
				"driver", drv.Name(), "error", err)
		}
		if d.driver != nil {
			pkg.LogInfo(pkg.ComponentStack, "device driver bound",
				"driver", d.driver.Name())
			return nil
		}
	}

	if d.active == nil {
		return nil
	}
	for n := 0; n < d.active.numInterfaces; n++ {
		intf := &d.active.interfaces[n]
		if intf.driver != nil {
			continue
		}
		desc := intf.Current().desc
		for _, drv := range s.drivers[:s.numDrivers] {
			if drv.ExamineInterface(&desc) != nil {
				continue
			}
			if err := drv.InitializeInterface(s, d, intf); err != nil {
				pkg.LogWarn(pkg.ComponentStack, "interface initialization failed",
					"driver", drv.Name(), "interface", n, "error", err)
			}
			if intf.driver != nil {
				pkg.LogInfo(pkg.ComponentStack, "interface driver bound",
					"driver", intf.driver.Name(), "interface", n)
				break
			}
		}
	}
	return nil
}

// DisableDevice returns d to the Default state, disconnecting every driver
// bound to it exactly once and deselecting the active configuration.
func (s *Stack) DisableDevice(d *Device) error {
	if err := s.lock(d); err != nil {
		return err
	}
	defer s.unlock(d)
	return s.disableDevice(d)
}

func (s *Stack) disableDevice(d *Device) error {
	d.setState(StateDefault)

	if d.driver != nil {
		drv := d.driver
		d.driver = nil
		d.active = nil
		return drv.Disconnect(s, d)
	}
	if d.active == nil {
		return nil
	}

	var (
		done     [MaxInterfaces]ClassDriver
		numDone  int
		firstErr error
	)
	for n := 0; n < d.active.numInterfaces; n++ {
		intf := &d.active.interfaces[n]
		drv := intf.driver
		intf.driver = nil
		if drv == nil || containsDriver(done[:numDone], drv) {
			continue
		}
		done[numDone] = drv
		numDone++
		if err := drv.Disconnect(s, d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.active = nil
	return firstErr
}

func containsDriver(list []ClassDriver, drv ClassDriver) bool {
	for _, d := range list {
		if d == drv {
			return true
		}
	}
	return false
}

// DisableDriver reports whether drv can be removed. It returns
// pkg.ErrInvalidArgument while drv serves any attached device.
func (s *Stack) DisableDriver(drv ClassDriver) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.disableDriver(drv)
}

// disableDriver must be called with s.mutex held.
func (s *Stack) disableDriver(drv ClassDriver) error {
	for _, d := range s.devices[:s.numDevices] {
		d.mutex.Lock()
		inUse := d.usesDriver(drv)
		d.mutex.Unlock()
		if inUse {
			return pkg.ErrInvalidArgument
		}
	}
	return nil
}

func (d *Device) usesDriver(drv ClassDriver) bool {
	if d.driver == drv {
		return true
	}
	if d.active == nil {
		return false
	}
	for n := 0; n < d.active.numInterfaces; n++ {
		if d.active.interfaces[n].driver == drv {
			return true
		}
	}
	return false
}

// ClosePipes closes every endpoint of the current alternate settings of cfg
// and clears their pipe bindings.
func (s *Stack) ClosePipes(d *Device, cfg *Configuration) error {
	if err := s.lock(d); err != nil {
		return err
	}
	defer s.unlock(d)
	return s.closePipes(d, cfg)
}

func (s *Stack) closePipes(d *Device, cfg *Configuration) error {
	if cfg == nil {
		return nil
	}
	for n := 0; n < cfg.numInterfaces; n++ {
		if err := s.closeAlternate(d, cfg.interfaces[n].Current()); err != nil {
			return err
		}
	}
	return nil
}

// closePipesBestEffort closes what it can and logs the rest.
func (s *Stack) closePipesBestEffort(d *Device, cfg *Configuration) {
	if cfg == nil {
		return
	}
	for n := 0; n < cfg.numInterfaces; n++ {
		s.closeAlternateBestEffort(d, cfg.interfaces[n].Current())
	}
}

func (s *Stack) openPipes(d *Device, cfg *Configuration) error {
	for n := 0; n < cfg.numInterfaces; n++ {
		if err := s.openAlternate(d, cfg.interfaces[n].Current()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stack) openAlternate(d *Device, alt *AlternateSetting) error {
	for i := 0; i < alt.numEndpoints; i++ {
		if err := d.openPipe(&alt.endpoints[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stack) closeAlternate(d *Device, alt *AlternateSetting) error {
	for i := 0; i < alt.numEndpoints; i++ {
		if err := d.closePipe(&alt.endpoints[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stack) closeAlternateBestEffort(d *Device, alt *AlternateSetting) {
	for i := 0; i < alt.numEndpoints; i++ {
		if err := d.closePipe(&alt.endpoints[i]); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "pipe close failed",
				"endpoint", alt.endpoints[i].String(), "error", err)
		}
	}
}

// openPipe opens ep in hardware, as a SuperSpeed pipe when the device runs
// at SuperSpeed and the endpoint has a companion descriptor.
func (d *Device) openPipe(ep *Endpoint) error {
	cfg := ep.PipeConfig()
	var err error
	if d.speed == SpeedSuper && ep.hasCompanion {
		err = d.hw.OpenSuperSpeedPipe(cfg)
	} else {
		err = d.hw.OpenPipe(cfg)
	}
	if err != nil {
		return err
	}
	ep.pipe = Pipe{device: d, endpoint: ep}
	return nil
}

func (d *Device) closePipe(ep *Endpoint) error {
	if err := d.hw.ClosePipe(ep.desc.EndpointAddress); err != nil {
		return err
	}
	ep.pipe = Pipe{}
	return nil
}

// selectConfiguration makes configs[index] active with every interface at
// alternate setting 0 and no driver bound.
func (d *Device) selectConfiguration(index int) {
	cfg := &d.configs[index]
	for n := 0; n < cfg.numInterfaces; n++ {
		cfg.interfaces[n].current = 0
		cfg.interfaces[n].driver = nil
	}
	d.active = cfg
	d.activeIndex = index
}

// setupDescriptor parses the configuration blocks served at speed and
// applies the state the controller's automatic request handling implies.
func (s *Stack) setupDescriptor(d *Device, speed Speed) error {
	var num int
	switch {
	case speed == SpeedSuper:
		if !d.hasBOS || !d.bos.SpeedSupported(SpeedSuper) {
			return pkg.ErrNotSupported
		}
		num, d.otherSpeed = int(d.Descriptor.NumConfigurations), false
	case speed == SpeedHigh, d.Qualifier.Length == 0:
		num, d.otherSpeed = int(d.Descriptor.NumConfigurations), false
	default:
		num, d.otherSpeed = int(d.Qualifier.NumConfigurations), true
	}
	if num > MaxConfigurations {
		return pkg.ErrMaxExceeded
	}

	if d.active != nil {
		s.closePipesBestEffort(d, d.active)
		if err := s.disableDevice(d); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "driver disconnect failed", "error", err)
		}
	}

	d.numConfigs = 0
	for i := 0; i < num; i++ {
		raw := d.raw[i][speed]
		if raw == nil {
			return pkg.ErrInvalidDescriptor
		}
		if err := ParseConfigDescriptors(&d.Descriptor, raw, &d.configs[i]); err != nil {
			return err
		}
	}
	d.numConfigs = num
	pkg.LogDebug(pkg.ComponentStack, "descriptors prepared",
		"speed", speed.String(), "configurations", num, "otherSpeed", d.otherSpeed)
	return s.applyCapability(d)
}

// applyCapability moves d to the state reached when the controller handles
// SET_ADDRESS or SET_CONFIGURATION on its own.
func (s *Stack) applyCapability(d *Device) error {
	caps := d.hw.Capability()
	switch {
	case caps&hal.CapabilitySetConfiguration != 0 && d.numConfigs > 0:
		d.selectConfiguration(0)
		if err := s.openPipes(d, d.active); err != nil {
			s.closePipesBestEffort(d, d.active)
			d.active = nil
			d.setState(StateAddress)
			return err
		}
		d.setState(StateConfigured)
		return s.enableDevice(d)
	case caps&hal.CapabilitySetAddress != 0:
		d.active = nil
		d.setState(StateAddress)
	default:
		d.active = nil
		d.setState(StateDefault)
	}
	return nil
}

// StartLinkTransition asks the controller to enter a U1 or U2 link state
// after idle microseconds of inactivity. U2 is chosen when it is enabled and
// idle exceeds the U2 device exit latency delivered by SET_SEL. It returns
// the link state entered.
func (s *Stack) StartLinkTransition(d *Device, idle uint16) (uint8, error) {
	if err := s.lock(d); err != nil {
		return 0, err
	}
	defer s.unlock(d)

	var state uint8
	switch {
	case d.u2Enabled && idle > d.sel.U2PEL:
		state = hal.LinkStateU2
	case d.u1Enabled:
		state = hal.LinkStateU1
	default:
		return 0, pkg.ErrNotSupported
	}
	if err := d.hw.EnterLinkState(state); err != nil {
		return 0, err
	}
	return state, nil
}
