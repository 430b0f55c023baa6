package device

import (
	"encoding/binary"

	"github.com/ardnew/usbfunc/device/hal"
	"github.com/ardnew/usbfunc/pkg"
)

// requestHandler processes one standard request. Handlers stage any data
// stage in the device's control transfer; the Stack submits it.
type requestHandler func(s *Stack, d *Device, setup *SetupPacket) error

// standardRequests is indexed by bRequest.
var standardRequests = [...]requestHandler{
	RequestGetStatus:        (*Stack).getStatus,
	RequestClearFeature:     (*Stack).feature,
	0x02:                    (*Stack).requestError,
	RequestSetFeature:       (*Stack).feature,
	0x04:                    (*Stack).requestError,
	RequestSetAddress:       (*Stack).setAddress,
	RequestGetDescriptor:    (*Stack).getDescriptor,
	RequestSetDescriptor:    (*Stack).setDescriptor,
	RequestGetConfiguration: (*Stack).getConfiguration,
	RequestSetConfiguration: (*Stack).setConfiguration,
	RequestGetInterface:     (*Stack).getInterface,
	RequestSetInterface:     (*Stack).setInterface,
	RequestSynchFrame:       (*Stack).synchFrame,
}

// superSpeedRequests is indexed by bRequest - RequestSetSEL.
var superSpeedRequests = [...]requestHandler{
	RequestSetSEL - RequestSetSEL:        (*Stack).setSEL,
	RequestSetIsochDelay - RequestSetSEL: (*Stack).setIsochDelay,
}

// lookupRequest returns the handler for a standard request code, or nil.
func lookupRequest(request uint8) requestHandler {
	if request >= RequestSetSEL {
		if i := int(request - RequestSetSEL); i < len(superSpeedRequests) {
			return superSpeedRequests[i]
		}
		return nil
	}
	if int(request) < len(standardRequests) {
		return standardRequests[request]
	}
	return nil
}

func (s *Stack) requestError(*Device, *SetupPacket) error { return pkg.ErrNotSupported }

func (s *Stack) setDescriptor(*Device, *SetupPacket) error { return pkg.ErrNotSupported }

func (s *Stack) synchFrame(*Device, *SetupPacket) error { return pkg.ErrNotSupported }

func (s *Stack) setIsochDelay(*Device, *SetupPacket) error { return pkg.ErrNotSupported }

// getStatus handles GET_STATUS (USB 2.0 Spec 9.4.5).
func (s *Stack) getStatus(d *Device, setup *SetupPacket) error {
	recipient := setup.Recipient()
	if d.state != StateConfigured {
		if recipient == RequestRecipientInterface {
			return pkg.ErrInvalidArgument
		}
		if recipient == RequestRecipientEndpoint && setup.EndpointAddress()&0x0F != 0 {
			return pkg.ErrInvalidArgument
		}
	}
	if setup.Value != 0 || setup.Length != 2 {
		return pkg.ErrInvalidArgument
	}

	var (
		value uint16
		err   error
	)
	switch recipient {
	case RequestRecipientDevice:
		value, err = d.hw.Status()
		if d.remoteWakeup {
			value |= hal.StatusRemoteWakeup
		}
	case RequestRecipientInterface:
		number := setup.InterfaceNumber()
		if _, err = d.ValidateInterface(number); err == nil && d.speed == SpeedSuper {
			// Function remote wake capable and enabled bits.
			if d.suspendOptions[number]&SuspendOptionRemoteWake != 0 {
				value = 0x0003
			}
		}
	case RequestRecipientEndpoint:
		address := setup.EndpointAddress()
		if address&0x0F != 0 {
			if _, err = d.ValidateEndpoint(address); err != nil {
				return err
			}
		}
		value, err = d.hw.EndpointStatus(address)
	default:
		return pkg.ErrInvalidArgument
	}
	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint16(d.buffer[:2], value)
	d.replyBuffer(2)
	return nil
}

// feature handles SET_FEATURE and CLEAR_FEATURE (USB 2.0 Spec 9.4.1, 9.4.9).
func (s *Stack) feature(d *Device, setup *SetupPacket) error {
	recipient := setup.Recipient()
	if d.state != StateConfigured {
		if recipient == RequestRecipientInterface {
			return pkg.ErrInvalidArgument
		}
		if recipient == RequestRecipientEndpoint && setup.EndpointAddress()&0x0F != 0 {
			return pkg.ErrInvalidArgument
		}
	}

	set := setup.Request == RequestSetFeature
	switch recipient {
	case RequestRecipientDevice:
		return s.deviceFeature(d, setup, set)
	case RequestRecipientEndpoint:
		return s.endpointFeature(d, setup, set)
	case RequestRecipientInterface:
		return s.interfaceFeature(d, setup, set)
	default:
		return pkg.ErrInvalidArgument
	}
}

func (s *Stack) deviceFeature(d *Device, setup *SetupPacket, set bool) error {
	if d.state != StateConfigured {
		return pkg.ErrInvalidState
	}
	if setup.Index&0x00FF != 0 || setup.Length != 0 {
		return pkg.ErrInvalidRequest
	}

	switch setup.Value {
	case FeatureDeviceRemoteWakeup:
		d.remoteWakeup = set
		return nil
	case FeatureTestMode:
		if !set {
			break
		}
		d.testMode = uint8(setup.Index >> 8)
		return d.hw.SetTestMode(d.testMode)
	case FeatureBHNPEnable:
		if !set {
			break
		}
		d.otgStatus |= OTGStatusBHNPEnable
		return d.hw.StartHNP()
	case FeatureAHNPSupport:
		if !set {
			break
		}
		d.otgStatus |= OTGStatusAHNPSupport
		return nil
	case FeatureAAltHNPSupport:
		if !set {
			break
		}
		d.otgStatus |= OTGStatusAAltHNPSupport
		return nil
	case FeatureU1Enable, FeatureU2Enable:
		if d.speed != SpeedSuper {
			break
		}
		state := hal.LinkStateU1
		if setup.Value == FeatureU2Enable {
			state = hal.LinkStateU2
		}
		if err := d.hw.SetUxEnable(state, set); err != nil {
			return err
		}
		if state == hal.LinkStateU1 {
			d.u1Enabled = set
		} else {
			d.u2Enabled = set
		}
		return nil
	case FeatureLTMEnable:
		if d.speed != SpeedSuper {
			break
		}
		if err := d.hw.SetLTMEnable(set); err != nil {
			return err
		}
		d.ltmEnabled = set
		return nil
	}
	return pkg.ErrInvalidRequest
}

func (s *Stack) endpointFeature(d *Device, setup *SetupPacket, set bool) error {
	address := setup.EndpointAddress()
	switch d.state {
	case StateConfigured:
	case StateAddress:
		if setup.Index != 0 {
			return pkg.ErrInvalidRequest
		}
	default:
		return pkg.ErrInvalidState
	}
	if address&0x0F != 0 {
		if _, err := d.ValidateEndpoint(address); err != nil {
			return err
		}
	}
	if setup.Value != FeatureEndpointHalt {
		return pkg.ErrInvalidRequest
	}

	if set {
		return d.hw.StallEndpoint(address)
	}
	if err := d.hw.UnstallEndpoint(address); err != nil {
		return err
	}
	return s.notifyDrivers(d, EventClearHaltEndpoint)
}

// interfaceFeature handles FUNCTION_SUSPEND (USB 3.0 Spec 9.4.9). The low
// byte of wIndex is the first interface of the function, the high byte
// carries the suspend options.
func (s *Stack) interfaceFeature(d *Device, setup *SetupPacket, set bool) error {
	if !set || setup.Value != FeatureFunctionSuspend {
		return pkg.ErrInvalidRequest
	}
	number := setup.InterfaceNumber()
	options := uint8(setup.Index >> 8)
	drv, err := d.ValidateInterface(number)
	if err != nil {
		return pkg.ErrInvalidRequest
	}
	if err := d.hw.FunctionSuspend(number, options); err != nil {
		return err
	}
	d.suspendOptions[number] = options

	if d.driver != nil {
		drv = d.driver
	}
	if drv == nil {
		return nil
	}
	event := EventFunctionSuspend
	if options&SuspendOptionRemoteWake != 0 {
		event |= EventFlagRemoteWake
	}
	if options&SuspendOptionLowPower != 0 {
		event |= EventFlagFunctionSuspend
	}
	return drv.Notify(s, d, event)
}

// setAddress handles SET_ADDRESS (USB 2.0 Spec 9.4.6).
func (s *Stack) setAddress(d *Device, setup *SetupPacket) error {
	if setup.Value > MaxAddress {
		return pkg.ErrInvalidArgument
	}
	if setup.Index != 0 || setup.Length != 0 {
		return pkg.ErrInvalidArgument
	}
	address := uint8(setup.Value)

	if address == 0 {
		if err := s.disableDevice(d); err != nil {
			return err
		}
	} else if d.active == nil {
		d.setState(StateAddress)
		if d.hw.Capability()&hal.CapabilitySetConfiguration != 0 && d.numConfigs > 0 {
			if err := s.applyCapability(d); err != nil {
				return err
			}
		}
	}

	if err := d.hw.SetAddress(address); err != nil {
		return err
	}
	d.address = address
	return nil
}

// getDescriptor handles GET_DESCRIPTOR (USB 2.0 Spec 9.4.3). Stored
// descriptors are copied into the reply buffer, so patching the type of a
// configuration block never touches the stored bytes.
func (s *Stack) getDescriptor(d *Device, setup *SetupPacket) error {
	index := setup.DescriptorIndex()
	var n int

	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		desc := d.Descriptor
		if d.otherSpeed {
			q := &d.Qualifier
			desc.USBVersion = q.USBVersion
			desc.DeviceClass = q.DeviceClass
			desc.DeviceSubClass = q.DeviceSubClass
			desc.DeviceProtocol = q.DeviceProtocol
			desc.MaxPacketSize0 = q.MaxPacketSize0
			desc.NumConfigurations = q.NumConfigurations
		}
		n = desc.MarshalTo(d.buffer[:])

	case DescriptorTypeConfiguration:
		if index >= d.Descriptor.NumConfigurations || int(index) >= MaxConfigurations {
			return pkg.ErrInvalidArgument
		}
		var err error
		if n, err = d.copyConfig(d.raw[index][d.speed], DescriptorTypeConfiguration); err != nil {
			return err
		}

	case DescriptorTypeString:
		data := d.String(index, setup.Index)
		if data == nil {
			return pkg.ErrInvalidArgument
		}
		n = copy(d.buffer[:], data)

	case DescriptorTypeDeviceQualifier:
		if d.Qualifier.Length == 0 {
			return pkg.ErrRequestError
		}
		q := d.Qualifier
		if d.otherSpeed {
			desc := &d.Descriptor
			q.USBVersion = desc.USBVersion
			q.DeviceClass = desc.DeviceClass
			q.DeviceSubClass = desc.DeviceSubClass
			q.DeviceProtocol = desc.DeviceProtocol
			q.MaxPacketSize0 = desc.MaxPacketSize0
			q.NumConfigurations = desc.NumConfigurations
		}
		n = q.MarshalTo(d.buffer[:])

	case DescriptorTypeOtherSpeedConfig:
		if d.Qualifier.Length == 0 {
			return pkg.ErrRequestError
		}
		if d.otherSpeed || int(index) >= MaxConfigurations {
			return pkg.ErrInvalidDescriptor
		}
		var err error
		if n, err = d.copyConfig(d.raw[index][SpeedFull], DescriptorTypeOtherSpeedConfig); err != nil {
			return err
		}

	case DescriptorTypeBOS:
		if len(d.rawBOS) < BOSDescriptorSize {
			return pkg.ErrInvalidDescriptor
		}
		total := int(binary.LittleEndian.Uint16(d.rawBOS[2:4]))
		n = copy(d.buffer[:], d.rawBOS[:min(total, len(d.rawBOS))])

	default:
		return pkg.ErrInvalidArgument
	}

	if requested := int(setup.Length); requested <= n {
		n = requested
	} else if mps := d.maxPacketSize0(); mps > 0 && n%mps == 0 {
		d.ctrl.ZeroLengthPacket = true
	}
	d.replyBuffer(n)
	return nil
}

// copyConfig copies wTotalLength bytes of a stored configuration block into
// the reply buffer and sets its descriptor type.
func (d *Device) copyConfig(raw []byte, descType uint8) (int, error) {
	if len(raw) < ConfigurationDescriptorSize {
		return 0, pkg.ErrInvalidDescriptor
	}
	total := int(binary.LittleEndian.Uint16(raw[2:4]))
	n := copy(d.buffer[:], raw[:min(total, len(raw))])
	d.buffer[1] = descType
	return n, nil
}

// getConfiguration handles GET_CONFIGURATION (USB 2.0 Spec 9.4.2).
func (s *Stack) getConfiguration(d *Device, setup *SetupPacket) error {
	if setup.Value != 0 || setup.Index != 0 || setup.Length != 1 {
		return pkg.ErrInvalidArgument
	}
	d.buffer[0] = 0
	if d.active != nil {
		d.buffer[0] = d.active.Value()
	}
	d.replyBuffer(1)
	return nil
}

// setConfiguration handles SET_CONFIGURATION (USB 2.0 Spec 9.4.7).
func (s *Stack) setConfiguration(d *Device, setup *SetupPacket) error {
	if setup.Value&0xFF00 != 0 || setup.Index != 0 || setup.Length != 0 {
		return pkg.ErrInvalidArgument
	}
	value := uint8(setup.Value)

	if value == 0 {
		if d.active == nil {
			return nil
		}
		if err := s.closePipes(d, d.active); err != nil {
			return err
		}
		if err := s.disableDevice(d); err != nil {
			return err
		}
		d.setState(StateAddress)
		return nil
	}

	index := -1
	for i := 0; i < d.numConfigs; i++ {
		if d.configs[i].Value() == value {
			index = i
			break
		}
	}
	if index < 0 {
		return pkg.ErrInvalidArgument
	}
	if d.active == &d.configs[index] {
		return nil
	}
	if d.active != nil {
		if err := s.closePipes(d, d.active); err != nil {
			return err
		}
		if err := s.disableDevice(d); err != nil {
			return err
		}
	}

	d.selectConfiguration(index)
	if err := s.openPipes(d, d.active); err != nil {
		s.closePipesBestEffort(d, d.active)
		d.active = nil
		return err
	}
	d.setState(StateConfigured)
	pkg.LogDebug(pkg.ComponentStack, "configuration selected",
		"value", value, "index", index)
	return s.enableDevice(d)
}

// getInterface handles GET_INTERFACE (USB 2.0 Spec 9.4.4).
func (s *Stack) getInterface(d *Device, setup *SetupPacket) error {
	if d.state != StateConfigured || d.active == nil {
		return pkg.ErrInvalidArgument
	}
	if setup.Value != 0 || setup.Length != 1 {
		return pkg.ErrInvalidArgument
	}
	number := setup.InterfaceNumber()
	if number >= d.active.desc.NumInterfaces {
		return pkg.ErrInvalidArgument
	}
	d.buffer[0] = d.active.interfaces[number].Current().Value()
	d.replyBuffer(1)
	return nil
}

// setInterface handles SET_INTERFACE (USB 2.0 Spec 9.4.10). If any pipe of
// the new alternate setting fails to open, the previous setting and its
// pipes are restored.
func (s *Stack) setInterface(d *Device, setup *SetupPacket) error {
	if d.active == nil {
		return pkg.ErrInvalidArgument
	}
	number := setup.InterfaceNumber()
	value := uint8(setup.Value)
	if number >= d.active.desc.NumInterfaces {
		return pkg.ErrInvalidArgument
	}
	intf := &d.active.interfaces[number]
	next := intf.AlternateSetting(value)
	if next == nil {
		return pkg.ErrInvalidArgument
	}
	previous := intf.current
	if previous == int(value) {
		return nil
	}

	if err := s.closeAlternate(d, intf.Current()); err != nil {
		return err
	}
	intf.current = int(value)
	if err := s.openAlternate(d, next); err != nil {
		s.closeAlternateBestEffort(d, next)
		intf.current = previous
		if rerr := s.openAlternate(d, intf.Current()); rerr != nil {
			pkg.LogWarn(pkg.ComponentStack, "alternate setting restore failed",
				"interface", number, "alternate", previous, "error", rerr)
		}
		return err
	}

	pkg.LogDebug(pkg.ComponentStack, "alternate setting selected",
		"interface", number, "alternate", value)
	if intf.driver == nil {
		return nil
	}
	return intf.driver.SetAlternateSetting(s, d, intf, next)
}

// setSEL handles SET_SEL (USB 3.0 Spec 9.4.12). The six exit latency bytes
// arrive in the data stage.
func (s *Stack) setSEL(d *Device, setup *SetupPacket) error {
	if setup.Value != 0 || setup.Index != 0 || setup.Length != setSELLength {
		return pkg.ErrInvalidArgument
	}
	d.Receive(setSELLength, d.storeSEL)
	return nil
}
