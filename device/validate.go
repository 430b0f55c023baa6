package device

import "github.com/ardnew/usbfunc/pkg"

// ValidateSetup reports whether a standard request is legal in the current
// device state (USB 2.0 Spec 9.4). Rejected requests return
// pkg.ErrNotSupported.
//
//	Default     only SET_ADDRESS and GET_DESCRIPTOR
//	Address     anything but GET/SET_INTERFACE and SYNCH_FRAME
//	Configured  anything but SET_ADDRESS
//
// SET_FEATURE for the OTG selectors is accepted in every state.
func (d *Device) ValidateSetup(setup *SetupPacket) error {
	if setup == nil {
		return pkg.ErrInvalidArgument
	}
	if setup.Request == RequestSetFeature &&
		setup.Value >= FeatureBHNPEnable && setup.Value <= FeatureAAltHNPSupport {
		return nil
	}

	switch d.state {
	case StateDefault:
		if setup.Request == RequestSetAddress || setup.Request == RequestGetDescriptor {
			return nil
		}
	case StateAddress:
		switch setup.Request {
		case RequestGetInterface, RequestSetInterface, RequestSynchFrame:
		default:
			return nil
		}
	case StateConfigured:
		if setup.Request != RequestSetAddress {
			return nil
		}
	}
	return pkg.ErrNotSupported
}

// ValidateEndpoint looks up address among the current alternate settings of
// the active configuration. It returns the driver owning the endpoint: the
// device-level driver if one is bound, else the interface's driver, which
// may be nil.
func (d *Device) ValidateEndpoint(address uint8) (ClassDriver, error) {
	if d.active == nil {
		return nil, pkg.ErrInvalidArgument
	}
	ep, intf := d.active.FindEndpoint(address)
	if ep == nil {
		return nil, pkg.ErrInvalidArgument
	}
	if d.driver != nil {
		return d.driver, nil
	}
	return intf.driver, nil
}

// ValidateInterface bounds-checks an interface number against the active
// configuration and returns its driver, which may be nil.
func (d *Device) ValidateInterface(number uint8) (ClassDriver, error) {
	if d.active == nil || int(number) >= int(d.active.desc.NumInterfaces) {
		return nil, pkg.ErrInvalidArgument
	}
	return d.active.interfaces[number].driver, nil
}
