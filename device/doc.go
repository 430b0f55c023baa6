// Package device implements the function side of a USB 2.0/3.x stack: the
// protocol core that a peripheral runs between its controller and its class
// drivers.
//
// The package is platform-agnostic and reaches hardware only through the
// [hal.Controller] interface of the [github.com/ardnew/usbfunc/device/hal]
// package. A controller driver feeds the [Stack] with SETUP packets, data
// endpoint tokens, bus events and speed changes; the stack answers standard
// requests itself and routes class and vendor requests to a [ClassDriver].
//
// # Architecture
//
//   - [Device] stores the descriptors a function serves and its enumeration state
//   - [Stack] holds registered drivers and attached devices and serializes every entry point
//   - [ParseConfigDescriptors] turns a raw configuration block into a [Configuration] tree
//   - [ParseBOSDescriptors] validates a BOS set and extracts its device capabilities
//   - [ClassDriver] is the plugin contract for device classes
//
// # Descriptor Storage
//
// Raw configuration blocks are stored per configuration index and per
// speed. When the controller reports the operating speed, the blocks for
// that speed are parsed into the device's configuration trees. A dual-speed
// device running at full speed serves its device qualifier as the device
// descriptor and vice versa.
//
// Stored descriptors are never modified. GET_DESCRIPTOR copies them into
// the device's control buffer before patching the descriptor type of an
// other-speed configuration.
//
// # Device States
//
// The stack implements the USB 2.0 device state machine:
//
//	Attached → Powered → Default → Address → Configured → Suspended
//
// [Device.ValidateSetup] enforces which standard requests are legal in
// each state. A controller that handles SET_ADDRESS or SET_CONFIGURATION
// on its own advertises it through [hal.Controller.Capability], and the
// stack skips the corresponding states after a reset.
//
// # Class Drivers
//
// After SET_CONFIGURATION every registered driver is offered the whole
// device, then each interface of the active configuration. Drivers claim
// what they serve by calling [Device.SetDriver] or [Interface.SetDriver]:
//
//	type serial struct{ device.UnimplementedDriver }
//
//	func (serial) ExamineInterface(d *device.InterfaceDescriptor) error {
//	    if d.InterfaceClass != 0x02 {
//	        return pkg.ErrNotSupported
//	    }
//	    return nil
//	}
//
//	func (s *serial) InitializeInterface(_ *device.Stack, _ *device.Device, intf *device.Interface) error {
//	    intf.SetDriver(s)
//	    return nil
//	}
//
// # Zero-Allocation Design
//
// Parsed trees use fixed-size arrays bounded by [MaxConfigurations],
// [MaxInterfaces], [MaxAlternateSettings] and [MaxEndpoints], and reference
// the stored bytes instead of copying them. Descriptors serialize through
// MarshalTo(buf) into caller-provided buffers.
package device
