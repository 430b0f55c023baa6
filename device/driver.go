package device

import "github.com/ardnew/usbfunc/pkg"

// Event is a bus or controller event delivered through Stack.Notify.
type Event uint32

// Bus events.
const (
	EventConnect Event = iota + 1
	EventDisconnect
	EventReset
	EventSuspend
	EventResume
	EventClearHaltEndpoint
	EventSpeedChange
	EventFunctionSuspend
)

// Flags carried by EventFunctionSuspend.
const (
	EventFlagRemoteWake      Event = 1 << 31 // Function remote wake enabled
	EventFlagFunctionSuspend Event = 1 << 30 // Low power suspend state
	eventFlagMask                  = EventFlagRemoteWake | EventFlagFunctionSuspend
)

// Kind returns the event without its flags.
func (e Event) Kind() Event { return e &^ eventFlagMask }

// Has reports whether flag is set on the event.
func (e Event) Has(flag Event) bool { return e&flag != 0 }

// String returns a human-readable event name.
func (e Event) String() string {
	switch e.Kind() {
	case EventConnect:
		return "Connect"
	case EventDisconnect:
		return "Disconnect"
	case EventReset:
		return "Reset"
	case EventSuspend:
		return "Suspend"
	case EventResume:
		return "Resume"
	case EventClearHaltEndpoint:
		return "ClearHaltEndpoint"
	case EventSpeedChange:
		return "SpeedChange"
	case EventFunctionSuspend:
		return "FunctionSuspend"
	default:
		return "Unknown"
	}
}

// ClassDriver is a device-class plugin. Drivers are matched against a device
// as a whole first, then against each interface of the active configuration.
// A driver claims what it serves from InitializeDevice or
// InitializeInterface by calling Device.SetDriver or Interface.SetDriver;
// returning nil without claiming lets the next driver try.
//
// All callbacks run with the device locked by the Stack and must not call
// back into Stack entry points.
type ClassDriver interface {
	// Name identifies the driver in logs.
	Name() string

	// ExamineDevice returns nil if the driver can serve the whole device.
	ExamineDevice(desc *DeviceDescriptor) error

	// ExamineInterface returns nil if the driver can serve an interface
	// with the given current alternate setting.
	ExamineInterface(desc *InterfaceDescriptor) error

	// InitializeDevice binds the driver to the whole device.
	InitializeDevice(s *Stack, dev *Device) error

	// InitializeInterface binds the driver to one interface.
	InitializeInterface(s *Stack, dev *Device, intf *Interface) error

	// Disconnect releases everything the driver holds on dev.
	Disconnect(s *Stack, dev *Device) error

	// SetAlternateSetting reports a SET_INTERFACE that switched intf to alt.
	SetAlternateSetting(s *Stack, dev *Device, intf *Interface, alt *AlternateSetting) error

	// NewSetup handles a class or vendor SETUP packet. Replies are staged
	// with Device.Reply or Device.Receive.
	NewSetup(s *Stack, dev *Device, setup *SetupPacket) error

	// NewTransfer reports a token on one of the driver's pipes.
	NewTransfer(s *Stack, dev *Device, pipe *Pipe) error

	// Notify delivers a bus event.
	Notify(s *Stack, dev *Device, event Event) error
}

// UnimplementedDriver declines every match and request. Embed it in a
// driver to implement only the callbacks the driver needs.
type UnimplementedDriver struct{}

func (UnimplementedDriver) Name() string { return "unimplemented" }

func (UnimplementedDriver) ExamineDevice(*DeviceDescriptor) error { return pkg.ErrNotSupported }

func (UnimplementedDriver) ExamineInterface(*InterfaceDescriptor) error { return pkg.ErrNotSupported }

func (UnimplementedDriver) InitializeDevice(*Stack, *Device) error { return pkg.ErrNotSupported }

func (UnimplementedDriver) InitializeInterface(*Stack, *Device, *Interface) error {
	return pkg.ErrNotSupported
}

func (UnimplementedDriver) Disconnect(*Stack, *Device) error { return nil }

func (UnimplementedDriver) SetAlternateSetting(*Stack, *Device, *Interface, *AlternateSetting) error {
	return nil
}

func (UnimplementedDriver) NewSetup(*Stack, *Device, *SetupPacket) error { return pkg.ErrNotSupported }

func (UnimplementedDriver) NewTransfer(*Stack, *Device, *Pipe) error { return nil }

func (UnimplementedDriver) Notify(*Stack, *Device, Event) error { return nil }
