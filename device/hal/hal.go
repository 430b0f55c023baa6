package hal

// Capability bits reported by Controller.Capability. Bit n set means the
// controller completes standard request n on its own; the stack then only
// mirrors the resulting state.
const (
	CapabilitySetAddress       uint32 = 1 << 5 // SET_ADDRESS
	CapabilitySetConfiguration uint32 = 1 << 9 // SET_CONFIGURATION
)

// CapabilityBit returns the capability bit for a standard request code.
func CapabilityBit(request uint8) uint32 {
	if request >= 32 {
		return 0
	}
	return 1 << request
}

// Status bits returned by Controller.Status and Controller.EndpointStatus
// (USB 2.0 Spec Figures 9-4 and 9-6).
const (
	StatusSelfPowered  uint16 = 0x0001
	StatusRemoteWakeup uint16 = 0x0002
	StatusU1Enabled    uint16 = 0x0004
	StatusU2Enabled    uint16 = 0x0008
	StatusLTMEnabled   uint16 = 0x0010

	StatusEndpointHalt uint16 = 0x0001
)

// Link power states accepted by Controller.SetUxEnable.
const (
	LinkStateU1 uint8 = 1
	LinkStateU2 uint8 = 2
)

// PipeConfig describes an endpoint to open in hardware.
type PipeConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt/isochronous

	// SuperSpeed companion fields, zero below SuperSpeed.
	MaxBurst         uint8
	SSAttributes     uint8
	BytesPerInterval uint16
}

// Number returns the endpoint number (0-15).
func (p *PipeConfig) Number() uint8 {
	return p.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (p *PipeConfig) IsIn() bool {
	return p.Address&0x80 != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (p *PipeConfig) TransferType() uint8 {
	return p.Attributes & 0x03
}

// Controller is the hardware side of a USB function: the pipe abstraction
// the protocol core drives. Implementations report failures as errors and
// must not block indefinitely.
type Controller interface {
	// OpenPipe opens an endpoint.
	OpenPipe(cfg PipeConfig) error

	// OpenSuperSpeedPipe opens an endpoint with its companion parameters.
	OpenSuperSpeedPipe(cfg PipeConfig) error

	// ClosePipe closes an endpoint.
	ClosePipe(address uint8) error

	// StallEndpoint sets the halt feature on an endpoint.
	StallEndpoint(address uint8) error

	// UnstallEndpoint clears the halt feature and resets the data toggle.
	UnstallEndpoint(address uint8) error

	// EndpointStatus returns the GET_STATUS word for an endpoint.
	EndpointStatus(address uint8) (uint16, error)

	// Status returns the GET_STATUS word for the device.
	Status() (uint16, error)

	// SetAddress programs the function address.
	SetAddress(address uint8) error

	// Capability returns the set of standard requests the controller
	// handles itself.
	Capability() uint32

	// SetTestMode enters a USB 2.0 test mode.
	SetTestMode(mode uint8) error

	// StartHNP begins host negotiation after B_HNP_ENABLE.
	StartHNP() error

	// SetUxEnable enables or disables initiation of a U1 or U2 transition.
	SetUxEnable(state uint8, enable bool) error

	// SetLTMEnable enables or disables Latency Tolerance Messages.
	SetLTMEnable(enable bool) error

	// EnterLinkState initiates a transition to a U1 or U2 link state.
	EnterLinkState(state uint8) error

	// FunctionSuspend applies suspend options to an interface.
	FunctionSuspend(intf, options uint8) error

	// SubmitControl starts the data or status stage of the current control
	// transfer.
	SubmitControl(t *Transfer) error

	// Submit queues a transfer on an open pipe.
	Submit(address uint8, t *Transfer) error
}
