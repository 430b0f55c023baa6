package device

import "fmt"

// Fixed capacities. Data exceeding them is rejected with pkg.ErrMaxExceeded.
const (
	// MaxConfigurations is the maximum number of configurations per device.
	MaxConfigurations = 4

	// MaxInterfaces is the maximum number of interfaces per configuration.
	MaxInterfaces = 8

	// MaxAlternateSettings is the maximum number of alternate settings per interface.
	MaxAlternateSettings = 4

	// MaxEndpoints is the maximum number of endpoints per alternate setting.
	// USB 2.0 allows up to 15 IN + 15 OUT endpoints besides EP0.
	MaxEndpoints = 16

	// MaxAssociations is the maximum number of IADs per configuration.
	MaxAssociations = 4

	// MaxStrings is the maximum number of string descriptors per device.
	MaxStrings = 16

	// MaxDevices is the maximum number of devices attached to one Stack.
	MaxDevices = 4

	// MaxDrivers is the maximum number of class drivers registered with one Stack.
	MaxDrivers = 8

	// ControlBufferSize is the size of each device's control reply buffer.
	// Raw configuration descriptors longer than this are refused at attach.
	ControlBufferSize = 4096
)

// USB speeds. A Speed also indexes the per-speed raw configuration table.
const (
	SpeedLow   Speed = 0 // 1.5 Mbps (USB 1.0)
	SpeedFull  Speed = 1 // 12 Mbps (USB 1.1)
	SpeedHigh  Speed = 2 // 480 Mbps (USB 2.0)
	SpeedSuper Speed = 3 // 5 Gbps (USB 3.0)

	// NumSpeeds is the number of distinct speeds.
	NumSpeeds = 4
)

// Speed represents USB connection speed.
type Speed uint8

// String returns a human-readable speed description.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed (1.5 Mbps)"
	case SpeedFull:
		return "Full Speed (12 Mbps)"
	case SpeedHigh:
		return "High Speed (480 Mbps)"
	case SpeedSuper:
		return "Super Speed (5 Gbps)"
	default:
		return fmt.Sprintf("Unknown Speed (%d)", s)
	}
}

// MaxPacketSize0 returns the maximum packet size for endpoint 0 at this speed.
func (s Speed) MaxPacketSize0() uint16 {
	switch s {
	case SpeedFull, SpeedHigh:
		return 64
	case SpeedSuper:
		return 512
	default:
		return 8
	}
}

// bMaxPacketSize0 returns the device descriptor encoding of MaxPacketSize0.
// SuperSpeed encodes the size as an exponent of two.
func (s Speed) bMaxPacketSize0() uint8 {
	if s == SpeedSuper {
		return 9
	}
	return uint8(s.MaxPacketSize0())
}

// USBVersion returns the bcdUSB a device reports when operating at this speed.
func (s Speed) USBVersion() uint16 {
	switch s {
	case SpeedSuper:
		return 0x0300
	case SpeedHigh:
		return 0x0210
	case SpeedLow, SpeedFull:
		return 0x0110
	default:
		return 0x0200
	}
}

// SpeedFromString parses the short names used in profiles ("low", "full",
// "high", "super").
func SpeedFromString(s string) (Speed, bool) {
	switch s {
	case "low", "ls":
		return SpeedLow, true
	case "full", "fs":
		return SpeedFull, true
	case "high", "hs":
		return SpeedHigh, true
	case "super", "ss":
		return SpeedSuper, true
	default:
		return 0, false
	}
}

// Device states as defined in USB 2.0 specification section 9.1.
const (
	StateDetached   State = 0 // Not attached to a controller session
	StateAttached   State = 1 // Attached but not powered
	StatePowered    State = 2 // Powered
	StateDefault    State = 3 // Reset, using default address
	StateAddress    State = 4 // Assigned a unique address
	StateConfigured State = 5 // Configured and operational
	StateSuspended  State = 6 // Suspend mode
)

// State represents USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateDetached:
		return "Detached"
	case StateAttached:
		return "Attached"
	case StatePowered:
		return "Powered"
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	case StateSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
