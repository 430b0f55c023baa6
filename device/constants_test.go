package device

import (
	"testing"
)

func TestSpeed_String(t *testing.T) {
	tests := []struct {
		speed Speed
		want  string
	}{
		{SpeedLow, "Low Speed (1.5 Mbps)"},
		{SpeedFull, "Full Speed (12 Mbps)"},
		{SpeedHigh, "High Speed (480 Mbps)"},
		{SpeedSuper, "Super Speed (5 Gbps)"},
		{Speed(99), "Unknown Speed (99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.speed.String(); got != tt.want {
				t.Errorf("Speed.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSpeed_Encodings(t *testing.T) {
	tests := []struct {
		speed   Speed
		mps0    uint16
		bMps0   uint8
		version uint16
	}{
		{SpeedLow, 8, 8, 0x0110},
		{SpeedFull, 64, 64, 0x0110},
		{SpeedHigh, 64, 64, 0x0210},
		{SpeedSuper, 512, 9, 0x0300},
		{Speed(99), 8, 8, 0x0200},
	}

	for _, tt := range tests {
		t.Run(tt.speed.String(), func(t *testing.T) {
			if got := tt.speed.MaxPacketSize0(); got != tt.mps0 {
				t.Errorf("MaxPacketSize0() = %v, want %v", got, tt.mps0)
			}
			if got := tt.speed.bMaxPacketSize0(); got != tt.bMps0 {
				t.Errorf("bMaxPacketSize0() = %v, want %v", got, tt.bMps0)
			}
			if got := tt.speed.USBVersion(); got != tt.version {
				t.Errorf("USBVersion() = %#04x, want %#04x", got, tt.version)
			}
		})
	}
}

func TestSpeedFromString(t *testing.T) {
	tests := []struct {
		in   string
		want Speed
		ok   bool
	}{
		{"low", SpeedLow, true},
		{"fs", SpeedFull, true},
		{"high", SpeedHigh, true},
		{"super", SpeedSuper, true},
		{"warp", 0, false},
	}
	for _, tt := range tests {
		got, ok := SpeedFromString(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("SpeedFromString(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDetached, "Detached"},
		{StateAttached, "Attached"},
		{StatePowered, "Powered"},
		{StateDefault, "Default"},
		{StateAddress, "Address"},
		{StateConfigured, "Configured"},
		{StateSuspended, "Suspended"},
		{State(99), "Unknown State (99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
