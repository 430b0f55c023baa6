package profile

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/device/hal/sim"
	"github.com/ardnew/usbfunc/pkg"
)

// ErrExpectation is returned by Run when a step's outcome differs from
// what the session expects.
var ErrExpectation = errors.New("session expectation failed")

// Expectations a step can state.
const (
	ExpectOK    = "ok"
	ExpectStall = "stall"
)

// Session is a replayable list of steps.
type Session struct {
	Steps []Step `yaml:"steps" toml:"steps"`
}

// Step is a bus event, a speed change or a SETUP packet. Exactly one of
// Event, Speed and Setup is set.
type Step struct {
	Name  string `yaml:"name" toml:"name"`
	Event string `yaml:"event" toml:"event"`
	Speed string `yaml:"speed" toml:"speed"`
	Setup *Setup `yaml:"setup" toml:"setup"`

	// Data is the hex OUT data stage of a SETUP step.
	Data string `yaml:"data" toml:"data"`

	// Expect is "ok", "stall" or empty for no check.
	Expect string `yaml:"expect" toml:"expect"`

	// Reply is the hex IN data stage expected from a SETUP step.
	Reply string `yaml:"reply" toml:"reply"`
}

// Setup is a SETUP packet given either as 8 raw hex bytes or field by
// field.
type Setup struct {
	Raw         string `yaml:"raw" toml:"raw"`
	RequestType uint8  `yaml:"request_type" toml:"request_type"`
	Request     uint8  `yaml:"request" toml:"request"`
	Value       uint16 `yaml:"value" toml:"value"`
	Index       uint16 `yaml:"index" toml:"index"`
	Length      uint16 `yaml:"length" toml:"length"`
}

// Packet returns the SETUP packet.
func (s *Setup) Packet() (device.SetupPacket, error) {
	var out device.SetupPacket
	if s.Raw == "" {
		out = device.SetupPacket{
			RequestType: s.RequestType,
			Request:     s.Request,
			Value:       s.Value,
			Index:       s.Index,
			Length:      s.Length,
		}
		return out, nil
	}
	raw, err := ParseHex(s.Raw)
	if err != nil {
		return out, err
	}
	if len(raw) != device.SetupPacketSize {
		return out, fmt.Errorf("setup %q: %d bytes, want %d", s.Raw, len(raw), device.SetupPacketSize)
	}
	err = device.ParseSetupPacket(raw, &out)
	return out, err
}

// ParseHex decodes hex digits, ignoring spaces, colons and a 0x prefix.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	return hex.DecodeString(s)
}

// LoadSession reads a session file.
func LoadSession(path string) (*Session, error) {
	var s Session
	if err := load(path, &s); err != nil {
		return nil, err
	}
	return &s, s.Validate()
}

// DecodeSession parses a session from data.
func DecodeSession(data []byte, format Format) (*Session, error) {
	var s Session
	if err := decode(data, format, &s); err != nil {
		return nil, err
	}
	return &s, s.Validate()
}

var events = map[string]device.Event{
	"connect":    device.EventConnect,
	"disconnect": device.EventDisconnect,
	"reset":      device.EventReset,
	"suspend":    device.EventSuspend,
	"resume":     device.EventResume,
}

// Validate checks every step is well formed.
func (s *Session) Validate() error {
	for i, st := range s.Steps {
		n := 0
		if st.Event != "" {
			n++
			if _, ok := events[strings.ToLower(st.Event)]; !ok {
				return fmt.Errorf("step %d: unknown event %q", i, st.Event)
			}
		}
		if st.Speed != "" {
			n++
			if _, ok := device.SpeedFromString(strings.ToLower(st.Speed)); !ok {
				return fmt.Errorf("step %d: unknown speed %q", i, st.Speed)
			}
		}
		if st.Setup != nil {
			n++
			if _, err := st.Setup.Packet(); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		if n != 1 {
			return fmt.Errorf("step %d: exactly one of event, speed and setup required", i)
		}
		switch st.Expect {
		case "", ExpectOK, ExpectStall:
		default:
			return fmt.Errorf("step %d: unknown expectation %q", i, st.Expect)
		}
		for _, h := range []string{st.Data, st.Reply} {
			if _, err := ParseHex(h); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
	}
	return nil
}

// Target is a device attached to a stack on a simulated controller.
type Target struct {
	HW    *sim.Controller
	Stack *device.Stack
	Dev   *device.Device
}

// Close detaches the device.
func (t *Target) Close() error { return t.Stack.DetachDevice(t.Dev) }

// Result is the outcome of one step.
type Result struct {
	Index    int
	Step     Step
	Setup    device.SetupPacket
	State    device.State
	Reply    []byte
	Err      error
	Mismatch string
}

// Stalled reports whether the step's request was answered with a stall.
func (r *Result) Stalled() bool { return r.Step.Setup != nil && r.Err != nil }

// Run replays every step and calls report after each one. The returned
// error wraps ErrExpectation when any step failed its expectation.
func (t *Target) Run(s *Session, report func(Result)) error {
	failed := 0
	for i, st := range s.Steps {
		r := t.step(st)
		r.Index = i
		r.Mismatch = check(st, r)
		if r.Mismatch != "" {
			failed++
		}
		if report != nil {
			report(r)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d steps", ErrExpectation, failed, len(s.Steps))
	}
	return nil
}

func (t *Target) step(st Step) Result {
	r := Result{Step: st}
	switch {
	case st.Event != "":
		r.Err = t.Stack.Notify(t.Dev, events[strings.ToLower(st.Event)])
	case st.Speed != "":
		speed, _ := device.SpeedFromString(strings.ToLower(st.Speed))
		r.Err = t.Stack.SpeedChange(t.Dev, speed)
	default:
		r.Setup, r.Reply, r.Err = t.setup(st)
	}
	r.State = t.Dev.State()
	return r
}

func (t *Target) setup(st Step) (device.SetupPacket, []byte, error) {
	setup, err := st.Setup.Packet()
	if err != nil {
		return setup, nil, err
	}
	submitted := len(t.HW.CallsOf(sim.OpSubmitControl))
	if err := t.Stack.NewSetup(t.Dev, &setup); err != nil {
		return setup, nil, err
	}
	if len(t.HW.CallsOf(sim.OpSubmitControl)) == submitted {
		return setup, nil, nil
	}
	if setup.IsHostToDevice() {
		data, _ := ParseHex(st.Data)
		return setup, nil, t.HW.DeliverControl(data)
	}
	reply, _ := t.HW.LastControl()
	pkg.LogDebug(pkg.ComponentHAL, "control in", "request", setup.String(), "length", len(reply))
	return setup, reply, nil
}

func check(st Step, r Result) string {
	switch {
	case st.Expect == ExpectStall && r.Err == nil:
		return "expected stall, request accepted"
	case st.Expect == ExpectOK && r.Err != nil:
		return fmt.Sprintf("expected ok, got %v", r.Err)
	}
	if st.Reply == "" {
		return ""
	}
	want, _ := ParseHex(st.Reply)
	if r.Err != nil {
		return fmt.Sprintf("expected reply % X, got %v", want, r.Err)
	}
	if !bytes.Equal(want, r.Reply) {
		return fmt.Sprintf("reply % X, want % X", r.Reply, want)
	}
	return ""
}
