// Package profile loads device profiles and session scripts for usbfctl.
//
// A profile describes the function a simulated device presents: its device
// descriptor fields, supported speeds, BOS capabilities and one or more
// configurations assembled from the built-in class functions. A session is
// a list of bus events and SETUP packets replayed against that device.
// Both are read from YAML (.yaml, .yml) or TOML (.toml) files.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"github.com/ardnew/usbfunc/device"
)

// ErrFormat is returned for files that are neither YAML nor TOML.
var ErrFormat = errors.New("unsupported file format")

// Format identifies a profile or session encoding.
type Format int

// Supported encodings.
const (
	FormatYAML Format = iota
	FormatTOML
)

// FormatOf returns the encoding implied by the extension of path.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return 0, fmt.Errorf("%s: %w", path, ErrFormat)
}

func decode(data []byte, format Format, v any) error {
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(v)
	case FormatTOML:
		return toml.Unmarshal(data, v)
	}
	return ErrFormat
}

func load(path string, v any) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := decode(data, format, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Class is a class, subclass and protocol triple.
type Class struct {
	Class    uint8 `yaml:"class" toml:"class"`
	SubClass uint8 `yaml:"subclass" toml:"subclass"`
	Protocol uint8 `yaml:"protocol" toml:"protocol"`
}

// Profile describes a simulated device.
type Profile struct {
	Name         string `yaml:"name" toml:"name"`
	VendorID     uint16 `yaml:"vendor_id" toml:"vendor_id"`
	ProductID    uint16 `yaml:"product_id" toml:"product_id"`
	Release      uint16 `yaml:"release" toml:"release"`
	// Class is the device class triple. Left zero, a configuration with
	// a CDC function among others selects the multi-function triple.
	Class        Class  `yaml:"class" toml:"class"`
	Manufacturer string `yaml:"manufacturer" toml:"manufacturer"`
	Product      string `yaml:"product" toml:"product"`
	Serial       string `yaml:"serial" toml:"serial"`

	// Speeds lists the speeds configurations are built for; the first is
	// the operating speed. Defaults to full speed only.
	Speeds []string `yaml:"speeds" toml:"speeds"`

	// LPM adds a USB 2.0 extension capability advertising LPM.
	LPM bool `yaml:"lpm" toml:"lpm"`

	// ContainerID adds a Container ID capability. "random" generates one.
	ContainerID string `yaml:"container_id" toml:"container_id"`

	Configurations []Configuration `yaml:"configurations" toml:"configurations"`

	dir string
}

// Configuration is one configuration built from class functions.
type Configuration struct {
	Value      uint8      `yaml:"value" toml:"value"`
	Attributes uint8      `yaml:"attributes" toml:"attributes"`
	MaxPower   uint8      `yaml:"max_power" toml:"max_power"`
	Functions  []Function `yaml:"functions" toml:"functions"`
}

// Function types.
const (
	TypeACM         = "acm"
	TypeECM         = "ecm"
	TypeKeyboard    = "hid-keyboard"
	TypeMouse       = "hid-mouse"
	TypeMSC         = "msc"
	TypeDFURuntime  = "dfu-runtime"
	TypeDFU         = "dfu"
	defaultInterval = 10
)

// Function is one class function of a configuration. Which fields apply
// depends on Type.
type Function struct {
	Type      string `yaml:"type" toml:"type"`
	Interface uint8  `yaml:"interface" toml:"interface"`
	NotifyEP  uint8  `yaml:"notify_ep" toml:"notify_ep"`
	InEP      uint8  `yaml:"in_ep" toml:"in_ep"`
	OutEP     uint8  `yaml:"out_ep" toml:"out_ep"`
	Interval  uint8  `yaml:"interval" toml:"interval"`

	// ecm
	MAC string `yaml:"mac" toml:"mac"`

	// msc
	Vendor    string `yaml:"vendor" toml:"vendor"`
	Model     string `yaml:"model" toml:"model"`
	Image     string `yaml:"image" toml:"image"`
	Blocks    uint64 `yaml:"blocks" toml:"blocks"`
	BlockSize uint32 `yaml:"block_size" toml:"block_size"`
	ReadOnly  bool   `yaml:"read_only" toml:"read_only"`
	Removable bool   `yaml:"removable" toml:"removable"`

	// dfu, dfu-runtime
	Attributes    uint8  `yaml:"attributes" toml:"attributes"`
	DetachTimeout uint16 `yaml:"detach_timeout" toml:"detach_timeout"`
	TransferSize  uint16 `yaml:"transfer_size" toml:"transfer_size"`
	ImageLimit    int    `yaml:"image_limit" toml:"image_limit"`
}

// Load reads a profile file. Relative image paths in the profile resolve
// against the file's directory.
func Load(path string) (*Profile, error) {
	var p Profile
	if err := load(path, &p); err != nil {
		return nil, err
	}
	p.dir = filepath.Dir(path)
	return &p, p.Validate()
}

// Decode parses a profile from data.
func Decode(data []byte, format Format) (*Profile, error) {
	var p Profile
	if err := decode(data, format, &p); err != nil {
		return nil, err
	}
	return &p, p.Validate()
}

// speeds returns the parsed speed list.
func (p *Profile) speeds() ([]device.Speed, error) {
	if len(p.Speeds) == 0 {
		return []device.Speed{device.SpeedFull}, nil
	}
	var out []device.Speed
	for _, name := range p.Speeds {
		s, ok := device.SpeedFromString(strings.ToLower(name))
		if !ok {
			return nil, fmt.Errorf("unknown speed %q", name)
		}
		if s != device.SpeedFull && s != device.SpeedHigh {
			return nil, fmt.Errorf("speed %q: only full and high speed profiles are supported", name)
		}
		for _, prev := range out {
			if prev == s {
				return nil, fmt.Errorf("speed %q listed twice", name)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// Speed returns the operating speed the device starts at.
func (p *Profile) Speed() device.Speed {
	speeds, err := p.speeds()
	if err != nil {
		return device.SpeedFull
	}
	return speeds[0]
}

func (p *Profile) containerID() (uuid.UUID, bool, error) {
	switch p.ContainerID {
	case "":
		return uuid.Nil, false, nil
	case "random":
		return uuid.New(), true, nil
	}
	id, err := uuid.Parse(p.ContainerID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("container_id: %w", err)
	}
	return id, true, nil
}

// Validate checks the profile for errors that do not need a build.
func (p *Profile) Validate() error {
	if _, err := p.speeds(); err != nil {
		return err
	}
	if _, _, err := p.containerID(); err != nil {
		return err
	}
	if len(p.Configurations) == 0 {
		return errors.New("profile has no configurations")
	}
	if len(p.Configurations) > device.MaxConfigurations {
		return fmt.Errorf("%d configurations, at most %d supported",
			len(p.Configurations), device.MaxConfigurations)
	}
	for i, cfg := range p.Configurations {
		if len(cfg.Functions) == 0 {
			return fmt.Errorf("configuration %d has no functions", i)
		}
		for j, fn := range cfg.Functions {
			if err := fn.validate(); err != nil {
				return fmt.Errorf("configuration %d function %d: %w", i, j, err)
			}
		}
	}
	return nil
}

func (f *Function) validate() error {
	switch f.Type {
	case TypeACM, TypeECM:
		if f.NotifyEP&0x80 == 0 || f.InEP&0x80 == 0 || f.OutEP&0x80 != 0 {
			return fmt.Errorf("%s: notify_ep and in_ep must be IN, out_ep OUT", f.Type)
		}
	case TypeKeyboard, TypeMouse:
		if f.InEP&0x80 == 0 || (f.OutEP != 0 && f.OutEP&0x80 != 0) {
			return fmt.Errorf("%s: in_ep must be IN, out_ep OUT", f.Type)
		}
	case TypeMSC:
		if f.InEP&0x80 == 0 || f.OutEP&0x80 != 0 || f.OutEP == 0 {
			return fmt.Errorf("%s: in_ep must be IN, out_ep OUT", f.Type)
		}
	case TypeDFURuntime:
	case TypeDFU:
		if f.TransferSize == 0 {
			return fmt.Errorf("%s: transfer_size required", f.Type)
		}
	default:
		return fmt.Errorf("unknown function type %q", f.Type)
	}
	return nil
}

// interfaces returns the number of interfaces the function occupies.
func (f *Function) interfaces() uint8 {
	switch f.Type {
	case TypeACM, TypeECM:
		return 2
	}
	return 1
}

func (p *Profile) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || p.dir == "" {
		return path
	}
	return filepath.Join(p.dir, path)
}
