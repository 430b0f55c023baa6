package profile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/device/class/cdc"
	"github.com/ardnew/usbfunc/device/class/dfu"
	"github.com/ardnew/usbfunc/device/class/hid"
	"github.com/ardnew/usbfunc/device/class/msc"
	"github.com/ardnew/usbfunc/device/hal/sim"
)

// Defaults for msc functions without an image.
const (
	DefaultBlocks    = 2048
	DefaultBlockSize = 512
)

// firstStringIndex follows the manufacturer, product and serial strings.
const firstStringIndex = 4

// Instance is a built profile: the device builder and the class drivers
// serving its functions, one driver per function.
type Instance struct {
	Builder *device.DeviceBuilder
	Drivers []device.ClassDriver
	Speed   device.Speed

	// Storage holds the msc units in function order.
	Storage []msc.Storage

	closers []io.Closer
}

// Close releases the files opened for msc images.
func (in *Instance) Close() error {
	var errs []error
	for _, c := range in.closers {
		errs = append(errs, c.Close())
	}
	in.closers = nil
	return errors.Join(errs...)
}

// Build creates the class drivers for every function and the descriptor
// blocks for every configuration at every listed speed.
func (p *Profile) Build() (*Instance, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	speeds, _ := p.speeds()
	in := &Instance{Speed: speeds[0]}

	b := device.NewDeviceBuilder().
		WithVendorProduct(p.VendorID, p.ProductID).
		WithStrings(p.Manufacturer, p.Product, p.Serial)
	class := p.Class
	if class == (Class{}) && p.needsAssociation() {
		class = Class{device.ClassMisc, device.MultiFunctionSubClass, device.MultiFunctionProtocol}
	}
	b.WithClass(class.Class, class.SubClass, class.Protocol)

	nextString := uint8(firstStringIndex)
	fns := make([][]builtFunction, len(p.Configurations))
	for i, cfg := range p.Configurations {
		for _, fn := range cfg.Functions {
			bf, err := p.buildFunction(in, fn, &nextString, b)
			if err != nil {
				in.Close()
				return nil, fmt.Errorf("configuration %d %s: %w", i, fn.Type, err)
			}
			fns[i] = append(fns[i], bf)
		}
	}

	if len(speeds) > 1 {
		b.WithQualifier(uint8(len(p.Configurations)))
	}
	for _, speed := range speeds {
		for i, cfg := range p.Configurations {
			raw, err := p.configuration(cfg, fns[i], speed, class)
			if err != nil {
				in.Close()
				return nil, fmt.Errorf("configuration %d at %s: %w", i, speed, err)
			}
			b.AddConfiguration(i, speed, raw)
		}
	}

	bos, err := p.bos()
	if err != nil {
		in.Close()
		return nil, err
	}
	if bos != nil {
		b.WithBOS(bos)
	}
	in.Builder = b
	return in, nil
}

// needsAssociation reports whether some configuration combines a
// two-interface CDC function with other functions.
func (p *Profile) needsAssociation() bool {
	for _, cfg := range p.Configurations {
		if len(cfg.Functions) < 2 {
			continue
		}
		for _, fn := range cfg.Functions {
			if fn.interfaces() > 1 {
				return true
			}
		}
	}
	return false
}

// builtFunction pairs a function with its driver and the string index
// assigned to it.
type builtFunction struct {
	Function
	driver      device.ClassDriver
	stringIndex uint8
}

func (p *Profile) buildFunction(in *Instance, fn Function, nextString *uint8, b *device.DeviceBuilder) (builtFunction, error) {
	bf := builtFunction{Function: fn}
	switch fn.Type {
	case TypeACM:
		bf.driver = cdc.NewACM()
	case TypeECM:
		mac := strings.ToUpper(strings.NewReplacer(":", "", "-", "").Replace(fn.MAC))
		if mac == "" {
			mac = "020000000001"
		}
		if len(mac) != 12 || strings.Trim(mac, "0123456789ABCDEF") != "" {
			return bf, fmt.Errorf("mac %q is not a 48-bit address", fn.MAC)
		}
		bf.stringIndex = *nextString
		*nextString++
		b.AddString(bf.stringIndex, mac)
		bf.driver = cdc.NewECM()
	case TypeKeyboard:
		bf.driver = hid.NewKeyboard()
	case TypeMouse:
		bf.driver = hid.NewMouse()
	case TypeMSC:
		unit, err := p.storage(in, fn)
		if err != nil {
			return bf, err
		}
		in.Storage = append(in.Storage, unit)
		bf.driver = msc.New(fn.Vendor, fn.Model, unit)
	case TypeDFURuntime:
		bf.driver = dfu.NewRuntime(fn.Attributes, fn.DetachTimeout)
	case TypeDFU:
		var image []byte
		if fn.Image != "" {
			data, err := os.ReadFile(p.resolve(fn.Image))
			if err != nil {
				return bf, err
			}
			image = data
		}
		limit := fn.ImageLimit
		if limit == 0 {
			limit = max(len(image), 64*1024)
		}
		fw := dfu.NewMemoryFirmware(image, int(fn.TransferSize), limit)
		bf.driver = dfu.New(fw, fn.Attributes, fn.TransferSize)
	}
	in.Drivers = append(in.Drivers, bf.driver)
	return bf, nil
}

func (p *Profile) storage(in *Instance, fn Function) (msc.Storage, error) {
	blockSize := fn.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if fn.Image != "" {
		f, err := msc.OpenFileStorage(p.resolve(fn.Image), blockSize, fn.ReadOnly)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, f)
		return f, nil
	}
	blocks := fn.Blocks
	if blocks == 0 {
		blocks = DefaultBlocks
	}
	m := msc.NewMemoryStorage(blocks, blockSize)
	m.SetReadOnly(fn.ReadOnly)
	m.SetRemovable(fn.Removable)
	return m, nil
}

// bulkPacketSize is the bulk wMaxPacketSize at speed.
func bulkPacketSize(speed device.Speed) uint16 {
	if speed == device.SpeedHigh {
		return 512
	}
	return 64
}

// interval converts a polling period in milliseconds to bInterval at
// speed. High speed encodes 2^(bInterval-1) microframes.
func interval(ms uint8, speed device.Speed) uint8 {
	if ms == 0 {
		ms = defaultInterval
	}
	if speed != device.SpeedHigh {
		return ms
	}
	frames := uint32(ms) * 8
	n := uint8(1)
	for frames > 1 && n < 16 {
		frames >>= 1
		n++
	}
	return n
}

func (p *Profile) configuration(cfg Configuration, fns []builtFunction, speed device.Speed, class Class) ([]byte, error) {
	value := cfg.Value
	if value == 0 {
		value = 1
	}
	maxPower := cfg.MaxPower
	if maxPower == 0 {
		maxPower = 50
	}
	iad := class.Class == device.ClassMisc &&
		class.SubClass == device.MultiFunctionSubClass &&
		class.Protocol == device.MultiFunctionProtocol

	b := device.NewConfigBuilder(value, cfg.Attributes, maxPower)
	mps := bulkPacketSize(speed)
	for _, fn := range fns {
		switch fn.Type {
		case TypeACM:
			if iad {
				b.Association(fn.Interface, 2, device.ClassCDC, cdc.SubclassACM, cdc.ProtocolAT)
			}
			cdc.AppendACM(b, fn.Interface, fn.NotifyEP, fn.InEP, fn.OutEP, mps)
		case TypeECM:
			if iad {
				b.Association(fn.Interface, 2, device.ClassCDC, cdc.SubclassECM, cdc.ProtocolNone)
			}
			cdc.AppendECM(b, fn.Interface, fn.NotifyEP, fn.InEP, fn.OutEP, fn.stringIndex, mps)
		case TypeKeyboard, TypeMouse:
			var h *hid.HID
			switch drv := fn.driver.(type) {
			case *hid.Keyboard:
				h = drv.HID
			case *hid.Mouse:
				h = drv.HID
			}
			hid.AppendHID(b, h, fn.Interface, fn.InEP, fn.OutEP, interval(fn.Interval, speed))
		case TypeMSC:
			msc.AppendMSC(b, fn.Interface, fn.InEP, fn.OutEP, mps)
		case TypeDFURuntime, TypeDFU:
			dfu.AppendDFU(b, fn.driver.(*dfu.DFU), fn.Interface)
		}
	}
	return b.Build()
}

func (p *Profile) bos() ([]byte, error) {
	id, hasID, err := p.containerID()
	if err != nil {
		return nil, err
	}
	if !p.LPM && !hasID {
		return nil, nil
	}
	buf := make([]byte, device.BOSDescriptorSize,
		device.BOSDescriptorSize+device.USB2ExtensionCapabilitySize+device.ContainerIDCapabilitySize)
	hdr := device.BOSDescriptor{}
	if p.LPM {
		c := device.USB2ExtensionCapability{Attributes: device.USB2ExtAttrLPM}
		var rec [device.USB2ExtensionCapabilitySize]byte
		c.MarshalTo(rec[:])
		buf = append(buf, rec[:]...)
		hdr.NumDeviceCaps++
	}
	if hasID {
		c := device.ContainerIDCapability{ContainerID: id}
		var rec [device.ContainerIDCapabilitySize]byte
		c.MarshalTo(rec[:])
		buf = append(buf, rec[:]...)
		hdr.NumDeviceCaps++
	}
	hdr.TotalLength = uint16(len(buf))
	hdr.MarshalTo(buf)
	return buf, nil
}

// Attach builds a device for the instance on a fresh simulated controller,
// registers the instance's drivers on a new stack, attaches the device and
// brings it to the operating speed.
func (in *Instance) Attach() (*Target, error) {
	hw := sim.New()
	dev, err := in.Builder.Build(hw)
	if err != nil {
		return nil, err
	}
	s := device.NewStack()
	for _, drv := range in.Drivers {
		if err := s.RegisterDriver(drv); err != nil {
			return nil, fmt.Errorf("register %s: %w", drv.Name(), err)
		}
	}
	if err := s.AttachDevice(dev); err != nil {
		return nil, err
	}
	if err := s.SpeedChange(dev, in.Speed); err != nil {
		s.DetachDevice(dev)
		return nil, err
	}
	return &Target{HW: hw, Stack: s, Dev: dev}, nil
}
