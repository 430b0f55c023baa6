package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf16"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/internal/profile"
	"github.com/ardnew/usbfunc/pkg/usbid"
)

// printer writes descriptor trees, naming codes from usb.ids when loaded.
type printer struct {
	w  io.Writer
	db *usbid.Database
}

// IDs selects the usb.ids files consulted for names.
type IDs struct {
	Paths []string `help:"usb.ids files to search for names (default: system locations)." name:"usb-ids"`
	NoIDs bool     `help:"Do not look up names in usb.ids." name:"no-names"`
}

func (ids IDs) printer(w io.Writer) *printer {
	p := &printer{w: w}
	if ids.NoIDs {
		return p
	}
	if len(ids.Paths) > 0 {
		p.db = usbid.NewWithPaths(ids.Paths)
	} else {
		p.db = usbid.New()
	}
	if !p.db.Load() {
		p.db = nil
	}
	return p
}

func (p *printer) printf(indent int, format string, args ...any) {
	fmt.Fprintf(p.w, "%s"+format+"\n", append([]any{strings.Repeat("  ", indent)}, args...)...)
}

func (p *printer) className(class, subClass, protocol uint8) string {
	if p.db == nil {
		return ""
	}
	if name := p.db.Class(class, subClass, protocol); name != "" {
		return " (" + name + ")"
	}
	return ""
}

func (p *printer) device(d *device.DeviceDescriptor) {
	var vendor, product string
	if p.db != nil {
		vendor, product = p.db.Vendor(d.VendorID), p.db.Product(d.VendorID, d.ProductID)
	}
	p.printf(0, "Device %04x:%04x %s %s", d.VendorID, d.ProductID, vendor, product)
	p.printf(1, "bcdUSB %x.%02x  bMaxPacketSize0 %d  bNumConfigurations %d",
		d.USBVersion>>8, d.USBVersion&0xFF, d.MaxPacketSize0, d.NumConfigurations)
	p.printf(1, "class %02x/%02x/%02x%s", d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol,
		p.className(d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol))
}

func (p *printer) qualifier(q *device.DeviceQualifierDescriptor) {
	p.printf(1, "qualifier: bcdUSB %x.%02x  class %02x/%02x/%02x  bNumConfigurations %d",
		q.USBVersion>>8, q.USBVersion&0xFF, q.DeviceClass, q.DeviceSubClass, q.DeviceProtocol,
		q.NumConfigurations)
}

func (p *printer) configuration(indent int, cfg *device.Configuration) {
	d := cfg.Descriptor()
	power := "bus"
	if cfg.IsSelfPowered() {
		power = "self"
	}
	p.printf(indent, "Configuration %d: %d bytes, %d interfaces, %s powered, %d mA",
		d.ConfigurationValue, d.TotalLength, d.NumInterfaces, power, int(d.MaxPower)*2)
	if otg, ok := cfg.OTG(); ok {
		p.printf(indent+1, "OTG attributes 0x%02x", otg.Attributes)
	}
	for i := 0; i < cfg.NumAssociations(); i++ {
		a := cfg.Association(i).Descriptor()
		p.printf(indent+1, "Association interfaces %d-%d class %02x/%02x/%02x%s",
			a.FirstInterface, a.FirstInterface+a.InterfaceCount-1,
			a.FunctionClass, a.FunctionSubClass, a.FunctionProtocol,
			p.className(a.FunctionClass, a.FunctionSubClass, a.FunctionProtocol))
	}
	for n := 0; n < cfg.NumInterfaces(); n++ {
		intf := cfg.Interface(uint8(n))
		for v, seen := 0, 0; v < device.MaxAlternateSettings && seen < intf.NumAlternateSettings(); v++ {
			alt := intf.AlternateSetting(uint8(v))
			if alt == nil {
				continue
			}
			seen++
			p.alternate(indent+1, intf, alt)
		}
	}
}

func (p *printer) alternate(indent int, intf *device.Interface, alt *device.AlternateSetting) {
	d := alt.Descriptor()
	driver := ""
	if drv := intf.Driver(); drv != nil {
		driver = " driver " + drv.Name()
	}
	p.printf(indent, "Interface %d alt %d class %02x/%02x/%02x%s%s",
		d.InterfaceNumber, d.AlternateSetting, d.InterfaceClass, d.InterfaceSubClass,
		d.InterfaceProtocol, p.className(d.InterfaceClass, d.InterfaceSubClass, d.InterfaceProtocol),
		driver)
	if cs := alt.ClassSpecific(); len(cs) > 0 {
		p.printf(indent+1, "class-specific % x", cs)
	}
	for i := 0; i < alt.NumEndpoints(); i++ {
		ep := alt.Endpoint(i)
		p.printf(indent+1, "%s interval %d", ep.String(), ep.Descriptor().Interval)
		if c, ok := ep.Companion(); ok {
			p.printf(indent+2, "companion burst %d attributes 0x%02x bytes/interval %d",
				c.MaxBurst, c.Attributes, c.BytesPerInterval)
		}
	}
}

func (p *printer) bos(b *device.BOS) {
	h := b.Header()
	p.printf(0, "BOS: %d bytes, %d capabilities", h.TotalLength, h.NumDeviceCaps)
	if c, ok := b.USB2Extension(); ok {
		lpm, _ := b.LPMSupported()
		p.printf(1, "USB 2.0 extension: attributes 0x%08x LPM %t", c.Attributes, lpm)
	}
	if c, ok := b.SuperSpeed(); ok {
		ltm, _ := b.LTMSupported()
		p.printf(1, "SuperSpeed: speeds 0x%04x functionality %d U1 %d us U2 %d us LTM %t",
			c.SpeedsSupported, c.FunctionalitySupport, c.U1DevExitLat, c.U2DevExitLat, ltm)
	}
	if id, ok := b.ContainerID(); ok {
		p.printf(1, "Container ID: %s", id)
	}
}

// decodeString returns the text of a string descriptor.
func decodeString(desc []byte) string {
	if len(desc) < 2 {
		return ""
	}
	n := min(int(desc[0]), len(desc))
	units := make([]uint16, 0, (n-2)/2)
	for i := 2; i+1 < n; i += 2 {
		units = append(units, binary.LittleEndian.Uint16(desc[i:]))
	}
	return string(utf16.Decode(units))
}

// readInput decodes a hex argument, or reads the file named after '@' as
// hex text or raw bytes.
func readInput(arg string) ([]byte, error) {
	path, ok := strings.CutPrefix(arg, "@")
	if !ok {
		return profile.ParseHex(arg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if b, err := profile.ParseHex(string(data)); err == nil {
		return b, nil
	}
	return data, nil
}
