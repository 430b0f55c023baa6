package device

import (
	"fmt"

	"github.com/ardnew/usbfunc/pkg"
)

// parseContext tracks which scope class-specific records attach to.
type parseContext uint8

const (
	contextNone parseContext = iota
	contextInterface
	contextEndpoint
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{pkg.ErrInvalidDescriptor}, args...)...)
}

func exceededf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{pkg.ErrMaxExceeded}, args...)...)
}

// configParser walks one configuration block.
type configParser struct {
	dev *DeviceDescriptor
	raw []byte
	cfg *Configuration

	ctx parseContext
	alt *AlternateSetting
	ep  *Endpoint

	// Start offsets of the class-specific range open in each scope, or -1.
	cfgCS, altCS, epCS int
	// leading is cleared by the first interface or IAD; the configuration
	// range only covers records before it.
	leading bool
}

// ParseConfigDescriptors parses one configuration block, as returned for
// GET_DESCRIPTOR(CONFIGURATION), into out. dev supplies the device class
// triple that gates interface association descriptors.
//
// The block is walked strictly by each record's bLength and must be consumed
// exactly. Any violation rejects the whole block: out is left zeroed and the
// error matches pkg.ErrInvalidDescriptor, or pkg.ErrMaxExceeded when a fixed
// capacity would be overrun. The tree keeps subslices of raw, so raw must not
// be modified afterwards.
func ParseConfigDescriptors(dev *DeviceDescriptor, raw []byte, out *Configuration) error {
	if dev == nil || out == nil {
		return pkg.ErrInvalidArgument
	}
	*out = Configuration{}

	p := configParser{dev: dev, raw: raw, cfg: out, cfgCS: -1, altCS: -1, epCS: -1, leading: true}
	if err := p.parse(); err != nil {
		*out = Configuration{}
		pkg.LogDebug(pkg.ComponentParser, "configuration rejected",
			"length", len(raw), "error", err)
		return err
	}

	pkg.LogDebug(pkg.ComponentParser, "configuration parsed",
		"value", out.desc.ConfigurationValue,
		"interfaces", out.numInterfaces,
		"associations", out.numAssociations)
	return nil
}

func (p *configParser) parse() error {
	cfg := p.cfg
	if len(p.raw) < ConfigurationDescriptorSize {
		return invalidf("configuration block of %d bytes", len(p.raw))
	}
	if p.raw[0] != ConfigurationDescriptorSize {
		return invalidf("configuration bLength %d", p.raw[0])
	}
	if err := ParseConfigurationDescriptor(p.raw, &cfg.desc); err != nil {
		return invalidf("%v", err)
	}
	if int(cfg.desc.TotalLength) != len(p.raw) {
		return invalidf("wTotalLength %d, block is %d bytes", cfg.desc.TotalLength, len(p.raw))
	}
	if cfg.desc.NumInterfaces > MaxInterfaces {
		return exceededf("%d interfaces", cfg.desc.NumInterfaces)
	}
	if cfg.desc.Attributes&ConfigAttrSelfPowered == 0 && cfg.desc.MaxPower > MaxBusPower {
		return invalidf("bus-powered configuration draws %d mA", int(cfg.desc.MaxPower)*2)
	}
	for i := range cfg.interfaces {
		cfg.interfaces[i].number = uint8(i)
		cfg.interfaces[i].association = -1
	}

	off := ConfigurationDescriptorSize
	for off < len(p.raw) {
		if len(p.raw)-off < 2 {
			return invalidf("truncated record at offset %d", off)
		}
		n := int(p.raw[off])
		if n < 2 {
			return invalidf("bLength %d at offset %d", n, off)
		}
		if off+n > len(p.raw) {
			return invalidf("record at offset %d overruns block", off)
		}
		if err := p.record(off, p.raw[off:off+n:off+n]); err != nil {
			return err
		}
		off += n
	}
	if off != len(p.raw) {
		return invalidf("consumed %d of %d bytes", off, len(p.raw))
	}
	if err := p.closeAlternate(); err != nil {
		return err
	}
	return p.finish()
}

func (p *configParser) record(off int, rec []byte) error {
	switch rec[1] {
	case DescriptorTypeDevice, DescriptorTypeConfiguration, DescriptorTypeString:
		return invalidf("descriptor type 0x%02X embedded at offset %d", rec[1], off)
	case DescriptorTypeOTG:
		return p.otg(off, rec)
	case DescriptorTypeInterfaceAssociation:
		return p.association(off, rec)
	case DescriptorTypeInterface:
		return p.intf(off, rec)
	case DescriptorTypeEndpoint:
		return p.endpoint(off, rec)
	case DescriptorTypeSSEndpointCompanion:
		return p.companion(off, rec)
	default:
		p.other(off, len(rec))
		return nil
	}
}

func (p *configParser) otg(off int, rec []byte) error {
	if p.cfg.hasOTG {
		return invalidf("second OTG descriptor at offset %d", off)
	}
	if err := ParseOTGDescriptor(rec, &p.cfg.otg); err != nil {
		return invalidf("OTG descriptor at offset %d: %v", off, err)
	}
	p.cfg.hasOTG = true
	return nil
}

func (p *configParser) association(off int, rec []byte) error {
	cfg := p.cfg
	if !p.dev.IsMultiFunction() {
		return invalidf("IAD at offset %d on a device without the multi-function class", off)
	}
	if cfg.numAssociations >= MaxAssociations {
		return exceededf("more than %d IADs", MaxAssociations)
	}
	a := &cfg.associations[cfg.numAssociations]
	if err := ParseInterfaceAssociationDescriptor(rec, &a.desc); err != nil {
		return invalidf("IAD at offset %d: %v", off, err)
	}
	first, count := int(a.desc.FirstInterface), int(a.desc.InterfaceCount)
	last := first + count - 1
	if count == 0 || first >= MaxInterfaces || last >= MaxInterfaces {
		return invalidf("IAD at offset %d spans interfaces %d..%d", off, first, last)
	}
	a.raw = rec
	cfg.numAssociations++
	p.leading = false

	if err := p.closeAlternate(); err != nil {
		return err
	}
	p.ctx = contextNone
	p.alt, p.ep = nil, nil
	return nil
}

func (p *configParser) intf(off int, rec []byte) error {
	var desc InterfaceDescriptor
	if err := ParseInterfaceDescriptor(rec, &desc); err != nil {
		return invalidf("interface at offset %d: %v", off, err)
	}
	p.leading = false
	if desc.InterfaceNumber >= MaxInterfaces {
		return exceededf("interface number %d", desc.InterfaceNumber)
	}
	if desc.AlternateSetting >= MaxAlternateSettings {
		return exceededf("alternate setting %d", desc.AlternateSetting)
	}
	if desc.NumEndpoints > MaxEndpoints {
		return exceededf("%d endpoints", desc.NumEndpoints)
	}
	if desc.InterfaceClass == 0 && desc.InterfaceSubClass != 0 {
		return invalidf("interface %d subclass without class", desc.InterfaceNumber)
	}
	if err := p.closeAlternate(); err != nil {
		return err
	}

	intf := &p.cfg.interfaces[desc.InterfaceNumber]
	alt := &intf.alts[desc.AlternateSetting]
	if alt.present {
		return invalidf("interface %d alternate %d declared twice",
			desc.InterfaceNumber, desc.AlternateSetting)
	}
	alt.desc = desc
	alt.raw = rec
	alt.present = true
	intf.numAlts++
	if desc.AlternateSetting == 0 {
		p.cfg.numInterfaces++
	}

	p.ctx = contextInterface
	p.alt, p.ep = alt, nil
	p.altCS, p.epCS = -1, -1
	return nil
}

func (p *configParser) endpoint(off int, rec []byte) error {
	alt := p.alt
	if p.ctx == contextNone || alt == nil {
		return invalidf("endpoint at offset %d outside an interface", off)
	}
	var desc EndpointDescriptor
	if err := ParseEndpointDescriptor(rec, &desc); err != nil {
		return invalidf("endpoint at offset %d: %v", off, err)
	}
	if desc.EndpointAddress&0x0F == 0 {
		return invalidf("endpoint 0 declared at offset %d", off)
	}
	if desc.Attributes&0x03 == EndpointTypeIsochronous && alt.desc.AlternateSetting == 0 {
		return invalidf("isochronous endpoint 0x%02X in alternate setting 0", desc.EndpointAddress)
	}
	if alt.numEndpoints >= int(alt.desc.NumEndpoints) {
		return invalidf("interface %d alternate %d declares %d endpoints",
			alt.desc.InterfaceNumber, alt.desc.AlternateSetting, alt.desc.NumEndpoints)
	}
	if alt.FindEndpoint(desc.EndpointAddress) != nil {
		return invalidf("endpoint 0x%02X declared twice", desc.EndpointAddress)
	}

	ep := &alt.endpoints[alt.numEndpoints]
	ep.desc = desc
	ep.raw = rec
	alt.numEndpoints++

	p.ctx = contextEndpoint
	p.ep = ep
	p.epCS = -1
	return nil
}

func (p *configParser) companion(off int, rec []byte) error {
	if p.ctx != contextEndpoint || p.ep == nil {
		return invalidf("endpoint companion at offset %d without an endpoint", off)
	}
	if p.ep.hasCompanion {
		return invalidf("second companion for endpoint 0x%02X", p.ep.desc.EndpointAddress)
	}
	if err := ParseSSEndpointCompanionDescriptor(rec, &p.ep.companion); err != nil {
		return invalidf("endpoint companion at offset %d: %v", off, err)
	}
	p.ep.hasCompanion = true
	return nil
}

// other attaches a class-specific record to the open scope. Each scope keeps
// one range spanning its first to its last class-specific record.
func (p *configParser) other(off, n int) {
	end := off + n
	switch p.ctx {
	case contextEndpoint:
		if p.epCS < 0 {
			p.epCS = off
		}
		p.ep.classSpecific = p.raw[p.epCS:end:end]
	case contextInterface:
		if p.altCS < 0 {
			p.altCS = off
		}
		p.alt.classSpecific = p.raw[p.altCS:end:end]
	default:
		if !p.leading {
			pkg.LogDebug(pkg.ComponentParser, "class-specific record outside any interface skipped",
				"offset", off, "type", p.raw[off+1])
			return
		}
		if p.cfgCS < 0 {
			p.cfgCS = off
		}
		p.cfg.classSpecific = p.raw[p.cfgCS:end:end]
	}
}

// closeAlternate checks the open alternate setting received every endpoint
// it declared.
func (p *configParser) closeAlternate() error {
	alt := p.alt
	if alt == nil {
		return nil
	}
	if alt.numEndpoints != int(alt.desc.NumEndpoints) {
		return invalidf("interface %d alternate %d has %d of %d endpoints",
			alt.desc.InterfaceNumber, alt.desc.AlternateSetting,
			alt.numEndpoints, alt.desc.NumEndpoints)
	}
	return nil
}

func (p *configParser) finish() error {
	cfg := p.cfg
	declared := int(cfg.desc.NumInterfaces)
	if cfg.numInterfaces != declared {
		return invalidf("%d interfaces found, %d declared", cfg.numInterfaces, declared)
	}
	for n := 0; n < MaxInterfaces; n++ {
		intf := &cfg.interfaces[n]
		if n < declared && !intf.alts[0].present {
			return invalidf("interface %d has no alternate setting 0", n)
		}
		if n >= declared && intf.numAlts != 0 {
			return invalidf("interface %d beyond bNumInterfaces %d", n, declared)
		}
	}
	for i := 0; i < cfg.numAssociations; i++ {
		a := &cfg.associations[i]
		if int(a.Last()) >= declared {
			return invalidf("IAD %d references interface %d of %d", i, a.Last(), declared)
		}
		for n := a.First(); n <= a.Last(); n++ {
			if cfg.interfaces[n].association >= 0 {
				return invalidf("interface %d in two associations", n)
			}
			cfg.interfaces[n].association = i
		}
	}
	cfg.raw = p.raw
	return nil
}
