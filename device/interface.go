package device

// AlternateSetting is one (bInterfaceNumber, bAlternateSetting) pair of a
// parsed configuration.
type AlternateSetting struct {
	desc          InterfaceDescriptor
	raw           []byte
	classSpecific []byte

	endpoints    [MaxEndpoints]Endpoint
	numEndpoints int
	present      bool
}

// Descriptor returns the decoded interface descriptor.
func (a *AlternateSetting) Descriptor() InterfaceDescriptor { return a.desc }

// Raw returns the interface descriptor bytes within the configuration block.
func (a *AlternateSetting) Raw() []byte { return a.raw }

// ClassSpecific returns the class-specific bytes that follow the interface
// descriptor, or nil.
func (a *AlternateSetting) ClassSpecific() []byte { return a.classSpecific }

// Value returns bAlternateSetting.
func (a *AlternateSetting) Value() uint8 { return a.desc.AlternateSetting }

// NumEndpoints returns the number of parsed endpoints.
func (a *AlternateSetting) NumEndpoints() int { return a.numEndpoints }

// Endpoint returns the endpoint in slot i, in stream order.
func (a *AlternateSetting) Endpoint(i int) *Endpoint {
	if i < 0 || i >= a.numEndpoints {
		return nil
	}
	return &a.endpoints[i]
}

// FindEndpoint returns the endpoint with the given address, or nil.
func (a *AlternateSetting) FindEndpoint(address uint8) *Endpoint {
	for i := 0; i < a.numEndpoints; i++ {
		if a.endpoints[i].desc.EndpointAddress == address {
			return &a.endpoints[i]
		}
	}
	return nil
}

// FindPipe returns the pipe of the first endpoint with the given transfer
// type and direction, or nil.
func (a *AlternateSetting) FindPipe(transferType uint8, in bool) *Pipe {
	for i := 0; i < a.numEndpoints; i++ {
		ep := &a.endpoints[i]
		if ep.TransferType() == transferType && ep.IsIn() == in {
			return &ep.pipe
		}
	}
	return nil
}

// Interface is one bInterfaceNumber slot of a configuration.
type Interface struct {
	number      uint8
	alts        [MaxAlternateSettings]AlternateSetting
	numAlts     int
	association int // index into Configuration.associations, or -1
	current     int // index into alts
	driver      ClassDriver
}

// Number returns bInterfaceNumber.
func (i *Interface) Number() uint8 { return i.number }

// NumAlternateSettings returns the number of declared alternate settings.
func (i *Interface) NumAlternateSettings() int { return i.numAlts }

// AlternateSetting returns the alternate setting with the given
// bAlternateSetting value, or nil.
func (i *Interface) AlternateSetting(value uint8) *AlternateSetting {
	if int(value) >= MaxAlternateSettings || !i.alts[value].present {
		return nil
	}
	return &i.alts[value]
}

// Current returns the active alternate setting.
func (i *Interface) Current() *AlternateSetting { return &i.alts[i.current] }

// Driver returns the class driver bound to this interface, or nil.
func (i *Interface) Driver() ClassDriver { return i.driver }

// SetDriver records d as the interface's driver. Class drivers call it from
// InitializeInterface to claim the interface.
func (i *Interface) SetDriver(d ClassDriver) { i.driver = d }

// AssociationIndex returns the index of the owning IAD, or -1.
func (i *Interface) AssociationIndex() int { return i.association }

// Association is one parsed interface association descriptor.
type Association struct {
	desc InterfaceAssociationDescriptor
	raw  []byte
}

// Descriptor returns the decoded IAD.
func (a *Association) Descriptor() InterfaceAssociationDescriptor { return a.desc }

// Raw returns the IAD bytes within the configuration block.
func (a *Association) Raw() []byte { return a.raw }

// First returns the first interface number of the association.
func (a *Association) First() uint8 { return a.desc.FirstInterface }

// Last returns the last interface number of the association.
func (a *Association) Last() uint8 { return a.desc.FirstInterface + a.desc.InterfaceCount - 1 }

// Configuration is the parsed tree of one configuration descriptor block.
type Configuration struct {
	desc          ConfigurationDescriptor
	raw           []byte
	classSpecific []byte

	interfaces    [MaxInterfaces]Interface
	numInterfaces int

	associations    [MaxAssociations]Association
	numAssociations int

	otg    OTGDescriptor
	hasOTG bool
}

// Descriptor returns the decoded configuration descriptor.
func (c *Configuration) Descriptor() ConfigurationDescriptor { return c.desc }

// Raw returns the configuration block the tree was parsed from.
func (c *Configuration) Raw() []byte { return c.raw }

// ClassSpecific returns configuration-level class-specific bytes, or nil.
func (c *Configuration) ClassSpecific() []byte { return c.classSpecific }

// Value returns bConfigurationValue.
func (c *Configuration) Value() uint8 { return c.desc.ConfigurationValue }

// IsSelfPowered reports whether the self-powered attribute is set.
func (c *Configuration) IsSelfPowered() bool {
	return c.desc.Attributes&ConfigAttrSelfPowered != 0
}

// NumInterfaces returns the number of interfaces seen at alternate setting 0.
func (c *Configuration) NumInterfaces() int { return c.numInterfaces }

// Interface returns the interface with the given number, or nil.
func (c *Configuration) Interface(number uint8) *Interface {
	if int(number) >= c.numInterfaces {
		return nil
	}
	return &c.interfaces[number]
}

// NumAssociations returns the number of IADs.
func (c *Configuration) NumAssociations() int { return c.numAssociations }

// Association returns IAD i, or nil.
func (c *Configuration) Association(i int) *Association {
	if i < 0 || i >= c.numAssociations {
		return nil
	}
	return &c.associations[i]
}

// OTG returns the OTG descriptor, if the configuration declares one.
func (c *Configuration) OTG() (OTGDescriptor, bool) { return c.otg, c.hasOTG }

// FindEndpoint searches the current alternate setting of every interface for
// address. It returns the endpoint and its interface, or nil.
func (c *Configuration) FindEndpoint(address uint8) (*Endpoint, *Interface) {
	for n := 0; n < c.numInterfaces; n++ {
		intf := &c.interfaces[n]
		if ep := intf.Current().FindEndpoint(address); ep != nil {
			return ep, intf
		}
	}
	return nil, nil
}
