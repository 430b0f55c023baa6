package device

import (
	"fmt"

	"github.com/ardnew/usbfunc/device/hal"
)

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     = 0x00 // Control transfer
	EndpointTypeIsochronous = 0x01 // Isochronous transfer
	EndpointTypeBulk        = 0x02 // Bulk transfer
	EndpointTypeInterrupt   = 0x03 // Interrupt transfer
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// Endpoint is one parsed endpoint of an alternate setting.
type Endpoint struct {
	desc          EndpointDescriptor
	raw           []byte
	classSpecific []byte

	companion    SSEndpointCompanionDescriptor
	hasCompanion bool

	pipe Pipe
}

// Pipe binds an opened endpoint to its owning device. The zero value is a
// closed pipe.
type Pipe struct {
	device   *Device
	endpoint *Endpoint
}

// Device returns the device owning the pipe, or nil if the pipe is closed.
func (p *Pipe) Device() *Device { return p.device }

// Endpoint returns the endpoint bound to the pipe, or nil if the pipe is closed.
func (p *Pipe) Endpoint() *Endpoint { return p.endpoint }

// IsOpen reports whether the pipe is open in hardware.
func (p *Pipe) IsOpen() bool { return p.endpoint != nil }

// Descriptor returns the decoded endpoint descriptor.
func (e *Endpoint) Descriptor() EndpointDescriptor { return e.desc }

// Raw returns the endpoint descriptor bytes within the configuration block.
func (e *Endpoint) Raw() []byte { return e.raw }

// ClassSpecific returns the class-specific bytes that follow the endpoint
// descriptor, or nil.
func (e *Endpoint) ClassSpecific() []byte { return e.classSpecific }

// Companion returns the SuperSpeed companion descriptor, if one was declared.
func (e *Endpoint) Companion() (SSEndpointCompanionDescriptor, bool) {
	return e.companion, e.hasCompanion
}

// Pipe returns the endpoint's pipe binding.
func (e *Endpoint) Pipe() *Pipe { return &e.pipe }

// Address returns the endpoint address including direction.
func (e *Endpoint) Address() uint8 { return e.desc.EndpointAddress }

// Number returns the endpoint number (0-15).
func (e *Endpoint) Number() uint8 { return e.desc.EndpointAddress & 0x0F }

// Direction returns the endpoint direction (EndpointDirectionIn or EndpointDirectionOut).
func (e *Endpoint) Direction() uint8 { return e.desc.EndpointAddress & 0x80 }

// IsIn returns true if this is an IN endpoint (device to host).
func (e *Endpoint) IsIn() bool { return e.Direction() == EndpointDirectionIn }

// TransferType returns the transfer type (Control, Isochronous, Bulk, or Interrupt).
func (e *Endpoint) TransferType() uint8 { return e.desc.Attributes & 0x03 }

// IsIsochronous returns true if this is an isochronous endpoint.
func (e *Endpoint) IsIsochronous() bool { return e.TransferType() == EndpointTypeIsochronous }

// MaxPacketSize returns wMaxPacketSize.
func (e *Endpoint) MaxPacketSize() uint16 { return e.desc.MaxPacketSize }

// PipeConfig returns the hardware pipe parameters for this endpoint.
func (e *Endpoint) PipeConfig() hal.PipeConfig {
	cfg := hal.PipeConfig{
		Address:       e.desc.EndpointAddress,
		Attributes:    e.desc.Attributes,
		MaxPacketSize: e.desc.MaxPacketSize,
		Interval:      e.desc.Interval,
	}
	if e.hasCompanion {
		cfg.MaxBurst = e.companion.MaxBurst
		cfg.SSAttributes = e.companion.Attributes
		cfg.BytesPerInterval = e.companion.BytesPerInterval
	}
	return cfg
}

// String returns a short description such as "EP 0x81 IN Bulk 512".
func (e *Endpoint) String() string {
	dir := "OUT"
	if e.IsIn() {
		dir = "IN"
	}
	return fmt.Sprintf("EP 0x%02X %s %s %d", e.Address(), dir,
		TransferTypeName(e.TransferType()), e.MaxPacketSize())
}

// TransferTypeName returns a human-readable name for a transfer type.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	default:
		return "Interrupt"
	}
}
