// Package cdc implements USB Communications Device Class drivers for the
// function stack.
//
// Two control models are provided:
//
//   - ACM (Abstract Control Model): a virtual serial port. The host sets
//     line coding and control line state on the communication interface
//     and exchanges bytes on the data interface's bulk pipes.
//   - ECM (Ethernet Control Model): a network adapter. The host sets packet
//     and multicast filters, then selects alternate setting 1 of the data
//     interface to start exchanging Ethernet frames.
//
// Each driver serves one function: a communication interface plus the data
// interface named by its Union functional descriptor. Both are claimed when
// the communication interface is initialized.
//
// # Usage
//
//	b := device.NewConfigBuilder(1, 0, 50)
//	cdc.AppendACM(b, 0, 0x83, 0x81, 0x02, 64)
//	raw, _ := b.Build()
//
//	acm := cdc.NewACM()
//	acm.SetOnLineCodingChange(func(lc cdc.LineCoding) { ... })
//	stack.RegisterDriver(acm)
//
//	// After the host selects the configuration:
//	n, err := acm.Read(ctx, buf)
//	_, err = acm.Write(ctx, []byte("hello"))
//
// # Descriptors
//
// HeaderFunctional, CallManagementFunctional, ACMFunctional,
// UnionFunctional and EthernetFunctional produce the class-specific records
// that follow a communication interface descriptor. FindFunctional locates
// one of them in a parsed alternate setting.
package cdc
