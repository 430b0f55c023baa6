// Package dfu implements the Device Firmware Upgrade class driver.
//
// A runtime driver (NewRuntime) sits on the DFU interface of an
// application configuration. The host sends DETACH and resets the bus,
// at which point SetOnDetach's callback should re-enumerate the function
// with a DFU mode configuration.
//
// A DFU mode driver (New) runs the DNLOAD, UPLOAD, GETSTATUS, CLRSTATUS,
// GETSTATE and ABORT requests through the DFU state machine, from dfuIDLE
// through the download, manifestation and upload states to dfuERROR. Blocks
// are stored through a Firmware; MemoryFirmware keeps the image in memory.
//
//	fw := dfu.NewMemoryFirmware(nil, 256, 64*1024)
//	drv := dfu.New(fw, dfu.AttrCanDnload|dfu.AttrManifestationTolerant, 256)
//	raw, _ := dfu.AppendDFU(device.NewConfigBuilder(1, 0, 50), drv, 0).Build()
package dfu
