// Package msc implements the mass storage class driver: Bulk-Only
// Transport carrying the SCSI transparent command set.
//
// Each command is a CBW read from the bulk OUT pipe, an optional data
// phase, and a CSW written to the bulk IN pipe. Serve runs that loop on the
// pipes of the bound interface; the control requests BULK_ONLY_RESET and
// GET_MAX_LUN arrive through NewSetup while it runs.
//
// Logical units are backed by Storage. MemoryStorage is a RAM disk with
// optional removable media and FileStorage serves a disk image.
//
//	disk := msc.NewMemoryStorage(2048, 512)
//	drv := msc.New("usbfunc", "RAM Disk", disk)
//	raw, _ := msc.AppendMSC(device.NewConfigBuilder(1, 0, 50), 0, 0x81, 0x02, 64).Build()
//	...
//	stack.RegisterDriver(drv)
//	go drv.Serve(ctx)
//
// Supported commands are TEST UNIT READY, REQUEST SENSE, INQUIRY, MODE
// SENSE(6/10), START STOP UNIT, PREVENT ALLOW MEDIUM REMOVAL, READ FORMAT
// CAPACITIES, READ CAPACITY(10/16), READ(10/16), WRITE(10/16), VERIFY(10)
// and SYNCHRONIZE CACHE(10). Anything else fails with ILLEGAL REQUEST.
package msc
