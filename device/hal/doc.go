// Package hal defines the boundary between the USB function protocol core
// and controller hardware.
//
// A [Controller] opens and closes pipes, stalls endpoints, programs the
// function address and applies SuperSpeed link power features. The core
// calls it synchronously while processing a SETUP packet or a bus event, so
// implementations must return promptly.
//
// Controllers that complete some standard requests in hardware advertise
// them through [Controller.Capability] so the core can mirror the resulting
// device state instead of issuing the request again.
//
// Control data stages and class data are moved with [Transfer] values. The
// core owns one control transfer per device and hands it to
// [Controller.SubmitControl] when a request has a data stage.
//
// An in-memory controller for tests and replay tooling is available in
// [github.com/ardnew/usbfunc/device/hal/sim].
package hal
