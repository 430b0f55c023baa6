// Package sim implements an in-memory [hal.Controller] for testing and
// replaying USB function sessions without hardware.
//
// The controller keeps the state a real function controller would hold
// (open and halted pipes, function address, link power enables, test mode
// and function suspend options) and records every call in a journal that
// tests assert against.
//
// # Control Transfers
//
// IN data stages submitted through SubmitControl complete immediately and
// their bytes are kept for inspection with LastControl. OUT data stages
// complete immediately if data was queued with QueueControlOut, otherwise
// they stay pending until DeliverControl is called.
//
// # Failure Injection
//
// FailOpen makes OpenPipe and OpenSuperSpeedPipe fail for one endpoint
// address, which exercises the rollback paths of the stack:
//
//	ctrl := sim.New()
//	ctrl.FailOpen(0x82, pkg.ErrStall)
//
// # Data Transfers
//
// Submit queues a transfer on an open pipe. Complete finishes the oldest
// queued transfer of an endpoint, playing the part of the host.
package sim
