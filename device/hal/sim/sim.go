package sim

import (
	"fmt"
	"sync"

	"github.com/ardnew/usbfunc/device/hal"
	"github.com/ardnew/usbfunc/pkg"
)

// Op names a Controller method in the call journal.
type Op string

// Journaled operations.
const (
	OpOpenPipe           Op = "OpenPipe"
	OpOpenSuperSpeedPipe Op = "OpenSuperSpeedPipe"
	OpClosePipe          Op = "ClosePipe"
	OpStallEndpoint      Op = "StallEndpoint"
	OpUnstallEndpoint    Op = "UnstallEndpoint"
	OpSetAddress         Op = "SetAddress"
	OpSetTestMode        Op = "SetTestMode"
	OpStartHNP           Op = "StartHNP"
	OpSetUxEnable        Op = "SetUxEnable"
	OpSetLTMEnable       Op = "SetLTMEnable"
	OpEnterLinkState     Op = "EnterLinkState"
	OpFunctionSuspend    Op = "FunctionSuspend"
	OpSubmitControl      Op = "SubmitControl"
	OpSubmit             Op = "Submit"
)

// Call is one journal entry. Address is the endpoint address or interface
// number the call targeted; Value carries its argument, if any.
type Call struct {
	Op      Op
	Address uint8
	Value   uint32
}

// String returns a short description such as "OpenPipe(0x81)".
func (c Call) String() string {
	if c.Value != 0 {
		return fmt.Sprintf("%s(0x%02X, %d)", c.Op, c.Address, c.Value)
	}
	return fmt.Sprintf("%s(0x%02X)", c.Op, c.Address)
}

// numPipes covers endpoint numbers 0-15 in both directions.
const numPipes = 32

// MaxInterfaces bounds the interface numbers tracked for function suspend.
const MaxInterfaces = 32

type pipe struct {
	cfg        hal.PipeConfig
	open       bool
	superSpeed bool
	halted     bool
	failOpen   error
	queue      []*hal.Transfer
}

// Controller is an in-memory hal.Controller. It is safe for concurrent use.
type Controller struct {
	mutex sync.Mutex

	capability uint32
	status     uint16
	address    uint8
	testMode   uint8
	hnp        bool
	u1, u2     bool
	ltm        bool
	linkState  uint8
	suspend    [MaxInterfaces]uint8

	pipes [numPipes]pipe

	lastControl []byte
	lastIn      bool
	lastZLP     bool
	pending     *hal.Transfer
	controlOut  [][]byte

	journal []Call
}

var _ hal.Controller = (*Controller)(nil)

// New creates a controller that handles no standard requests itself.
func New() *Controller {
	return &Controller{}
}

// pipeIndex maps OUT endpoints to 0-15 and IN endpoints to 16-31.
func pipeIndex(address uint8) int {
	if address&0x80 != 0 {
		return int(address&0x0F) + 16
	}
	return int(address & 0x0F)
}

func (c *Controller) record(op Op, address uint8, value uint32) {
	c.journal = append(c.journal, Call{Op: op, Address: address, Value: value})
}

// SetCapability sets the bitmask returned by Capability.
func (c *Controller) SetCapability(caps uint32) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.capability = caps
}

// SetStatus sets the device status bits returned by Status, such as
// hal.StatusSelfPowered.
func (c *Controller) SetStatus(status uint16) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.status = status
}

// FailOpen makes opening the pipe at address fail with err. A nil err
// clears the failure.
func (c *Controller) FailOpen(address uint8, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.pipes[pipeIndex(address)].failOpen = err
}

func (c *Controller) openPipe(op Op, cfg hal.PipeConfig, superSpeed bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.record(op, cfg.Address, uint32(cfg.MaxPacketSize))

	p := &c.pipes[pipeIndex(cfg.Address)]
	if p.failOpen != nil {
		return p.failOpen
	}
	if p.open {
		return pkg.ErrInvalidState
	}
	*p = pipe{cfg: cfg, open: true, superSpeed: superSpeed}
	pkg.LogDebug(pkg.ComponentHAL, "pipe opened",
		"address", cfg.Address, "maxPacketSize", cfg.MaxPacketSize)
	return nil
}

// OpenPipe opens an endpoint.
func (c *Controller) OpenPipe(cfg hal.PipeConfig) error {
	return c.openPipe(OpOpenPipe, cfg, false)
}

// OpenSuperSpeedPipe opens an endpoint with its companion parameters.
func (c *Controller) OpenSuperSpeedPipe(cfg hal.PipeConfig) error {
	return c.openPipe(OpOpenSuperSpeedPipe, cfg, true)
}

// ClosePipe closes an endpoint and cancels its queued transfers.
func (c *Controller) ClosePipe(address uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.record(OpClosePipe, address, 0)

	p := &c.pipes[pipeIndex(address)]
	if !p.open {
		return pkg.ErrInvalidState
	}
	queue := p.queue
	*p = pipe{failOpen: p.failOpen}
	for _, t := range queue {
		t.Complete(pkg.TransferStatusCancelled, 0, pkg.ErrCancelled)
	}
	pkg.LogDebug(pkg.ComponentHAL, "pipe closed", "address", address)
	return nil
}

// IsOpen reports whether the pipe at address is open.
func (c *Controller) IsOpen(address uint8) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.pipes[pipeIndex(address)].open
}

// IsSuperSpeed reports whether the pipe at address was opened with
// OpenSuperSpeedPipe.
func (c *Controller) IsSuperSpeed(address uint8) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.pipes[pipeIndex(address)].superSpeed
}

// Pipe returns the configuration the pipe at address was opened with.
func (c *Controller) Pipe(address uint8) (hal.PipeConfig, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	p := &c.pipes[pipeIndex(address)]
	return p.cfg, p.open
}

// OpenPipes returns the addresses of all open pipes.
func (c *Controller) OpenPipes() []uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var out []uint8
	for i := range c.pipes {
		if c.pipes[i].open {
			out = append(out, c.pipes[i].cfg.Address)
		}
	}
	return out
}

// usable reports whether address names EP0 or an open pipe.
func (c *Controller) usable(address uint8) bool {
	return address&0x0F == 0 || c.pipes[pipeIndex(address)].open
}

// StallEndpoint sets the halt feature on an endpoint.
func (c *Controller) StallEndpoint(address uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.record(OpStallEndpoint, address, 0)
	if !c.usable(address) {
		return pkg.ErrInvalidArgument
	}
	c.pipes[pipeIndex(address)].halted = true
	pkg.LogDebug(pkg.ComponentHAL, "endpoint stalled", "address", address)
	return nil
}

// UnstallEndpoint clears the halt feature on an endpoint.
func (c *Controller) UnstallEndpoint(address uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.record(OpUnstallEndpoint, address, 0)
	if !c.usable(address) {
		return pkg.ErrInvalidArgument
	}
	c.pipes[pipeIndex(address)].halted = false
	pkg.LogDebug(pkg.ComponentHAL, "endpoint stall cleared", "address", address)
	return nil
}

// IsHalted reports whether the endpoint at address is halted.
func (c *Controller) IsHalted(address uint8) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.pipes[pipeIndex(address)].halted
}

// EndpointStatus returns hal.StatusEndpointHalt for a halted endpoint.
func (c *Controller) EndpointStatus(address uint8) (uint16, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.usable(address) {
		return 0, pkg.ErrInvalidArgument
	}
	if c.pipes[pipeIndex(address)].halted {
		return hal.StatusEndpointHalt, nil
	}
	return 0, nil
}

// Status returns the device status bits, including the link power enables.
func (c *Controller) Status() (uint16, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	status := c.status
	if c.u1 {
		status |= hal.StatusU1Enabled
	}
	if c.u2 {
		status |= hal.StatusU2Enabled
	}
	if c.ltm {
		status |= hal.StatusLTMEnabled
	}
	return status, nil
}

// SetAddress programs the function address.
func (c *Controller) SetAddress(address uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.record(OpSetAddress, address, 0)
	c.address = address
	pkg.LogDebug(pkg.ComponentHAL, "address set", "address", address)
	return nil
}

// Address returns the programmed function address.
func (c *Controller) Address() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.address
}

// Capability returns the bitmask set with SetCapability.
func (c *Controller) Capability() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.capability
}

// SetTestMode records a test mode selector.
func (c *Controller) SetTestMode(mode uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.record(OpSetTestMode, 0, uint32(mode))
	c.testMode = mode
	return nil
}

// TestMode returns the last test mode selector.
func (c *Controller) TestMode() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.testMode
}

// StartHNP records the start of host negotiation.
func (c *Controller) StartHNP() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.record(OpStartHNP, 0, 0)
	c.hnp = true
	return nil
}

// HNPStarted reports whether StartHNP was called.
func (c *Controller) HNPStarted() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.hnp
}

// SetUxEnable enables or disables U1 or U2 initiation.
func (c *Controller) SetUxEnable(state uint8, enable bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var v uint32
	if enable {
		v = 1
	}
	c.record(OpSetUxEnable, state, v)
	switch state {
	case hal.LinkStateU1:
		c.u1 = enable
	case hal.LinkStateU2:
		c.u2 = enable
	default:
		return pkg.ErrInvalidArgument
	}
	return nil
}

// SetLTMEnable enables or disables Latency Tolerance Messages.
func (c *Controller) SetLTMEnable(enable bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var v uint32
	if enable {
		v = 1
	}
	c.record(OpSetLTMEnable, 0, v)
	c.ltm = enable
	return nil
}

// LinkPower returns the U1, U2 and LTM enables.
func (c *Controller) LinkPower() (u1, u2, ltm bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.u1, c.u2, c.ltm
}

// EnterLinkState records a link state transition.
func (c *Controller) EnterLinkState(state uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.record(OpEnterLinkState, state, 0)
	c.linkState = state
	return nil
}

// LinkState returns the last link state entered.
func (c *Controller) LinkState() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.linkState
}

// FunctionSuspend records suspend options for an interface.
func (c *Controller) FunctionSuspend(intf, options uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.record(OpFunctionSuspend, intf, uint32(options))
	if int(intf) >= MaxInterfaces {
		return pkg.ErrInvalidArgument
	}
	c.suspend[intf] = options
	return nil
}

// SuspendOptions returns the options last applied to an interface.
func (c *Controller) SuspendOptions(intf uint8) uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if int(intf) >= MaxInterfaces {
		return 0
	}
	return c.suspend[intf]
}

// QueueControlOut queues data for the next OUT control data stage.
func (c *Controller) QueueControlOut(data []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.controlOut = append(c.controlOut, append([]byte(nil), data...))
}

// SubmitControl completes IN stages immediately. OUT stages complete with
// queued data, or wait for DeliverControl.
func (c *Controller) SubmitControl(t *hal.Transfer) error {
	if t == nil {
		return pkg.ErrInvalidArgument
	}
	c.mutex.Lock()
	c.record(OpSubmitControl, 0, uint32(t.Length))

	if t.In {
		c.lastControl = append(c.lastControl[:0], t.Data()...)
		c.lastIn = true
		c.lastZLP = t.ZeroLengthPacket
		c.pending = nil
		c.mutex.Unlock()
		t.Complete(pkg.TransferStatusSuccess, len(t.Data()), nil)
		return nil
	}

	c.lastControl = c.lastControl[:0]
	c.lastIn = false
	c.lastZLP = false
	if len(c.controlOut) == 0 {
		c.pending = t
		c.mutex.Unlock()
		return nil
	}
	data := c.controlOut[0]
	c.controlOut = c.controlOut[1:]
	c.mutex.Unlock()
	deliver(t, data)
	return nil
}

// DeliverControl completes a pending OUT control stage with data.
func (c *Controller) DeliverControl(data []byte) error {
	c.mutex.Lock()
	t := c.pending
	c.pending = nil
	c.mutex.Unlock()
	if t == nil {
		return pkg.ErrInvalidState
	}
	deliver(t, data)
	return nil
}

func deliver(t *hal.Transfer, data []byte) {
	n := copy(t.Buffer[:min(t.Length, len(t.Buffer))], data)
	t.Complete(pkg.TransferStatusSuccess, n, nil)
}

// LastControl returns the bytes of the last IN control data stage and
// whether a zero-length packet was requested after it.
func (c *Controller) LastControl() (data []byte, zlp bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.lastIn {
		return nil, false
	}
	return append([]byte(nil), c.lastControl...), c.lastZLP
}

// Submit queues a transfer on an open, unhalted pipe.
func (c *Controller) Submit(address uint8, t *hal.Transfer) error {
	if t == nil {
		return pkg.ErrInvalidArgument
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.record(OpSubmit, address, uint32(t.Length))

	p := &c.pipes[pipeIndex(address)]
	if !p.open {
		return pkg.ErrInvalidArgument
	}
	if p.halted {
		return pkg.ErrStall
	}
	p.queue = append(p.queue, t)
	return nil
}

// Pending returns the number of transfers queued on an endpoint. Cancelled
// transfers are not counted.
func (c *Controller) Pending(address uint8) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	p := &c.pipes[pipeIndex(address)]
	p.dropCancelled()
	return len(p.queue)
}

func (p *pipe) dropCancelled() {
	for len(p.queue) > 0 && p.queue[0].IsCancelled() {
		p.queue = p.queue[1:]
	}
}

// Complete finishes the oldest transfer queued on address. For an OUT
// endpoint data is copied into the transfer; for an IN endpoint the
// transfer's data is returned.
func (c *Controller) Complete(address uint8, data []byte) ([]byte, error) {
	c.mutex.Lock()
	p := &c.pipes[pipeIndex(address)]
	p.dropCancelled()
	if len(p.queue) == 0 {
		c.mutex.Unlock()
		return nil, pkg.ErrInvalidState
	}
	t := p.queue[0]
	p.queue = p.queue[1:]
	c.mutex.Unlock()

	if address&0x80 != 0 {
		out := append([]byte(nil), t.Data()...)
		t.Complete(pkg.TransferStatusSuccess, len(out), nil)
		return out, nil
	}
	deliver(t, data)
	return nil, nil
}

// Calls returns a copy of the call journal.
func (c *Controller) Calls() []Call {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]Call(nil), c.journal...)
}

// CallsOf returns the journal entries for one operation.
func (c *Controller) CallsOf(op Op) []Call {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var out []Call
	for _, call := range c.journal {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

// ClearCalls empties the call journal.
func (c *Controller) ClearCalls() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.journal = c.journal[:0]
}
