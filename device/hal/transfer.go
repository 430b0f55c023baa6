package hal

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/usbfunc/pkg"
)

// TransferCallback is called when a transfer completes.
type TransferCallback func(t *Transfer)

// Transfer is an I/O request submitted to a pipe. The stack keeps one per
// device for the control endpoint.
type Transfer struct {
	// Buffer is the data stage; Length is the number of bytes to move.
	Buffer []byte
	Length int

	// In is set for device-to-host transfers.
	In bool

	// ZeroLengthPacket requests a terminating zero-length packet after a
	// transfer that ends on a packet boundary.
	ZeroLengthPacket bool

	// Actual is the number of bytes moved, set on completion.
	Actual int

	Status pkg.TransferStatus
	Error  error

	Callback TransferCallback

	ctx       context.Context
	cancelled uint32

	mutex     sync.Mutex
	completed bool
}

// NewTransfer creates a transfer for buf.
func NewTransfer(buf []byte, in bool) *Transfer {
	return &Transfer{
		Buffer: buf,
		Length: len(buf),
		In:     in,
		ctx:    context.Background(),
	}
}

// WithContext sets a custom context for the transfer.
func (t *Transfer) WithContext(ctx context.Context) *Transfer {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.ctx = ctx
	return t
}

// WithCallback sets the completion callback.
func (t *Transfer) WithCallback(cb TransferCallback) *Transfer {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.Callback = cb
	return t
}

// Context returns the transfer's context.
func (t *Transfer) Context() context.Context {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

// Data returns the bytes of the data stage.
func (t *Transfer) Data() []byte {
	if t.Length > len(t.Buffer) {
		return t.Buffer
	}
	return t.Buffer[:t.Length]
}

// Cancel cancels the transfer.
func (t *Transfer) Cancel() {
	if atomic.CompareAndSwapUint32(&t.cancelled, 0, 1) {
		t.mutex.Lock()
		t.Status = pkg.TransferStatusCancelled
		t.Error = pkg.ErrCancelled
		t.mutex.Unlock()
	}
}

// Complete marks the transfer as completed and runs the callback once.
func (t *Transfer) Complete(status pkg.TransferStatus, actual int, err error) {
	t.mutex.Lock()
	if t.completed {
		t.mutex.Unlock()
		return
	}
	t.completed = true
	t.Status = status
	t.Actual = actual
	t.Error = err
	cb := t.Callback
	t.mutex.Unlock()

	if cb != nil {
		cb(t)
	}
}

// IsCompleted returns true if the transfer is complete.
func (t *Transfer) IsCompleted() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.completed
}

// IsCancelled returns true if the transfer was cancelled.
func (t *Transfer) IsCancelled() bool {
	return atomic.LoadUint32(&t.cancelled) != 0
}

// IsSuccess returns true if the transfer completed successfully.
func (t *Transfer) IsSuccess() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.completed && t.Status == pkg.TransferStatusSuccess
}

// Reset clears the transfer for reuse, dropping its buffer and callback.
func (t *Transfer) Reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.Buffer = nil
	t.Length = 0
	t.In = false
	t.ZeroLengthPacket = false
	t.Actual = 0
	t.Status = pkg.TransferStatusPending
	t.Error = nil
	t.Callback = nil
	t.completed = false
	atomic.StoreUint32(&t.cancelled, 0)
	t.ctx = context.Background()
}
