package pkg

import "errors"

// Stack status errors.
var (
	// ErrInvalidArgument indicates bad caller input such as an out-of-range
	// index or a request field that must be zero.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidDescriptor indicates a malformed descriptor byte stream.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrMaxExceeded indicates a fixed capacity was exhausted by otherwise
	// well-formed data.
	ErrMaxExceeded = errors.New("maximum exceeded")

	// ErrInvalidRequest indicates a well-formed request that is illegal in
	// the current state.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrNotSupported indicates an optional request or feature the stack declines.
	ErrNotSupported = errors.New("not supported")

	// ErrNotPresent indicates the referenced device, driver or capability
	// does not exist.
	ErrNotPresent = errors.New("not present")

	// ErrRequestError indicates a descriptor the device does not provide,
	// such as a device qualifier on a full-speed-only device.
	ErrRequestError = errors.New("request error")
)

// Encoding errors.
var (
	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// Transfer errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")
)

// TransferStatus represents the completion status of an IRP.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusPending   TransferStatus = iota // Not yet completed
	TransferStatusSuccess                         // Transfer completed successfully
	TransferStatusError                           // Transfer failed with error
	TransferStatusStall                           // Endpoint stalled
	TransferStatusTimeout                         // Transfer timed out
	TransferStatusCancelled                       // Transfer was cancelled
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusPending:
		return "pending"
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusStall:
		return "stall"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Err returns the corresponding error for the transfer status.
func (s TransferStatus) Err() error {
	switch s {
	case TransferStatusPending, TransferStatusSuccess:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusTimeout:
		return ErrTimeout
	case TransferStatusCancelled:
		return ErrCancelled
	default:
		return ErrInvalidRequest
	}
}

// StatusOf classifies err as a transfer status.
func StatusOf(err error) TransferStatus {
	switch {
	case err == nil:
		return TransferStatusSuccess
	case errors.Is(err, ErrStall):
		return TransferStatusStall
	case errors.Is(err, ErrTimeout):
		return TransferStatusTimeout
	case errors.Is(err, ErrCancelled):
		return TransferStatusCancelled
	default:
		return TransferStatusError
	}
}
