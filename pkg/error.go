package pkg

import "errors"

// Channel operation errors.
var (
	// ErrInvalidArgument indicates a nil or empty buffer, or a value outside
	// the accepted set.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrWouldBlock indicates a non-blocking call found its endpoint busy.
	ErrWouldBlock = errors.New("operation would block")

	// ErrNotReady indicates the device is unconfigured or suspended.
	ErrNotReady = errors.New("device not ready")

	// ErrBusy indicates the resource is already in use.
	ErrBusy = errors.New("resource busy")

	// ErrIO indicates the controller rejected a submission or a transfer failed.
	ErrIO = errors.New("i/o error")

	// ErrInterrupted indicates a blocking wait was interrupted by its caller.
	ErrInterrupted = errors.New("interrupted")

	// ErrAborted indicates a blocking wait was released because the channel
	// was closed underneath it.
	ErrAborted = errors.New("aborted")

	// ErrUnsupported indicates an unrecognized request or control code.
	ErrUnsupported = errors.New("not supported")

	// ErrClosed indicates an operation on a closed handle.
	ErrClosed = errors.New("handle closed")
)

// Controller and binding errors.
var (
	// ErrNoEndpoint indicates no hardware endpoint could satisfy a role.
	ErrNoEndpoint = errors.New("no matching endpoint")

	// ErrNoMemory indicates a request or buffer could not be allocated.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrNotBound indicates the function driver is not bound to a controller.
	ErrNotBound = errors.New("not bound")

	// ErrAlreadyRunning indicates the controller is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the controller is not running.
	ErrNotRunning = errors.New("not running")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")
)

// Transfer completion errors.
var (
	// ErrCancelled indicates the request was dequeued before it completed.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrShutdown indicates the endpoint was disabled with the request queued.
	ErrShutdown = errors.New("endpoint shut down")

	// ErrStall indicates the host or controller stalled the endpoint.
	ErrStall = errors.New("endpoint stalled")

	// ErrOverflow indicates the host sent more data than the request holds.
	ErrOverflow = errors.New("data overflow")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")
)

// TransferStatus classifies the outcome of a completed transfer.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess   TransferStatus = iota // Transfer completed successfully
	TransferStatusError                           // Transfer failed with error
	TransferStatusStall                           // Endpoint stalled
	TransferStatusCancelled                       // Request dequeued
	TransferStatusShutdown                        // Endpoint disabled
	TransferStatusOverflow                        // Host sent too much data
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusStall:
		return "stall"
	case TransferStatusCancelled:
		return "cancelled"
	case TransferStatusShutdown:
		return "shutdown"
	case TransferStatusOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the transfer status.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusCancelled:
		return ErrCancelled
	case TransferStatusShutdown:
		return ErrShutdown
	case TransferStatusOverflow:
		return ErrOverflow
	default:
		return ErrProtocol
	}
}

// StatusOf classifies a completion error.
func StatusOf(err error) TransferStatus {
	switch {
	case err == nil:
		return TransferStatusSuccess
	case errors.Is(err, ErrStall):
		return TransferStatusStall
	case errors.Is(err, ErrCancelled):
		return TransferStatusCancelled
	case errors.Is(err, ErrShutdown):
		return TransferStatusShutdown
	case errors.Is(err, ErrOverflow):
		return TransferStatusOverflow
	default:
		return TransferStatusError
	}
}
