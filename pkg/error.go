package pkg

import (
	"errors"
	"fmt"
)

// Configuration errors. These are programming errors by the caller and are
// returned synchronously, wrapped in a [ConfigurationError].
var (
	// ErrInvalidSize indicates a max packet size that has no SIZE code.
	ErrInvalidSize = errors.New("invalid packet size")

	// ErrUnaligned indicates a buffer address that violates DMA alignment.
	ErrUnaligned = errors.New("unaligned buffer address")

	// ErrInvalidEndpoint indicates an endpoint index out of range.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidBank indicates a bank index other than 0 or 1.
	ErrInvalidBank = errors.New("invalid bank")

	// ErrInvalidType indicates an unsupported endpoint type pair.
	ErrInvalidType = errors.New("invalid endpoint type")

	// ErrInvalidAddress indicates a device address above 127.
	ErrInvalidAddress = errors.New("invalid device address")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrWrongDirection indicates a submit on a bank of the other direction.
	ErrWrongDirection = errors.New("wrong bank direction")
)

// Protocol state errors.
var (
	// ErrBankBusy indicates a bank that is not Idle for the requested operation.
	ErrBankBusy = errors.New("bank busy")

	// ErrNotComplete indicates a drain of a bank with no finished transfer.
	ErrNotComplete = errors.New("bank not complete")

	// ErrUnexpectedCompletion indicates a completion for a bank that was not armed.
	ErrUnexpectedCompletion = errors.New("completion on bank not armed")

	// ErrNotEnabled indicates the controller has not been initialized.
	ErrNotEnabled = errors.New("controller not enabled")

	// ErrEndpointDisabled indicates an operation on an unconfigured endpoint.
	ErrEndpointDisabled = errors.New("endpoint disabled")

	// ErrNotSuspended indicates a remote wakeup request outside suspend.
	ErrNotSuspended = errors.New("device not suspended")
)

// Transfer and fault errors, delivered asynchronously through callbacks.
var (
	// ErrCRC indicates a CRC error reported in STATUS_BK.
	ErrCRC = errors.New("CRC error")

	// ErrErrorFlow indicates an underflow/overflow reported in STATUS_BK.
	ErrErrorFlow = errors.New("error flow")

	// ErrProtocolFault indicates an FSMSTATUS value outside the defined states.
	ErrProtocolFault = errors.New("protocol fault")

	// ErrDescriptorFault indicates a RAM access error on the descriptor table.
	ErrDescriptorFault = errors.New("descriptor fault")

	// ErrSyncTimeout indicates SYNCBUSY did not clear within the deadline.
	ErrSyncTimeout = errors.New("synchronization timeout")

	// ErrFrameCRC indicates a frame number received with a CRC error.
	ErrFrameCRC = errors.New("frame number CRC error")
)

// Host-side handshake results reported by simulated traffic.
var (
	// ErrStall indicates the endpoint answered with STALL.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates the endpoint answered with NAK.
	ErrNAK = errors.New("NAK")
)

// ConfigurationError reports an invalid configuration or submit argument.
type ConfigurationError struct {
	Endpoint uint8
	Bank     uint8
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("ep%d bank%d: configuration: %v", e.Endpoint, e.Bank, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransferError reports a failed transfer on one bank. The bank has been
// returned to software; the engine never resubmits it.
type TransferError struct {
	Endpoint uint8
	Bank     uint8
	Err      error

	// Retryable is false for isochronous endpoints, which have no
	// handshake phase and must drop the frame.
	Retryable bool
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("ep%d bank%d: transfer: %v", e.Endpoint, e.Bank, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ProtocolFault reports an undefined FSMSTATUS pattern. It is fatal to the
// connection and requires a controller reset.
type ProtocolFault struct {
	Status uint8
}

func (e *ProtocolFault) Error() string {
	return fmt.Sprintf("fsm status 0x%02X: %v", e.Status, ErrProtocolFault)
}

func (e *ProtocolFault) Unwrap() error { return ErrProtocolFault }

// DescriptorFault reports a RAM access error. Endpoints is a bitmask of the
// endpoints halted because hardware held one of their banks.
type DescriptorFault struct {
	Endpoints uint16
}

func (e *DescriptorFault) Error() string {
	return fmt.Sprintf("endpoints 0x%04X halted: %v", e.Endpoints, ErrDescriptorFault)
}

func (e *DescriptorFault) Unwrap() error { return ErrDescriptorFault }

// IsFatal reports whether err requires re-enumeration (a protocol or
// descriptor fault) rather than a simple retry.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProtocolFault) || errors.Is(err, ErrDescriptorFault)
}
