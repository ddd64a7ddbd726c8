// Package pkg provides shared utilities for the samusb controller engine.
//
// This package contains functionality used by every layer of the engine
// and by the simulator:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors and typed error wrappers for configuration, transfer,
//     protocol and descriptor faults
//   - Component identifiers for log filtering
//
// The package has no external dependencies so that it builds unchanged
// under TinyGo.
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component tag:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogDebug(pkg.ComponentBank, "bank armed", "ep", 1, "bank", 0)
//
// Disabled levels return before any argument slice is built, so logging
// calls are safe on the interrupt path.
//
// # Errors
//
// Synchronous failures wrap a sentinel in a [ConfigurationError] or return
// [ErrBankBusy] directly. Asynchronous failures arrive through callbacks as
// [TransferError], [ProtocolFault] or [DescriptorFault]:
//
//	var te *pkg.TransferError
//	if errors.As(err, &te) && te.Retryable {
//	    // resubmit
//	}
package pkg
