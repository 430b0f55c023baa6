// Package pkg provides shared utilities for the usbfunc function stack.
//
// This package contains common functionality used by the device stack,
// its hardware abstraction and the class drivers:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for the stack's status taxonomy
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentStack, "device configured", "config", 1)
//
// # Errors
//
// Every status the stack reports is a sentinel value:
//
//	if errors.Is(err, pkg.ErrInvalidDescriptor) {
//	    // Malformed descriptor bytes
//	}
//
// Any error returned for a SETUP packet means the control endpoint should
// be stalled.
package pkg
