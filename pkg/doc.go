// Package pkg provides shared utilities for the bpsgadget USB function.
//
// This package contains the ambient functionality used by the controller
// contract, the endpoint slots and the BPS gadget function:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error kinds returned by channel operations
//   - Transfer status values reported by completions
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentGadget, "configuration set", "speed", "high")
//
// # Errors
//
// Channel operations fail with one of a small set of sentinel kinds,
// usually wrapped with context:
//
//	if errors.Is(err, pkg.ErrWouldBlock) {
//	    // retry after poll reports readiness
//	}
package pkg
