// Package hal defines the contract between a USB device controller and the
// function driver that runs on top of it.
//
// The controller owns the hardware endpoints. A function driver borrows
// them, submits [Request] values on them, and learns about the outcome
// through each request's completion callback. The controller, in turn,
// reports bus events (setup packets, suspend, resume, disconnect) through
// the [Driver] interface.
//
// # Execution Contexts
//
// Completion callbacks and [Driver] callbacks run in the controller's
// event context, the equivalent of an interrupt handler. They must not
// block or wait on anything the event context itself has to deliver.
//
// [Controller.Dequeue] may give a request back synchronously, in the
// caller's goroutine. Callers must therefore not hold any lock that the
// request's completion callback acquires.
//
// # Request Lifecycle
//
//	Queue ──► pending ──► completion(Status, Actual)
//	              │
//	              └─ Dequeue / Disable ──► completion(ErrCancelled / ErrShutdown)
//
// Every request accepted by [Controller.Queue] is given back exactly once.
//
// An in-memory controller for tests and simulation is available in
// [github.com/ardnew/bpsgadget/device/hal/sim].
package hal
