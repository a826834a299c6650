// Package prof records runtime profiles of a running gadget.
//
// The package wraps [runtime/pprof] in a session: [Start] begins CPU
// profiling and contention sampling, and [Session.Stop] writes the
// requested snapshot profiles into one directory as <name>.prof. It is
// conditionally compiled using the "profile" build tag:
//
//	go build -tags profile
//	go test -tags profile
//
// When built without the "profile" tag, [Start] returns a session that
// records nothing and [Enabled] is false, allowing profiling code to stay
// in place without overhead in production.
//
// # Sessions
//
//	s, err := prof.Start(prof.Options{
//	    Dir:            "profiles",
//	    CPU:            true,
//	    Snapshots:      []prof.Profile{prof.ProfileHeap, prof.ProfileBlock, prof.ProfileMutex},
//	    ContentionRate: 1,
//	})
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// Only one session may run at a time; a second [Start] returns
// [ErrActive].
//
// # Contention
//
// Channel I/O blocks on the gadget's locks and condition variables, so
// the block and mutex profiles show where readers and writers wait.
// ContentionRate sets both the block profile rate and the mutex profile
// fraction for the life of the session; both are reset to 0 on Stop.
//
// Available snapshot profiles:
//
//   - [ProfileHeap]: Live object allocations
//   - [ProfileAllocs]: All past allocations (since program start)
//   - [ProfileGoroutine]: Stack traces of all goroutines
//   - [ProfileThreadCreate]: OS thread creation stacks
//   - [ProfileBlock]: Blocking on synchronization primitives
//   - [ProfileMutex]: Mutex contention
package prof
