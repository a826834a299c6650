package prof

// Profile represents a pprof profile type.
type Profile string

// Profile type constants.
const (
	ProfileCPU          Profile = "cpu"
	ProfileHeap         Profile = "heap"
	ProfileAllocs       Profile = "allocs"
	ProfileGoroutine    Profile = "goroutine"
	ProfileThreadCreate Profile = "threadcreate"
	ProfileBlock        Profile = "block"
	ProfileMutex        Profile = "mutex"
)

// String returns the string representation of the profile type.
func (p Profile) String() string {
	return string(p)
}

// Options selects what a session records.
type Options struct {
	// Dir receives one <profile>.prof file per recorded profile.
	Dir string

	// CPU streams a CPU profile for the life of the session.
	CPU bool

	// Snapshots are written when the session stops.
	Snapshots []Profile

	// ContentionRate enables block and mutex sampling when positive.
	ContentionRate int
}
