//go:build profile

package prof

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Profiling errors.
var (
	// ErrActive indicates a session is already running.
	ErrActive = errors.New("profiling session already active")

	// ErrInvalidProfile indicates an invalid or unsupported profile type.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Enabled reports whether the binary was built with profiling support.
const Enabled = true

var (
	// active guards against overlapping sessions; the runtime allows only
	// one CPU profile at a time.
	activeMu sync.Mutex
	active   *Session
)

// Session is a running profiling session.
type Session struct {
	opts    Options
	cpuFile *os.File

	mu      sync.Mutex
	stopped bool
}

// Start begins a session. The output directory is created if needed.
func Start(opts Options) (*Session, error) {
	for _, p := range opts.Snapshots {
		if p == ProfileCPU || pprof.Lookup(string(p)) == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProfile, p)
		}
	}

	activeMu.Lock()
	defer activeMu.Unlock()
	if active != nil {
		return nil, ErrActive
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}

	s := &Session{opts: opts}
	if opts.CPU {
		f, err := os.Create(s.Path(ProfileCPU))
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, err
		}
		s.cpuFile = f
	}
	if opts.ContentionRate > 0 {
		runtime.SetBlockProfileRate(opts.ContentionRate)
		runtime.SetMutexProfileFraction(opts.ContentionRate)
	}

	active = s
	return s, nil
}

// Path returns the file a profile is written to.
func (s *Session) Path(p Profile) string {
	return filepath.Join(s.opts.Dir, string(p)+".prof")
}

// Stop ends CPU profiling, writes every snapshot profile and restores the
// contention sampling rates. Calling Stop again does nothing.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	var errs []error
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		errs = append(errs, s.cpuFile.Close())
	}
	for _, p := range s.opts.Snapshots {
		errs = append(errs, s.write(p))
	}
	if s.opts.ContentionRate > 0 {
		runtime.SetBlockProfileRate(0)
		runtime.SetMutexProfileFraction(0)
	}

	activeMu.Lock()
	if active == s {
		active = nil
	}
	activeMu.Unlock()
	return errors.Join(errs...)
}

func (s *Session) write(p Profile) error {
	f, err := os.Create(s.Path(p))
	if err != nil {
		return err
	}
	werr := pprof.Lookup(string(p)).WriteTo(f, 0)
	return errors.Join(werr, f.Close())
}
