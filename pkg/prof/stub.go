//go:build !profile

package prof

import "path/filepath"

// Profiling errors (defined for API compatibility but never returned by stubs).
var (
	// ErrActive indicates a session is already running.
	ErrActive error

	// ErrInvalidProfile indicates an invalid or unsupported profile type.
	ErrInvalidProfile error
)

// Enabled reports whether the binary was built with profiling support.
const Enabled = false

// Session is a no-op session when built without the "profile" tag.
type Session struct {
	opts Options
}

// Start returns a session that records nothing.
func Start(opts Options) (*Session, error) {
	return &Session{opts: opts}, nil
}

// Path returns the file a profile would be written to.
func (s *Session) Path(p Profile) string {
	return filepath.Join(s.opts.Dir, string(p)+".prof")
}

// Stop is a no-op when built without the "profile" tag.
func (s *Session) Stop() error {
	return nil
}
