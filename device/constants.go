package device

import "fmt"

// Function driver states.
//
//	Unbound ──bind──► Bound ──set-config──► Configured ◄──resume──┐
//	                    ▲                       │                  │
//	                    └──disconnect/config 0──┤               Suspended
//	                                            └────suspend───────┘
const (
	StateUnbound    State = 0 // No controller attached
	StateBound      State = 1 // Endpoints claimed, no configuration selected
	StateConfigured State = 2 // Endpoints enabled, transfers allowed
	StateSuspended  State = 3 // Bus suspended, all transfers drained
)

// State represents a function driver's position in its lifecycle.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "Unbound"
	case StateBound:
		return "Bound"
	case StateConfigured:
		return "Configured"
	case StateSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
