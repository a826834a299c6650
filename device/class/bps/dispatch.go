package bps

import (
	"github.com/ardnew/bpsgadget/device"
	"github.com/ardnew/bpsgadget/pkg"
)

// Completion handlers. Each runs once per given-back request, in the
// controller's event context or inline from a cancelling caller. They
// take only the owning lock and never block.

// controlComplete retires the EP0 slot. Control transfers are not retried.
func (g *Gadget) controlComplete(s *device.Slot) {
	g.ctrlMu.Lock()
	s.RetireLocked()
	status := s.StatusLocked()
	g.ctrlMu.Unlock()

	if status != nil {
		pkg.LogWarn(pkg.ComponentDispatch, "control transfer failed",
			"status", status)
	}
}

// outComplete retires a bulk OUT slot and re-arms it after a failure
// while the channel can still receive.
func (ch *Channel) outComplete(s *device.Slot) {
	g := ch.gadget
	ch.mu.Lock()
	defer ch.mu.Unlock()

	s.RetireLocked()
	if status := s.StatusLocked(); status != nil {
		pkg.LogWarn(pkg.ComponentDispatch, "bulk out failed",
			"channel", ch.name,
			"status", status)
		if ch.open && g.ready() {
			if err := ch.submitOutLocked(); err != nil {
				pkg.LogError(pkg.ComponentDispatch, "resubmission failed",
					"channel", ch.name,
					"error", err)
			}
		}
	} else {
		pkg.LogDebug(pkg.ComponentDispatch, "bulk out complete",
			"channel", ch.name,
			"actual", s.ActualLocked())
	}
	ch.cond.Broadcast()
}

// inComplete retires a bulk IN slot. Writers resubmit themselves.
func (ch *Channel) inComplete(s *device.Slot) {
	ch.retire(s, "bulk in failed")
}

// notifyComplete retires the channel's notify slot.
func (ch *Channel) notifyComplete(s *device.Slot) {
	ch.retire(s, "notification failed")
}

// errorComplete retires the error-report slot. It is registered on the
// DATA channel although the transfer used the CONFIG IN endpoint.
func (ch *Channel) errorComplete(s *device.Slot) {
	ch.retire(s, "error report failed")
}

func (ch *Channel) retire(s *device.Slot, failure string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	s.RetireLocked()
	if status := s.StatusLocked(); status != nil {
		pkg.LogWarn(pkg.ComponentDispatch, failure,
			"channel", ch.name,
			"slot", s.Name(),
			"status", status)
	}
	ch.cond.Broadcast()
}
