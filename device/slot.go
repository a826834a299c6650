package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/bpsgadget/device/hal"
	"github.com/ardnew/bpsgadget/pkg"
)

// Slot wraps one hardware endpoint and the single request it may have
// outstanding on it.
//
// Fields are guarded by the owner lock passed to NewSlot. Methods with
// the Locked suffix must be called with that lock held; Cancel must be
// called without it, because the controller may give the request back
// in the calling goroutine.
//
// queued is true exactly while the request is owned by the controller.
type Slot struct {
	name string
	ctrl hal.Controller
	ep   hal.Endpoint
	lock sync.Locker

	req      hal.Request
	capacity int

	queued bool
	gen    uint64 // successful submissions
	status error
	actual int
}

// NewSlot allocates a slot with a size-byte buffer on ep. onComplete
// runs once per given-back request in the controller's event context
// (or in a cancelling caller) without the owner lock held.
func NewSlot(name string, ctrl hal.Controller, ep hal.Endpoint, size int, lock sync.Locker, onComplete func(*Slot)) *Slot {
	s := &Slot{
		name:     name,
		ctrl:     ctrl,
		ep:       ep,
		lock:     lock,
		capacity: size,
	}
	s.req.Buf = make([]byte, size)
	s.req.Context = s
	s.req.Complete = func(hal.Endpoint, *hal.Request) {
		if onComplete != nil {
			onComplete(s)
		}
	}
	return s
}

// Name returns the slot's role name.
func (s *Slot) Name() string { return s.name }

// Endpoint returns the borrowed hardware endpoint.
func (s *Slot) Endpoint() hal.Endpoint { return s.ep }

// Buffer returns the full request buffer. Callers may only touch it while
// the slot is not queued.
func (s *Slot) Buffer() []byte { return s.req.Buf }

// Capacity returns the largest transfer the slot submits at once.
func (s *Slot) Capacity() int { return s.capacity }

// SetCapacity limits transfers to n bytes, clamped to the buffer size.
func (s *Slot) SetCapacity(n int) {
	s.capacity = max(0, min(n, len(s.req.Buf)))
}

// SubmitLocked queues the first n bytes of the buffer. zero requests a
// terminating zero-length packet for IN transfers.
//
// Fails with pkg.ErrBusy if a request is already outstanding. A controller
// rejection is recorded as the slot status and returned wrapped in
// pkg.ErrIO; the slot stays idle.
func (s *Slot) SubmitLocked(n int, zero bool) error {
	if s.queued {
		return pkg.ErrBusy
	}
	if n < 0 || n > len(s.req.Buf) {
		return pkg.ErrInvalidArgument
	}
	s.req.Length = n
	s.req.Zero = zero
	if err := s.ctrl.Queue(s.ep, &s.req); err != nil {
		s.status = err
		s.actual = 0
		return fmt.Errorf("%s: %w: %w", s.name, pkg.ErrIO, err)
	}
	s.queued = true
	s.gen++
	s.status = nil
	s.actual = 0
	pkg.LogDebug(pkg.ComponentSlot, "submitted",
		"slot", s.name,
		"ep", s.ep.Name(),
		"len", n)
	return nil
}

// RetireLocked marks the request given back and records its outcome.
func (s *Slot) RetireLocked() {
	s.queued = false
	s.status = s.req.Status
	s.actual = s.req.Actual
}

// QueuedLocked reports whether a request is outstanding.
func (s *Slot) QueuedLocked() bool { return s.queued }

// StatusLocked returns the outcome of the last transfer or submission.
func (s *Slot) StatusLocked() error { return s.status }

// ActualLocked returns the byte count of the last completed transfer.
func (s *Slot) ActualLocked() int { return s.actual }

// Queued reports whether a request is outstanding, taking the owner lock.
func (s *Slot) Queued() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.queued
}

// Cancel dequeues any outstanding request and flushes the endpoint FIFO.
// It is idempotent. If the request completes concurrently, the completion
// and the cancel converge: the request is given back once and queued ends
// false. A submission made from the completion callback that Cancel
// itself delivers is not cancelled and leaves the slot queued.
func (s *Slot) Cancel() {
	s.lock.Lock()
	queued, gen := s.queued, s.gen
	s.lock.Unlock()

	if queued {
		err := s.ctrl.Dequeue(s.ep, &s.req)
		if err != nil && !errors.Is(err, hal.ErrNotQueued) {
			pkg.LogWarn(pkg.ComponentSlot, "dequeue failed",
				"slot", s.name,
				"error", err)
		}
	}
	s.ctrl.FlushFIFO(s.ep)

	s.lock.Lock()
	if s.gen == gen {
		s.queued = false
	}
	s.lock.Unlock()
}
