package bps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ardnew/bpsgadget/device"
	"github.com/ardnew/bpsgadget/pkg"
)

// Open flags.
const (
	// OpenNonBlock makes Read fail with pkg.ErrWouldBlock instead of
	// waiting, and makes every write-type operation fail with it outright.
	OpenNonBlock = 1 << iota
)

// Poll readiness bits.
const (
	PollIn  = 0x1 // a completed inbound transfer is ready to read
	PollOut = 0x4 // the write path is idle
	PollErr = 0x8 // the device is unconfigured or suspended
)

// Handle is an open channel. A channel has at most one Handle at a time,
// and a Handle is meant to be used by one goroutine.
type Handle struct {
	g      *Gadget
	ch     *Channel
	flags  int
	closed atomic.Bool
}

// Open claims channel id. It fails with pkg.ErrBusy if the channel is
// already open and with pkg.ErrNotReady if the device is not configured.
// On success the OUT slot is armed so the host can send immediately.
func (g *Gadget) Open(id int, flags int) (*Handle, error) {
	ch := g.Channel(id)
	if ch == nil {
		return nil, fmt.Errorf("channel %d: %w", id, pkg.ErrInvalidArgument)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !g.configured.Load() {
		return nil, fmt.Errorf("channel %s: %w", ch.name, pkg.ErrNotReady)
	}
	if ch.open {
		return nil, fmt.Errorf("channel %s: %w", ch.name, pkg.ErrBusy)
	}

	ch.open = true
	ch.cursor = 0
	if !g.suspended.Load() {
		if err := ch.submitOutLocked(); err != nil {
			// Read re-arms on the recorded status.
			pkg.LogWarn(pkg.ComponentChannel, "initial receive not queued",
				"channel", ch.name,
				"error", err)
		}
	}

	pkg.LogDebug(pkg.ComponentChannel, "opened",
		"channel", ch.name,
		"nonblock", flags&OpenNonBlock != 0)
	return &Handle{g: g, ch: ch, flags: flags}, nil
}

// Channel returns the channel the handle holds.
func (h *Handle) Channel() *Channel { return h.ch }

func (h *Handle) nonblocking() bool { return h.flags&OpenNonBlock != 0 }

// Close releases the channel and cancels its transfers. Callers blocked
// on the handle return pkg.ErrAborted.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return pkg.ErrClosed
	}
	g, ch := h.g, h.ch

	g.mu.Lock()
	defer g.mu.Unlock()

	ch.mu.Lock()
	ch.open = false
	ch.mu.Unlock()

	for _, s := range []*device.Slot{ch.notify, ch.in, ch.out} {
		if s != nil {
			s.Cancel()
		}
	}
	if ch.id == DataChannel && g.errs != nil {
		g.errs.Cancel()
	}
	ch.wake()

	pkg.LogDebug(pkg.ComponentChannel, "closed", "channel", ch.name)
	return nil
}

// waitLocked blocks on the channel condition. ch.mu must be held.
func (h *Handle) waitLocked(ctx context.Context) error {
	if err := h.ch.waitLocked(ctx); err != nil {
		return err
	}
	if h.closed.Load() {
		return pkg.ErrAborted
	}
	return nil
}

// Read reads with no way to interrupt the wait other than Close.
func (h *Handle) Read(p []byte) (int, error) {
	return h.ReadContext(context.Background(), p)
}

// ReadContext copies bytes of the current inbound transfer into p. Once
// the transfer is fully consumed the OUT slot is re-armed. A zero-length
// transfer yields 0 bytes. Cancelling ctx interrupts a blocked read with
// pkg.ErrInterrupted.
func (h *Handle) ReadContext(ctx context.Context, p []byte) (int, error) {
	if h.closed.Load() {
		return 0, pkg.ErrClosed
	}
	if len(p) == 0 {
		return 0, pkg.ErrInvalidArgument
	}
	g, ch := h.g, h.ch

	for {
		g.mu.RLock()
		ch.mu.Lock()

		if err := h.checkLocked(); err != nil {
			ch.mu.Unlock()
			g.mu.RUnlock()
			return 0, err
		}

		out := ch.out
		if out.QueuedLocked() {
			if h.nonblocking() {
				ch.mu.Unlock()
				g.mu.RUnlock()
				return 0, pkg.ErrWouldBlock
			}
			g.mu.RUnlock()
			err := h.waitLocked(ctx)
			ch.mu.Unlock()
			if err != nil {
				return 0, err
			}
			continue
		}

		actual := out.ActualLocked()
		if out.StatusLocked() != nil || (ch.cursor == actual && actual > 0) {
			// Failed or already consumed: fetch the next transfer.
			err := ch.submitOutLocked()
			ch.mu.Unlock()
			g.mu.RUnlock()
			if err != nil {
				return 0, err
			}
			continue
		}

		n := copy(p, out.Buffer()[ch.cursor:actual])
		ch.cursor += n
		if ch.cursor == actual {
			if err := ch.submitOutLocked(); err != nil {
				pkg.LogWarn(pkg.ComponentChannel, "receive re-arm failed",
					"channel", ch.name,
					"error", err)
			}
		}
		ch.mu.Unlock()
		g.mu.RUnlock()
		return n, nil
	}
}

// Write sends p on the channel's IN endpoint.
func (h *Handle) Write(p []byte) (int, error) {
	return h.WriteContext(context.Background(), p)
}

// WriteContext sends p in chunks of at most the IN slot capacity, waiting
// for each chunk to complete. It returns the bytes the host accepted.
// Non-blocking handles always fail with pkg.ErrWouldBlock.
func (h *Handle) WriteContext(ctx context.Context, p []byte) (int, error) {
	return h.write(ctx, h.ch.in, p)
}

// SendZeroLengthPacket terminates a host-side read with an empty IN
// transfer.
func (h *Handle) SendZeroLengthPacket(ctx context.Context) error {
	if err := h.checkWritable(); err != nil {
		return err
	}
	_, err := h.transmit(ctx, h.ch.in, nil, true)
	return err
}

// SendNotification sends value (NotifyData or NotifyConfig) as one byte
// on the interrupt endpoint.
func (h *Handle) SendNotification(ctx context.Context, value uint32) error {
	if value != NotifyData && value != NotifyConfig {
		return fmt.Errorf("notification %d: %w", value, pkg.ErrInvalidArgument)
	}
	if err := h.checkWritable(); err != nil {
		return err
	}
	_, err := h.transmit(ctx, h.ch.notify, []byte{byte(value)}, false)
	return err
}

// ReportChannelError sends p over the CONFIG channel's IN endpoint on
// behalf of the DATA channel. Only a DATA handle may report errors.
func (h *Handle) ReportChannelError(ctx context.Context, p []byte) (int, error) {
	if h.ch.id != DataChannel {
		return 0, fmt.Errorf("error report on %s channel: %w", h.ch.name, pkg.ErrUnsupported)
	}
	return h.write(ctx, h.g.errs, p)
}

// ReportChannelErrorFrom is ReportChannelError for a report read from r.
// The report is copied into the error-report buffer one chunk at a time,
// so its length is bounded only by r. A short read from r stops the
// report and returns the bytes already sent with the read error.
func (h *Handle) ReportChannelErrorFrom(ctx context.Context, r *io.SectionReader) (int, error) {
	if h.ch.id != DataChannel {
		return 0, fmt.Errorf("error report on %s channel: %w", h.ch.name, pkg.ErrUnsupported)
	}
	size := r.Size()
	if size == 0 {
		return 0, pkg.ErrInvalidArgument
	}
	if err := h.checkWritable(); err != nil {
		return 0, err
	}

	var chunk [ErrorBufferSize]byte
	total := 0
	for off := int64(0); off < size; {
		want := min(int64(len(chunk)), size-off)
		if m, err := r.ReadAt(chunk[:want], off); int64(m) < want {
			return total, fmt.Errorf("error report at offset %d: %w", off, err)
		}
		n, err := h.transmit(ctx, h.g.errs, chunk[:want], false)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("%s: no progress: %w", h.g.errs.Name(), pkg.ErrIO)
		}
		off += int64(n)
	}
	return total, nil
}

// Poll returns the channel's readiness bits.
func (h *Handle) Poll() int {
	g, ch := h.g, h.ch
	g.mu.RLock()
	defer g.mu.RUnlock()
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return h.pollLocked()
}

// WaitPoll blocks until any bit in events, or PollErr, is ready and
// returns the full readiness mask.
func (h *Handle) WaitPoll(ctx context.Context, events int) (int, error) {
	if h.closed.Load() {
		return 0, pkg.ErrClosed
	}
	g, ch := h.g, h.ch
	for {
		g.mu.RLock()
		ch.mu.Lock()
		if h.closed.Load() {
			ch.mu.Unlock()
			g.mu.RUnlock()
			return 0, pkg.ErrAborted
		}
		mask := h.pollLocked()
		if mask&(events|PollErr) != 0 {
			ch.mu.Unlock()
			g.mu.RUnlock()
			return mask, nil
		}
		g.mu.RUnlock()
		err := h.waitLocked(ctx)
		ch.mu.Unlock()
		if err != nil {
			return 0, err
		}
	}
}

// pollLocked computes readiness. g.mu (read) and ch.mu must be held.
func (h *Handle) pollLocked() int {
	ch := h.ch
	if !h.g.ready() {
		return PollErr
	}
	mask := 0
	if !ch.out.QueuedLocked() && ch.out.StatusLocked() == nil {
		mask |= PollIn
	}
	if !h.writeBusyLocked() {
		mask |= PollOut
	}
	return mask
}

// writeBusyLocked reports whether the write path has a transfer
// outstanding. The DATA channel's write path includes the error-report
// slot. ch.mu must be held.
func (h *Handle) writeBusyLocked() bool {
	if h.ch.in.QueuedLocked() {
		return true
	}
	return h.ch.id == DataChannel && h.g.errs.QueuedLocked()
}

// checkLocked fails if the handle was closed underneath the caller or
// the device cannot transfer. g.mu (read) and ch.mu must be held.
func (h *Handle) checkLocked() error {
	if h.closed.Load() {
		return pkg.ErrAborted
	}
	if !h.g.ready() {
		return pkg.ErrNotReady
	}
	return nil
}

func (h *Handle) checkWritable() error {
	if h.closed.Load() {
		return pkg.ErrClosed
	}
	if h.nonblocking() {
		return pkg.ErrWouldBlock
	}
	return nil
}

// write sends p on slot in capacity-sized chunks.
func (h *Handle) write(ctx context.Context, slot *device.Slot, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, pkg.ErrInvalidArgument
	}
	if err := h.checkWritable(); err != nil {
		return 0, err
	}

	total := 0
	for total < len(p) {
		n, err := h.transmit(ctx, slot, p[total:], false)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("%s: no progress: %w", slot.Name(), pkg.ErrIO)
		}
	}
	return total, nil
}

// transmit submits up to one slot capacity of p on slot and waits until
// the write path is idle again. It returns the bytes the host accepted.
func (h *Handle) transmit(ctx context.Context, slot *device.Slot, p []byte, zero bool) (int, error) {
	g, ch := h.g, h.ch

	for {
		g.mu.RLock()
		ch.mu.Lock()

		if err := h.checkLocked(); err != nil {
			ch.mu.Unlock()
			g.mu.RUnlock()
			return 0, err
		}
		if h.writeBusyLocked() || slot.QueuedLocked() {
			g.mu.RUnlock()
			err := h.waitLocked(ctx)
			ch.mu.Unlock()
			if err != nil {
				return 0, err
			}
			continue
		}

		n := copy(slot.Buffer()[:slot.Capacity()], p)
		err := slot.SubmitLocked(n, zero)
		g.mu.RUnlock()
		if err != nil {
			ch.mu.Unlock()
			return 0, err
		}
		break
	}

	// ch.mu is held.
	for h.writeBusyLocked() || slot.QueuedLocked() {
		if err := h.waitLocked(ctx); err != nil {
			ch.mu.Unlock()
			if errors.Is(err, pkg.ErrInterrupted) {
				slot.Cancel()
			}
			return 0, err
		}
	}
	status, actual := slot.StatusLocked(), slot.ActualLocked()
	ch.mu.Unlock()

	if h.closed.Load() {
		return actual, pkg.ErrAborted
	}
	if status != nil {
		if !g.ready() {
			return 0, fmt.Errorf("%s: %w: %w", slot.Name(), pkg.ErrNotReady, status)
		}
		return 0, fmt.Errorf("%s: %w: %w", slot.Name(), pkg.ErrIO, status)
	}
	return actual, nil
}
