package bps

import (
	"context"
	"sync"

	"github.com/ardnew/bpsgadget/device"
	"github.com/ardnew/bpsgadget/pkg"
)

// Channel is one logical duplex pipe (DATA or CONFIG).
//
// mu guards open, cursor and the queued state of every slot it owns,
// including the error-report slot for the DATA channel. cond is signalled
// whenever one of those slots retires and whenever device state changes.
type Channel struct {
	id     int
	name   string
	gadget *Gadget

	mu   sync.Mutex
	cond *sync.Cond

	open   bool
	cursor int // bytes of the current OUT transfer already read

	in     *device.Slot
	out    *device.Slot
	notify *device.Slot
}

func newChannel(g *Gadget, id int) *Channel {
	ch := &Channel{id: id, name: channelName(id), gadget: g}
	ch.cond = sync.NewCond(&ch.mu)
	return ch
}

// ID returns the channel identifier.
func (ch *Channel) ID() int { return ch.id }

// IsOpen reports whether a handle currently holds the channel.
func (ch *Channel) IsOpen() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.open
}

// Cursor returns how many bytes of the current inbound transfer have
// been read.
func (ch *Channel) Cursor() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.cursor
}

// wake signals every waiter on the channel.
func (ch *Channel) wake() {
	ch.mu.Lock()
	ch.cond.Broadcast()
	ch.mu.Unlock()
}

// waitLocked blocks on cond until woken or ctx is done. ch.mu must be
// held; it is held again on return.
func (ch *Channel) waitLocked(ctx context.Context) error {
	if ctx.Err() != nil {
		return pkg.ErrInterrupted
	}
	stop := context.AfterFunc(ctx, ch.wake)
	ch.cond.Wait()
	stop()
	if ctx.Err() != nil {
		return pkg.ErrInterrupted
	}
	return nil
}

// submitOutLocked re-arms the OUT slot for the next inbound transfer and
// resets the read cursor.
func (ch *Channel) submitOutLocked() error {
	ch.cursor = 0
	return ch.out.SubmitLocked(ch.out.Capacity(), false)
}
