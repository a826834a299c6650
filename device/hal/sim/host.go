package sim

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ardnew/bpsgadget/device/hal"
	"github.com/ardnew/bpsgadget/pkg"
)

// wake broadcasts on the condition so waiters re-check ctx.
func (c *Controller) wake() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

// transfer waits for a request on ep, lets fill move data and decide the
// outcome, then delivers the completion on the event goroutine and waits
// for the callback to return.
func (c *Controller) transfer(ctx context.Context, ep *endpoint, fill func(req *hal.Request) (actual int, status error)) error {
	stop := context.AfterFunc(ctx, c.wake)
	defer stop()

	c.mu.Lock()
	for len(ep.pending) == 0 {
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			return err
		}
		if !c.running {
			c.mu.Unlock()
			return pkg.ErrNotRunning
		}
		c.cond.Wait()
	}
	req := ep.pending[0]
	ep.pending = ep.pending[1:]
	actual, status := fill(req)
	gb := &giveback{status: status, actual: actual}
	ep.inflight[req] = gb
	c.mu.Unlock()

	if err := c.post(ctx, func() { c.complete(ep, req, gb) }); err != nil {
		// The event goroutine is gone; give the request back here.
		c.complete(ep, req, gb)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for !gb.done {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	return nil
}

func (c *Controller) endpointAt(addr uint8) (*endpoint, error) {
	if addr&0x0F == 0 {
		return c.ep0, nil
	}
	for _, ep := range c.eps {
		if ep.addr == addr {
			return ep, nil
		}
	}
	return nil, fmt.Errorf("endpoint 0x%02X: %w", addr, pkg.ErrNoEndpoint)
}

// Control performs a control transfer. data is the OUT data stage, if
// any. For device-to-host requests the returned slice holds the data
// stage, capped at setup.Length. A driver that rejects the request
// yields an error wrapping pkg.ErrStall.
func (c *Controller) Control(ctx context.Context, setup hal.SetupPacket, data []byte) ([]byte, error) {
	drv, err := c.currentDriver()
	if err != nil {
		return nil, err
	}

	var setupErr error
	if err := c.call(ctx, func() { setupErr = drv.Setup(c, &setup) }); err != nil {
		return nil, err
	}
	if setupErr != nil {
		pkg.LogDebug(pkg.ComponentHAL, "ep0 stalled", "setup", setup.String(), "error", setupErr)
		return nil, fmt.Errorf("request 0x%02X: %w: %w", setup.Request, pkg.ErrStall, setupErr)
	}

	var resp []byte
	err = c.transfer(ctx, c.ep0, func(req *hal.Request) (int, error) {
		if setup.IsDeviceToHost() {
			n := min(req.Length, int(setup.Length))
			resp = bytes.Clone(req.Buf[:n])
			return n, nil
		}
		n := copy(req.Buf[:req.Length], data)
		return n, nil
	})
	return resp, err
}

// Write sends data to the OUT endpoint at addr. Each pending request
// receives up to its Length bytes; empty data sends a single zero-length
// packet. Returns the number of bytes the device accepted.
func (c *Controller) Write(ctx context.Context, addr uint8, data []byte) (int, error) {
	ep, err := c.endpointAt(addr)
	if err != nil {
		return 0, err
	}
	if ep.isIn() || ep == c.ep0 {
		return 0, pkg.ErrInvalidArgument
	}

	sent := 0
	for first := true; first || sent < len(data); first = false {
		err := c.transfer(ctx, ep, func(req *hal.Request) (int, error) {
			n := copy(req.Buf[:req.Length], data[sent:])
			sent += n
			return n, nil
		})
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// Read receives the next transfer queued on the IN endpoint at addr.
func (c *Controller) Read(ctx context.Context, addr uint8) ([]byte, error) {
	ep, err := c.endpointAt(addr)
	if err != nil {
		return nil, err
	}
	if !ep.isIn() {
		return nil, pkg.ErrInvalidArgument
	}

	var p []byte
	err = c.transfer(ctx, ep, func(req *hal.Request) (int, error) {
		p = bytes.Clone(req.Buf[:req.Length])
		return req.Length, nil
	})
	return p, err
}

// Fail completes the next request queued at addr with status.
func (c *Controller) Fail(ctx context.Context, addr uint8, status error) error {
	ep, err := c.endpointAt(addr)
	if err != nil {
		return err
	}
	return c.transfer(ctx, ep, func(*hal.Request) (int, error) {
		return 0, status
	})
}

// SetQueueError makes every Queue on addr fail with err until cleared
// with a nil err.
func (c *Controller) SetQueueError(addr uint8, err error) error {
	ep, lerr := c.endpointAt(addr)
	if lerr != nil {
		return lerr
	}
	c.mu.Lock()
	ep.queueErr = err
	c.mu.Unlock()
	return nil
}

// SetEnableError makes every Enable on addr fail with err until cleared
// with a nil err.
func (c *Controller) SetEnableError(addr uint8, err error) error {
	ep, lerr := c.endpointAt(addr)
	if lerr != nil {
		return lerr
	}
	c.mu.Lock()
	ep.enableErr = err
	c.mu.Unlock()
	return nil
}

// Pending returns the number of requests queued at addr and not yet
// taken by the host.
func (c *Controller) Pending(addr uint8) int {
	ep, err := c.endpointAt(addr)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(ep.pending)
}

// Enabled reports whether the endpoint at addr is enabled.
func (c *Controller) Enabled(addr uint8) bool {
	ep, err := c.endpointAt(addr)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return ep.enabled
}

// Flushes returns how many times FlushFIFO was called on addr.
func (c *Controller) Flushes(addr uint8) int {
	ep, err := c.endpointAt(addr)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return ep.flushes
}

// Suspend delivers a bus suspend to the driver.
func (c *Controller) Suspend(ctx context.Context) error {
	return c.busEvent(ctx, "suspend", hal.Driver.Suspend)
}

// Resume delivers a bus resume to the driver.
func (c *Controller) Resume(ctx context.Context) error {
	return c.busEvent(ctx, "resume", hal.Driver.Resume)
}

// Disconnect delivers a host disconnect to the driver.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.busEvent(ctx, "disconnect", hal.Driver.Disconnect)
}

func (c *Controller) busEvent(ctx context.Context, name string, fn func(hal.Driver, hal.Controller)) error {
	drv, err := c.currentDriver()
	if err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentHAL, "bus event", "event", name)
	return c.call(ctx, func() { fn(drv, c) })
}
