package bps

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/bpsgadget/device"
	"github.com/ardnew/bpsgadget/device/hal"
	"github.com/ardnew/bpsgadget/pkg"
)

// Gadget is the BPS USB function. It implements hal.Driver and owns both
// channels and every endpoint slot.
//
// Lock order is mu, then a channel's mu, then the controller's own lock.
// Completion handlers take only a channel lock (or ctrlMu for EP0).
// Operations that submit hold mu for reading so that "configured and not
// suspended" cannot change between the check and the submit; operations
// that drain hold mu for writing.
type Gadget struct {
	cfg  Config
	desc descriptorSet

	mu         sync.RWMutex
	bound      atomic.Bool
	configured atomic.Bool
	suspended  atomic.Bool

	ctrl   hal.Controller
	eps    [roleCount]hal.Endpoint
	ctrlMu sync.Mutex // owns the control slot
	slots  [roleCount]*device.Slot
	errs   *device.Slot // error reports: CONFIG IN endpoint, DATA channel lock

	channels [ChannelCount]*Channel
}

// New creates an unbound gadget for cfg.
func New(cfg Config) (*Gadget, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Gadget{
		cfg:  cfg,
		desc: newDescriptorSet(cfg),
	}
	for id := range g.channels {
		g.channels[id] = newChannel(g, id)
	}
	return g, nil
}

// Config returns the configuration the gadget was created with.
func (g *Gadget) Config() Config { return g.cfg }

// Channel returns the channel with the given id, or nil.
func (g *Gadget) Channel(id int) *Channel {
	if id < 0 || id >= ChannelCount {
		return nil
	}
	return g.channels[id]
}

// State returns the current lifecycle state.
func (g *Gadget) State() device.State {
	switch {
	case !g.bound.Load():
		return device.StateUnbound
	case g.suspended.Load():
		return device.StateSuspended
	case g.configured.Load():
		return device.StateConfigured
	default:
		return device.StateBound
	}
}

// Suspended reports whether the bus is suspended.
func (g *Gadget) Suspended() bool { return g.suspended.Load() }

// EndpointAddress returns the address of the endpoint claimed for role.
// It is false before Bind and for RoleControl.
func (g *Gadget) EndpointAddress(role Role) (uint8, bool) {
	if role == RoleControl || role >= roleCount {
		return 0, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.eps[role] == nil {
		return 0, false
	}
	return g.eps[role].Address(), true
}

// ready reports whether transfers may be submitted.
func (g *Gadget) ready() bool {
	return g.configured.Load() && !g.suspended.Load()
}

// Slots returns every allocated slot: control, the four bulk slots, both
// notify slots and the error-report slot.
func (g *Gadget) Slots() []*device.Slot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.slotsLocked()
}

func (g *Gadget) slotsLocked() []*device.Slot {
	var all []*device.Slot
	for _, s := range g.slots {
		if s != nil {
			all = append(all, s)
		}
	}
	for _, ch := range g.channels {
		if ch.notify != nil {
			all = append(all, ch.notify)
		}
	}
	if g.errs != nil {
		all = append(all, g.errs)
	}
	return all
}

// Bind claims the five data endpoints and allocates one request per slot.
func (g *Gadget) Bind(c hal.Controller) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.bound.Load() {
		return pkg.ErrAlreadyRunning
	}

	c.SetSelfPowered(g.cfg.SelfPowered)
	c.AutoconfigReset()

	g.ctrl = c
	g.eps[RoleControl] = c.EP0()
	for r := RoleDataOut; r < roleCount; r++ {
		cfg := g.desc.fs[r].Config()
		ep, err := c.Autoconfig(&cfg)
		if err != nil {
			c.AutoconfigReset()
			g.ctrl = nil
			pkg.LogError(pkg.ComponentGadget, "endpoint allocation failed",
				"role", r.String(),
				"error", err)
			return fmt.Errorf("autoconfig %s: %w", r, err)
		}
		g.eps[r] = ep
		g.desc.fs[r].EndpointAddress = cfg.Address
		g.desc.fs[r].MaxPacketSize = cfg.MaxPacketSize
		g.desc.hs[r].EndpointAddress = cfg.Address
	}

	data, conf := g.channels[DataChannel], g.channels[ConfigChannel]
	g.slots[RoleControl] = device.NewSlot(RoleControl.String(), c, g.eps[RoleControl],
		ControlBufferSize, &g.ctrlMu, g.controlComplete)
	g.slots[RoleDataOut] = device.NewSlot(RoleDataOut.String(), c, g.eps[RoleDataOut],
		BulkOutBufferSize, &data.mu, data.outComplete)
	g.slots[RoleDataIn] = device.NewSlot(RoleDataIn.String(), c, g.eps[RoleDataIn],
		BulkInBufferSize, &data.mu, data.inComplete)
	g.slots[RoleConfigOut] = device.NewSlot(RoleConfigOut.String(), c, g.eps[RoleConfigOut],
		BulkOutBufferSize, &conf.mu, conf.outComplete)
	g.slots[RoleConfigIn] = device.NewSlot(RoleConfigIn.String(), c, g.eps[RoleConfigIn],
		BulkInBufferSize, &conf.mu, conf.inComplete)
	g.errs = device.NewSlot("data-error", c, g.eps[RoleConfigIn],
		ErrorBufferSize, &data.mu, data.errorComplete)

	data.out, data.in = g.slots[RoleDataOut], g.slots[RoleDataIn]
	conf.out, conf.in = g.slots[RoleConfigOut], g.slots[RoleConfigIn]
	for _, ch := range g.channels {
		ch.notify = device.NewSlot(ch.name+"-notify", c, g.eps[RoleNotify],
			NotifyBufferSize, &ch.mu, ch.notifyComplete)
		ch.out.SetCapacity(min(BulkOutBufferSize, ch.out.Endpoint().MaxPacket()))
	}

	mps0 := uint8(c.EP0().MaxPacket())
	g.desc.device.MaxPacketSize0 = mps0
	g.desc.qualifier.MaxPacketSize0 = mps0

	for _, ch := range g.channels {
		ch.mu.Lock()
		ch.cursor = 0
		ch.mu.Unlock()
	}
	g.suspended.Store(false)
	g.configured.Store(false)
	g.bound.Store(true)

	pkg.LogInfo(pkg.ComponentGadget, "bound",
		"sku", g.cfg.SKU.String(),
		"speed", c.Speed().String(),
		"dualSpeed", c.IsDualSpeed())
	return nil
}

// Unbind drains and disables every endpoint and releases the controller.
func (g *Gadget) Unbind(c hal.Controller) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.bound.Load() {
		return
	}
	g.resetConfigLocked()
	g.slots[RoleControl].Cancel()
	g.bound.Store(false)
	g.wakeAll()
	pkg.LogInfo(pkg.ComponentGadget, "unbound")
}

// Disconnect drops the configuration.
func (g *Gadget) Disconnect(c hal.Controller) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetConfigLocked()
	g.wakeAll()
	pkg.LogInfo(pkg.ComponentGadget, "disconnected")
}

// Suspend drains every outstanding transfer. Endpoints stay enabled.
func (g *Gadget) Suspend(c hal.Controller) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.suspended.Store(true)
	g.cancelAllLocked()
	g.wakeAll()
	pkg.LogInfo(pkg.ComponentGadget, "suspended")
}

// Resume re-arms the OUT slot of every open channel.
func (g *Gadget) Resume(c hal.Controller) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.suspended.Store(false)
	g.rearmLocked()
	g.wakeAll()
	pkg.LogInfo(pkg.ComponentGadget, "resumed")
}

// rearmLocked queues the OUT slot of every open channel. A slot that is
// already queued is left alone.
func (g *Gadget) rearmLocked() {
	if !g.ready() {
		return
	}
	for _, ch := range g.channels {
		ch.mu.Lock()
		if ch.open && !ch.out.QueuedLocked() {
			if err := ch.submitOutLocked(); err != nil {
				pkg.LogError(pkg.ComponentGadget, "re-arm failed",
					"channel", ch.name,
					"error", err)
			}
		}
		ch.mu.Unlock()
	}
}

// cancelAllLocked cancels every data slot. g.mu must be held for writing.
func (g *Gadget) cancelAllLocked() {
	for _, ch := range g.channels {
		for _, s := range []*device.Slot{ch.notify, ch.in, ch.out} {
			if s != nil {
				s.Cancel()
			}
		}
	}
	if g.errs != nil {
		g.errs.Cancel()
	}
}

// resetConfigLocked leaves the configured state and disables all data
// endpoints. g.mu must be held for writing.
func (g *Gadget) resetConfigLocked() {
	g.configured.Store(false)
	if g.ctrl == nil {
		return
	}
	g.cancelAllLocked()
	for r := RoleDataOut; r < roleCount; r++ {
		if err := g.ctrl.Disable(g.eps[r]); err != nil {
			pkg.LogDebug(pkg.ComponentGadget, "disable failed",
				"role", r.String(),
				"error", err)
		}
	}
}

// setConfigLocked enables every data endpoint with the descriptors for
// the negotiated speed. g.mu must be held for writing.
func (g *Gadget) setConfigLocked() error {
	g.resetConfigLocked()

	speed := g.ctrl.Speed()
	for r := RoleDataOut; r < roleCount; r++ {
		desc := g.desc.endpoint(speed, r)
		if err := g.ctrl.Enable(g.eps[r], desc.Config()); err != nil {
			pkg.LogError(pkg.ComponentGadget, "endpoint enable failed",
				"role", r.String(),
				"error", err)
			for e := RoleDataOut; e < r; e++ {
				_ = g.ctrl.Disable(g.eps[e])
			}
			return fmt.Errorf("enable %s: %w: %w", r, pkg.ErrNotReady, err)
		}
	}

	for _, ch := range g.channels {
		ch.out.SetCapacity(min(BulkOutBufferSize, ch.out.Endpoint().MaxPacket()))
	}
	g.configured.Store(true)
	g.rearmLocked()

	pkg.LogInfo(pkg.ComponentGadget, "configured",
		"speed", speed.String(),
		"bulkMaxPacket", g.eps[RoleDataIn].MaxPacket())
	return nil
}

func (g *Gadget) wakeAll() {
	for _, ch := range g.channels {
		ch.wake()
	}
}

var _ hal.Driver = (*Gadget)(nil)
