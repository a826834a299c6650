package sim

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ardnew/bpsgadget/device/hal"
	"github.com/ardnew/bpsgadget/pkg"
)

// Endpoint pool defaults.
const (
	// DefaultEndpointPairs is the number of IN/OUT endpoint pairs (numbers
	// 1..n) a controller offers unless WithEndpointPairs says otherwise.
	DefaultEndpointPairs = 4

	// HardwareMaxPacket is the largest packet any data endpoint accepts.
	HardwareMaxPacket = 512

	// EP0MaxPacket is the control endpoint packet size.
	EP0MaxPacket = 64

	// autoconfigMaxPacket is the full-speed packet size chosen for
	// descriptors that leave wMaxPacketSize unset.
	autoconfigMaxPacket = 64

	eventQueueDepth = 64
)

// Option configures a Controller.
type Option func(*Controller)

// WithSpeed sets the negotiated connection speed.
func WithSpeed(s hal.Speed) Option {
	return func(c *Controller) { c.speed = s }
}

// WithDualSpeed sets whether the controller reports dual-speed capability.
func WithDualSpeed(dual bool) Option {
	return func(c *Controller) { c.dualSpeed = dual }
}

// WithEndpointPairs sets the number of IN/OUT endpoint pairs in the pool.
func WithEndpointPairs(n int) Option {
	return func(c *Controller) { c.pairs = n }
}

// WithEP0MaxPacket sets the control endpoint packet size (8, 16, 32 or 64
// at full speed; 64 at high speed).
func WithEP0MaxPacket(n int) Option {
	return func(c *Controller) { c.ep0Max = n }
}

// Controller is an in-memory USB device controller.
//
// Device-side calls (the hal.Controller methods) never block on the bus.
// Host-side calls (Control, Write, Read, Fail, Suspend, Resume, Disconnect)
// block until the device has consumed the transfer and its completion
// callback has returned.
type Controller struct {
	mu   sync.Mutex
	cond *sync.Cond

	speed       hal.Speed
	dualSpeed   bool
	selfPowered bool
	pairs       int
	ep0Max      int

	ep0 *endpoint
	eps []*endpoint

	driver hal.Driver

	events  chan func()
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// giveback is the recorded outcome of a request that has left the
// endpoint queue but whose completion callback has not yet returned.
type giveback struct {
	status error
	actual int
	done   bool
}

type endpoint struct {
	ctrl *Controller
	name string
	addr uint8

	hwMax     int
	maxPacket int
	claimed   bool
	enabled   bool

	queueErr  error
	enableErr error
	flushes   int

	pending    []*hal.Request
	inflight   map[*hal.Request]*giveback
	delivering map[*hal.Request]*giveback
}

func (e *endpoint) Name() string   { return e.name }
func (e *endpoint) Address() uint8 { return e.addr }

func (e *endpoint) MaxPacket() int {
	e.ctrl.mu.Lock()
	defer e.ctrl.mu.Unlock()
	return e.maxPacket
}

func (e *endpoint) isIn() bool { return e.addr&hal.DirIn != 0 }

// holds reports whether req is queued or on the bus. Must hold ctrl.mu.
func (e *endpoint) holds(req *hal.Request) bool {
	if slices.Contains(e.pending, req) {
		return true
	}
	_, ok := e.inflight[req]
	return ok
}

// New creates a controller with the default endpoint pool at high speed.
func New(opts ...Option) *Controller {
	c := &Controller{
		speed:     hal.SpeedHigh,
		dualSpeed: true,
		pairs:     DefaultEndpointPairs,
		ep0Max:    EP0MaxPacket,
		events:    make(chan func(), eventQueueDepth),
	}
	c.cond = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}

	c.ep0 = c.newEndpoint("ep0", 0, c.ep0Max)
	c.ep0.enabled = true
	for n := 1; n <= c.pairs; n++ {
		c.eps = append(c.eps,
			c.newEndpoint(fmt.Sprintf("ep%din", n), uint8(n)|hal.DirIn, HardwareMaxPacket),
			c.newEndpoint(fmt.Sprintf("ep%dout", n), uint8(n), HardwareMaxPacket))
	}
	return c
}

func (c *Controller) newEndpoint(name string, addr uint8, maxPacket int) *endpoint {
	return &endpoint{
		ctrl:       c,
		name:       name,
		addr:       addr,
		hwMax:      maxPacket,
		maxPacket:  maxPacket,
		inflight:   make(map[*hal.Request]*giveback),
		delivering: make(map[*hal.Request]*giveback),
	}
}

// Start launches the event goroutine that delivers completions and bus
// events. It runs until Stop is called or ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return pkg.ErrAlreadyRunning
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(ctx, c.stop, c.done)
	pkg.LogInfo(pkg.ComponentHAL, "sim controller started",
		"speed", c.speed.String(),
		"dualSpeed", c.dualSpeed)
	return nil
}

// Stop halts the event goroutine and waits for it to exit.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return pkg.ErrNotRunning
	}
	c.running = false
	close(c.stop)
	done := c.done
	c.cond.Broadcast()
	c.mu.Unlock()

	<-done
	pkg.LogInfo(pkg.ComponentHAL, "sim controller stopped")
	return nil
}

func (c *Controller) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-stop:
			return
		case <-ctx.Done():
			c.mu.Lock()
			if c.running && c.stop == stop {
				c.running = false
				close(stop)
				c.cond.Broadcast()
			}
			c.mu.Unlock()
			return
		}
	}
}

// post hands fn to the event goroutine.
func (c *Controller) post(ctx context.Context, fn func()) error {
	c.mu.Lock()
	running, stop := c.running, c.stop
	c.mu.Unlock()
	if !running {
		return pkg.ErrNotRunning
	}
	select {
	case c.events <- fn:
		return nil
	case <-stop:
		return pkg.ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the event goroutine and waits for it to return.
func (c *Controller) call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if err := c.post(ctx, func() {
		defer close(ran)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register binds drv to the controller. Bind runs in the caller's goroutine.
func (c *Controller) Register(drv hal.Driver) error {
	c.mu.Lock()
	if c.driver != nil {
		c.mu.Unlock()
		return pkg.ErrAlreadyRunning
	}
	c.driver = drv
	c.mu.Unlock()

	if err := drv.Bind(c); err != nil {
		c.mu.Lock()
		c.driver = nil
		c.mu.Unlock()
		c.AutoconfigReset()
		return fmt.Errorf("bind: %w", err)
	}
	pkg.LogDebug(pkg.ComponentHAL, "driver bound")
	return nil
}

// Unregister unbinds the current driver and shuts down every endpoint it
// left enabled.
func (c *Controller) Unregister() error {
	c.mu.Lock()
	drv := c.driver
	c.driver = nil
	c.mu.Unlock()
	if drv == nil {
		return pkg.ErrNotBound
	}

	drv.Unbind(c)
	for _, ep := range c.eps {
		c.disable(ep)
	}
	c.AutoconfigReset()
	pkg.LogDebug(pkg.ComponentHAL, "driver unbound")
	return nil
}

func (c *Controller) currentDriver() (hal.Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.driver == nil {
		return nil, pkg.ErrNotBound
	}
	return c.driver, nil
}

// Speed returns the negotiated connection speed.
func (c *Controller) Speed() hal.Speed { return c.speed }

// IsDualSpeed reports whether the controller supports both FS and HS.
func (c *Controller) IsDualSpeed() bool { return c.dualSpeed }

// EP0 returns the control endpoint.
func (c *Controller) EP0() hal.Endpoint { return c.ep0 }

// SetSelfPowered records the device's power source.
func (c *Controller) SetSelfPowered(selfPowered bool) {
	c.mu.Lock()
	c.selfPowered = selfPowered
	c.mu.Unlock()
}

// SelfPowered returns the value last passed to SetSelfPowered.
func (c *Controller) SelfPowered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfPowered
}

// Autoconfig claims the first free endpoint matching cfg's direction and
// packet size. Control and isochronous endpoints are not offered.
func (c *Controller) Autoconfig(cfg *hal.EndpointConfig) (hal.Endpoint, error) {
	switch cfg.TransferType() {
	case hal.TransferBulk, hal.TransferInterrupt:
	default:
		return nil, pkg.ErrNoEndpoint
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ep := range c.eps {
		if ep.claimed || ep.isIn() != cfg.IsIn() || int(cfg.MaxPacketSize) > ep.hwMax {
			continue
		}
		ep.claimed = true
		cfg.Address = ep.addr
		if cfg.MaxPacketSize == 0 {
			cfg.MaxPacketSize = autoconfigMaxPacket
		}
		pkg.LogDebug(pkg.ComponentHAL, "endpoint claimed",
			"ep", ep.name,
			"maxPacket", cfg.MaxPacketSize)
		return ep, nil
	}
	return nil, pkg.ErrNoEndpoint
}

// AutoconfigReset releases every claimed endpoint.
func (c *Controller) AutoconfigReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ep := range c.eps {
		ep.claimed = false
	}
}

func (c *Controller) lookup(hep hal.Endpoint) (*endpoint, error) {
	ep, ok := hep.(*endpoint)
	if !ok || ep.ctrl != c {
		return nil, pkg.ErrInvalidArgument
	}
	return ep, nil
}

// Enable applies cfg to ep.
func (c *Controller) Enable(hep hal.Endpoint, cfg hal.EndpointConfig) error {
	ep, err := c.lookup(hep)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ep.enableErr != nil {
		return ep.enableErr
	}
	if ep == c.ep0 || cfg.MaxPacketSize == 0 || int(cfg.MaxPacketSize) > ep.hwMax {
		return fmt.Errorf("enable %s: %w", ep.name, pkg.ErrInvalidArgument)
	}
	ep.enabled = true
	ep.maxPacket = int(cfg.MaxPacketSize)
	pkg.LogDebug(pkg.ComponentHAL, "endpoint enabled",
		"ep", ep.name,
		"maxPacket", ep.maxPacket)
	return nil
}

// Disable shuts ep down and gives back everything outstanding on it.
func (c *Controller) Disable(hep hal.Endpoint) error {
	ep, err := c.lookup(hep)
	if err != nil {
		return err
	}
	if ep == c.ep0 {
		return pkg.ErrInvalidArgument
	}
	c.disable(ep)
	return nil
}

func (c *Controller) disable(ep *endpoint) {
	type entry struct {
		req *hal.Request
		gb  *giveback
	}
	var flush []entry

	c.mu.Lock()
	ep.enabled = false
	for _, req := range ep.pending {
		gb := &giveback{status: pkg.ErrShutdown}
		ep.delivering[req] = gb
		flush = append(flush, entry{req, gb})
	}
	ep.pending = nil
	for req, gb := range ep.inflight {
		delete(ep.inflight, req)
		ep.delivering[req] = gb
		flush = append(flush, entry{req, gb})
	}
	c.mu.Unlock()

	for _, e := range flush {
		c.deliver(ep, e.req, e.gb)
	}
}

// Queue adds req to ep's queue.
func (c *Controller) Queue(hep hal.Endpoint, req *hal.Request) error {
	ep, err := c.lookup(hep)
	if err != nil {
		return err
	}
	if req.Length < 0 || req.Length > len(req.Buf) {
		return pkg.ErrInvalidArgument
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ep.queueErr != nil {
		return ep.queueErr
	}
	if !ep.enabled {
		return fmt.Errorf("%s: %w", ep.name, pkg.ErrShutdown)
	}
	if ep.holds(req) {
		return pkg.ErrBusy
	}
	req.Status = nil
	req.Actual = 0
	ep.pending = append(ep.pending, req)
	c.cond.Broadcast()
	return nil
}

// Dequeue cancels req, delivering its completion before returning.
// A request whose completion is being delivered by another goroutine is
// waited for; if that completion queued it again, the new submission is
// cancelled too.
func (c *Controller) Dequeue(hep hal.Endpoint, req *hal.Request) error {
	ep, err := c.lookup(hep)
	if err != nil {
		return err
	}

	c.mu.Lock()
	waited := false
	for {
		if i := slices.Index(ep.pending, req); i >= 0 {
			ep.pending = slices.Delete(ep.pending, i, i+1)
			gb := &giveback{status: pkg.ErrCancelled}
			ep.delivering[req] = gb
			c.mu.Unlock()
			c.deliver(ep, req, gb)
			return nil
		}
		if gb, ok := ep.inflight[req]; ok {
			delete(ep.inflight, req)
			ep.delivering[req] = gb
			c.mu.Unlock()
			c.deliver(ep, req, gb)
			return nil
		}
		gb, ok := ep.delivering[req]
		if !ok {
			c.mu.Unlock()
			if waited {
				return nil
			}
			return hal.ErrNotQueued
		}
		for !gb.done {
			c.cond.Wait()
		}
		waited = true
	}
}

// FlushFIFO counts the flush; there is no FIFO to drain.
func (c *Controller) FlushFIFO(hep hal.Endpoint) {
	ep, err := c.lookup(hep)
	if err != nil {
		return
	}
	c.mu.Lock()
	ep.flushes++
	c.mu.Unlock()
}

// complete is the event-goroutine half of a host transfer.
func (c *Controller) complete(ep *endpoint, req *hal.Request, gb *giveback) {
	c.mu.Lock()
	if ep.inflight[req] != gb {
		// Already given back by Dequeue or Disable.
		c.mu.Unlock()
		return
	}
	delete(ep.inflight, req)
	ep.delivering[req] = gb
	c.mu.Unlock()
	c.deliver(ep, req, gb)
}

// deliver runs req's completion callback. The caller must have moved req
// into ep.delivering.
func (c *Controller) deliver(ep *endpoint, req *hal.Request, gb *giveback) {
	req.Status = gb.status
	req.Actual = gb.actual
	if gb.status != nil {
		pkg.LogDebug(pkg.ComponentHAL, "request given back",
			"ep", ep.name,
			"status", gb.status,
			"actual", gb.actual)
	}
	if req.Complete != nil {
		req.Complete(ep, req)
	}

	c.mu.Lock()
	if ep.delivering[req] == gb {
		delete(ep.delivering, req)
	}
	gb.done = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

var _ hal.Controller = (*Controller)(nil)
