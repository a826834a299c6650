package bps

import (
	"fmt"

	"github.com/ardnew/bpsgadget/device"
	"github.com/ardnew/bpsgadget/device/hal"
	"github.com/ardnew/bpsgadget/pkg"
)

// Setup answers standard control requests. On success the data or status
// stage has been queued on EP0; an error stalls EP0.
func (g *Gadget) Setup(c hal.Controller, setup *hal.SetupPacket) error {
	ep0 := g.slots[RoleControl]
	if ep0 == nil {
		return pkg.ErrNotBound
	}
	// A new SETUP supersedes any control transfer still pending.
	if ep0.Queued() {
		pkg.LogDebug(pkg.ComponentSetup, "stale control request cancelled")
		ep0.Cancel()
	}

	pkg.LogDebug(pkg.ComponentSetup, "setup", "packet", setup.String())

	n, err := g.handleSetup(c, setup, ep0.Buffer())
	if err != nil {
		pkg.LogDebug(pkg.ComponentSetup, "request rejected",
			"request", setup.Request,
			"value", setup.Value,
			"error", err)
		return err
	}

	g.ctrlMu.Lock()
	defer g.ctrlMu.Unlock()
	return ep0.SubmitLocked(n, n < int(setup.Length))
}

// handleSetup fills buf with the data stage and returns its length.
func (g *Gadget) handleSetup(c hal.Controller, setup *hal.SetupPacket, buf []byte) (int, error) {
	if setup.Type() != hal.RequestTypeStandard {
		return 0, fmt.Errorf("request type 0x%02X: %w", setup.Type(), pkg.ErrUnsupported)
	}

	switch setup.Request {
	case device.RequestGetDescriptor:
		n, err := g.descriptorTo(c, setup, buf)
		if err != nil {
			return 0, err
		}
		// The data stage is a single control packet.
		return min(n, int(setup.Length), c.EP0().MaxPacket()), nil

	case device.RequestSetConfiguration:
		g.mu.Lock()
		defer g.mu.Unlock()
		switch setup.Value {
		case 0:
			g.resetConfigLocked()
			g.wakeAll()
			pkg.LogInfo(pkg.ComponentSetup, "unconfigured")
			return 0, nil
		case ConfigurationValue:
			err := g.setConfigLocked()
			g.wakeAll()
			return 0, err
		default:
			return 0, fmt.Errorf("configuration %d: %w", setup.Value, pkg.ErrInvalidArgument)
		}

	case device.RequestGetConfiguration:
		if setup.Length == 0 {
			return 0, pkg.ErrInvalidArgument
		}
		buf[0] = 0
		if g.configured.Load() {
			buf[0] = ConfigurationValue
		}
		return 1, nil

	case device.RequestSetInterface:
		// One interface with no alternate settings.
		if setup.Index != 0 || setup.Value != 0 {
			return 0, pkg.ErrInvalidArgument
		}
		return 0, nil

	case device.RequestGetInterface:
		if setup.Index != 0 || setup.Length == 0 || !g.configured.Load() {
			return 0, pkg.ErrInvalidArgument
		}
		buf[0] = 0
		return 1, nil
	}

	return 0, fmt.Errorf("request 0x%02X: %w", setup.Request, pkg.ErrUnsupported)
}

// descriptorTo writes the requested descriptor into buf, the EP0 buffer.
func (g *Gadget) descriptorTo(c hal.Controller, setup *hal.SetupPacket, buf []byte) (int, error) {
	switch setup.DescriptorType() {
	case device.DescriptorTypeDevice:
		if n := g.desc.device.MarshalTo(buf); n > 0 {
			return n, nil
		}
		return 0, pkg.ErrNoMemory

	case device.DescriptorTypeConfiguration:
		if setup.DescriptorIndex() > 0 {
			return 0, pkg.ErrInvalidArgument
		}
		return g.desc.configTo(buf, c.Speed(), device.DescriptorTypeConfiguration)

	case device.DescriptorTypeOtherSpeedConfig:
		if !c.IsDualSpeed() {
			return 0, pkg.ErrUnsupported
		}
		if setup.DescriptorIndex() > 0 {
			return 0, pkg.ErrInvalidArgument
		}
		return g.desc.configTo(buf, otherSpeed(c.Speed()), device.DescriptorTypeOtherSpeedConfig)

	case device.DescriptorTypeString:
		return g.desc.strings.DescriptorTo(buf, setup.DescriptorIndex())

	case device.DescriptorTypeDeviceQualifier:
		if !c.IsDualSpeed() {
			return 0, pkg.ErrUnsupported
		}
		if n := g.desc.qualifier.MarshalTo(buf); n > 0 {
			return n, nil
		}
		return 0, pkg.ErrNoMemory
	}

	return 0, fmt.Errorf("descriptor type 0x%02X: %w", setup.DescriptorType(), pkg.ErrUnsupported)
}
