// Package bps implements the BPS printer-server USB function.
//
// The function exposes one vendor-specific interface with five endpoints
// and presents them as two logical channels:
//
//   - DATA (0): bulk OUT + bulk IN, the print data path
//   - CONFIG (1): bulk OUT + bulk IN, the configuration path
//   - an interrupt IN endpoint shared by both channels for one-byte
//     notifications (NotifyData, NotifyConfig)
//
// DATA-channel errors are not reported on the DATA IN endpoint. They are
// tunnelled over the CONFIG IN endpoint using a dedicated request owned
// by the DATA channel (see Handle.ReportChannelError).
//
// # Architecture
//
// Gadget implements hal.Driver. The controller calls Bind, Setup,
// Suspend, Resume, Disconnect and Unbind; Setup answers the standard
// requests and enables the endpoints on Set-Configuration with the
// descriptors for the negotiated speed.
//
// Every endpoint is wrapped in a device.Slot with one pre-allocated
// request. Completion handlers retire the slot under its channel lock,
// re-arm a failed OUT transfer while the channel can still receive, and
// wake blocked callers. They never allocate or block.
//
// Handle is the caller-facing side. Read, Write, SendZeroLengthPacket,
// SendNotification, ReportChannelError and WaitPoll block on the channel's
// condition variable; a cancelled context interrupts them with
// pkg.ErrInterrupted and Close releases them with pkg.ErrAborted.
//
// # Usage
//
//	g, _ := bps.New(bps.DefaultConfig(bps.SKUWiFiBTEth01))
//	ctrl := sim.New()
//	ctrl.Start(ctx)
//	ctrl.Register(g)
//
//	// ... host selects configuration 1 ...
//
//	h, err := g.Open(bps.DataChannel, 0)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	n, err := h.ReadContext(ctx, buf)
//	_, err = h.WriteContext(ctx, buf[:n])
package bps
