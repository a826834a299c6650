// Package sim implements an in-memory USB device controller.
//
// The controller satisfies [hal.Controller] and plays both sides of the
// bus: a function driver binds to it exactly as it would to hardware,
// while tests and example programs act as the host through methods such
// as [Controller.Control], [Controller.Write] and [Controller.Read].
//
// # Execution Model
//
// A single event goroutine, started by [Controller.Start], delivers
// completion callbacks and bus events ([hal.Driver.Setup], Suspend,
// Resume, Disconnect). This mirrors a hardware interrupt handler: events
// are serialized, and a driver callback that blocks stalls the bus.
//
// A host transfer takes the oldest pending request on an endpoint, moves
// data into or out of its buffer, and hands the completion to the event
// goroutine. The host call returns after the completion callback has run,
// so tests observe driver state without sleeping.
//
// [Controller.Dequeue] gives requests back synchronously in the caller's
// goroutine, including requests whose data already moved but whose
// completion is still waiting for the event goroutine. Every accepted
// request completes exactly once.
//
// # Endpoint Pool
//
// The pool holds EP0 plus [DefaultEndpointPairs] IN/OUT pairs, each
// able to serve bulk or interrupt transfers up to [HardwareMaxPacket]
// bytes. Autoconfig hands them out in address order.
//
// # Fault Injection
//
//	c.SetQueueError(0x02, pkg.ErrIO)         // Queue on ep2out fails
//	c.SetEnableError(0x81, pkg.ErrNoEndpoint) // Enable on ep1in fails
//	c.Fail(ctx, 0x02, pkg.ErrProtocol)       // next OUT transfer fails
//
// # Usage
//
//	c := sim.New(sim.WithSpeed(hal.SpeedHigh))
//	if err := c.Start(ctx); err != nil {
//	    return err
//	}
//	defer c.Stop()
//
//	if err := c.Register(driver); err != nil {
//	    return err
//	}
//
//	var setup hal.SetupPacket
//	device.SetConfigurationSetup(&setup, 1)
//	if _, err := c.Control(ctx, setup, nil); err != nil {
//	    return err
//	}
package sim
