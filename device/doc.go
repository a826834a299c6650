// Package device provides the building blocks a USB function driver is
// made of: descriptors and their wire encoding, setup-packet helpers,
// driver states, and the endpoint [Slot].
//
// It sits on top of the asynchronous controller contract in
// [github.com/ardnew/bpsgadget/device/hal] and is used by class drivers
// such as [github.com/ardnew/bpsgadget/device/class/bps].
//
// # Descriptors
//
// Descriptors serialize with MarshalTo(buf) into caller-provided buffers.
// [ConfigBufferTo] assembles a configuration header and its interface and
// endpoint descriptors into one response, computing wTotalLength:
//
//	n, err := device.ConfigBufferTo(buf, &config, device.DescriptorTypeConfiguration,
//	    &iface, &bulkOut, &bulkIn)
//
// # Slots
//
// A [Slot] owns one pre-allocated request on a borrowed endpoint and
// tracks whether that request is outstanding:
//
//	s.lock.Lock()
//	err := slot.SubmitLocked(n, false) // pkg.ErrBusy if already queued
//	s.lock.Unlock()
//
//	slot.Cancel() // never with the owner lock held
//
// The completion callback retires the slot with [Slot.RetireLocked] under
// the same owner lock, so queued is true exactly while the controller
// holds the request.
package device
