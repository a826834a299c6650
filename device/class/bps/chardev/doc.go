// Package chardev exposes a bps.Gadget through character-device
// semantics: minor numbers select channels, open(2) flags select blocking
// behaviour, results fold into negative errnos and readiness is reported
// as poll(2) events.
//
//	minor 0  /dev/bpsgadget0  DATA channel
//	minor 1  /dev/bpsgadget1  CONFIG channel
//
// Error mapping:
//
//	pkg.ErrInvalidArgument  EINVAL
//	pkg.ErrWouldBlock       EAGAIN
//	pkg.ErrNotReady         ECOMM
//	pkg.ErrBusy             EBUSY
//	pkg.ErrIO               EIO
//	pkg.ErrInterrupted      EINTR
//	pkg.ErrAborted          EIO
//	pkg.ErrUnsupported      EOPNOTSUPP
//	pkg.ErrClosed           EBADF
//	pkg.ErrNoEndpoint       ENODEV
//	pkg.ErrNoMemory         ENOMEM
//	ErrFault                EFAULT
package chardev
