//go:build linux

package chardev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ardnew/bpsgadget/device/class/bps"
	"github.com/ardnew/bpsgadget/pkg"
)

// Device numbering.
const (
	Major      = 250
	MinorCount = bps.ChannelCount

	// Name is the driver name the nodes are registered under.
	Name = "bpsgadget"
)

// Poll event bits that x/sys/unix does not define for linux.
const (
	pollRdNorm = 0x40
	pollWrNorm = 0x100
)

// ErrFault indicates an ioctl argument could not be read from caller
// memory.
var ErrFault = errors.New("bad address")

// Dev returns the device number of minor.
func Dev(minor int) uint64 {
	return unix.Mkdev(Major, uint32(minor))
}

// Node returns the conventional device node path of minor.
func Node(minor int) string {
	return fmt.Sprintf("/dev/%s%d", Name, minor)
}

// Device is the character-device front end of a gadget. Minor numbers
// map one-to-one onto channel ids.
type Device struct {
	g *bps.Gadget

	mu    sync.Mutex
	files map[*File]struct{}
}

// New creates the front end for g.
func New(g *bps.Gadget) *Device {
	return &Device{g: g, files: make(map[*File]struct{})}
}

// Open opens minor with the open(2) flags in flags. Only O_NONBLOCK is
// interpreted.
func (d *Device) Open(minor int, flags int) (*File, error) {
	if minor < 0 || minor >= MinorCount {
		return nil, fmt.Errorf("%s minor %d: %w", Name, minor, unix.ENODEV)
	}

	var hflags int
	if flags&unix.O_NONBLOCK != 0 {
		hflags |= bps.OpenNonBlock
	}
	h, err := d.g.Open(minor, hflags)
	if err != nil {
		pkg.LogDebug(pkg.ComponentChardev, "open failed",
			"minor", minor,
			"errno", Errno(err))
		return nil, err
	}

	f := &File{dev: d, h: h, minor: minor}
	d.mu.Lock()
	d.files[f] = struct{}{}
	d.mu.Unlock()

	pkg.LogDebug(pkg.ComponentChardev, "opened",
		"node", Node(minor),
		"flags", fmt.Sprintf("%#o", flags))
	return f, nil
}

// OpenFiles returns the number of files currently open.
func (d *Device) OpenFiles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}

// Close releases every open file.
func (d *Device) Close() error {
	d.mu.Lock()
	files := make([]*File, 0, len(d.files))
	for f := range d.files {
		files = append(files, f)
	}
	d.mu.Unlock()

	var errs []error
	for _, f := range files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// File is one open device node.
type File struct {
	dev   *Device
	h     *bps.Handle
	minor int
}

// Minor returns the node's minor number.
func (f *File) Minor() int { return f.minor }

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	return f.h.Read(p)
}

// ReadContext reads with an interruptible wait.
func (f *File) ReadContext(ctx context.Context, p []byte) (int, error) {
	return f.h.ReadContext(ctx, p)
}

// Write implements io.Writer.
func (f *File) Write(p []byte) (int, error) {
	return f.h.Write(p)
}

// WriteContext writes with an interruptible wait.
func (f *File) WriteContext(ctx context.Context, p []byte) (int, error) {
	return f.h.WriteContext(ctx, p)
}

// Close implements io.Closer.
func (f *File) Close() error {
	err := f.h.Close()
	f.dev.mu.Lock()
	delete(f.dev.files, f)
	f.dev.mu.Unlock()
	return err
}

// Poll returns the node's readiness as poll(2) events.
func (f *File) Poll() int16 {
	return pollEvents(f.h.Poll())
}

// WaitPoll blocks until one of events (or POLLERR) is ready.
func (f *File) WaitPoll(ctx context.Context, events int16) (int16, error) {
	mask, err := f.h.WaitPoll(ctx, pollMask(events))
	if err != nil {
		return 0, err
	}
	return pollEvents(mask), nil
}

// Ioctl executes cmd. For IoctlSendDataError, arg is the address of a
// bps.DataError in mem, and the payload it points to is streamed from mem
// one error-report buffer at a time; for IoctlSendIntrNotification, arg is
// the value. mem may be nil for every other command.
func (f *File) Ioctl(ctx context.Context, cmd uint32, arg uint32, mem io.ReaderAt) (int, error) {
	if cmd == bps.IoctlSendDataError {
		payload, err := dataErrorPayload(mem, arg)
		if err != nil {
			return 0, err
		}
		return f.h.ReportChannelErrorFrom(ctx, payload)
	}
	return f.h.Ioctl(ctx, cmd, arg, nil)
}

// dataErrorPayload reads the DataError at addr and returns a reader over
// the buffer it describes. Nothing is copied until the reader is read.
func dataErrorPayload(mem io.ReaderAt, addr uint32) (*io.SectionReader, error) {
	if mem == nil {
		return nil, ErrFault
	}
	var raw [bps.DataErrorSize]byte
	if _, err := mem.ReadAt(raw[:], int64(addr)); err != nil {
		return nil, fmt.Errorf("data error at 0x%08X: %w", addr, ErrFault)
	}
	de, err := bps.ParseDataError(raw[:])
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(userMemory{mem}, int64(de.Addr), int64(de.Len)), nil
}

// userMemory reports any short read of caller memory as ErrFault.
type userMemory struct {
	r io.ReaderAt
}

func (m userMemory) ReadAt(p []byte, off int64) (int, error) {
	n, err := m.r.ReadAt(p, off)
	if n < len(p) {
		return n, fmt.Errorf("payload at 0x%08X: %w", off, ErrFault)
	}
	return n, err
}

func pollEvents(mask int) int16 {
	var ev int16
	if mask&bps.PollIn != 0 {
		ev |= unix.POLLIN | pollRdNorm
	}
	if mask&bps.PollOut != 0 {
		ev |= unix.POLLOUT | pollWrNorm
	}
	if mask&bps.PollErr != 0 {
		ev |= unix.POLLERR
	}
	return ev
}

func pollMask(events int16) int {
	var mask int
	if events&(unix.POLLIN|pollRdNorm) != 0 {
		mask |= bps.PollIn
	}
	if events&(unix.POLLOUT|pollWrNorm) != 0 {
		mask |= bps.PollOut
	}
	return mask
}

// Errno maps an error from the gadget to the errno a system call returns.
// A nil error maps to 0. pkg.ErrIO, pkg.ErrAborted and anything
// unrecognized map to EIO.
func Errno(err error) unix.Errno {
	var errno unix.Errno
	switch {
	case err == nil:
		return 0
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, pkg.ErrInvalidArgument):
		return unix.EINVAL
	case errors.Is(err, pkg.ErrWouldBlock):
		return unix.EAGAIN
	case errors.Is(err, pkg.ErrBusy):
		return unix.EBUSY
	case errors.Is(err, pkg.ErrInterrupted):
		return unix.EINTR
	case errors.Is(err, pkg.ErrUnsupported):
		return unix.EOPNOTSUPP
	case errors.Is(err, pkg.ErrClosed):
		return unix.EBADF
	case errors.Is(err, pkg.ErrNoEndpoint), errors.Is(err, pkg.ErrNotBound):
		return unix.ENODEV
	case errors.Is(err, pkg.ErrNoMemory) && !errors.Is(err, pkg.ErrIO):
		return unix.ENOMEM
	case errors.Is(err, ErrFault):
		return unix.EFAULT
	case errors.Is(err, pkg.ErrNotReady):
		return unix.ECOMM
	default:
		return unix.EIO
	}
}

// Result folds a count and error into a system-call return value: n on
// success, the negated errno otherwise.
func Result(n int, err error) int {
	if err != nil {
		return -int(Errno(err))
	}
	return n
}
