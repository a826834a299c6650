//go:build linux

package chardev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ardnew/bpsgadget/device"
	"github.com/ardnew/bpsgadget/device/class/bps"
	"github.com/ardnew/bpsgadget/device/hal"
	"github.com/ardnew/bpsgadget/device/hal/sim"
	"github.com/ardnew/bpsgadget/pkg"
)

func newDevice(t *testing.T) (context.Context, *Device, *sim.Controller) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	g, err := bps.New(bps.DefaultConfig(bps.SKUEthOnly01))
	if err != nil {
		t.Fatal(err)
	}
	ctrl := sim.New()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ctrl.Stop() })
	if err := ctrl.Register(g); err != nil {
		t.Fatal(err)
	}

	var setup hal.SetupPacket
	device.SetConfigurationSetup(&setup, bps.ConfigurationValue)
	if _, err := ctrl.Control(ctx, setup, nil); err != nil {
		t.Fatal(err)
	}

	d := New(g)
	t.Cleanup(func() { _ = d.Close() })
	return ctx, d, ctrl
}

func TestErrno(t *testing.T) {
	tests := []struct {
		err  error
		want unix.Errno
	}{
		{nil, 0},
		{pkg.ErrInvalidArgument, unix.EINVAL},
		{pkg.ErrWouldBlock, unix.EAGAIN},
		{pkg.ErrNotReady, unix.ECOMM},
		{pkg.ErrBusy, unix.EBUSY},
		{pkg.ErrIO, unix.EIO},
		{pkg.ErrInterrupted, unix.EINTR},
		{pkg.ErrAborted, unix.EIO},
		{pkg.ErrUnsupported, unix.EOPNOTSUPP},
		{pkg.ErrClosed, unix.EBADF},
		{pkg.ErrNoEndpoint, unix.ENODEV},
		{pkg.ErrNoMemory, unix.ENOMEM},
		{ErrFault, unix.EFAULT},
		{fmt.Errorf("data-in: %w: %w", pkg.ErrIO, pkg.ErrNoMemory), unix.EIO},
		{fmt.Errorf("data-in: %w: %w", pkg.ErrNotReady, pkg.ErrShutdown), unix.ECOMM},
		{fmt.Errorf("minor 9: %w", unix.ENODEV), unix.ENODEV},
		{errors.New("other"), unix.EIO},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := Errno(tt.err); got != tt.want {
				t.Errorf("Errno() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResult(t *testing.T) {
	if got := Result(12, nil); got != 12 {
		t.Errorf("Result(12, nil) = %d", got)
	}
	if got := Result(0, pkg.ErrBusy); got != -int(unix.EBUSY) {
		t.Errorf("Result(ErrBusy) = %d, want %d", got, -int(unix.EBUSY))
	}
}

func TestDev(t *testing.T) {
	for minor := range MinorCount {
		dev := Dev(minor)
		if unix.Major(dev) != Major || unix.Minor(dev) != uint32(minor) {
			t.Errorf("Dev(%d) = %d:%d", minor, unix.Major(dev), unix.Minor(dev))
		}
	}
	if got := Node(1); got != "/dev/bpsgadget1" {
		t.Errorf("Node(1) = %q", got)
	}
}

func TestOpen(t *testing.T) {
	_, d, _ := newDevice(t)

	if _, err := d.Open(MinorCount, unix.O_RDWR); Errno(err) != unix.ENODEV {
		t.Errorf("Open(bad minor) errno = %v, want ENODEV", Errno(err))
	}

	f, err := d.Open(0, unix.O_RDWR)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Open(0, unix.O_RDWR); Errno(err) != unix.EBUSY {
		t.Errorf("second Open() errno = %v, want EBUSY", Errno(err))
	}
	if d.OpenFiles() != 1 {
		t.Errorf("OpenFiles() = %d, want 1", d.OpenFiles())
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if d.OpenFiles() != 0 {
		t.Errorf("OpenFiles() = %d after close", d.OpenFiles())
	}
}

func TestNonBlock(t *testing.T) {
	_, d, _ := newDevice(t)

	f, err := d.Open(1, unix.O_RDWR|unix.O_NONBLOCK)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Read(make([]byte, 4)); Errno(err) != unix.EAGAIN {
		t.Errorf("Read() errno = %v, want EAGAIN", Errno(err))
	}
	if _, err := f.Write([]byte{1}); Errno(err) != unix.EAGAIN {
		t.Errorf("Write() errno = %v, want EAGAIN", Errno(err))
	}
}

func TestPollEvents(t *testing.T) {
	ctx, d, ctrl := newDevice(t)
	f, err := d.Open(0, unix.O_RDWR)
	if err != nil {
		t.Fatal(err)
	}

	if got := f.Poll(); got != unix.POLLOUT|pollWrNorm {
		t.Errorf("Poll() = %#x, want POLLOUT|POLLWRNORM", got)
	}

	g, gctx := errgroup.WithContext(ctx)
	var ev int16
	g.Go(func() error {
		var err error
		ev, err = f.WaitPoll(gctx, unix.POLLIN)
		return err
	})
	g.Go(func() error {
		// DATA OUT is the first OUT endpoint autoconfig hands out.
		_, err := ctrl.Write(gctx, 0x01, []byte("job"))
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if ev&unix.POLLIN == 0 {
		t.Errorf("WaitPoll() = %#x, want POLLIN", ev)
	}

	if err := ctrl.Suspend(ctx); err != nil {
		t.Fatal(err)
	}
	if got := f.Poll(); got != unix.POLLERR {
		t.Errorf("Poll() suspended = %#x, want POLLERR", got)
	}
}

func TestIoctlDataError(t *testing.T) {
	ctx, d, ctrl := newDevice(t)
	f, err := d.Open(0, unix.O_RDWR)
	if err != nil {
		t.Fatal(err)
	}

	// Caller memory: the argument struct at 0x10, the payload at 0x40.
	mem := make([]byte, 0x100)
	report := []byte("head open")
	copy(mem[0x40:], report)
	bps.DataError{Addr: 0x40, Len: uint32(len(report))}.MarshalTo(mem[0x10:])

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := f.Ioctl(gctx, bps.IoctlSendDataError, 0x10, bytes.NewReader(mem))
		if err == nil && n != len(report) {
			t.Errorf("Ioctl() = %d, want %d", n, len(report))
		}
		return err
	})
	var got []byte
	g.Go(func() error {
		var err error
		// CONFIG IN is the second IN endpoint autoconfig hands out.
		got, err = ctrl.Read(gctx, 0x82)
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, report) {
		t.Errorf("CONFIG IN carried %q, want %q", got, report)
	}
}

func TestIoctlDataErrorChunked(t *testing.T) {
	ctx, d, ctrl := newDevice(t)
	f, err := d.Open(0, unix.O_RDWR)
	if err != nil {
		t.Fatal(err)
	}

	report := bytes.Repeat([]byte("0123456789"), 15)
	mem := make([]byte, 0x200)
	copy(mem[0x40:], report)
	bps.DataError{Addr: 0x40, Len: uint32(len(report))}.MarshalTo(mem)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := f.Ioctl(gctx, bps.IoctlSendDataError, 0, bytes.NewReader(mem))
		if err == nil && n != len(report) {
			t.Errorf("Ioctl() = %d, want %d", n, len(report))
		}
		return err
	})
	var got []byte
	g.Go(func() error {
		for _, want := range []int{bps.ErrorBufferSize, bps.ErrorBufferSize, len(report) - 2*bps.ErrorBufferSize} {
			p, err := ctrl.Read(gctx, 0x82)
			if err != nil {
				return err
			}
			if len(p) != want {
				t.Errorf("CONFIG IN transfer = %d bytes, want %d", len(p), want)
			}
			got = append(got, p...)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, report) {
		t.Errorf("CONFIG IN carried %q, want %q", got, report)
	}
}

func TestIoctlDataErrorLengthNotBuffered(t *testing.T) {
	ctx, d, ctrl := newDevice(t)
	f, err := d.Open(0, unix.O_RDWR)
	if err != nil {
		t.Fatal(err)
	}

	mem := make([]byte, 0x20)
	bps.DataError{Addr: 0x1000, Len: 512 << 20}.MarshalTo(mem)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	n, err := f.Ioctl(ctx, bps.IoctlSendDataError, 0, bytes.NewReader(mem))
	runtime.ReadMemStats(&after)

	if n != 0 || Errno(err) != unix.EFAULT {
		t.Errorf("Ioctl() = %d, errno %v, want 0, EFAULT", n, Errno(err))
	}
	if grew := after.TotalAlloc - before.TotalAlloc; grew > 1<<20 {
		t.Errorf("Ioctl() allocated %d bytes for an unreadable payload", grew)
	}
	if n := ctrl.Pending(0x82); n != 0 {
		t.Errorf("CONFIG IN has %d pending transfers", n)
	}
}

func TestIoctlFault(t *testing.T) {
	ctx, d, _ := newDevice(t)
	f, err := d.Open(0, unix.O_RDWR)
	if err != nil {
		t.Fatal(err)
	}

	mem := make([]byte, 0x20)
	bps.DataError{Addr: 0x1000, Len: 4}.MarshalTo(mem)

	tests := []struct {
		name string
		arg  uint32
		mem  io.ReaderAt
	}{
		{"no memory", 0, nil},
		{"argument out of range", 0x400, bytes.NewReader(mem)},
		{"payload out of range", 0, bytes.NewReader(mem)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Ioctl(ctx, bps.IoctlSendDataError, tt.arg, tt.mem)
			if Errno(err) != unix.EFAULT {
				t.Errorf("Ioctl() errno = %v, want EFAULT", Errno(err))
			}
		})
	}
}

func TestIoctlQueries(t *testing.T) {
	ctx, d, _ := newDevice(t)
	f, err := d.Open(1, unix.O_RDWR)
	if err != nil {
		t.Fatal(err)
	}

	if n, err := f.Ioctl(ctx, bps.IoctlGetSKUModel, 0, nil); Result(n, err) != int(bps.SKUEthOnly01) {
		t.Errorf("GET_SKU_MODEL = %d", Result(n, err))
	}
	if n, err := f.Ioctl(ctx, bps.IoctlGetPacketSize, 0, nil); Result(n, err) != bps.BulkMaxPacketHS {
		t.Errorf("GET_PACKET_SIZE = %d", Result(n, err))
	}
	if n, err := f.Ioctl(ctx, 0xDEAD, 0, nil); Result(n, err) != -int(unix.EOPNOTSUPP) {
		t.Errorf("unknown ioctl = %d, want %d", Result(n, err), -int(unix.EOPNOTSUPP))
	}
	// Error reports are refused on the CONFIG node.
	if n, err := f.Ioctl(ctx, bps.IoctlSendDataError, 0, bytes.NewReader(make([]byte, 8))); Result(n, err) != -int(unix.EOPNOTSUPP) {
		t.Errorf("SEND_DATA_ERROR on config = %d, want %d", Result(n, err), -int(unix.EOPNOTSUPP))
	}
}
