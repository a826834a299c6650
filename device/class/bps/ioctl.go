package bps

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ardnew/bpsgadget/pkg"
)

// From the linux asm-generic/ioctl.h file.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uint32) uint32 {
	return dir<<iocDirShift |
		typ<<iocTypeShift |
		nr<<iocNRShift |
		size<<iocSizeShift
}

func ior(typ, nr, size uint32) uint32 { return ioc(iocRead, typ, nr, size) }
func iow(typ, nr, size uint32) uint32 { return ioc(iocWrite, typ, nr, size) }

// IoctlMagic is the ioctl type byte of every BPS request.
const IoctlMagic = 'B'

// DataErrorSize is the size of the packed DataError argument on the
// 32-bit ARM ABI: a user pointer followed by a length.
const DataErrorSize = 8

// Ioctl request codes.
var (
	IoctlGetPacketSize        = ior(IoctlMagic, 0, 4)
	IoctlGetSKUModel          = ior(IoctlMagic, 1, 4)
	IoctlGetProtocolVersion   = ior(IoctlMagic, 2, 4)
	IoctlSendDataError        = iow(IoctlMagic, 3, DataErrorSize)
	IoctlSendZLP              = iow(IoctlMagic, 4, 4)
	IoctlSendIntrNotification = iow(IoctlMagic, 5, 4)
	IoctlIsSuspended          = ior(IoctlMagic, 6, 4)
)

// IoctlName returns a readable name for code.
func IoctlName(code uint32) string {
	switch code {
	case IoctlGetPacketSize:
		return "GET_PACKET_SIZE"
	case IoctlGetSKUModel:
		return "GET_SKU_MODEL"
	case IoctlGetProtocolVersion:
		return "GET_PROTOCOL_VERSION"
	case IoctlSendDataError:
		return "SEND_DATA_ERROR"
	case IoctlSendZLP:
		return "SEND_ZLP"
	case IoctlSendIntrNotification:
		return "SEND_INTR_NOTIFICATION"
	case IoctlIsSuspended:
		return "IS_SUSPENDED"
	default:
		return fmt.Sprintf("0x%08X", code)
	}
}

// DataError is the argument of IoctlSendDataError as laid out in user
// memory. The front end resolves Addr/Len into the payload bytes.
type DataError struct {
	Addr uint32
	Len  uint32
}

// ParseDataError decodes a packed little-endian DataError.
func ParseDataError(data []byte) (DataError, error) {
	if len(data) < DataErrorSize {
		return DataError{}, fmt.Errorf("data error argument: %w", pkg.ErrInvalidArgument)
	}
	return DataError{
		Addr: binary.LittleEndian.Uint32(data[0:4]),
		Len:  binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

// MarshalTo encodes the argument into buf and returns 8, or 0 if buf is
// too small.
func (d DataError) MarshalTo(buf []byte) int {
	if len(buf) < DataErrorSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], d.Addr)
	binary.LittleEndian.PutUint32(buf[4:8], d.Len)
	return DataErrorSize
}

// Ioctl executes one control code. arg carries the scalar argument of
// IoctlSendIntrNotification; payload carries the resolved buffer of
// IoctlSendDataError. The result is the value the request reports: a
// size, model, version, flag, or the number of error bytes sent.
func (h *Handle) Ioctl(ctx context.Context, code uint32, arg uint32, payload []byte) (int, error) {
	if h.closed.Load() {
		return 0, pkg.ErrClosed
	}

	pkg.LogDebug(pkg.ComponentChannel, "ioctl",
		"channel", h.ch.name,
		"code", IoctlName(code),
		"arg", arg)

	switch code {
	case IoctlGetPacketSize:
		return h.ch.in.Endpoint().MaxPacket(), nil

	case IoctlGetSKUModel:
		return int(h.g.cfg.SKU), nil

	case IoctlGetProtocolVersion:
		return int(h.g.desc.iface.InterfaceProtocol), nil

	case IoctlSendDataError:
		return h.ReportChannelError(ctx, payload)

	case IoctlSendZLP:
		return 0, h.SendZeroLengthPacket(ctx)

	case IoctlSendIntrNotification:
		return 0, h.SendNotification(ctx, arg)

	case IoctlIsSuspended:
		if h.g.Suspended() {
			return 1, nil
		}
		return 0, nil
	}

	return 0, fmt.Errorf("ioctl %s: %w", IoctlName(code), pkg.ErrUnsupported)
}
