package hal

import (
	"errors"
	"fmt"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// MaxPacketSize0 returns the default EP0 packet size at this speed.
func (s Speed) MaxPacketSize0() int {
	if s == SpeedLow {
		return 8
	}
	return 64
}

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// Transfer types (bits 0-1 of bmAttributes).
const (
	TransferControl     = 0x00
	TransferIsochronous = 0x01
	TransferBulk        = 0x02
	TransferInterrupt   = 0x03
)

// DirIn is the direction bit of an IN endpoint address.
const DirIn = 0x80

// EndpointConfig describes an endpoint the way a descriptor does.
// Autoconfig fills Address (and MaxPacketSize when zero) on success.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size, 0 lets the controller choose
	Interval      uint8  // Polling interval for interrupt/isochronous
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&DirIn != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// SetupPacket represents a USB SETUP packet in the HAL layer.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// Request type fields (bmRequestType, USB 2.0 Table 9-2).
const (
	RequestDirectionMask = 0x80
	RequestTypeMask      = 0x60
	RequestRecipientMask = 0x1F

	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40
)

// IsDeviceToHost returns true if the data stage flows device to host.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&RequestDirectionMask == DirIn
}

// Type returns the request type (standard, class or vendor).
func (s *SetupPacket) Type() uint8 {
	return s.RequestType & RequestTypeMask
}

// Recipient returns the request recipient.
func (s *SetupPacket) Recipient() uint8 {
	return s.RequestType & RequestRecipientMask
}

// DescriptorType returns the descriptor type from the wValue high byte.
func (s *SetupPacket) DescriptorType() uint8 {
	return uint8(s.Value >> 8)
}

// DescriptorIndex returns the descriptor index from the wValue low byte.
func (s *SetupPacket) DescriptorIndex() uint8 {
	return uint8(s.Value)
}

// String returns a compact representation for logging.
func (s *SetupPacket) String() string {
	return fmt.Sprintf("SETUP[type=0x%02X req=0x%02X value=0x%04X index=0x%04X len=%d]",
		s.RequestType, s.Request, s.Value, s.Index, s.Length)
}

// Endpoint is a hardware endpoint handle. It is owned by the controller;
// function drivers only reference it.
type Endpoint interface {
	// Name returns a diagnostic name such as "ep2in".
	Name() string

	// Address returns the endpoint address including the direction bit.
	Address() uint8

	// MaxPacket returns the current maximum packet size. It reflects the
	// descriptor passed to Enable once the endpoint is enabled.
	MaxPacket() int
}

// CompleteFunc is called exactly once for every request the controller
// accepted. It runs in the controller's event context, or in the goroutine
// of a caller that dequeued the request.
type CompleteFunc func(ep Endpoint, req *Request)

// Request is a single transfer submitted to an endpoint.
// The controller sets Status and Actual before calling Complete.
type Request struct {
	Buf    []byte // Transfer buffer, owned by the submitter
	Length int    // Number of bytes to send (IN) or receive (OUT)
	Zero   bool   // Terminate an IN transfer with a zero-length packet

	Status error // nil on success
	Actual int   // Number of bytes actually transferred

	Complete CompleteFunc
	Context  any // Opaque to the controller
}

// String returns a short description of the request for logging.
func (r *Request) String() string {
	return fmt.Sprintf("req[len=%d actual=%d zero=%t status=%v]",
		r.Length, r.Actual, r.Zero, r.Status)
}

// Controller is the device-side USB controller a function driver binds to.
//
// All methods are safe for concurrent use.
type Controller interface {
	// Speed returns the negotiated connection speed.
	Speed() Speed

	// IsDualSpeed reports whether the controller can operate at both full
	// and high speed.
	IsDualSpeed() bool

	// EP0 returns the control endpoint.
	EP0() Endpoint

	// Autoconfig claims a free endpoint able to serve cfg. On success the
	// endpoint's address is written to cfg.Address, and cfg.MaxPacketSize
	// is filled in if it was zero.
	Autoconfig(cfg *EndpointConfig) (Endpoint, error)

	// AutoconfigReset releases every endpoint claimed by Autoconfig.
	AutoconfigReset()

	// Enable configures ep with the given descriptor.
	Enable(ep Endpoint, cfg EndpointConfig) error

	// Disable shuts ep down, giving back every pending request with
	// a status wrapping pkg.ErrShutdown.
	Disable(ep Endpoint) error

	// Queue submits req on ep. It never blocks.
	Queue(ep Endpoint, req *Request) error

	// Dequeue cancels req. If req is pending it is given back with a
	// status wrapping pkg.ErrCancelled before Dequeue returns. If req has
	// already finished on the bus but not been given back, it is given
	// back now with its real outcome. Either way the completion callback
	// has run when Dequeue returns. Returns ErrNotQueued if req was not
	// outstanding.
	Dequeue(ep Endpoint, req *Request) error

	// FlushFIFO discards any data buffered in the endpoint FIFO.
	FlushFIFO(ep Endpoint)

	// SetSelfPowered reports the device's power source to the controller.
	SetSelfPowered(selfPowered bool)
}

// Driver is a function driver bound to a controller.
type Driver interface {
	// Bind is called once when the driver is registered. It claims
	// endpoints and allocates requests.
	Bind(c Controller) error

	// Unbind releases everything Bind acquired.
	Unbind(c Controller)

	// Setup handles a control request not processed by the controller.
	// A returned error stalls EP0. On success the driver has queued the
	// data or status stage on EP0.
	Setup(c Controller, setup *SetupPacket) error

	// Disconnect is called when the host goes away.
	Disconnect(c Controller)

	// Suspend is called when the bus enters suspend.
	Suspend(c Controller)

	// Resume is called when the bus resumes.
	Resume(c Controller)
}

// ErrNotQueued is returned by Dequeue when the request was not outstanding.
var ErrNotQueued = errors.New("request not queued")
