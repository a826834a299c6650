package bps

import "fmt"

// USB identity.
const (
	VendorID = 0x0E2E // Brady

	DeviceSubClass = 0x00
	DeviceProtocol = 0x01

	InterfaceSubClass = 0x00
	InterfaceProtocol = 0x00

	// ProtocolVersion is reported by the get-protocol-version control
	// code. It is the interface protocol.
	ProtocolVersion = InterfaceProtocol

	// DeviceVersion is bcdDevice.
	DeviceVersion = 0x0100

	// ConfigurationValue is the only configuration the device offers.
	ConfigurationValue = 1

	// MaxPowerDefault is bMaxPower in 2 mA units.
	MaxPowerDefault = 1
)

// String descriptor indexes. The configuration and interface share a
// string.
const (
	StringManufacturer = 1
	StringProduct      = 2
	StringConfig       = 3
	StringInterface    = 3
)

// Channel identifiers. They double as character device minor numbers.
const (
	DataChannel   = 0
	ConfigChannel = 1

	// ChannelCount is the number of channels (and device minors).
	ChannelCount = 2
)

// Notification values sent on the interrupt endpoint.
const (
	NotifyData   = 1
	NotifyConfig = 2
)

// Endpoint packet sizes and intervals.
const (
	BulkMaxPacketHS  = 512
	IntrMaxPacket    = 8
	IntrIntervalFS   = 255 // frames
	IntrIntervalHS   = 16  // 2^(16-1) microframes, the USB 2.0 maximum
	EndpointCount    = 5
	controlBufferLen = 64
)

// Per-role request buffer sizes.
const (
	ControlBufferSize = controlBufferLen
	BulkOutBufferSize = 512
	BulkInBufferSize  = 2048
	NotifyBufferSize  = 1
	ErrorBufferSize   = 64
)

// Role identifies one of the function's endpoint slots.
type Role uint8

// Slot roles, in descriptor order after the control endpoint.
const (
	RoleControl Role = iota
	RoleDataOut
	RoleDataIn
	RoleConfigOut
	RoleConfigIn
	RoleNotify

	roleCount
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleControl:
		return "control"
	case RoleDataOut:
		return "data-out"
	case RoleDataIn:
		return "data-in"
	case RoleConfigOut:
		return "config-out"
	case RoleConfigIn:
		return "config-in"
	case RoleNotify:
		return "notify"
	default:
		return fmt.Sprintf("role(%d)", r)
	}
}

// channelName returns a log-friendly channel name.
func channelName(id int) string {
	switch id {
	case DataChannel:
		return "data"
	case ConfigChannel:
		return "config"
	default:
		return fmt.Sprintf("channel(%d)", id)
	}
}
