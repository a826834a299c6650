package device

import (
	"github.com/ardnew/bpsgadget/device/hal"
	"github.com/ardnew/bpsgadget/pkg"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Request recipient values.
const (
	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
)

// Request direction values.
const (
	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80
)

// ParseSetupPacket decodes 8 bytes into out.
func ParseSetupPacket(data []byte, out *hal.SetupPacket) error {
	if !hal.ParseSetupPacket(data, out) {
		return pkg.ErrSetupPacketTooShort
	}
	return nil
}

// GetDescriptorSetup initializes out as a GET_DESCRIPTOR setup packet.
func GetDescriptorSetup(out *hal.SetupPacket, descType, descIndex uint8, length uint16) {
	*out = hal.SetupPacket{
		RequestType: RequestDirectionDeviceToHost | hal.RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(descIndex),
		Length:      length,
	}
	if descType == DescriptorTypeString && descIndex != 0 {
		out.Index = LangIDUSEnglish
	}
}

// SetConfigurationSetup initializes out as a SET_CONFIGURATION setup packet.
func SetConfigurationSetup(out *hal.SetupPacket, config uint8) {
	*out = hal.SetupPacket{
		RequestType: RequestDirectionHostToDevice | hal.RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestSetConfiguration,
		Value:       uint16(config),
	}
}

// GetConfigurationSetup initializes out as a GET_CONFIGURATION setup packet.
func GetConfigurationSetup(out *hal.SetupPacket) {
	*out = hal.SetupPacket{
		RequestType: RequestDirectionDeviceToHost | hal.RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestGetConfiguration,
		Length:      1,
	}
}

// SetInterfaceSetup initializes out as a SET_INTERFACE setup packet.
func SetInterfaceSetup(out *hal.SetupPacket, interfaceNum, alternateSetting uint8) {
	*out = hal.SetupPacket{
		RequestType: RequestDirectionHostToDevice | hal.RequestTypeStandard | RequestRecipientInterface,
		Request:     RequestSetInterface,
		Value:       uint16(alternateSetting),
		Index:       uint16(interfaceNum),
	}
}

// GetInterfaceSetup initializes out as a GET_INTERFACE setup packet.
func GetInterfaceSetup(out *hal.SetupPacket, interfaceNum uint8) {
	*out = hal.SetupPacket{
		RequestType: RequestDirectionDeviceToHost | hal.RequestTypeStandard | RequestRecipientInterface,
		Request:     RequestGetInterface,
		Index:       uint16(interfaceNum),
		Length:      1,
	}
}
