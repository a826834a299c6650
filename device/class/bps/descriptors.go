package bps

import (
	"github.com/ardnew/bpsgadget/device"
	"github.com/ardnew/bpsgadget/device/hal"
)

// descriptorSet holds the tables Get-Descriptor is answered from.
// Endpoint tables are indexed by Role; RoleControl is unused.
type descriptorSet struct {
	device    device.DeviceDescriptor
	qualifier device.QualifierDescriptor
	config    device.ConfigurationDescriptor
	iface     device.InterfaceDescriptor
	fs, hs    [roleCount]device.EndpointDescriptor
	strings   device.StringTable
}

func newDescriptorSet(cfg Config) descriptorSet {
	attrs := uint8(device.ConfigAttrOne)
	if cfg.SelfPowered {
		attrs |= device.ConfigAttrSelfPowered
	}

	d := descriptorSet{
		device: device.DeviceDescriptor{
			USBVersion:        device.USBVersion20,
			DeviceClass:       device.ClassVendor,
			MaxPacketSize0:    ControlBufferSize,
			VendorID:          VendorID,
			ProductID:         cfg.ProductID(),
			DeviceVersion:     DeviceVersion,
			ManufacturerIndex: StringManufacturer,
			ProductIndex:      StringProduct,
			NumConfigurations: 1,
		},
		qualifier: device.QualifierDescriptor{
			USBVersion:        device.USBVersion20,
			DeviceClass:       device.ClassPerInterface,
			DeviceSubClass:    DeviceSubClass,
			DeviceProtocol:    DeviceProtocol,
			MaxPacketSize0:    ControlBufferSize,
			NumConfigurations: 1,
		},
		config: device.ConfigurationDescriptor{
			NumInterfaces:      1,
			ConfigurationValue: ConfigurationValue,
			ConfigurationIndex: StringConfig,
			Attributes:         attrs,
			MaxPower:           MaxPowerDefault,
		},
		iface: device.InterfaceDescriptor{
			NumEndpoints:      EndpointCount,
			InterfaceClass:    device.ClassVendor,
			InterfaceSubClass: InterfaceSubClass,
			InterfaceProtocol: InterfaceProtocol,
			InterfaceIndex:    StringInterface,
		},
		strings: device.StringTable{
			Language: device.LangIDUSEnglish,
			Strings: map[uint8]string{
				StringManufacturer: cfg.Manufacturer,
				StringProduct:      cfg.Product,
				StringConfig:       cfg.Configuration,
			},
		},
	}

	bulk := func(dir uint8, maxPacket uint16) device.EndpointDescriptor {
		return device.EndpointDescriptor{
			EndpointAddress: dir,
			Attributes:      hal.TransferBulk,
			MaxPacketSize:   maxPacket,
		}
	}
	intr := func(interval uint8) device.EndpointDescriptor {
		return device.EndpointDescriptor{
			EndpointAddress: hal.DirIn,
			Attributes:      hal.TransferInterrupt,
			MaxPacketSize:   IntrMaxPacket,
			Interval:        interval,
		}
	}

	// Full-speed bulk sizes are left to autoconfig.
	d.fs[RoleDataOut] = bulk(0, 0)
	d.fs[RoleDataIn] = bulk(hal.DirIn, 0)
	d.fs[RoleConfigOut] = bulk(0, 0)
	d.fs[RoleConfigIn] = bulk(hal.DirIn, 0)
	d.fs[RoleNotify] = intr(IntrIntervalFS)

	d.hs[RoleDataOut] = bulk(0, BulkMaxPacketHS)
	d.hs[RoleDataIn] = bulk(hal.DirIn, BulkMaxPacketHS)
	d.hs[RoleConfigOut] = bulk(0, BulkMaxPacketHS)
	d.hs[RoleConfigIn] = bulk(hal.DirIn, BulkMaxPacketHS)
	d.hs[RoleNotify] = intr(IntrIntervalHS)

	return d
}

// endpoint returns the descriptor for role at speed.
func (d *descriptorSet) endpoint(speed hal.Speed, role Role) *device.EndpointDescriptor {
	if speed == hal.SpeedHigh {
		return &d.hs[role]
	}
	return &d.fs[role]
}

// configTo writes the configuration set for speed into buf with the
// header typed as descType.
func (d *descriptorSet) configTo(buf []byte, speed hal.Speed, descType uint8) (int, error) {
	parts := make([]device.Marshaler, 0, 1+EndpointCount)
	parts = append(parts, &d.iface)
	for r := RoleDataOut; r < roleCount; r++ {
		parts = append(parts, d.endpoint(speed, r))
	}
	return device.ConfigBufferTo(buf, &d.config, descType, parts...)
}

// otherSpeed returns the speed a dual-speed device is not running at.
func otherSpeed(speed hal.Speed) hal.Speed {
	if speed == hal.SpeedHigh {
		return hal.SpeedFull
	}
	return hal.SpeedHigh
}
