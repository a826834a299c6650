package device

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ardnew/bpsgadget/device/hal"
	"github.com/ardnew/bpsgadget/pkg"
)

func TestDeviceDescriptor_MarshalTo(t *testing.T) {
	desc := &DeviceDescriptor{
		USBVersion:        USBVersion20,
		DeviceClass:       ClassVendor,
		DeviceSubClass:    0,
		DeviceProtocol:    0,
		MaxPacketSize0:    64,
		VendorID:          0xCAFE,
		ProductID:         0xBABE,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}

	var buf [18]byte
	n := desc.MarshalTo(buf[:])
	if n != 18 {
		t.Fatalf("expected 18 bytes, got %d", n)
	}
	want := []byte{
		18, DescriptorTypeDevice,
		0x00, 0x02,
		ClassVendor, 0, 0, 64,
		0xFE, 0xCA,
		0xBE, 0xBA,
		0x00, 0x01,
		1, 2, 3, 1,
	}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("MarshalTo() = % X, want % X", buf[:], want)
	}

	if n := desc.MarshalTo(buf[:17]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestDeviceDescriptor_RoundTrip(t *testing.T) {
	original := &DeviceDescriptor{
		USBVersion:        USBVersion20,
		DeviceClass:       ClassVendor,
		DeviceSubClass:    0x02,
		DeviceProtocol:    0x01,
		MaxPacketSize0:    64,
		VendorID:          0x0E2E,
		ProductID:         0x0303,
		DeviceVersion:     0x0101,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		NumConfigurations: 1,
	}

	var buf [18]byte
	original.MarshalTo(buf[:])

	var parsed DeviceDescriptor
	err := ParseDeviceDescriptor(buf[:], &parsed)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if parsed != *original {
		t.Errorf("parsed = %+v, want %+v", parsed, *original)
	}
}

func TestParseDeviceDescriptor_Errors(t *testing.T) {
	wrongType := make([]byte, 18)
	wrongType[0] = 18
	wrongType[1] = DescriptorTypeConfiguration

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"too short", make([]byte, 10), pkg.ErrDescriptorTooShort},
		{"wrong type", wrongType, pkg.ErrDescriptorTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var parsed DeviceDescriptor
			if err := ParseDeviceDescriptor(tt.data, &parsed); !errors.Is(err, tt.want) {
				t.Errorf("ParseDeviceDescriptor() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestQualifierDescriptor_MarshalTo(t *testing.T) {
	q := &QualifierDescriptor{
		USBVersion:        USBVersion20,
		DeviceClass:       ClassVendor,
		DeviceSubClass:    0xEE,
		DeviceProtocol:    0xDD,
		MaxPacketSize0:    64,
		NumConfigurations: 1,
	}

	buf := bytes.Repeat([]byte{0xFF}, QualifierDescriptorSize)
	if n := q.MarshalTo(buf); n != QualifierDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, QualifierDescriptorSize)
	}
	want := []byte{10, DescriptorTypeDeviceQualifier, 0x00, 0x02, ClassVendor, 0xEE, 0xDD, 64, 1, 0}
	if !bytes.Equal(buf, want) {
		t.Errorf("MarshalTo() = % X, want % X", buf, want)
	}
}

func TestEndpointDescriptor_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		desc EndpointDescriptor
		in   bool
	}{
		{"bulk out", EndpointDescriptor{0x01, hal.TransferBulk, 512, 0}, false},
		{"bulk in", EndpointDescriptor{0x82, hal.TransferBulk, 64, 0}, true},
		{"interrupt in", EndpointDescriptor{0x83, hal.TransferInterrupt, 8, 16}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [EndpointDescriptorSize]byte
			if n := tt.desc.MarshalTo(buf[:]); n != EndpointDescriptorSize {
				t.Fatalf("MarshalTo() = %d", n)
			}

			var parsed EndpointDescriptor
			if err := ParseEndpointDescriptor(buf[:], &parsed); err != nil {
				t.Fatal(err)
			}
			if parsed != tt.desc {
				t.Errorf("parsed = %+v, want %+v", parsed, tt.desc)
			}
			if parsed.IsIn() != tt.in {
				t.Errorf("IsIn() = %v, want %v", parsed.IsIn(), tt.in)
			}

			cfg := parsed.Config()
			if cfg.Address != tt.desc.EndpointAddress || cfg.MaxPacketSize != tt.desc.MaxPacketSize ||
				cfg.TransferType() != tt.desc.Attributes&0x03 || cfg.Interval != tt.desc.Interval {
				t.Errorf("Config() = %+v", cfg)
			}
		})
	}
}

func TestConfigBufferTo(t *testing.T) {
	config := &ConfigurationDescriptor{
		NumInterfaces:      1,
		ConfigurationValue: 1,
		Attributes:         ConfigAttrOne | ConfigAttrSelfPowered,
		MaxPower:           1,
	}
	iface := &InterfaceDescriptor{NumEndpoints: 2, InterfaceClass: ClassVendor}
	out := &EndpointDescriptor{EndpointAddress: 0x01, Attributes: hal.TransferBulk, MaxPacketSize: 512}
	in := &EndpointDescriptor{EndpointAddress: 0x81, Attributes: hal.TransferBulk, MaxPacketSize: 512}

	const total = ConfigurationDescriptorSize + InterfaceDescriptorSize + 2*EndpointDescriptorSize

	tests := []struct {
		name     string
		descType uint8
	}{
		{"configuration", DescriptorTypeConfiguration},
		{"other speed", DescriptorTypeOtherSpeedConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 64)
			n, err := ConfigBufferTo(buf, config, tt.descType, iface, out, in)
			if err != nil {
				t.Fatal(err)
			}
			if n != total {
				t.Fatalf("ConfigBufferTo() = %d, want %d", n, total)
			}
			if buf[1] != tt.descType {
				t.Errorf("bDescriptorType = 0x%02X, want 0x%02X", buf[1], tt.descType)
			}

			var parsed ConfigurationDescriptor
			if err := ParseConfigurationDescriptor(buf[:n], &parsed); err != nil {
				t.Fatal(err)
			}
			if parsed.TotalLength != total {
				t.Errorf("TotalLength = %d, want %d", parsed.TotalLength, total)
			}
			if parsed.Attributes != ConfigAttrOne|ConfigAttrSelfPowered {
				t.Errorf("Attributes = 0x%02X", parsed.Attributes)
			}
			if buf[ConfigurationDescriptorSize+1] != DescriptorTypeInterface {
				t.Errorf("interface descriptor missing at offset %d", ConfigurationDescriptorSize)
			}
		})
	}

	t.Run("buffer too small", func(t *testing.T) {
		_, err := ConfigBufferTo(make([]byte, total-1), config, DescriptorTypeConfiguration, iface, out, in)
		if !errors.Is(err, pkg.ErrInvalidArgument) {
			t.Errorf("ConfigBufferTo() error = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestParseConfigurationDescriptor_WrongType(t *testing.T) {
	data := []byte{9, DescriptorTypeInterface, 9, 0, 1, 1, 0, 0x80, 50}
	var parsed ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(data, &parsed); !errors.Is(err, pkg.ErrDescriptorTypeMismatch) {
		t.Errorf("error = %v, want ErrDescriptorTypeMismatch", err)
	}
	if err := ParseConfigurationDescriptor(data[:5], &parsed); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("error = %v, want ErrDescriptorTooShort", err)
	}
}

func TestStringDescriptorTo(t *testing.T) {
	buf := make([]byte, 255)

	n := StringDescriptorTo(buf, "BPS")
	want := []byte{8, DescriptorTypeString, 'B', 0, 'P', 0, 'S', 0}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("StringDescriptorTo() = % X, want % X", buf[:n], want)
	}

	// Characters outside the BMP take a surrogate pair.
	n = StringDescriptorTo(buf, "\U0001F50C")
	if n != 6 {
		t.Errorf("surrogate pair length = %d, want 6", n)
	}

	n = StringDescriptorTo(buf, strings.Repeat("x", 200))
	if n != 2+2*maxStringChars {
		t.Errorf("long string length = %d, want %d", n, 2+2*maxStringChars)
	}

	if n := StringDescriptorTo(buf[:4], "BPS"); n != 0 {
		t.Errorf("StringDescriptorTo(short) = %d, want 0", n)
	}
}

func TestStringTable_DescriptorTo(t *testing.T) {
	table := &StringTable{
		Language: LangIDUSEnglish,
		Strings: map[uint8]string{
			1: "Brady",
			2: "BPS",
		},
	}
	buf := make([]byte, 64)

	n, err := table.DescriptorTo(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], []byte{4, DescriptorTypeString, 0x09, 0x04}) {
		t.Errorf("language descriptor = % X", buf[:n])
	}

	n, err = table.DescriptorTo(buf, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 || buf[2] != 'B' {
		t.Errorf("string 2 = % X", buf[:n])
	}

	if _, err := table.DescriptorTo(buf, 3); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("unknown index error = %v, want ErrInvalidArgument", err)
	}
	if _, err := table.DescriptorTo(buf[:3], 1); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("short buffer error = %v, want ErrInvalidArgument", err)
	}
}
