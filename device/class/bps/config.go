package bps

import (
	"fmt"

	"github.com/ardnew/bpsgadget/pkg"
)

// SKU identifies a product model. The SKU is also the USB product ID.
type SKU uint32

// Supported SKUs.
const (
	SKUWiFiBTEth01 SKU = 771 // WiFi + Bluetooth + Ethernet
	SKUWiFiBT01    SKU = 772 // WiFi + Bluetooth
	SKUBTOnly01    SKU = 773 // Bluetooth only
	SKUEthOnly01   SKU = 774 // Ethernet only

	FirstSKU = SKUWiFiBTEth01
	LastSKU  = SKUEthOnly01
)

// String returns the SKU model name.
func (s SKU) String() string {
	switch s {
	case SKUWiFiBTEth01:
		return "WIFI_BT_ETH_01"
	case SKUWiFiBT01:
		return "WIFI_BT_01"
	case SKUBTOnly01:
		return "BT_ONLY_01"
	case SKUEthOnly01:
		return "ETH_ONLY_01"
	default:
		return fmt.Sprintf("SKU(%d)", uint32(s))
	}
}

// Valid reports whether s is within the supported range.
func (s SKU) Valid() bool {
	return s >= FirstSKU && s <= LastSKU
}

// Config holds the load-time parameters of the function.
type Config struct {
	SKU SKU

	Manufacturer  string
	Product       string
	Configuration string

	// SelfPowered sets the self-powered configuration attribute and
	// reports it to the controller at bind.
	SelfPowered bool
}

// DefaultConfig returns the configuration shipped with the product.
func DefaultConfig(sku SKU) Config {
	return Config{
		SKU:           sku,
		Manufacturer:  "Brady",
		Product:       "BPS",
		Configuration: "default",
		SelfPowered:   true,
	}
}

// ProductID returns the USB product ID for the configured SKU.
func (c *Config) ProductID() uint16 {
	return uint16(c.SKU)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.SKU.Valid() {
		return fmt.Errorf("sku %d outside [%d, %d]: %w",
			uint32(c.SKU), uint32(FirstSKU), uint32(LastSKU), pkg.ErrInvalidArgument)
	}
	return nil
}
