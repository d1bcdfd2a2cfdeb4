package pricing

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Currency              string                   `yaml:"currency"`
	FreeShippingThreshold int64                    `yaml:"free_shipping_threshold"`
	ShippingFees          map[ShippingMethod]int64 `yaml:"shipping_fees"`
	// TaxRates maps a locale to a rate in basis points.
	TaxRates      map[string]int64 `yaml:"tax_rates_bps"`
	DefaultLocale string           `yaml:"default_locale"`
	Discounts     []Discount       `yaml:"discounts"`
}

func DefaultConfig() Config {
	return Config{
		Currency:              "MXN",
		FreeShippingThreshold: 100000,
		ShippingFees: map[ShippingMethod]int64{
			ShippingStandard: 9900,
			ShippingExpress:  19900,
			ShippingPickup:   0,
		},
		TaxRates: map[string]int64{
			"es-MX": 1600,
			"es-CO": 1900,
		},
		DefaultLocale: "es-MX",
	}
}

// LoadConfig reads pricing rules from a YAML file. An empty path yields DefaultConfig.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read pricing config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse pricing config: %w", err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.Currency == "" {
		c.Currency = def.Currency
	}
	if c.ShippingFees == nil {
		c.ShippingFees = def.ShippingFees
	}
	if c.TaxRates == nil {
		c.TaxRates = def.TaxRates
	}
	if c.DefaultLocale == "" {
		c.DefaultLocale = def.DefaultLocale
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Currency == "" {
		errs = append(errs, errors.New("currency is required"))
	}
	if c.FreeShippingThreshold < 0 {
		errs = append(errs, errors.New("free_shipping_threshold must not be negative"))
	}
	for m, fee := range c.ShippingFees {
		if !m.Valid() {
			errs = append(errs, fmt.Errorf("unknown shipping method %q", m))
		}
		if fee < 0 {
			errs = append(errs, fmt.Errorf("shipping fee for %q must not be negative", m))
		}
	}
	if _, ok := c.TaxRates[c.DefaultLocale]; !ok {
		errs = append(errs, fmt.Errorf("default locale %q has no tax rate", c.DefaultLocale))
	}
	for locale, bps := range c.TaxRates {
		if bps < 0 {
			errs = append(errs, fmt.Errorf("tax rate for %q must not be negative", locale))
		}
	}
	for _, d := range c.Discounts {
		if d.Code == "" {
			errs = append(errs, errors.New("discount code must not be empty"))
		}
		if d.Kind != DiscountPercent && d.Kind != DiscountFixed {
			errs = append(errs, fmt.Errorf("discount %q has unknown kind %q", d.Code, d.Kind))
		}
		if d.Value < 0 || (d.Kind == DiscountPercent && d.Value > 10000) {
			errs = append(errs, fmt.Errorf("discount %q has out of range value %d", d.Code, d.Value))
		}
	}
	return errors.Join(errs...)
}
