package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig carries the per-event unit prices (KRW) and the free
// grant sizes handed to every new billing identity.
type PricingConfig struct {
	InvoiceIssueUnitPrice int64 `mapstructure:"invoiceIssueUnitPrice"`
	StatusCheckUnitPrice  int64 `mapstructure:"statusCheckUnitPrice"`
	MonthlyFee            int64 `mapstructure:"monthlyFee"`
	FreeInvoiceGrant      int   `mapstructure:"freeInvoiceGrant"`
	FreeStatusGrant       int   `mapstructure:"freeStatusGrant"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		InvoiceIssueUnitPrice: 200,
		StatusCheckUnitPrice:  15,
		MonthlyFee:            0,
		FreeInvoiceGrant:      5,
		FreeStatusGrant:       5,
	}
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingConfigHolder() (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/taxbill/config") // Volume-mounted config
	v.AddConfigPath("/etc/taxbill")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("TAXBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultPricingConfig()
		v.SetDefault("pricing.invoiceIssueUnitPrice", defaults.InvoiceIssueUnitPrice)
		v.SetDefault("pricing.statusCheckUnitPrice", defaults.StatusCheckUnitPrice)
		v.SetDefault("pricing.monthlyFee", defaults.MonthlyFee)
		v.SetDefault("pricing.freeInvoiceGrant", defaults.FreeInvoiceGrant)
		v.SetDefault("pricing.freeStatusGrant", defaults.FreeStatusGrant)
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// NewStaticPricingHolder wraps a fixed config without file watching.
// Intended for tests and one-shot commands.
func NewStaticPricingHolder(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validatePricingConfig(cfg PricingConfig) error {
	if cfg.InvoiceIssueUnitPrice < 0 || cfg.StatusCheckUnitPrice < 0 || cfg.MonthlyFee < 0 {
		return errors.New("pricing unit prices cannot be negative")
	}
	if cfg.FreeInvoiceGrant < 0 || cfg.FreeStatusGrant < 0 {
		return errors.New("pricing free grants cannot be negative")
	}
	return nil
}
