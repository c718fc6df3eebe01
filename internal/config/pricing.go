package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ModelPrice is the base price per 1,000 tokens for one model.
type ModelPrice struct {
	Model       string  `mapstructure:"model" json:"model"`
	PricePer1K  float64 `mapstructure:"pricePer1k" json:"price_per_1k"`
	Description string  `mapstructure:"description" json:"description,omitempty"`
}

// PricingTable is the model pricing lookup used by cost calculation.
// Unknown models fall back to FallbackPer1K instead of erroring.
type PricingTable struct {
	Models        []ModelPrice `mapstructure:"models" json:"models"`
	FallbackPer1K float64      `mapstructure:"fallbackPer1k" json:"fallback_per_1k"`
}

// PricePer1K returns the per-1k-token base price for a model.
func (t PricingTable) PricePer1K(model string) decimal.Decimal {
	model = strings.TrimSpace(strings.ToLower(model))
	for _, m := range t.Models {
		if strings.ToLower(m.Model) == model {
			return decimal.NewFromFloat(m.PricePer1K)
		}
	}
	return decimal.NewFromFloat(t.FallbackPer1K)
}

func DefaultPricingTable() PricingTable {
	return PricingTable{
		Models: []ModelPrice{
			{Model: "gpt-4o", PricePer1K: 0.0100},
			{Model: "gpt-4o-mini", PricePer1K: 0.0006},
			{Model: "gpt-4-turbo", PricePer1K: 0.0300},
			{Model: "claude-3-5-sonnet", PricePer1K: 0.0150},
			{Model: "claude-3-haiku", PricePer1K: 0.0012},
		},
		FallbackPer1K: 0.0100,
	}
}

// PricingHolder exposes the current pricing table and hot-reloads it from
// a volume-mounted pricing.yml when one is present.
type PricingHolder struct {
	current atomic.Value // holds PricingTable
}

func NewPricingHolder() (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/boardroom/config")
	v.AddConfigPath("/etc/boardroom")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BOARDROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPricingTable()
		v.SetDefault("pricing.models", defaults.Models)
		v.SetDefault("pricing.fallbackPer1k", defaults.FallbackPer1K)
	}

	var table PricingTable
	if err := v.UnmarshalKey("pricing", &table); err != nil {
		return nil, err
	}
	if err := validatePricingTable(table); err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(table)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingTable
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingTable(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPricingHolder wraps a fixed table, for tests.
func NewStaticPricingHolder(table PricingTable) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(table)
	return holder
}

func (h *PricingHolder) Get() PricingTable {
	return h.current.Load().(PricingTable)
}

func validatePricingTable(table PricingTable) error {
	if table.FallbackPer1K <= 0 {
		return errors.New("pricing.fallbackPer1k must be positive")
	}
	for _, m := range table.Models {
		if strings.TrimSpace(m.Model) == "" {
			return errors.New("pricing.models entries require a model name")
		}
		if m.PricePer1K < 0 {
			return errors.New("pricing.models prices cannot be negative")
		}
	}
	return nil
}
