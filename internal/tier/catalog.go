// Package tier holds the static subscription tier catalog: per-tier feature
// ceilings and pricing. The catalog is immutable configuration loaded at
// process start.
package tier

import "github.com/shopspring/decimal"

// ID identifies a subscription tier.
type ID string

const (
	Starter      ID = "starter"
	Professional ID = "professional"
	Boardroom    ID = "boardroom"
	Enterprise   ID = "enterprise"
)

// Unlimited marks a feature ceiling with no limit.
const Unlimited int64 = -1

// Limits defines per-period feature ceilings for a tier. A value of
// Unlimited (-1) means the feature has no ceiling.
type Limits struct {
	MessagesPerMonth int64 `json:"messages_per_month"`
	DebatesPerMonth  int64 `json:"debates_per_month"`
	MaxDebateRounds  int64 `json:"max_debate_rounds"`
	MaxPersonas      int64 `json:"max_personas"`
	ExportsPerMonth  int64 `json:"exports_per_month"`
	APICallsPerMonth int64 `json:"api_calls_per_month"`
}

// Pricing defines what a tier costs.
type Pricing struct {
	MonthlyPrice         decimal.Decimal `json:"monthly_price"`
	YearlyPrice          decimal.Decimal `json:"yearly_price"`
	PricePerExtraMessage decimal.Decimal `json:"price_per_extra_message"`
	FreeTrialDays        int             `json:"free_trial_days"`
}

// Config is the full static configuration of one tier.
type Config struct {
	ID       ID              `json:"id"`
	Name     string          `json:"name"`
	Limits   Limits          `json:"limits"`
	Pricing  Pricing         `json:"pricing"`
	Discount decimal.Decimal `json:"discount"` // multiplier applied to model cost
}

var catalog = map[ID]Config{
	Starter: {
		ID:   Starter,
		Name: "Starter",
		Limits: Limits{
			MessagesPerMonth: 100,
			DebatesPerMonth:  10,
			MaxDebateRounds:  2,
			MaxPersonas:      3,
			ExportsPerMonth:  5,
			APICallsPerMonth: 0,
		},
		Pricing: Pricing{
			MonthlyPrice:         decimal.NewFromInt(29),
			YearlyPrice:          decimal.NewFromInt(290),
			PricePerExtraMessage: decimal.RequireFromString("0.15"),
			FreeTrialDays:        14,
		},
		Discount: decimal.RequireFromString("1.0"),
	},
	Professional: {
		ID:   Professional,
		Name: "Professional",
		Limits: Limits{
			MessagesPerMonth: 500,
			DebatesPerMonth:  50,
			MaxDebateRounds:  3,
			MaxPersonas:      5,
			ExportsPerMonth:  25,
			APICallsPerMonth: 1000,
		},
		Pricing: Pricing{
			MonthlyPrice:         decimal.NewFromInt(99),
			YearlyPrice:          decimal.NewFromInt(990),
			PricePerExtraMessage: decimal.RequireFromString("0.10"),
			FreeTrialDays:        14,
		},
		Discount: decimal.RequireFromString("0.9"),
	},
	Boardroom: {
		ID:   Boardroom,
		Name: "Boardroom",
		Limits: Limits{
			MessagesPerMonth: 2000,
			DebatesPerMonth:  200,
			MaxDebateRounds:  5,
			MaxPersonas:      Unlimited,
			ExportsPerMonth:  100,
			APICallsPerMonth: 10000,
		},
		Pricing: Pricing{
			MonthlyPrice:         decimal.NewFromInt(299),
			YearlyPrice:          decimal.NewFromInt(2990),
			PricePerExtraMessage: decimal.RequireFromString("0.08"),
			FreeTrialDays:        30,
		},
		Discount: decimal.RequireFromString("0.8"),
	},
	Enterprise: {
		ID:   Enterprise,
		Name: "Enterprise",
		Limits: Limits{
			MessagesPerMonth: Unlimited,
			DebatesPerMonth:  Unlimited,
			MaxDebateRounds:  Unlimited,
			MaxPersonas:      Unlimited,
			ExportsPerMonth:  Unlimited,
			APICallsPerMonth: Unlimited,
		},
		Pricing: Pricing{
			MonthlyPrice:         decimal.NewFromInt(999),
			YearlyPrice:          decimal.NewFromInt(9990),
			PricePerExtraMessage: decimal.Zero,
			FreeTrialDays:        30,
		},
		Discount: decimal.RequireFromString("0.7"),
	},
}

// order preserves a stable catalog ordering for listings.
var order = []ID{Starter, Professional, Boardroom, Enterprise}

// Get returns the configuration for a tier.
func Get(id ID) (Config, bool) {
	cfg, ok := catalog[id]
	return cfg, ok
}

// MustGet returns the tier config, falling back to Starter for unknown tiers.
func MustGet(id ID) Config {
	if cfg, ok := catalog[id]; ok {
		return cfg
	}
	return catalog[Starter]
}

// List returns all tiers in catalog order.
func List() []Config {
	out := make([]Config, 0, len(order))
	for _, id := range order {
		out = append(out, catalog[id])
	}
	return out
}

// Valid reports whether id names a known tier.
func Valid(id ID) bool {
	_, ok := catalog[id]
	return ok
}

// DiscountMultiplier returns the model-cost multiplier for a tier.
func DiscountMultiplier(id ID) decimal.Decimal {
	return MustGet(id).Discount
}
