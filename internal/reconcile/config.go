package reconcile

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// Config holds the comparison policy. Tolerances are deliberately
// configuration, not constants; the defaults follow current GST slabs
// and a one-rupee-or-one-percent amount tolerance.
type Config struct {
	// RateSlabs are the plausible declared GST rates in percent.
	RateSlabs []decimal.Decimal
	// RateDriftTolerance is the max allowed gap, in percentage points,
	// between a declared rate and the resolved rate before a WARNING.
	RateDriftTolerance decimal.Decimal
	// AmountToleranceUnits / AmountTolerancePct: the effective amount
	// tolerance is the smaller of the two (pct applied to line total).
	AmountToleranceUnits decimal.Decimal
	AmountTolerancePct   decimal.Decimal
	// CriticalMultiplier: deltas beyond multiplier x tolerance escalate
	// from WARNING to CRITICAL.
	CriticalMultiplier decimal.Decimal
	// ResolveConcurrency caps parallel rate lookups per invoice.
	ResolveConcurrency int
}

func DefaultConfig() Config {
	return Config{
		RateSlabs: []decimal.Decimal{
			decimal.NewFromInt(0),
			decimal.NewFromInt(5),
			decimal.NewFromInt(12),
			decimal.NewFromInt(18),
			decimal.NewFromInt(28),
		},
		RateDriftTolerance:   decimal.RequireFromString("0.01"),
		AmountToleranceUnits: decimal.NewFromInt(1),
		AmountTolerancePct:   decimal.RequireFromString("0.01"),
		CriticalMultiplier:   decimal.NewFromInt(5),
		ResolveConcurrency:   4,
	}
}

func LoadConfig() Config {
	cfg := DefaultConfig()
	if slabs := getenv("GST_RATE_SLABS", ""); slabs != "" {
		parsed := make([]decimal.Decimal, 0, 5)
		for _, part := range strings.Split(slabs, ",") {
			if d, err := decimal.NewFromString(strings.TrimSpace(part)); err == nil {
				parsed = append(parsed, d)
			}
		}
		if len(parsed) > 0 {
			cfg.RateSlabs = parsed
		}
	}
	cfg.RateDriftTolerance = getDecimal("RATE_DRIFT_TOLERANCE", cfg.RateDriftTolerance)
	cfg.AmountToleranceUnits = getDecimal("AMOUNT_TOLERANCE_UNITS", cfg.AmountToleranceUnits)
	cfg.AmountTolerancePct = getDecimal("AMOUNT_TOLERANCE_PCT", cfg.AmountTolerancePct)
	cfg.CriticalMultiplier = getDecimal("CRITICAL_MULTIPLIER", cfg.CriticalMultiplier)
	return cfg
}

func (c Config) plausibleRate(rate decimal.Decimal) bool {
	for _, slab := range c.RateSlabs {
		if rate.Equal(slab) {
			return true
		}
	}
	return false
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}
