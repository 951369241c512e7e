package sizing

import "math"

// Config controls volatility-normalized sizing.
type Config struct {
	RiskPerTrade   float64 `yaml:"risk_per_trade"`   // fraction of capital risked per trade, e.g. 0.01
	StopMultiple   float64 `yaml:"stop_multiple"`    // stop distance as a multiple of the volatility measure, e.g. 3
	MaxNotionalPct float64 `yaml:"max_notional_pct"` // notional cap as fraction of capital, e.g. 0.10
}

func DefaultConfig() Config {
	return Config{
		RiskPerTrade:   0.01,
		StopMultiple:   3,
		MaxNotionalPct: 0.10,
	}
}

// Size converts a risk budget into whole shares. The stop distance is
// StopMultiple times the signal's volatility measure; the notional cap is a
// safety rail against near-zero volatility inputs. Returns 0 when the
// quantity rounds below one share, which the caller treats as a rejection.
func Size(referencePrice, volatilityMeasure, capital float64, cfg Config) int {
	if referencePrice <= 0 || capital <= 0 {
		return 0
	}
	stopDistance := cfg.StopMultiple * volatilityMeasure
	if stopDistance <= 0 {
		return 0
	}
	riskBudget := capital * cfg.RiskPerTrade
	qty := int(math.Floor(riskBudget / stopDistance))

	maxByNotional := int(math.Floor(capital * cfg.MaxNotionalPct / referencePrice))
	if qty > maxByNotional {
		qty = maxByNotional
	}
	if qty < 1 {
		return 0
	}
	return qty
}

// Apply scales a base quantity by the regime and correlation multipliers,
// flooring to whole shares.
func Apply(baseQty int, multipliers ...float64) int {
	scaled := float64(baseQty)
	for _, m := range multipliers {
		scaled *= m
	}
	qty := int(math.Floor(scaled))
	if qty < 1 {
		return 0
	}
	return qty
}
