package regime

// Regime is a discrete market-condition classification used to scale risk
// parameters for a whole run.
type Regime string

const (
	Quiet    Regime = "quiet"
	Normal   Regime = "normal"
	Volatile Regime = "volatile"
)

// Params are the regime-dependent risk parameters applied to every signal in
// a run.
type Params struct {
	Regime               Regime   `json:"regime"`
	MaxHeat              float64  `json:"max_heat"`             // aggregate exposure cap as fraction of portfolio value
	SizeMultiplier       float64  `json:"size_multiplier"`      // applied to every position size
	DisabledStrategyTags []string `json:"disabled_strategy_tags"`
}

// Config holds the volatility bands and the parameter set per band.
type Config struct {
	QuietBelow    float64 `yaml:"quiet_below"`    // vol index below this is quiet
	VolatileAbove float64 `yaml:"volatile_above"` // vol index above this is volatile

	QuietParams    BandParams `yaml:"quiet"`
	NormalParams   BandParams `yaml:"normal"`
	VolatileParams BandParams `yaml:"volatile"`
}

type BandParams struct {
	MaxHeat              float64  `yaml:"max_heat"`
	SizeMultiplier       float64  `yaml:"size_multiplier"`
	DisabledStrategyTags []string `yaml:"disabled_strategy_tags"`
}

// DefaultConfig mirrors the operating thresholds: quiet below 15, volatile
// above 25.
func DefaultConfig() Config {
	return Config{
		QuietBelow:    15,
		VolatileAbove: 25,
		QuietParams: BandParams{
			MaxHeat:        0.40,
			SizeMultiplier: 1.2,
		},
		NormalParams: BandParams{
			MaxHeat:        0.30,
			SizeMultiplier: 1.0,
		},
		VolatileParams: BandParams{
			MaxHeat:              0.15,
			SizeMultiplier:       0.5,
			DisabledStrategyTags: []string{"momentum", "breakout"},
		},
	}
}

// Classify maps a volatility index to a regime and its parameter set. Pure
// and deterministic so replayed runs classify identically.
func Classify(volIndex float64, cfg Config) Params {
	switch {
	case volIndex < cfg.QuietBelow:
		return toParams(Quiet, cfg.QuietParams)
	case volIndex > cfg.VolatileAbove:
		return toParams(Volatile, cfg.VolatileParams)
	default:
		return toParams(Normal, cfg.NormalParams)
	}
}

func toParams(r Regime, b BandParams) Params {
	return Params{
		Regime:               r,
		MaxHeat:              b.MaxHeat,
		SizeMultiplier:       b.SizeMultiplier,
		DisabledStrategyTags: append([]string(nil), b.DisabledStrategyTags...),
	}
}

// Disables reports whether the regime disables a strategy carrying any of
// the given tags.
func (p Params) Disables(tags []string) bool {
	for _, tag := range tags {
		for _, disabled := range p.DisabledStrategyTags {
			if tag == disabled {
				return true
			}
		}
	}
	return false
}
