package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantpilot/execution-pipeline/internal/alerts"
	"github.com/quantpilot/execution-pipeline/internal/broker"
	"github.com/quantpilot/execution-pipeline/internal/correlation"
	"github.com/quantpilot/execution-pipeline/internal/marketdata"
	"github.com/quantpilot/execution-pipeline/internal/regime"
	"github.com/quantpilot/execution-pipeline/internal/reconcile"
	"github.com/quantpilot/execution-pipeline/internal/risk"
	"github.com/quantpilot/execution-pipeline/internal/sizing"
	"github.com/quantpilot/execution-pipeline/internal/store"
)

// StrategyConfig declares one registered strategy. Signals are produced
// externally; SignalsFile points at the fixture the upstream job drops.
type StrategyConfig struct {
	ID          string   `yaml:"id"`
	Tags        []string `yaml:"tags"`
	SignalsFile string   `yaml:"signals_file"`
}

// Root is the resolved run configuration. Kill-switch flags live here so the
// pipeline only ever reads already-resolved values, never the environment
// mid-run.
type Root struct {
	TradingMode   string  `yaml:"trading_mode"` // paper | live | dry-run
	CapitalBase   float64 `yaml:"capital_base"`
	JournalPath   string  `yaml:"journal_path"`
	PostReconcile bool    `yaml:"post_reconcile"` // optional post-trade reconciliation pass

	Strategies []StrategyConfig `yaml:"strategies"`

	Regime      regime.Config          `yaml:"regime"`
	Correlation correlation.Config     `yaml:"correlation"`
	Risk        risk.Config            `yaml:"risk"`
	KillSwitch  risk.KillSwitchConfig  `yaml:"kill_switch"`
	Sizing      sizing.Config          `yaml:"sizing"`
	Tolerances  reconcile.Tolerances   `yaml:"reconcile_tolerances"`
	Venue       broker.HTTPVenueConfig `yaml:"venue"`
	MarketData  marketdata.HTTPConfig  `yaml:"market_data"`
	Alerts      alerts.Config          `yaml:"alerts"`
	Database    store.Config           `yaml:"database"`
}

// Load reads the YAML config and applies defaults for anything unset.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	return c, nil
}

func applyDefaults(c *Root) {
	if c.TradingMode == "" {
		c.TradingMode = "paper"
	}
	if c.CapitalBase == 0 {
		c.CapitalBase = 100000
	}
	if c.JournalPath == "" {
		c.JournalPath = "data/journal.jsonl"
	}
	if c.Regime.QuietBelow == 0 && c.Regime.VolatileAbove == 0 {
		c.Regime = regime.DefaultConfig()
	}
	corrDefaults := correlation.DefaultConfig()
	if c.Correlation.LongWindow == 0 {
		c.Correlation.LongWindow = corrDefaults.LongWindow
	}
	if c.Correlation.ShortWindow == 0 {
		c.Correlation.ShortWindow = corrDefaults.ShortWindow
	}
	if c.Correlation.AttenuateAbove == 0 {
		c.Correlation.AttenuateAbove = corrDefaults.AttenuateAbove
	}
	if c.Correlation.RejectAbove == 0 {
		c.Correlation.RejectAbove = corrDefaults.RejectAbove
	}
	if c.Correlation.MinMultiplier == 0 {
		c.Correlation.MinMultiplier = corrDefaults.MinMultiplier
	}
	if c.Correlation.HistoryCapacity == 0 {
		c.Correlation.HistoryCapacity = corrDefaults.HistoryCapacity
	}
	if c.Correlation.HistoryCapacity < c.Correlation.LongWindow {
		c.Correlation.HistoryCapacity = c.Correlation.LongWindow
	}
	if c.Risk.MaxDailyLossPct == 0 {
		c.Risk = risk.DefaultConfig()
	}
	if c.KillSwitch.MaxDailyDrawdownPct == 0 && c.KillSwitch.MaxConsecutiveFails == 0 {
		disabled := c.KillSwitch.DisabledStrategies
		global := c.KillSwitch.GlobalDisable
		c.KillSwitch = risk.DefaultKillSwitchConfig()
		c.KillSwitch.DisabledStrategies = disabled
		c.KillSwitch.GlobalDisable = global
	}
	if c.Sizing.RiskPerTrade == 0 {
		c.Sizing = sizing.DefaultConfig()
	}
	if c.Tolerances == (reconcile.Tolerances{}) {
		c.Tolerances = reconcile.DefaultTolerances()
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
}
