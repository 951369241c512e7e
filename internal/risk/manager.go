package risk

import (
	"github.com/quantpilot/execution-pipeline/internal/observ"
)

// Config holds the portfolio-level risk limits.
type Config struct {
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"` // e.g. 0.02 blocks new positions past -2% on the day
}

func DefaultConfig() Config {
	return Config{MaxDailyLossPct: 0.02}
}

// Manager tracks portfolio heat and the daily-loss circuit breaker. Both
// checks are advisory gates evaluated per candidate trade; the run is a
// single sequential pass so no locking is needed here.
type Manager struct {
	cfg             Config
	dailyStartValue float64
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// SetDailyStart fixes the reference value for the daily-loss check. Called
// once per run from the current portfolio value.
func (m *Manager) SetDailyStart(value float64) {
	m.dailyStartValue = value
	observ.SetGauge("daily_start_value", value, nil)
}

// DailyStart returns the reference value set for this run.
func (m *Manager) DailyStart() float64 { return m.dailyStartValue }

// CanAdd reports whether a new trade keeps aggregate exposure within the
// regime's heat limit. The boundary is inclusive: heat exactly at maxHeat
// passes.
func (m *Manager) CanAdd(tradeValue, currentExposure, portfolioValue, maxHeat float64) bool {
	if portfolioValue <= 0 {
		return false
	}
	heat := (currentExposure + tradeValue) / portfolioValue
	ok := heat <= maxHeat
	if !ok {
		observ.IncCounter("heat_gate_blocks_total", nil)
	}
	return ok
}

// CheckDailyLoss reports whether new positions are still allowed given the
// current portfolio value. Returns false once the day's loss exceeds the
// configured limit. Existing positions are unaffected.
func (m *Manager) CheckDailyLoss(currentValue float64) bool {
	if m.dailyStartValue <= 0 {
		return true
	}
	change := (currentValue - m.dailyStartValue) / m.dailyStartValue
	ok := change >= -m.cfg.MaxDailyLossPct
	if !ok {
		observ.IncCounter("daily_loss_blocks_total", nil)
	}
	return ok
}

// DailyDrawdownPct returns the current drawdown as a positive percentage of
// the daily start value, for kill-switch evaluation.
func (m *Manager) DailyDrawdownPct(currentValue float64) float64 {
	if m.dailyStartValue <= 0 {
		return 0
	}
	change := (currentValue - m.dailyStartValue) / m.dailyStartValue
	if change >= 0 {
		return 0
	}
	return -change * 100
}
