package risk

import (
	"fmt"

	"github.com/quantpilot/execution-pipeline/internal/observ"
)

// KillSwitchConfig holds the manual flags and automatic thresholds. Flags
// are resolved once per run by the config loader; the evaluator never reads
// the environment itself.
type KillSwitchConfig struct {
	GlobalDisable       bool     `yaml:"global_disable"`
	DisabledStrategies  []string `yaml:"disabled_strategies"`
	MaxDailyDrawdownPct float64  `yaml:"max_daily_drawdown_pct"` // e.g. 4.0
	MaxConsecutiveFails int      `yaml:"max_consecutive_fails"`  // e.g. 5
	MaxRejectionRate    float64  `yaml:"max_rejection_rate"`     // e.g. 0.5
}

func DefaultKillSwitchConfig() KillSwitchConfig {
	return KillSwitchConfig{
		MaxDailyDrawdownPct: 4.0,
		MaxConsecutiveFails: 5,
		MaxRejectionRate:    0.5,
	}
}

// KillSwitchContext is everything the evaluator looks at. It is assembled by
// the orchestrator; evaluation itself queries nothing.
type KillSwitchContext struct {
	Config              KillSwitchConfig
	ReconcilePassed     bool
	ReconcileKnown      bool // false before the pre-trade reconcile has run
	DailyDrawdownPct    float64
	ConsecutiveFailures int
	RejectionRate       float64
	RejectionSamples    int
}

// KillSwitchDecision reports whether the run may proceed and every condition
// that failed, in evaluation order.
type KillSwitchDecision struct {
	Proceed bool     `json:"proceed"`
	Reasons []string `json:"reasons,omitempty"`
}

// EvaluateKillSwitch checks manual flags first, then automatic conditions in
// fixed order: reconciliation, drawdown, consecutive failures, rejection
// rate. The first failure decides the outcome but every failing condition is
// still collected for reporting.
func EvaluateKillSwitch(ctx KillSwitchContext) KillSwitchDecision {
	cfg := ctx.Config
	var reasons []string

	if cfg.GlobalDisable {
		reasons = append(reasons, "manual_global_disable")
	}
	if ctx.ReconcileKnown && !ctx.ReconcilePassed {
		reasons = append(reasons, "reconciliation_failed")
	}
	if cfg.MaxDailyDrawdownPct > 0 && ctx.DailyDrawdownPct > cfg.MaxDailyDrawdownPct {
		reasons = append(reasons, fmt.Sprintf("daily_drawdown_%.2f_exceeds_%.2f",
			ctx.DailyDrawdownPct, cfg.MaxDailyDrawdownPct))
	}
	if cfg.MaxConsecutiveFails > 0 && ctx.ConsecutiveFailures >= cfg.MaxConsecutiveFails {
		reasons = append(reasons, fmt.Sprintf("consecutive_failures_%d", ctx.ConsecutiveFailures))
	}
	if cfg.MaxRejectionRate > 0 && ctx.RejectionSamples > 0 && ctx.RejectionRate > cfg.MaxRejectionRate {
		reasons = append(reasons, fmt.Sprintf("rejection_rate_%.2f", ctx.RejectionRate))
	}

	if len(reasons) > 0 {
		observ.IncCounter("kill_switch_trips_total", map[string]string{"reason": reasons[0]})
		return KillSwitchDecision{Proceed: false, Reasons: reasons}
	}
	return KillSwitchDecision{Proceed: true}
}

// StrategyDisabled reports whether a strategy is manually disabled for the
// run.
func (c KillSwitchConfig) StrategyDisabled(strategyID string) bool {
	for _, id := range c.DisabledStrategies {
		if id == strategyID {
			return true
		}
	}
	return false
}
