package funnel

import (
	"sync"
	"time"

	"github.com/quantpilot/execution-pipeline/internal/observ"
	"github.com/quantpilot/execution-pipeline/internal/store"
)

// The five pipeline stages, in order. Counts per strategy must be
// monotonically non-increasing across them.
const (
	StageRaw         = "raw"
	StageRegime      = "after_regime"
	StageCorrelation = "after_correlation"
	StageRisk        = "after_risk"
	StageExecuted    = "executed"
)

// Stages in pipeline order.
var Stages = []string{StageRaw, StageRegime, StageCorrelation, StageRisk, StageExecuted}

// Tracker records per-strategy counts at each stage plus rejection records
// for one run. A signal that is rejected exits at that stage; its first
// rejection is its only one.
type Tracker struct {
	mu         sync.Mutex
	runID      string
	counts     map[string]map[string]int
	rejections []store.RejectionRecord
}

func NewTracker(runID string) *Tracker {
	return &Tracker{runID: runID, counts: map[string]map[string]int{}}
}

// Passed increments a strategy's counter at a stage.
func (t *Tracker) Passed(strategyID, stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.counts[strategyID]
	if !ok {
		m = map[string]int{}
		t.counts[strategyID] = m
	}
	m[stage]++
	observ.IncCounter("signals_total", map[string]string{"strategy": strategyID, "stage": stage})
}

// Rejected appends the terminal rejection record for a signal.
func (t *Tracker) Rejected(strategyID, instrument, stage, reasonCode, details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejections = append(t.rejections, store.RejectionRecord{
		RunID:      t.runID,
		StrategyID: strategyID,
		Instrument: instrument,
		Stage:      stage,
		ReasonCode: reasonCode,
		Details:    details,
		At:         time.Now().UTC(),
	})
	observ.IncCounter("rejections_total", map[string]string{
		"strategy": strategyID, "stage": stage, "reason": reasonCode,
	})
}

// Count returns one strategy's counter at a stage.
func (t *Tracker) Count(strategyID, stage string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[strategyID][stage]
}

// Counts materializes every counter as store rows. Strategies with a raw
// count get all five stages, so zero executed is visible, not absent.
func (t *Tracker) Counts() []store.FunnelCount {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []store.FunnelCount
	for strategyID, byStage := range t.counts {
		for _, stage := range Stages {
			out = append(out, store.FunnelCount{
				RunID:      t.runID,
				StrategyID: strategyID,
				Stage:      stage,
				Count:      byStage[stage],
			})
		}
	}
	return out
}

// Rejections returns the run's rejection records in arrival order.
func (t *Tracker) Rejections() []store.RejectionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]store.RejectionRecord(nil), t.rejections...)
}

// Flush persists counts and rejections.
func (t *Tracker) Flush(st store.Store) error {
	for _, rec := range t.Rejections() {
		r := rec
		if err := st.InsertRejection(&r); err != nil {
			return err
		}
	}
	return st.InsertFunnelCounts(t.Counts())
}

// Monotonic verifies raw >= after_regime >= after_correlation >= after_risk
// >= executed for every strategy.
func (t *Tracker) Monotonic() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, byStage := range t.counts {
		prev := -1
		for i, stage := range Stages {
			n := byStage[stage]
			if i > 0 && n > prev {
				return false
			}
			prev = n
		}
	}
	return true
}
