package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpilot/execution-pipeline/internal/broker"
	"github.com/quantpilot/execution-pipeline/internal/config"
	"github.com/quantpilot/execution-pipeline/internal/correlation"
	"github.com/quantpilot/execution-pipeline/internal/funnel"
	"github.com/quantpilot/execution-pipeline/internal/marketdata"
	"github.com/quantpilot/execution-pipeline/internal/reconcile"
	"github.com/quantpilot/execution-pipeline/internal/regime"
	"github.com/quantpilot/execution-pipeline/internal/risk"
	"github.com/quantpilot/execution-pipeline/internal/sizing"
	"github.com/quantpilot/execution-pipeline/internal/store"
	"github.com/quantpilot/execution-pipeline/internal/strategy"
)

type fakeStrategy struct {
	id      string
	tags    []string
	signals []strategy.Signal
	err     error
}

func (f *fakeStrategy) ID() string     { return f.id }
func (f *fakeStrategy) Tags() []string { return f.tags }
func (f *fakeStrategy) GenerateSignals(ctx context.Context, state strategy.MarketState) ([]strategy.Signal, error) {
	return f.signals, f.err
}

func testConfig() config.Root {
	return config.Root{
		TradingMode: "paper",
		CapitalBase: 100000,
		Regime:      regime.DefaultConfig(),
		Correlation: correlation.DefaultConfig(),
		Risk:        risk.DefaultConfig(),
		KillSwitch:  risk.DefaultKillSwitchConfig(),
		Sizing:      sizing.DefaultConfig(),
		Tolerances:  reconcile.DefaultTolerances(),
	}
}

func buySignal(instrument string) strategy.Signal {
	return strategy.Signal{
		Instrument:        instrument,
		Side:              strategy.SideBuy,
		Confidence:        0.8,
		Rationale:         "breakout",
		ReferencePrice:    150,
		VolatilityMeasure: 2.5,
	}
}

func newHarness(cfg config.Root, cash float64, vol float64, strategies ...strategy.Strategy) (*Orchestrator, *store.Memory, *broker.PaperVenue) {
	st := store.NewMemory()
	venue := broker.NewPaperVenue(cash)
	data := &marketdata.Static{VolIndex: vol}
	reg := strategy.NewRegistry()
	for _, s := range strategies {
		_ = reg.Register(s)
	}
	return New(cfg, st, venue, data, reg, nil), st, venue
}

var asOf = time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)

func TestRunCompletesAndFills(t *testing.T) {
	strat := &fakeStrategy{id: "trend", tags: []string{"momentum"}, signals: []strategy.Signal{buySignal("AAPL")}}
	o, st, venue := newHarness(testConfig(), 100000, 18, strat)

	result, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCompleted, result.Status)
	assert.Equal(t, regime.Normal, result.Regime)
	require.Len(t, result.Trades, 1)

	// Capital 100k, 1% risk, stop 3*2.5: budget caps at the 10% notional, 66 shares.
	trade := result.Trades[0]
	assert.Equal(t, 66, trade.Quantity)
	assert.Equal(t, 150.0, trade.Price)
	assert.Equal(t, 1, venue.SubmitCalls)

	intents, err := st.ListIntentsByRun(result.RunID)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, store.IntentFilled, intents[0].Status)

	trs, err := st.ListTransitions(intents[0].IntentID)
	require.NoError(t, err)
	require.Len(t, trs, 4)
	assert.Equal(t, store.IntentCreated, trs[0].ToStatus)
	assert.Equal(t, store.IntentSubmitted, trs[1].ToStatus)
	assert.Equal(t, store.IntentAcknowledged, trs[2].ToStatus)
	assert.Equal(t, store.IntentFilled, trs[3].ToStatus)

	positions, err := st.ListPositions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 66, positions[0].Quantity)

	run, err := st.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCompleted, run.Status)
	assert.Equal(t, "normal", run.Regime)

	assertFunnel(t, result.FunnelCounts, "trend", map[string]int{
		funnel.StageRaw: 1, funnel.StageRegime: 1, funnel.StageCorrelation: 1,
		funnel.StageRisk: 1, funnel.StageExecuted: 1,
	})
}

func assertFunnel(t *testing.T, counts []store.FunnelCount, strategyID string, want map[string]int) {
	t.Helper()
	got := map[string]int{}
	for _, c := range counts {
		if c.StrategyID == strategyID {
			got[c.Stage] = c.Count
		}
	}
	for stage, n := range want {
		assert.Equal(t, n, got[stage], "stage %s", stage)
	}
}

func TestReconcileFailureHaltsBeforeAnyIntent(t *testing.T) {
	strat := &fakeStrategy{id: "trend", signals: []strategy.Signal{buySignal("AAPL")}}
	o, st, venue := newHarness(testConfig(), 100000, 18, strat)

	// 5 shares locally against 3 at the venue exceeds the 1-share tolerance.
	require.NoError(t, st.UpsertPosition(store.Position{StrategyID: "trend", Instrument: "AAPL", Quantity: 5, AveragePrice: 150}))
	venue.SetPosition("AAPL", 3, 150)

	result, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusHalted, result.Status)
	assert.Equal(t, HaltReconciliation, result.HaltedReason)
	assert.Empty(t, result.Trades)
	assert.Equal(t, 0, venue.SubmitCalls)

	intents, err := st.ListIntentsByRun(result.RunID)
	require.NoError(t, err)
	assert.Empty(t, intents, "no intent may exist after a reconciliation halt")

	run, err := st.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusHalted, run.Status)
}

func TestDuplicateSignalSubmitsOnce(t *testing.T) {
	// The same signal twice in one run lands in the same idempotency bucket:
	// the second pass finds the existing intent and never calls the venue.
	sig := buySignal("AAPL")
	strat := &fakeStrategy{id: "trend", signals: []strategy.Signal{sig, sig}}
	o, st, venue := newHarness(testConfig(), 100000, 18, strat)
	o.SetClock(func() time.Time { return asOf })

	result, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCompleted, result.Status)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, 1, venue.SubmitCalls)

	intents, err := st.ListIntentsByRun(result.RunID)
	require.NoError(t, err)
	assert.Len(t, intents, 1)
}

func TestVenueFailureRecordedVerbatim(t *testing.T) {
	strat := &fakeStrategy{id: "trend", signals: []strategy.Signal{buySignal("AAPL")}}
	o, st, venue := newHarness(testConfig(), 100000, 18, strat)
	venue.SubmitErr = errors.New("insufficient buying power")

	result, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	// One failed order does not halt the run.
	assert.Equal(t, store.RunStatusCompleted, result.Status)
	assert.Empty(t, result.Trades)

	intents, err := st.ListIntentsByRun(result.RunID)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, store.IntentFailed, intents[0].Status)
	assert.Equal(t, "insufficient buying power", intents[0].Error)

	positions, err := st.ListPositions()
	require.NoError(t, err)
	assert.Empty(t, positions, "failed order must not touch positions")
}

func TestGlobalDisableHaltsRun(t *testing.T) {
	cfg := testConfig()
	cfg.KillSwitch.GlobalDisable = true
	strat := &fakeStrategy{id: "trend", signals: []strategy.Signal{buySignal("AAPL")}}
	o, _, venue := newHarness(cfg, 100000, 18, strat)

	result, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusHalted, result.Status)
	assert.Contains(t, result.HaltedReason, HaltKillSwitch)
	assert.Contains(t, result.HaltedReason, "manual_global_disable")
	assert.Equal(t, 0, venue.SubmitCalls)
}

func TestManualStrategyDisableSkipsOnlyThatStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.KillSwitch.DisabledStrategies = []string{"trend"}
	trend := &fakeStrategy{id: "trend", signals: []strategy.Signal{buySignal("AAPL")}}
	meanrev := &fakeStrategy{id: "meanrev", signals: []strategy.Signal{buySignal("MSFT")}}
	o, _, venue := newHarness(cfg, 100000, 18, trend, meanrev)

	result, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCompleted, result.Status)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, "meanrev", result.Trades[0].StrategyID)
	assert.Equal(t, 1, venue.SubmitCalls)

	require.Len(t, result.Rejections, 1)
	assert.Equal(t, "strategy_disabled", result.Rejections[0].ReasonCode)
}

func TestVolatileRegimeDisablesTaggedStrategies(t *testing.T) {
	strat := &fakeStrategy{id: "trend", tags: []string{"momentum"}, signals: []strategy.Signal{buySignal("AAPL")}}
	o, _, _ := newHarness(testConfig(), 100000, 30, strat)

	result, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCompleted, result.Status)
	assert.Equal(t, regime.Volatile, result.Regime)
	assert.Empty(t, result.Trades)
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, "regime_disabled", result.Rejections[0].ReasonCode)
}

func TestHeatLimitBlocksBuy(t *testing.T) {
	// Account value 20000 with a 9900 trade is 49.5% heat against a 30% cap.
	strat := &fakeStrategy{id: "trend", signals: []strategy.Signal{buySignal("AAPL")}}
	o, _, venue := newHarness(testConfig(), 20000, 18, strat)

	result, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCompleted, result.Status)
	assert.Empty(t, result.Trades)
	assert.Equal(t, 0, venue.SubmitCalls)
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, "heat_limit_exceeded", result.Rejections[0].ReasonCode)
	assert.Equal(t, funnel.StageRisk, result.Rejections[0].Stage)
}

func TestInvalidSignalRejectedAtIntake(t *testing.T) {
	bad := buySignal("AAPL")
	bad.Side = "HOLD"
	strat := &fakeStrategy{id: "trend", signals: []strategy.Signal{bad, buySignal("MSFT")}}
	o, _, _ := newHarness(testConfig(), 100000, 18, strat)

	result, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, "invalid_signal", result.Rejections[0].ReasonCode)
	assertFunnel(t, result.FunnelCounts, "trend", map[string]int{
		funnel.StageRaw: 2, funnel.StageRegime: 1, funnel.StageExecuted: 1,
	})
}

func TestStrategyErrorSkipsOnlyThatStrategy(t *testing.T) {
	broken := &fakeStrategy{id: "broken", err: errors.New("fixture missing")}
	healthy := &fakeStrategy{id: "trend", signals: []strategy.Signal{buySignal("AAPL")}}
	o, _, _ := newHarness(testConfig(), 100000, 18, broken, healthy)

	result, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCompleted, result.Status)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, "trend", result.Trades[0].StrategyID)
}

func TestCorrelatedCandidateAttenuated(t *testing.T) {
	// Held NVDA and candidate AMD share an identical price path, so the
	// candidate is rejected outright at the correlation stage.
	path := make([]float64, 60)
	for i := range path {
		path[i] = 100 + float64(i%7)*3 - float64(i%3)
	}
	strat := &fakeStrategy{id: "trend", signals: []strategy.Signal{buySignal("AMD")}}
	st := store.NewMemory()
	require.NoError(t, st.UpsertPosition(store.Position{StrategyID: "trend", Instrument: "NVDA", Quantity: 10, AveragePrice: 100}))
	venue := broker.NewPaperVenue(100000)
	venue.SetPosition("NVDA", 10, 100)
	data := &marketdata.Static{VolIndex: 18, Histories: map[string][]float64{"NVDA": path, "AMD": path}}
	reg := strategy.NewRegistry()
	require.NoError(t, reg.Register(strat))
	o := New(testConfig(), st, venue, data, reg, nil)

	result, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, "correlation_too_high", result.Rejections[0].ReasonCode)
}

func TestOvernightCashDriftHaltsNextRun(t *testing.T) {
	// Run one trades and records its closing cash belief. The venue then
	// loses 50k overnight; the next run's cash check must catch it.
	strat := &fakeStrategy{id: "trend", signals: []strategy.Signal{buySignal("AAPL")}}
	o, st, venue := newHarness(testConfig(), 100000, 18, strat)

	first, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	require.Equal(t, store.RunStatusCompleted, first.Status)
	require.Len(t, first.Trades, 1)

	snap, err := st.LatestSnapshot(store.SnapshotClose)
	require.NoError(t, err)
	assert.InDelta(t, 100000-66*150.0, snap.Cash, 1e-9)

	venue.SetCash(snap.Cash - 50000)

	second, err := o.Run(context.Background(), asOf.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusHalted, second.Status)
	assert.Equal(t, HaltReconciliation, second.HaltedReason)

	intents, err := st.ListIntentsByRun(second.RunID)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestCashBeliefCarriesAcrossCleanRuns(t *testing.T) {
	// Without drift the carried belief matches the venue and a second run
	// proceeds normally.
	strat := &fakeStrategy{id: "trend", signals: []strategy.Signal{buySignal("AAPL")}}
	o, _, _ := newHarness(testConfig(), 100000, 18, strat)

	first, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	require.Equal(t, store.RunStatusCompleted, first.Status)

	second, err := o.Run(context.Background(), asOf.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusCompleted, second.Status)
}

func TestSparseCorrelationConfigStillSeeds(t *testing.T) {
	// A config with windows but no history capacity must not fetch a
	// zero-length history and wave correlated candidates through.
	cfg := testConfig()
	cfg.Correlation = correlation.Config{LongWindow: 60, ShortWindow: 20,
		AttenuateAbove: 0.5, RejectAbove: 0.8, MinMultiplier: 0.25}

	path := make([]float64, 60)
	for i := range path {
		path[i] = 100 + float64(i%7)*3 - float64(i%3)
	}
	strat := &fakeStrategy{id: "trend", signals: []strategy.Signal{buySignal("AMD")}}
	st := store.NewMemory()
	require.NoError(t, st.UpsertPosition(store.Position{StrategyID: "trend", Instrument: "NVDA", Quantity: 10, AveragePrice: 100}))
	venue := broker.NewPaperVenue(100000)
	venue.SetPosition("NVDA", 10, 100)
	data := &marketdata.Static{VolIndex: 18, Histories: map[string][]float64{"NVDA": path, "AMD": path}}
	reg := strategy.NewRegistry()
	require.NoError(t, reg.Register(strat))
	o := New(cfg, st, venue, data, reg, nil)

	result, err := o.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, "correlation_too_high", result.Rejections[0].ReasonCode)
}
