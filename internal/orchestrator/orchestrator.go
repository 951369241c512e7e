package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantpilot/execution-pipeline/internal/broker"
	"github.com/quantpilot/execution-pipeline/internal/config"
	"github.com/quantpilot/execution-pipeline/internal/correlation"
	"github.com/quantpilot/execution-pipeline/internal/funnel"
	"github.com/quantpilot/execution-pipeline/internal/intent"
	"github.com/quantpilot/execution-pipeline/internal/journal"
	"github.com/quantpilot/execution-pipeline/internal/marketdata"
	"github.com/quantpilot/execution-pipeline/internal/observ"
	"github.com/quantpilot/execution-pipeline/internal/portfolio"
	"github.com/quantpilot/execution-pipeline/internal/reconcile"
	"github.com/quantpilot/execution-pipeline/internal/regime"
	"github.com/quantpilot/execution-pipeline/internal/risk"
	"github.com/quantpilot/execution-pipeline/internal/sizing"
	"github.com/quantpilot/execution-pipeline/internal/store"
	"github.com/quantpilot/execution-pipeline/internal/strategy"
)

// Halt reason codes. Every HALTED run carries one of these.
const (
	HaltKillSwitch     = "kill_switch"
	HaltReconciliation = "reconciliation_failed"
	HaltMarketData     = "market_data_unavailable"
	HaltInternal       = "internal_error"
)

// Trade is one executed order in a run.
type Trade struct {
	IntentID     string  `json:"intent_id"`
	VenueOrderID string  `json:"venue_order_id"`
	StrategyID   string  `json:"strategy_id"`
	Instrument   string  `json:"instrument"`
	Side         string  `json:"side"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"`
}

// RunResult is the terminal outcome of one invocation, handed to the
// reporting layer.
type RunResult struct {
	RunID        string              `json:"run_id"`
	Status       string              `json:"status"`
	HaltedReason string              `json:"halted_reason,omitempty"`
	Regime       regime.Regime       `json:"regime,omitempty"`
	Trades       []Trade             `json:"trades"`
	FunnelCounts []store.FunnelCount `json:"funnel_counts"`
	Rejections   []store.RejectionRecord `json:"rejections"`
}

// Orchestrator sequences one daily pipeline pass and owns its terminal
// status. The pass is strictly sequential; a reconciliation failure or
// kill-switch trip halts before any new order, while a single strategy's
// failure only skips that strategy.
type Orchestrator struct {
	cfg        config.Root
	store      store.Store
	venue      broker.Venue
	data       marketdata.Provider
	strategies *strategy.Registry
	journal    *journal.Journal
	now        func() time.Time
}

func New(cfg config.Root, st store.Store, venue broker.Venue, data marketdata.Provider, strategies *strategy.Registry, jnl *journal.Journal) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      st,
		venue:      venue,
		data:       data,
		strategies: strategies,
		journal:    jnl,
		now:        time.Now,
	}
}

// SetClock pins the clock, for tests that need intent-bucket control.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Rejection reason codes used in RejectionRecords.
const (
	reasonStrategyDisabled  = "strategy_disabled"
	reasonRegimeDisabled    = "regime_disabled"
	reasonBadSignal         = "invalid_signal"
	reasonCorrelation       = "correlation_too_high"
	reasonHeat              = "heat_limit_exceeded"
	reasonDailyLoss         = "daily_loss_limit"
	reasonZeroSize          = "zero_size"
)

// Run executes one daily pass. Unexpected panics from collaborator code are
// converted at this boundary into a HALTED result with the raw error
// preserved; "unknown error" is never a terminal state.
func (o *Orchestrator) Run(ctx context.Context, asOfDate time.Time) (result RunResult, err error) {
	start := o.now()
	runID := uuid.New().String()
	result = RunResult{RunID: runID, Status: store.RunStatusRunning, Trades: []Trade{}}

	run := &store.Run{
		RunID:     runID,
		AsOfDate:  asOfDate.Format("2006-01-02"),
		Status:    store.RunStatusRunning,
		StartedAt: start.UTC(),
	}
	if err := o.store.CreateRun(run); err != nil {
		return result, fmt.Errorf("create run: %w", err)
	}

	tracker := funnel.NewTracker(runID)
	var book *portfolio.Book
	defer func() {
		if r := recover(); r != nil {
			result.Status = store.RunStatusHalted
			result.HaltedReason = HaltInternal
			err = fmt.Errorf("run %s: panic: %v", runID, r)
			if book != nil {
				o.snapshotLocal(runID, book)
			}
			o.finish(run, &result, tracker, start, err)
			return
		}
		o.finish(run, &result, tracker, start, err)
	}()

	observ.Log("run_started", map[string]any{"run_id": runID, "as_of": run.AsOfDate})

	// Local book and venue account. Failing to reach the venue here is a
	// precondition failure: nothing has been decided yet, halt cleanly.
	account, err := o.venue.GetAccount(ctx)
	if err != nil {
		result.Status = store.RunStatusHalted
		result.HaltedReason = HaltInternal
		return result, fmt.Errorf("venue account: %w", err)
	}

	// The cash belief is carried forward from the previous run's closing
	// snapshot so the reconciliation cash check compares two independent
	// numbers. Only a first run with no history trusts the venue.
	localCash := account.Cash
	if snap, snapErr := o.store.LatestSnapshot(store.SnapshotClose); snapErr == nil {
		localCash = snap.Cash
	} else if !errors.Is(snapErr, store.ErrNotFound) {
		result.Status = store.RunStatusHalted
		result.HaltedReason = HaltInternal
		return result, fmt.Errorf("load cash belief: %w", snapErr)
	}

	book, err = portfolio.Load(o.store, localCash)
	if err != nil {
		result.Status = store.RunStatusHalted
		result.HaltedReason = HaltInternal
		return result, err
	}

	riskMgr := risk.NewManager(o.cfg.Risk)
	riskMgr.SetDailyStart(book.Value())

	// Kill switch, manual flags plus automatic conditions from prior runs.
	failStats, err := o.store.RecentFailureStats(50)
	if err != nil {
		result.Status = store.RunStatusHalted
		result.HaltedReason = HaltInternal
		return result, fmt.Errorf("failure stats: %w", err)
	}
	decision := risk.EvaluateKillSwitch(risk.KillSwitchContext{
		Config:              o.cfg.KillSwitch,
		ReconcileKnown:      false,
		DailyDrawdownPct:    riskMgr.DailyDrawdownPct(book.Value()),
		ConsecutiveFailures: failStats.ConsecutiveFailures,
		RejectionRate:       failStats.RejectionRate,
		RejectionSamples:    failStats.Sampled,
	})
	if !decision.Proceed {
		result.Status = store.RunStatusHalted
		result.HaltedReason = HaltKillSwitch + ":" + strings.Join(decision.Reasons, ",")
		return result, nil
	}

	// Mandatory pre-trade reconciliation. FAIL halts the run system-wide
	// before any intent exists.
	reconciler := reconcile.New(o.venue, o.cfg.Tolerances)
	recResult, err := reconciler.Reconcile(ctx, book.Positions(), book.Cash())
	if err != nil {
		result.Status = store.RunStatusHalted
		result.HaltedReason = HaltReconciliation
		return result, fmt.Errorf("pre-trade reconcile: %w", err)
	}
	o.snapshot(runID, store.SnapshotPre, recResult.VenuePositions, recResult.VenueCash)
	if recResult.Status == reconcile.StatusFail {
		result.Status = store.RunStatusHalted
		result.HaltedReason = HaltReconciliation
		observ.Log("run_halted_reconcile", map[string]any{
			"run_id": runID, "discrepancies": len(recResult.Discrepancies),
		})
		return result, nil
	}
	o.snapshot(runID, store.SnapshotReconciled, recResult.VenuePositions, recResult.VenueCash)

	// Regime classification, once per run.
	volIndex, err := o.data.VolatilityIndex(ctx, asOfDate)
	if err != nil {
		result.Status = store.RunStatusHalted
		result.HaltedReason = HaltMarketData
		return result, fmt.Errorf("volatility index: %w", err)
	}
	params := regime.Classify(volIndex, o.cfg.Regime)
	result.Regime = params.Regime
	run.Regime = string(params.Regime)
	observ.Log("regime_classified", map[string]any{
		"run_id": runID, "vol_index": volIndex, "regime": params.Regime,
		"max_heat": params.MaxHeat, "size_multiplier": params.SizeMultiplier,
	})

	// Correlation history for held instruments; candidates are seeded lazily
	// as their signals arrive.
	corrFilter := correlation.NewFilter(o.cfg.Correlation)
	for _, instrument := range book.HeldInstruments() {
		o.seedHistory(ctx, corrFilter, instrument)
	}

	state := strategy.MarketState{AsOfDate: asOfDate, VolatilityIndex: volIndex}
	for _, strat := range o.strategies.All() {
		o.runStrategy(ctx, strat, state, params, tracker, book, riskMgr, corrFilter, runID, &result)
	}

	// Optional post-trade verification.
	if o.cfg.PostReconcile {
		postResult, err := reconciler.Reconcile(ctx, book.Positions(), book.Cash())
		if err != nil {
			observ.LogError("post_trade_reconcile_error", err, map[string]any{"run_id": runID})
		} else {
			o.snapshot(runID, store.SnapshotPost, postResult.VenuePositions, postResult.VenueCash)
			if postResult.Status == reconcile.StatusFail {
				observ.Log("post_trade_reconcile_failed", map[string]any{
					"run_id": runID, "discrepancies": len(postResult.Discrepancies),
				})
			}
		}
	}

	o.snapshotLocal(runID, book)

	result.Status = store.RunStatusCompleted
	return result, nil
}

// runStrategy drains one strategy's signals through the funnel. A failure
// here is non-critical: the strategy is skipped and the run continues.
func (o *Orchestrator) runStrategy(
	ctx context.Context,
	strat strategy.Strategy,
	state strategy.MarketState,
	params regime.Params,
	tracker *funnel.Tracker,
	book *portfolio.Book,
	riskMgr *risk.Manager,
	corrFilter *correlation.Filter,
	runID string,
	result *RunResult,
) {
	signals, err := strat.GenerateSignals(ctx, state)
	if err != nil {
		observ.LogError("strategy_skipped", err, map[string]any{"run_id": runID, "strategy": strat.ID()})
		observ.IncCounter("strategies_skipped_total", map[string]string{"strategy": strat.ID()})
		return
	}

	manualDisabled := o.cfg.KillSwitch.StrategyDisabled(strat.ID())
	regimeDisabled := params.Disables(strat.Tags())

	for _, sig := range signals {
		tracker.Passed(strat.ID(), funnel.StageRaw)

		if err := sig.Validate(); err != nil {
			tracker.Rejected(strat.ID(), sig.Instrument, funnel.StageRaw, reasonBadSignal, err.Error())
			continue
		}
		if manualDisabled {
			tracker.Rejected(strat.ID(), sig.Instrument, funnel.StageRegime, reasonStrategyDisabled, "")
			continue
		}
		if regimeDisabled {
			tracker.Rejected(strat.ID(), sig.Instrument, funnel.StageRegime, reasonRegimeDisabled,
				fmt.Sprintf("regime %s disables tags %v", params.Regime, params.DisabledStrategyTags))
			continue
		}
		tracker.Passed(strat.ID(), funnel.StageRegime)

		o.seedHistory(ctx, corrFilter, sig.Instrument)
		corrResult := corrFilter.Evaluate(sig.Instrument, book.HeldInstruments())
		if !corrResult.Accept {
			tracker.Rejected(strat.ID(), sig.Instrument, funnel.StageCorrelation, reasonCorrelation, corrResult.Reason)
			continue
		}
		tracker.Passed(strat.ID(), funnel.StageCorrelation)

		baseQty := sizing.Size(sig.ReferencePrice, sig.VolatilityMeasure, o.cfg.CapitalBase, o.cfg.Sizing)
		qty := sizing.Apply(baseQty, params.SizeMultiplier, corrResult.SizeMultiplier)
		if qty == 0 {
			tracker.Rejected(strat.ID(), sig.Instrument, funnel.StageRisk, reasonZeroSize,
				fmt.Sprintf("base=%d regime=%.2f corr=%.2f", baseQty, params.SizeMultiplier, corrResult.SizeMultiplier))
			continue
		}
		tradeValue := float64(qty) * sig.ReferencePrice
		if !riskMgr.CheckDailyLoss(book.Value()) {
			tracker.Rejected(strat.ID(), sig.Instrument, funnel.StageRisk, reasonDailyLoss,
				fmt.Sprintf("start=%.2f current=%.2f", riskMgr.DailyStart(), book.Value()))
			continue
		}
		if sig.Side == strategy.SideBuy && !riskMgr.CanAdd(tradeValue, book.ExposureUSD(), book.Value(), params.MaxHeat) {
			tracker.Rejected(strat.ID(), sig.Instrument, funnel.StageRisk, reasonHeat,
				fmt.Sprintf("trade=%.2f exposure=%.2f value=%.2f max_heat=%.2f",
					tradeValue, book.ExposureUSD(), book.Value(), params.MaxHeat))
			continue
		}
		tracker.Passed(strat.ID(), funnel.StageRisk)

		trade, executed := o.execute(ctx, sig, strat.ID(), qty, runID, book)
		if executed {
			tracker.Passed(strat.ID(), funnel.StageExecuted)
			result.Trades = append(result.Trades, trade)
			corrFilter.Observe(sig.Instrument, trade.Price)
		}
	}
}

// execute takes a fully gated signal through intent creation, the venue
// call, and local state updates. Each store write is its own step: the venue
// call sits between "create intent" and "mark submitted", so a later local
// failure never rolls back the order the venue already owns.
func (o *Orchestrator) execute(ctx context.Context, sig strategy.Signal, strategyID string, qty int, runID string, book *portfolio.Book) (Trade, bool) {
	intents := intent.NewBookAt(o.store, o.now)
	key := intent.Key{
		RunID:      runID,
		StrategyID: strategyID,
		Instrument: sig.Instrument,
		Side:       sig.Side,
		Quantity:   qty,
		Bucket:     intent.Bucket(o.now()),
	}

	it, err := intents.Create(key)
	if err == intent.ErrDuplicate {
		// Duplicate inside the bucket is a no-op success: the venue call is
		// skipped entirely.
		observ.Log("intent_duplicate_skipped", map[string]any{
			"run_id": runID, "intent_id": it.IntentID, "status": it.Status,
		})
		return Trade{}, false
	}
	if err != nil {
		observ.LogError("intent_create_failed", err, map[string]any{"run_id": runID, "instrument": sig.Instrument})
		return Trade{}, false
	}
	if o.journal != nil {
		_ = o.journal.WriteOrder(journal.OrderEntry{
			IntentID: it.IntentID, RunID: runID, StrategyID: strategyID,
			Instrument: sig.Instrument, Side: sig.Side, Quantity: qty, Status: it.Status,
		})
	}

	if err := intents.Transition(it, store.IntentSubmitted, "submitting to venue", "", ""); err != nil {
		observ.LogError("intent_transition_failed", err, map[string]any{"intent_id": it.IntentID})
		return Trade{}, false
	}

	orderResult, venueErr := o.venue.SubmitOrder(ctx, broker.OrderRequest{
		Instrument: sig.Instrument,
		Side:       sig.Side,
		Quantity:   qty,
		LimitPrice: sig.ReferencePrice,
	})
	if venueErr != nil {
		// Per-order failure: record verbatim, count it, continue the run.
		if err := intents.Transition(it, store.IntentFailed, "venue submission failed", "", venueErr.Error()); err != nil {
			observ.LogError("intent_transition_failed", err, map[string]any{"intent_id": it.IntentID})
		}
		observ.IncCounter("orders_failed_total", map[string]string{"strategy": strategyID})
		observ.LogError("order_failed", venueErr, map[string]any{
			"run_id": runID, "intent_id": it.IntentID, "instrument": sig.Instrument,
		})
		return Trade{}, false
	}

	if err := intents.Transition(it, store.IntentAcknowledged, "venue accepted", orderResult.VenueOrderID, ""); err != nil {
		observ.LogError("intent_transition_failed", err, map[string]any{"intent_id": it.IntentID})
	}
	if err := intents.Transition(it, store.IntentFilled,
		fmt.Sprintf("filled %d @ %.4f", orderResult.FilledQty, orderResult.FillPrice),
		"", ""); err != nil {
		observ.LogError("intent_transition_failed", err, map[string]any{"intent_id": it.IntentID})
	}

	if err := book.ApplyFill(strategyID, sig.Instrument, sig.Side, orderResult.FilledQty, orderResult.FillPrice); err != nil {
		observ.LogError("position_update_failed", err, map[string]any{"intent_id": it.IntentID})
	}
	if o.journal != nil {
		_ = o.journal.WriteFill(journal.FillEntry{
			IntentID: it.IntentID, VenueOrderID: orderResult.VenueOrderID,
			Instrument: sig.Instrument, Side: sig.Side,
			Quantity: orderResult.FilledQty, Price: orderResult.FillPrice,
		})
	}
	observ.IncCounter("orders_submitted_total", map[string]string{"strategy": strategyID})

	return Trade{
		IntentID:     it.IntentID,
		VenueOrderID: orderResult.VenueOrderID,
		StrategyID:   strategyID,
		Instrument:   sig.Instrument,
		Side:         sig.Side,
		Quantity:     orderResult.FilledQty,
		Price:        orderResult.FillPrice,
	}, true
}

func (o *Orchestrator) seedHistory(ctx context.Context, f *correlation.Filter, instrument string) {
	if f.HistoryLen(instrument) >= o.cfg.Correlation.LongWindow {
		return
	}
	// The filter clamps its own capacity to the long window; the fetch has
	// to match or a sparse config would seed too few periods.
	periods := o.cfg.Correlation.HistoryCapacity
	if periods < o.cfg.Correlation.LongWindow {
		periods = o.cfg.Correlation.LongWindow
	}
	history, err := o.data.PriceHistory(ctx, instrument, periods)
	if err != nil {
		observ.LogError("price_history_unavailable", err, map[string]any{"instrument": instrument})
		return
	}
	f.Seed(instrument, history)
}

func (o *Orchestrator) snapshot(runID, kind string, positions []broker.VenuePosition, cash float64) {
	payload, _ := json.Marshal(positions)
	snap := &store.BrokerSnapshot{
		RunID:      runID,
		Kind:       kind,
		Positions:  string(payload),
		Cash:       cash,
		CapturedAt: time.Now().UTC(),
	}
	if err := o.store.InsertSnapshot(snap); err != nil {
		observ.LogError("snapshot_persist_failed", err, map[string]any{"run_id": runID, "kind": kind})
	}
}

// snapshotLocal records the book's closing view. The next run reads its cash
// as the belief for the pre-trade reconciliation.
func (o *Orchestrator) snapshotLocal(runID string, book *portfolio.Book) {
	byInstrument := map[string]*broker.VenuePosition{}
	for _, pos := range book.Positions() {
		vp, ok := byInstrument[pos.Instrument]
		if !ok {
			vp = &broker.VenuePosition{Instrument: pos.Instrument}
			byInstrument[pos.Instrument] = vp
		}
		vp.Quantity += pos.Quantity
		vp.AveragePrice = pos.AveragePrice
	}
	positions := make([]broker.VenuePosition, 0, len(byInstrument))
	for _, vp := range byInstrument {
		positions = append(positions, *vp)
	}
	o.snapshot(runID, store.SnapshotClose, positions, book.Cash())
}

// finish persists the run's terminal state and emits the reporting handoff.
func (o *Orchestrator) finish(run *store.Run, result *RunResult, tracker *funnel.Tracker, start time.Time, runErr error) {
	if result.Status == store.RunStatusRunning {
		result.Status = store.RunStatusCompleted
	}
	result.FunnelCounts = tracker.Counts()
	result.Rejections = tracker.Rejections()

	if err := tracker.Flush(o.store); err != nil {
		observ.LogError("funnel_persist_failed", err, map[string]any{"run_id": run.RunID})
	}

	run.Status = result.Status
	run.HaltedReason = result.HaltedReason
	run.FinishedAt = time.Now().UTC()
	if err := o.store.UpdateRun(run); err != nil {
		observ.LogError("run_persist_failed", err, map[string]any{"run_id": run.RunID})
	}

	observ.ObserveDuration("run_duration", time.Since(start), nil)
	event := "run_completed"
	kv := map[string]any{
		"run_id":     run.RunID,
		"status":     result.Status,
		"trades":     len(result.Trades),
		"rejections": len(result.Rejections),
	}
	if result.Status == store.RunStatusHalted {
		event = "run_halted"
		kv["reason"] = result.HaltedReason
		if runErr != nil {
			kv["error"] = runErr.Error()
		}
	}
	observ.Log(event, kv)
}
