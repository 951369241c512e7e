package reconcile

import (
	"context"
	"fmt"
	"math"

	"github.com/quantpilot/execution-pipeline/internal/broker"
	"github.com/quantpilot/execution-pipeline/internal/observ"
	"github.com/quantpilot/execution-pipeline/internal/store"
)

// Reconciliation outcome.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// Discrepancy kinds.
const (
	KindQuantity     = "quantity"
	KindPrice        = "price"
	KindCash         = "cash"
	KindMissingVenue = "missing_at_venue"
	KindMissingLocal = "missing_locally"
)

// Tolerances beyond which a difference is a blocking discrepancy. These are
// configuration, not regime-dependent constants.
type Tolerances struct {
	Quantity float64 `yaml:"quantity"`  // absolute shares, e.g. 1
	PricePct float64 `yaml:"price_pct"` // relative, e.g. 0.01
	Cash     float64 `yaml:"cash"`      // absolute dollars, e.g. 10
}

func DefaultTolerances() Tolerances {
	return Tolerances{Quantity: 1, PricePct: 0.01, Cash: 10}
}

// Discrepancy is one disagreement between local state and the venue.
type Discrepancy struct {
	Kind       string  `json:"kind"`
	Instrument string  `json:"instrument,omitempty"`
	Local      float64 `json:"local"`
	Venue      float64 `json:"venue"`
	Delta      float64 `json:"delta"`
}

func (d Discrepancy) String() string {
	if d.Instrument != "" {
		return fmt.Sprintf("%s %s: local=%.2f venue=%.2f delta=%.2f", d.Kind, d.Instrument, d.Local, d.Venue, d.Delta)
	}
	return fmt.Sprintf("%s: local=%.2f venue=%.2f delta=%.2f", d.Kind, d.Local, d.Venue, d.Delta)
}

// Result classifies a reconciliation pass.
type Result struct {
	Status        string          `json:"status"`
	Discrepancies []Discrepancy   `json:"discrepancies,omitempty"`
	VenuePositions []broker.VenuePosition `json:"venue_positions,omitempty"`
	VenueCash     float64         `json:"venue_cash"`
}

// Reconciler compares local positions and cash against the venue's report.
type Reconciler struct {
	venue broker.Venue
	tol   Tolerances
}

func New(venue broker.Venue, tol Tolerances) *Reconciler {
	return &Reconciler{venue: venue, tol: tol}
}

// Reconcile pulls the venue's state and compares per-instrument quantity and
// price plus cash. Local positions are aggregated across strategies because
// the venue reports per instrument, not per strategy. Any difference beyond
// tolerance, or a position present on only one side, yields FAIL.
func (r *Reconciler) Reconcile(ctx context.Context, local []store.Position, localCash float64) (Result, error) {
	venuePositions, err := r.venue.GetPositions(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch venue positions: %w", err)
	}
	account, err := r.venue.GetAccount(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch venue account: %w", err)
	}

	type agg struct {
		qty      int
		notional float64
	}
	localByInstrument := map[string]agg{}
	for _, pos := range local {
		a := localByInstrument[pos.Instrument]
		a.qty += pos.Quantity
		a.notional += float64(pos.Quantity) * pos.AveragePrice
		localByInstrument[pos.Instrument] = a
	}

	var discrepancies []Discrepancy
	venueByInstrument := map[string]broker.VenuePosition{}
	for _, vp := range venuePositions {
		venueByInstrument[vp.Instrument] = vp
	}

	for instrument, l := range localByInstrument {
		vp, ok := venueByInstrument[instrument]
		if !ok {
			discrepancies = append(discrepancies, Discrepancy{
				Kind: KindMissingVenue, Instrument: instrument,
				Local: float64(l.qty), Venue: 0, Delta: float64(l.qty),
			})
			continue
		}
		if qtyDelta := math.Abs(float64(l.qty - vp.Quantity)); qtyDelta > r.tol.Quantity {
			discrepancies = append(discrepancies, Discrepancy{
				Kind: KindQuantity, Instrument: instrument,
				Local: float64(l.qty), Venue: float64(vp.Quantity), Delta: qtyDelta,
			})
		}
		if l.qty != 0 && vp.AveragePrice > 0 {
			localAvg := l.notional / float64(l.qty)
			relDelta := math.Abs(localAvg-vp.AveragePrice) / vp.AveragePrice
			if relDelta > r.tol.PricePct {
				discrepancies = append(discrepancies, Discrepancy{
					Kind: KindPrice, Instrument: instrument,
					Local: localAvg, Venue: vp.AveragePrice, Delta: relDelta,
				})
			}
		}
	}
	for instrument, vp := range venueByInstrument {
		if _, ok := localByInstrument[instrument]; !ok {
			discrepancies = append(discrepancies, Discrepancy{
				Kind: KindMissingLocal, Instrument: instrument,
				Local: 0, Venue: float64(vp.Quantity), Delta: float64(vp.Quantity),
			})
		}
	}
	if cashDelta := math.Abs(localCash - account.Cash); cashDelta > r.tol.Cash {
		discrepancies = append(discrepancies, Discrepancy{
			Kind: KindCash, Local: localCash, Venue: account.Cash, Delta: cashDelta,
		})
	}

	result := Result{
		Status:         StatusPass,
		Discrepancies:  discrepancies,
		VenuePositions: venuePositions,
		VenueCash:      account.Cash,
	}
	if len(discrepancies) > 0 {
		result.Status = StatusFail
		observ.IncCounter("reconcile_failures_total", nil)
		for _, d := range discrepancies {
			observ.Log("reconcile_discrepancy", map[string]any{
				"kind": d.Kind, "instrument": d.Instrument,
				"local": d.Local, "venue": d.Venue, "delta": d.Delta,
			})
		}
	}
	return result, nil
}
