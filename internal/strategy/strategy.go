package strategy

import (
	"context"
	"fmt"
	"time"
)

// Side of a signal.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Signal is a strategy's recommendation to trade one instrument. Produced
// outside the pipeline, immutable once created.
type Signal struct {
	StrategyID        string    `json:"strategy_id"`
	Instrument        string    `json:"instrument"`
	Side              string    `json:"side"`
	Confidence        float64   `json:"confidence"` // [0..1]
	Rationale         string    `json:"rationale,omitempty"`
	ReferencePrice    float64   `json:"reference_price"`
	VolatilityMeasure float64   `json:"volatility_measure"` // e.g. ATR in price units
	AsOfDate          time.Time `json:"as_of_date"`
}

// Validate rejects structurally unusable signals before they enter the funnel.
func (s Signal) Validate() error {
	if s.Instrument == "" {
		return fmt.Errorf("signal missing instrument")
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return fmt.Errorf("signal %s: bad side %q", s.Instrument, s.Side)
	}
	if s.ReferencePrice <= 0 {
		return fmt.Errorf("signal %s: reference price %.4f", s.Instrument, s.ReferencePrice)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %.4f out of range", s.Instrument, s.Confidence)
	}
	if s.VolatilityMeasure <= 0 {
		return fmt.Errorf("signal %s: volatility measure %.4f", s.Instrument, s.VolatilityMeasure)
	}
	return nil
}

// MarketState is what the pipeline hands each strategy for a run.
type MarketState struct {
	AsOfDate        time.Time
	VolatilityIndex float64
}

// Strategy produces zero or more signals per run. The pipeline never
// branches on the concrete type; configuration lookup is by ID and tags.
type Strategy interface {
	ID() string
	Tags() []string
	GenerateSignals(ctx context.Context, state MarketState) ([]Signal, error)
}

// Registry holds strategies in registration order so funnel counts are
// reproducible across runs.
type Registry struct {
	order []Strategy
	byID  map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{byID: map[string]Strategy{}}
}

func (r *Registry) Register(s Strategy) error {
	if _, ok := r.byID[s.ID()]; ok {
		return fmt.Errorf("strategy %s already registered", s.ID())
	}
	r.byID[s.ID()] = s
	r.order = append(r.order, s)
	return nil
}

// All returns strategies in registration order.
func (r *Registry) All() []Strategy {
	out := make([]Strategy, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Get(id string) (Strategy, bool) {
	s, ok := r.byID[id]
	return s, ok
}
