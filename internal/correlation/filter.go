package correlation

import (
	"fmt"
	"math"
	"sync"

	"github.com/montanaflynn/stats"
)

// Config controls the dual-window correlation policy. Thresholds are
// configurable rather than hardcoded; they are not regime-dependent.
type Config struct {
	LongWindow      int     `yaml:"long_window"`      // e.g. 60 periods
	ShortWindow     int     `yaml:"short_window"`     // e.g. 20 periods
	AttenuateAbove  float64 `yaml:"attenuate_above"`  // e.g. 0.5
	RejectAbove     float64 `yaml:"reject_above"`     // e.g. 0.8
	MinMultiplier   float64 `yaml:"min_multiplier"`   // size multiplier at the reject boundary, e.g. 0.25
	HistoryCapacity int     `yaml:"history_capacity"` // max retained prices per instrument
}

func DefaultConfig() Config {
	return Config{
		LongWindow:      60,
		ShortWindow:     20,
		AttenuateAbove:  0.5,
		RejectAbove:     0.8,
		MinMultiplier:   0.25,
		HistoryCapacity: 120,
	}
}

// Result of evaluating one candidate against the held book.
type Result struct {
	Accept         bool    `json:"accept"`
	SizeMultiplier float64 `json:"size_multiplier"`
	MaxCorrelation float64 `json:"max_correlation"`
	Against        string  `json:"against,omitempty"` // held instrument that produced the max
	Reason         string  `json:"reason,omitempty"`
}

// Filter owns a capacity-bounded rolling price history per instrument and
// scores candidates by pairwise Pearson correlation against held
// instruments over a long and a short window. The max of both windows is
// used: a long window alone masks a sudden correlation spike, the short
// window alone is too noisy as a baseline.
type Filter struct {
	mu      sync.Mutex
	cfg     Config
	history map[string][]float64
}

func NewFilter(cfg Config) *Filter {
	if cfg.HistoryCapacity < cfg.LongWindow {
		cfg.HistoryCapacity = cfg.LongWindow
	}
	return &Filter{cfg: cfg, history: map[string][]float64{}}
}

// Observe appends one price to an instrument's history, evicting the oldest
// entry past capacity.
func (f *Filter) Observe(instrument string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := append(f.history[instrument], price)
	if len(h) > f.cfg.HistoryCapacity {
		h = h[len(h)-f.cfg.HistoryCapacity:]
	}
	f.history[instrument] = h
}

// Seed replaces an instrument's history wholesale, keeping only the most
// recent capacity entries.
func (f *Filter) Seed(instrument string, prices []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(prices) > f.cfg.HistoryCapacity {
		prices = prices[len(prices)-f.cfg.HistoryCapacity:]
	}
	f.history[instrument] = append([]float64(nil), prices...)
}

// HistoryLen reports how many prices are retained for an instrument.
func (f *Filter) HistoryLen(instrument string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history[instrument])
}

// Evaluate scores a candidate instrument against every held instrument.
// Policy: corr <= attenuate threshold passes at full size; between the
// thresholds the multiplier interpolates linearly from 1.0 down to
// MinMultiplier; above the reject threshold the candidate is rejected.
func (f *Filter) Evaluate(candidate string, held []string) Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	maxCorr := 0.0
	against := ""
	for _, other := range held {
		if other == candidate {
			continue
		}
		for _, window := range []int{f.cfg.LongWindow, f.cfg.ShortWindow} {
			c, ok := f.windowCorrelation(candidate, other, window)
			if !ok {
				continue
			}
			if a := math.Abs(c); a > maxCorr {
				maxCorr = a
				against = other
			}
		}
	}

	return f.attenuate(maxCorr, against)
}

// attenuate applies the dual-threshold policy to the max observed
// correlation.
func (f *Filter) attenuate(maxCorr float64, against string) Result {
	switch {
	case maxCorr > f.cfg.RejectAbove:
		return Result{
			Accept:         false,
			SizeMultiplier: 0,
			MaxCorrelation: maxCorr,
			Against:        against,
			Reason:         fmt.Sprintf("correlation %.3f vs %s exceeds %.2f", maxCorr, against, f.cfg.RejectAbove),
		}
	case maxCorr > f.cfg.AttenuateAbove:
		span := f.cfg.RejectAbove - f.cfg.AttenuateAbove
		frac := (maxCorr - f.cfg.AttenuateAbove) / span
		mult := 1.0 - frac*(1.0-f.cfg.MinMultiplier)
		return Result{
			Accept:         true,
			SizeMultiplier: mult,
			MaxCorrelation: maxCorr,
			Against:        against,
			Reason:         fmt.Sprintf("correlation %.3f vs %s, size attenuated", maxCorr, against),
		}
	default:
		return Result{Accept: true, SizeMultiplier: 1.0, MaxCorrelation: maxCorr, Against: against}
	}
}

// windowCorrelation computes Pearson correlation over the trailing window of
// both series. Returns ok=false when either history is too short for the
// window.
func (f *Filter) windowCorrelation(a, b string, window int) (float64, bool) {
	ha, hb := f.history[a], f.history[b]
	if len(ha) < window || len(hb) < window {
		return 0, false
	}
	c, err := stats.Correlation(ha[len(ha)-window:], hb[len(hb)-window:])
	if err != nil || math.IsNaN(c) {
		return 0, false
	}
	return c, true
}
