package correlation

import (
	"math"
	"testing"
)

func TestAttenuationPolicy(t *testing.T) {
	f := NewFilter(DefaultConfig())

	testCases := []struct {
		name       string
		corr       float64
		wantAccept bool
		wantMult   float64
	}{
		{"uncorrelated", 0.0, true, 1.0},
		{"below_threshold", 0.5, true, 1.0},
		{"just_above_threshold", 0.51, true, 0.975},
		{"midpoint", 0.65, true, 0.625},
		{"at_reject_boundary", 0.8, true, 0.25},
		{"above_reject", 0.81, false, 0},
		{"perfectly_correlated", 1.0, false, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := f.attenuate(tc.corr, "SPY")
			if got.Accept != tc.wantAccept {
				t.Fatalf("corr %.2f: accept=%v, want %v", tc.corr, got.Accept, tc.wantAccept)
			}
			if math.Abs(got.SizeMultiplier-tc.wantMult) > 1e-9 {
				t.Fatalf("corr %.2f: multiplier=%.4f, want %.4f", tc.corr, got.SizeMultiplier, tc.wantMult)
			}
		})
	}
}

func TestAttenuationMonotonic(t *testing.T) {
	f := NewFilter(DefaultConfig())
	prev := 1.0
	for c := 0.50; c <= 0.80; c += 0.01 {
		r := f.attenuate(c, "SPY")
		if !r.Accept {
			t.Fatalf("corr %.2f should be accepted", c)
		}
		if r.SizeMultiplier > prev+1e-12 {
			t.Fatalf("multiplier not monotonic at corr %.2f: %.4f > %.4f", c, r.SizeMultiplier, prev)
		}
		prev = r.SizeMultiplier
	}
}

// A short-window spike must dominate even when the long window looks calm:
// the filter takes the max correlation across both windows.
func TestShortWindowSpikeRejects(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFilter(cfg)

	a := make([]float64, cfg.LongWindow)
	b := make([]float64, cfg.LongWindow)
	for i := 0; i < cfg.LongWindow-cfg.ShortWindow; i++ {
		// Anticorrelated zig-zag keeps the long-window baseline low.
		if i%2 == 0 {
			a[i], b[i] = 100+float64(i%7), 50-float64(i%5)
		} else {
			a[i], b[i] = 100-float64(i%7), 50+float64(i%5)
		}
	}
	for i := cfg.LongWindow - cfg.ShortWindow; i < cfg.LongWindow; i++ {
		// Identical moves over the last 20 periods: short-window corr 1.0.
		step := float64(i % 9)
		a[i] = 100 + step
		b[i] = 50 + step
	}
	f.Seed("XLE", a)
	f.Seed("XOM", b)

	got := f.Evaluate("XLE", []string{"XOM"})
	if got.Accept {
		t.Fatalf("expected rejection, got accept with corr %.3f", got.MaxCorrelation)
	}
	if got.MaxCorrelation <= 0.8 {
		t.Fatalf("expected short-window correlation above 0.8, got %.3f", got.MaxCorrelation)
	}
}

func TestEvaluateNoHistoryAcceptsFullSize(t *testing.T) {
	f := NewFilter(DefaultConfig())
	got := f.Evaluate("AAPL", []string{"MSFT"})
	if !got.Accept || got.SizeMultiplier != 1.0 {
		t.Fatalf("no history should accept at full size, got %+v", got)
	}
}

func TestEvaluateSkipsSelf(t *testing.T) {
	f := NewFilter(DefaultConfig())
	series := make([]float64, 60)
	for i := range series {
		series[i] = 100 + float64(i)
	}
	f.Seed("AAPL", series)
	got := f.Evaluate("AAPL", []string{"AAPL"})
	if !got.Accept || got.SizeMultiplier != 1.0 {
		t.Fatalf("candidate held already should not correlate with itself, got %+v", got)
	}
}

func TestObserveEvictsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryCapacity = 60
	f := NewFilter(cfg)
	for i := 0; i < 100; i++ {
		f.Observe("SPY", float64(i))
	}
	if got := f.HistoryLen("SPY"); got != 60 {
		t.Fatalf("history should be capped at 60, got %d", got)
	}
}
