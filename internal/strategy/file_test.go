package strategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSignals(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "signals.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFileStrategyLoadsSignals(t *testing.T) {
	p := writeSignals(t, `{"signals":[
		{"instrument":"AAPL","side":"BUY","confidence":0.8,"rationale":"breakout above 20d high","reference_price":150,"volatility_measure":2.5},
		{"instrument":"MSFT","side":"SELL","confidence":0.6,"rationale":"reversal","reference_price":300,"volatility_measure":4.0}
	]}`)
	s := NewFileStrategy("trend", []string{"momentum"}, p)
	if s.ID() != "trend" {
		t.Fatalf("id = %q", s.ID())
	}

	asOf := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	signals, err := s.GenerateSignals(context.Background(), MarketState{AsOfDate: asOf, VolatilityIndex: 18})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("want 2 signals, got %d", len(signals))
	}
	if signals[0].StrategyID != "trend" {
		t.Fatalf("strategy id not stamped: %+v", signals[0])
	}
	if !signals[0].AsOfDate.Equal(asOf) {
		t.Fatalf("as-of date not stamped: %+v", signals[0])
	}
	if signals[1].Side != SideSell {
		t.Fatalf("side = %q", signals[1].Side)
	}
}

func TestFileStrategyMissingFile(t *testing.T) {
	s := NewFileStrategy("trend", nil, "does/not/exist.json")
	if _, err := s.GenerateSignals(context.Background(), MarketState{}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSignalValidate(t *testing.T) {
	valid := Signal{StrategyID: "trend", Instrument: "AAPL", Side: SideBuy,
		Confidence: 0.8, ReferencePrice: 150, VolatilityMeasure: 2.5}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid signal rejected: %v", err)
	}
	cases := map[string]func(Signal) Signal{
		"bad side":       func(s Signal) Signal { s.Side = "HOLD"; return s },
		"no instrument":  func(s Signal) Signal { s.Instrument = ""; return s },
		"confidence > 1": func(s Signal) Signal { s.Confidence = 1.5; return s },
		"zero price":     func(s Signal) Signal { s.ReferencePrice = 0; return s },
		"negative vol":   func(s Signal) Signal { s.VolatilityMeasure = -1; return s },
	}
	for name, mutate := range cases {
		if err := mutate(valid).Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestRegistryPreservesOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(NewFileStrategy("b", nil, ""))
	r.Register(NewFileStrategy("a", nil, ""))
	all := r.All()
	if len(all) != 2 || all[0].ID() != "b" || all[1].ID() != "a" {
		t.Fatalf("registration order not preserved")
	}
}
