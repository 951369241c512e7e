package regime

import "testing"

func TestClassifyBands(t *testing.T) {
	cfg := DefaultConfig()

	testCases := []struct {
		name     string
		volIndex float64
		want     Regime
	}{
		{"deep_quiet", 5, Quiet},
		{"just_below_quiet_boundary", 14.99, Quiet},
		{"quiet_boundary_is_normal", 15, Normal},
		{"mid_normal", 20, Normal},
		{"volatile_boundary_is_normal", 25, Normal},
		{"just_above_volatile_boundary", 25.01, Volatile},
		{"extreme", 80, Volatile},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.volIndex, cfg)
			if got.Regime != tc.want {
				t.Fatalf("vol %.2f: want %s, got %s", tc.volIndex, tc.want, got.Regime)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	first := Classify(22.5, cfg)
	for i := 0; i < 10; i++ {
		again := Classify(22.5, cfg)
		if again.Regime != first.Regime || again.MaxHeat != first.MaxHeat || again.SizeMultiplier != first.SizeMultiplier {
			t.Fatalf("classification not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestVolatileParamsTightenRisk(t *testing.T) {
	cfg := DefaultConfig()
	quiet := Classify(10, cfg)
	volatile := Classify(30, cfg)
	if volatile.MaxHeat >= quiet.MaxHeat {
		t.Fatalf("volatile max heat %.2f should be below quiet %.2f", volatile.MaxHeat, quiet.MaxHeat)
	}
	if volatile.SizeMultiplier >= quiet.SizeMultiplier {
		t.Fatalf("volatile size multiplier %.2f should be below quiet %.2f", volatile.SizeMultiplier, quiet.SizeMultiplier)
	}
}

func TestDisables(t *testing.T) {
	p := Params{DisabledStrategyTags: []string{"momentum"}}
	if !p.Disables([]string{"trend", "momentum"}) {
		t.Fatal("expected momentum tag to be disabled")
	}
	if p.Disables([]string{"meanreversion"}) {
		t.Fatal("meanreversion should not be disabled")
	}
	if p.Disables(nil) {
		t.Fatal("untagged strategy should not be disabled")
	}
}
