package marketdata

import (
	"context"
	"fmt"
	"time"
)

// Provider is the market-data boundary: a volatility index for regime
// classification and per-instrument price history for the correlation
// filter. Freshness is the provider's problem; a stale feed should fail
// here, not degrade silently downstream.
type Provider interface {
	VolatilityIndex(ctx context.Context, asOf time.Time) (float64, error)
	PriceHistory(ctx context.Context, instrument string, periods int) ([]float64, error)
}

// Static serves fixed data, for dry runs and tests.
type Static struct {
	VolIndex  float64
	Histories map[string][]float64
}

func (s *Static) VolatilityIndex(ctx context.Context, asOf time.Time) (float64, error) {
	return s.VolIndex, nil
}

func (s *Static) PriceHistory(ctx context.Context, instrument string, periods int) ([]float64, error) {
	h, ok := s.Histories[instrument]
	if !ok {
		return nil, fmt.Errorf("no price history for %s", instrument)
	}
	if len(h) > periods {
		h = h[len(h)-periods:]
	}
	return h, nil
}
