package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantpilot/execution-pipeline/internal/observ"
)

// HTTPConfig configures the live market-data client.
type HTTPConfig struct {
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
}

// HTTPProvider fetches market data over HTTP with client-side rate limiting
// and a TTL cache per instrument. One run asks for the same history at most
// twice (seed plus signal), so the cache mostly guards against duplicate
// instruments across strategies.
type HTTPProvider struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter

	mu    sync.Mutex
	cache map[string]historyEntry
}

type historyEntry struct {
	closes    []float64
	fetchedAt time.Time
}

func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("market data base URL is required")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 60
	}
	if cfg.CacheTTLSeconds <= 0 {
		cfg.CacheTTLSeconds = 300
	}
	return &HTTPProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		cache:   map[string]historyEntry{},
	}, nil
}

func (p *HTTPProvider) VolatilityIndex(ctx context.Context, asOf time.Time) (float64, error) {
	var out struct {
		VolatilityIndex float64 `json:"volatility_index"`
	}
	q := url.Values{"date": {asOf.Format("2006-01-02")}}
	if err := p.get(ctx, "/v1/volatility", q, &out); err != nil {
		return 0, fmt.Errorf("volatility index: %w", err)
	}
	if out.VolatilityIndex <= 0 {
		return 0, fmt.Errorf("volatility index: non-positive value %.4f", out.VolatilityIndex)
	}
	return out.VolatilityIndex, nil
}

func (p *HTTPProvider) PriceHistory(ctx context.Context, instrument string, periods int) ([]float64, error) {
	ttl := time.Duration(p.cfg.CacheTTLSeconds) * time.Second
	p.mu.Lock()
	if entry, ok := p.cache[instrument]; ok && time.Since(entry.fetchedAt) < ttl && len(entry.closes) >= periods {
		p.mu.Unlock()
		observ.IncCounter("history_cache_hits_total", nil)
		return entry.closes[len(entry.closes)-periods:], nil
	}
	p.mu.Unlock()
	observ.IncCounter("history_cache_misses_total", nil)

	var out struct {
		Closes []float64 `json:"closes"`
	}
	q := url.Values{"instrument": {instrument}, "periods": {fmt.Sprint(periods)}}
	if err := p.get(ctx, "/v1/history", q, &out); err != nil {
		return nil, fmt.Errorf("price history %s: %w", instrument, err)
	}
	if len(out.Closes) == 0 {
		return nil, fmt.Errorf("price history %s: empty series", instrument)
	}

	p.mu.Lock()
	p.cache[instrument] = historyEntry{closes: out.Closes, fetchedAt: time.Now()}
	p.mu.Unlock()

	if len(out.Closes) > periods {
		out.Closes = out.Closes[len(out.Closes)-periods:]
	}
	return out.Closes, nil
}

func (p *HTTPProvider) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
