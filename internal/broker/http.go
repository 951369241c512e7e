package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// HTTPVenueConfig configures the REST venue client.
type HTTPVenueConfig struct {
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// HTTPVenue talks to a brokerage REST API. Submissions are rate limited so a
// burst of intents cannot trip the venue's own throttle.
type HTTPVenue struct {
	cfg         HTTPVenueConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

func NewHTTPVenue(cfg HTTPVenueConfig) (*HTTPVenue, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("venue base URL is required")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 60
	}
	return &HTTPVenue{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
	}, nil
}

// VenueError preserves the venue's error payload verbatim so a FAILED intent
// carries exactly what the venue said.
type VenueError struct {
	StatusCode int
	Body       string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue error %d: %s", e.StatusCode, e.Body)
}

func (h *HTTPVenue) GetAccount(ctx context.Context) (Account, error) {
	var acct Account
	if err := h.get(ctx, "/v1/account", &acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

func (h *HTTPVenue) GetPositions(ctx context.Context) ([]VenuePosition, error) {
	var resp struct {
		Positions []VenuePosition `json:"positions"`
	}
	if err := h.get(ctx, "/v1/positions", &resp); err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

func (h *HTTPVenue) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := h.rateLimiter.Wait(ctx); err != nil {
		return OrderResult{}, fmt.Errorf("rate limit wait: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return OrderResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return OrderResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	h.auth(httpReq)

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return OrderResult{}, fmt.Errorf("submit order: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return OrderResult{}, &VenueError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var result OrderResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return OrderResult{}, fmt.Errorf("decode order result: %w", err)
	}
	return result, nil
}

func (h *HTTPVenue) get(ctx context.Context, path string, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	h.auth(httpReq)
	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("venue GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return &VenueError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return json.Unmarshal(raw, out)
}

func (h *HTTPVenue) auth(req *http.Request) {
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}
}
