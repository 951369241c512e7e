package broker

import "context"

// Account is the venue's view of the account.
type Account struct {
	Cash   float64 `json:"cash"`
	Equity float64 `json:"equity"`
}

// VenuePosition is one holding as reported by the venue.
type VenuePosition struct {
	Instrument   string  `json:"instrument"`
	Quantity     int     `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
}

// OrderRequest is what the pipeline submits.
type OrderRequest struct {
	Instrument string  `json:"instrument"`
	Side       string  `json:"side"`
	Quantity   int     `json:"quantity"`
	LimitPrice float64 `json:"limit_price,omitempty"` // 0 means market
}

// OrderResult is the venue's synchronous response to a submission.
type OrderResult struct {
	VenueOrderID string  `json:"venue_order_id"`
	FilledQty    int     `json:"filled_qty"`
	FillPrice    float64 `json:"fill_price"`
}

// Venue is the brokerage boundary. Calls are blocking and synchronous;
// timeouts belong to the implementation, not the pipeline.
type Venue interface {
	GetAccount(ctx context.Context) (Account, error)
	GetPositions(ctx context.Context) ([]VenuePosition, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}
