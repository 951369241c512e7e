package broker

import (
	"context"
	"fmt"
	"sync"
)

// PaperVenue is a deterministic simulated venue: orders fill immediately at
// the limit price. It mirrors the venue-side book so reconciliation against
// it is meaningful in dry runs and tests.
type PaperVenue struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]VenuePosition
	nextOrder int

	// SubmitErr, when set, fails every submission with this error.
	SubmitErr error
	// SubmitCalls counts venue submissions, for idempotency assertions.
	SubmitCalls int
}

func NewPaperVenue(cash float64) *PaperVenue {
	return &PaperVenue{cash: cash, positions: map[string]VenuePosition{}}
}

// SetPosition seeds the venue-side book.
func (p *PaperVenue) SetPosition(instrument string, qty int, avgPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if qty == 0 {
		delete(p.positions, instrument)
		return
	}
	p.positions[instrument] = VenuePosition{Instrument: instrument, Quantity: qty, AveragePrice: avgPrice}
}

// SetCash overrides the venue-side cash balance.
func (p *PaperVenue) SetCash(cash float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = cash
}

func (p *PaperVenue) GetAccount(ctx context.Context) (Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	equity := p.cash
	for _, pos := range p.positions {
		equity += float64(pos.Quantity) * pos.AveragePrice
	}
	return Account{Cash: p.cash, Equity: equity}, nil
}

func (p *PaperVenue) GetPositions(ctx context.Context) ([]VenuePosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]VenuePosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (p *PaperVenue) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SubmitCalls++
	if p.SubmitErr != nil {
		return OrderResult{}, p.SubmitErr
	}
	if req.Quantity <= 0 {
		return OrderResult{}, fmt.Errorf("paper venue: quantity %d", req.Quantity)
	}
	price := req.LimitPrice
	if price <= 0 {
		pos, ok := p.positions[req.Instrument]
		if !ok {
			return OrderResult{}, fmt.Errorf("paper venue: no reference price for %s", req.Instrument)
		}
		price = pos.AveragePrice
	}

	signed := req.Quantity
	if req.Side == "SELL" {
		signed = -req.Quantity
	}
	pos := p.positions[req.Instrument]
	pos.Instrument = req.Instrument
	newQty := pos.Quantity + signed
	if signed > 0 && newQty != 0 {
		totalCost := pos.AveragePrice*float64(pos.Quantity) + price*float64(signed)
		pos.AveragePrice = totalCost / float64(newQty)
	}
	pos.Quantity = newQty
	if pos.Quantity == 0 {
		delete(p.positions, req.Instrument)
	} else {
		p.positions[req.Instrument] = pos
	}
	p.cash -= float64(signed) * price

	p.nextOrder++
	return OrderResult{
		VenueOrderID: fmt.Sprintf("paper-%06d", p.nextOrder),
		FilledQty:    req.Quantity,
		FillPrice:    price,
	}, nil
}
