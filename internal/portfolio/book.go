package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantpilot/execution-pipeline/internal/store"
)

// Book is the locally tracked view of holdings and cash for a run. It is
// loaded from the store at run start, mutated only after a venue call
// returns successfully, and persisted position-by-position so a later local
// failure cannot roll back an executed trade.
type Book struct {
	mu        sync.RWMutex
	store     store.Store
	positions map[string]store.Position // key: strategy|instrument
	cash      float64
}

func key(strategyID, instrument string) string {
	return strategyID + "|" + instrument
}

// Load builds a book from persisted positions and a cash balance.
func Load(st store.Store, cash float64) (*Book, error) {
	positions, err := st.ListPositions()
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	b := &Book{store: st, positions: map[string]store.Position{}, cash: cash}
	for _, pos := range positions {
		b.positions[key(pos.StrategyID, pos.Instrument)] = pos
	}
	return b, nil
}

// Cash returns the tracked cash balance.
func (b *Book) Cash() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cash
}

// Positions returns a copy of all held positions.
func (b *Book) Positions() []store.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]store.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, pos)
	}
	return out
}

// HeldInstruments returns the distinct instruments with a nonzero position,
// for the correlation filter.
func (b *Book) HeldInstruments() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, pos := range b.positions {
		if pos.Quantity != 0 && !seen[pos.Instrument] {
			seen[pos.Instrument] = true
			out = append(out, pos.Instrument)
		}
	}
	return out
}

// ExposureUSD is the aggregate absolute notional of all positions.
func (b *Book) ExposureUSD() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0.0
	for _, pos := range b.positions {
		n := float64(pos.Quantity) * pos.AveragePrice
		if n < 0 {
			n = -n
		}
		total += n
	}
	return total
}

// Value is cash plus position notional at tracked average prices.
func (b *Book) Value() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v := b.cash
	for _, pos := range b.positions {
		v += float64(pos.Quantity) * pos.AveragePrice
	}
	return v
}

// ApplyFill mutates the book for an executed trade and persists the
// resulting position. Positions that reach zero are removed.
func (b *Book) ApplyFill(strategyID, instrument, side string, qty int, price float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	signed := qty
	if side == "SELL" {
		signed = -qty
	}
	k := key(strategyID, instrument)
	pos := b.positions[k]
	pos.StrategyID = strategyID
	pos.Instrument = instrument

	newQty := pos.Quantity + signed
	if signed > 0 && newQty != 0 {
		totalCost := pos.AveragePrice*float64(pos.Quantity) + price*float64(signed)
		pos.AveragePrice = totalCost / float64(newQty)
	}
	pos.Quantity = newQty
	pos.UpdatedAt = time.Now().UTC()

	if pos.Quantity == 0 {
		delete(b.positions, k)
	} else {
		b.positions[k] = pos
	}
	b.cash -= float64(signed) * price

	if err := b.store.UpsertPosition(pos); err != nil {
		return fmt.Errorf("persist position %s/%s: %w", strategyID, instrument, err)
	}
	return nil
}
