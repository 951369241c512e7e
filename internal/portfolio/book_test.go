package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpilot/execution-pipeline/internal/store"
)

func TestLoadFromStore(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.UpsertPosition(store.Position{StrategyID: "trend", Instrument: "AAPL", Quantity: 10, AveragePrice: 150}))
	require.NoError(t, st.UpsertPosition(store.Position{StrategyID: "meanrev", Instrument: "AAPL", Quantity: 5, AveragePrice: 148}))

	b, err := Load(st, 50000)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, b.Cash())
	assert.Len(t, b.Positions(), 2)
	// Both positions are the same instrument.
	assert.Equal(t, []string{"AAPL"}, b.HeldInstruments())
	assert.InDelta(t, 10*150.0+5*148.0, b.ExposureUSD(), 1e-9)
	assert.InDelta(t, 50000+2240.0, b.Value(), 1e-9)
}

func TestApplyFillAveragesCost(t *testing.T) {
	st := store.NewMemory()
	b, err := Load(st, 100000)
	require.NoError(t, err)

	require.NoError(t, b.ApplyFill("trend", "AAPL", "BUY", 10, 100))
	require.NoError(t, b.ApplyFill("trend", "AAPL", "BUY", 10, 110))

	positions := b.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, 20, positions[0].Quantity)
	assert.InDelta(t, 105.0, positions[0].AveragePrice, 1e-9)
	assert.InDelta(t, 100000-10*100-10*110, b.Cash(), 1e-9)

	// Persisted alongside the in-memory view.
	stored, err := st.ListPositions()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 20, stored[0].Quantity)
}

func TestSellFlattensAndRemoves(t *testing.T) {
	st := store.NewMemory()
	b, err := Load(st, 100000)
	require.NoError(t, err)

	require.NoError(t, b.ApplyFill("trend", "AAPL", "BUY", 10, 100))
	require.NoError(t, b.ApplyFill("trend", "AAPL", "SELL", 10, 120))

	assert.Empty(t, b.Positions())
	assert.Empty(t, b.HeldInstruments())
	assert.InDelta(t, 100200.0, b.Cash(), 1e-9) // 200 profit

	stored, err := st.ListPositions()
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestValueStableAcrossBuy(t *testing.T) {
	st := store.NewMemory()
	b, err := Load(st, 100000)
	require.NoError(t, err)
	require.NoError(t, b.ApplyFill("trend", "AAPL", "BUY", 10, 100))
	// Cash down 1000, notional up 1000.
	assert.InDelta(t, 100000.0, b.Value(), 1e-9)
}
