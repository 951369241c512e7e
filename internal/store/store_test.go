package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeFailureStats(t *testing.T) {
	cases := []struct {
		name        string
		statuses    []string // newest first
		consecutive int
		rate        float64
	}{
		{"empty", nil, 0, 0},
		{"all fills", []string{IntentFilled, IntentFilled}, 0, 0},
		{"streak newest first", []string{IntentFailed, IntentFailed, IntentFilled, IntentFailed}, 2, 0.75},
		{"fill breaks streak", []string{IntentFilled, IntentFailed, IntentFailed}, 0, 2.0 / 3.0},
		{"rejected counts as failure", []string{IntentRejected, IntentFailed}, 2, 1.0},
		{"pending statuses ignored", []string{IntentSubmitted, IntentFailed}, 1, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intents := make([]OrderIntent, len(tc.statuses))
			for i, s := range tc.statuses {
				intents[i] = OrderIntent{Status: s}
			}
			got := ComputeFailureStats(intents)
			assert.Equal(t, tc.consecutive, got.ConsecutiveFailures)
			assert.InDelta(t, tc.rate, got.RejectionRate, 1e-9)
			assert.Equal(t, len(tc.statuses), got.Sampled)
		})
	}
}

func TestMemoryIntentLifecycle(t *testing.T) {
	m := NewMemory()
	intent := &OrderIntent{IntentID: "abc", RunID: "run-1", StrategyID: "trend",
		Instrument: "AAPL", Side: "BUY", TargetQuantity: 10, Status: IntentCreated}
	require.NoError(t, m.InsertIntent(intent))

	// Idempotency key collision surfaces the existing row.
	err := m.InsertIntent(&OrderIntent{IntentID: "abc", Status: IntentCreated})
	assert.Error(t, err)

	require.NoError(t, m.UpdateIntentStatus("abc", IntentCreated, IntentSubmitted, "", "", ""))
	require.NoError(t, m.UpdateIntentStatus("abc", IntentSubmitted, IntentAcknowledged, "", "v-1", ""))

	// Optimistic check: the row is no longer SUBMITTED.
	err = m.UpdateIntentStatus("abc", IntentSubmitted, IntentFilled, "", "", "")
	assert.Error(t, err)

	require.NoError(t, m.UpdateIntentStatus("abc", IntentAcknowledged, IntentFilled, "filled 10@150", "", ""))

	got, err := m.GetIntent("abc")
	require.NoError(t, err)
	assert.Equal(t, IntentFilled, got.Status)
	assert.Equal(t, "v-1", got.VenueOrderID)

	// Insert records the initial CREATED row, then one row per update.
	trs, err := m.ListTransitions("abc")
	require.NoError(t, err)
	require.Len(t, trs, 4)
	assert.Equal(t, IntentCreated, trs[0].ToStatus)
	assert.Equal(t, IntentFilled, trs[3].ToStatus)
}

func TestMemoryUpsertPosition(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.UpsertPosition(Position{StrategyID: "trend", Instrument: "AAPL", Quantity: 10, AveragePrice: 150}))
	require.NoError(t, m.UpsertPosition(Position{StrategyID: "trend", Instrument: "AAPL", Quantity: 15, AveragePrice: 152}))

	positions, err := m.ListPositions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 15, positions[0].Quantity)

	// Quantity zero removes the row.
	require.NoError(t, m.UpsertPosition(Position{StrategyID: "trend", Instrument: "AAPL", Quantity: 0}))
	positions, err = m.ListPositions()
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestMemoryRecentFailureStats(t *testing.T) {
	m := NewMemory()
	base := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	statuses := []string{IntentFilled, IntentFailed, IntentFailed} // inserted oldest first
	for i, s := range statuses {
		require.NoError(t, m.InsertIntent(&OrderIntent{
			IntentID: string(rune('a' + i)), RunID: "run-1", Status: s,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	stats, err := m.RecentFailureStats(50)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ConsecutiveFailures)
	assert.Equal(t, 3, stats.Sampled)
}

func TestMemoryGetRunNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetRun("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestSnapshotByKind(t *testing.T) {
	m := NewMemory()
	base := time.Date(2026, 8, 30, 21, 0, 0, 0, time.UTC)
	require.NoError(t, m.InsertSnapshot(&BrokerSnapshot{RunID: "run-1", Kind: SnapshotClose, Cash: 90000, CapturedAt: base}))
	require.NoError(t, m.InsertSnapshot(&BrokerSnapshot{RunID: "run-2", Kind: SnapshotPre, Cash: 91000, CapturedAt: base.Add(time.Hour)}))
	require.NoError(t, m.InsertSnapshot(&BrokerSnapshot{RunID: "run-2", Kind: SnapshotClose, Cash: 85000, CapturedAt: base.Add(2 * time.Hour)}))

	snap, err := m.LatestSnapshot(SnapshotClose)
	require.NoError(t, err)
	assert.Equal(t, "run-2", snap.RunID)
	assert.Equal(t, 85000.0, snap.Cash)

	_, err = m.LatestSnapshot(SnapshotPost)
	assert.ErrorIs(t, err, ErrNotFound)
}
