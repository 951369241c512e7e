package store

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store used for dry runs and tests. It applies the
// same transition rules as the postgres store.
type Memory struct {
	mu          sync.Mutex
	runs        map[string]Run
	intents     map[string]OrderIntent
	transitions []IntentTransition
	positions   map[string]Position
	snapshots   []BrokerSnapshot
	rejections  []RejectionRecord
	funnel      []FunnelCount
	nextID      int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs:      map[string]Run{},
		intents:   map[string]OrderIntent{},
		positions: map[string]Position{},
	}
}

func posKey(strategyID, instrument string) string {
	return strategyID + "|" + instrument
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateRun(run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.RunID]; ok {
		return fmt.Errorf("run %s already exists", run.RunID)
	}
	m.runs[run.RunID] = *run
	return nil
}

func (m *Memory) UpdateRun(run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.RunID] = *run
	return nil
}

func (m *Memory) GetRun(runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

func (m *Memory) InsertIntent(intent *OrderIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[intent.IntentID]; ok {
		return fmt.Errorf("intent %s already exists", intent.IntentID)
	}
	m.intents[intent.IntentID] = *intent
	m.transitions = append(m.transitions, IntentTransition{
		ID:       m.id(),
		IntentID: intent.IntentID,
		ToStatus: intent.Status,
		At:       intent.CreatedAt,
	})
	return nil
}

func (m *Memory) GetIntent(intentID string) (*OrderIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &intent, nil
}

func (m *Memory) UpdateIntentStatus(intentID, from, to, note, venueOrderID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok {
		return ErrNotFound
	}
	if intent.Status != from {
		return fmt.Errorf("intent %s not in status %s", intentID, from)
	}
	now := time.Now().UTC()
	intent.Status = to
	intent.UpdatedAt = now
	if venueOrderID != "" {
		intent.VenueOrderID = venueOrderID
	}
	if errMsg != "" {
		intent.Error = errMsg
	}
	m.intents[intentID] = intent
	m.transitions = append(m.transitions, IntentTransition{
		ID:         m.id(),
		IntentID:   intentID,
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
		At:         now,
	})
	return nil
}

func (m *Memory) ListIntentsByRun(runID string) ([]OrderIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OrderIntent
	for _, it := range m.intents {
		if it.RunID == runID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListTransitions(intentID string) ([]IntentTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []IntentTransition
	for _, tr := range m.transitions {
		if tr.IntentID == intentID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (m *Memory) UpsertPosition(pos Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := posKey(pos.StrategyID, pos.Instrument)
	if pos.Quantity == 0 {
		delete(m.positions, key)
		return nil
	}
	m.positions[key] = pos
	return nil
}

func (m *Memory) ListPositions() ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StrategyID != out[j].StrategyID {
			return out[i].StrategyID < out[j].StrategyID
		}
		return out[i].Instrument < out[j].Instrument
	})
	return out, nil
}

func (m *Memory) InsertSnapshot(snap *BrokerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.ID = m.id()
	m.snapshots = append(m.snapshots, *snap)
	return nil
}

func (m *Memory) LatestSnapshot(kind string) (*BrokerSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *BrokerSnapshot
	for i := range m.snapshots {
		snap := &m.snapshots[i]
		if snap.Kind != kind {
			continue
		}
		if latest == nil || !snap.CapturedAt.Before(latest.CapturedAt) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (m *Memory) InsertRejection(rec *RejectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.id()
	m.rejections = append(m.rejections, *rec)
	return nil
}

func (m *Memory) InsertFunnelCounts(counts []FunnelCount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range counts {
		counts[i].ID = m.id()
		m.funnel = append(m.funnel, counts[i])
	}
	return nil
}

func (m *Memory) ListFunnelCounts(runID string) ([]FunnelCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FunnelCount
	for _, fc := range m.funnel {
		if fc.RunID == runID {
			out = append(out, fc)
		}
	}
	return out, nil
}

func (m *Memory) ListRejections(runID string) ([]RejectionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RejectionRecord
	for _, rec := range m.rejections {
		if rec.RunID == runID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) RecentFailureStats(sample int) (FailureStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intents := make([]OrderIntent, 0, len(m.intents))
	for _, it := range m.intents {
		intents = append(intents, it)
	}
	sort.Slice(intents, func(i, j int) bool { return intents[i].CreatedAt.After(intents[j].CreatedAt) })
	if len(intents) > sample {
		intents = intents[:sample]
	}
	return ComputeFailureStats(intents), nil
}
