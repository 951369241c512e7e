package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/quantpilot/execution-pipeline/internal/observ"
	"github.com/quantpilot/execution-pipeline/internal/store"
)

// ErrDuplicate is returned by Create when an intent for the same key already
// exists in the current time bucket. Callers treat it as a no-op success.
var ErrDuplicate = errors.New("intent: duplicate for time bucket")

// statusRank orders the lifecycle so transitions are monotonic. Terminal
// statuses share the top rank; an intent reaches exactly one of them.
var statusRank = map[string]int{
	store.IntentCreated:      0,
	store.IntentSubmitted:    1,
	store.IntentAcknowledged: 2,
	store.IntentFilled:       3,
	store.IntentRejected:     3,
	store.IntentFailed:       3,
}

// Key identifies one order decision. Bucket is an hour-level timestamp:
// coarse enough to absorb a re-run of the same invocation, fine enough that
// a legitimately new decision later in the day gets a fresh identity.
type Key struct {
	RunID      string
	StrategyID string
	Instrument string
	Side       string
	Quantity   int
	Bucket     string
}

// Bucket formats the hour-level time bucket for a timestamp.
func Bucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

// ID computes the deterministic intent identifier for a key. Stable across
// processes; any process recomputing the same key in the same bucket gets
// the same id.
func (k Key) ID() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%s", k.RunID, k.StrategyID, k.Instrument, k.Side, k.Quantity, k.Bucket)
	return hex.EncodeToString(h.Sum(nil))
}

// Book mediates intent creation and lifecycle transitions over the store.
type Book struct {
	store store.Store
	now   func() time.Time
}

func NewBook(st store.Store) *Book {
	return &Book{store: st, now: time.Now}
}

// NewBookAt pins the clock, for tests that need bucket control.
func NewBookAt(st store.Store, now func() time.Time) *Book {
	return &Book{store: st, now: now}
}

// CheckDuplicate returns the existing intent for a key, or nil when none
// exists in the key's bucket.
func (b *Book) CheckDuplicate(k Key) (*store.OrderIntent, error) {
	existing, err := b.store.GetIntent(k.ID())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// Create persists a new CREATED intent for the key, or returns the existing
// one with ErrDuplicate when the key already has an intent this bucket.
// The caller must check for ErrDuplicate before any venue call.
func (b *Book) Create(k Key) (*store.OrderIntent, error) {
	if existing, err := b.CheckDuplicate(k); err != nil {
		return nil, err
	} else if existing != nil {
		observ.IncCounter("intent_duplicates_total", map[string]string{"strategy": k.StrategyID})
		return existing, ErrDuplicate
	}
	now := b.now().UTC()
	it := &store.OrderIntent{
		IntentID:       k.ID(),
		RunID:          k.RunID,
		StrategyID:     k.StrategyID,
		Instrument:     k.Instrument,
		Side:           k.Side,
		TargetQuantity: k.Quantity,
		Status:         store.IntentCreated,
		TimeBucket:     k.Bucket,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := b.store.InsertIntent(it); err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}
	observ.IncCounter("intents_created_total", map[string]string{"strategy": k.StrategyID})
	return it, nil
}

// Transition moves an intent forward. Backward moves are refused so the
// recorded history stays monotonic.
func (b *Book) Transition(it *store.OrderIntent, to, note, venueOrderID, errMsg string) error {
	fromRank, ok := statusRank[it.Status]
	if !ok {
		return fmt.Errorf("intent %s: unknown status %q", it.IntentID, it.Status)
	}
	toRank, ok := statusRank[to]
	if !ok {
		return fmt.Errorf("intent %s: unknown target status %q", it.IntentID, to)
	}
	if toRank <= fromRank {
		return fmt.Errorf("intent %s: transition %s -> %s is not monotonic", it.IntentID, it.Status, to)
	}
	if err := b.store.UpdateIntentStatus(it.IntentID, it.Status, to, note, venueOrderID, errMsg); err != nil {
		return err
	}
	it.Status = to
	if venueOrderID != "" {
		it.VenueOrderID = venueOrderID
	}
	if errMsg != "" {
		it.Error = errMsg
	}
	return nil
}
