package store

import "time"

// Run statuses owned by the orchestrator.
const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusHalted    = "HALTED"
)

// Order intent lifecycle. Transitions are monotonic: an intent never moves
// to a status with a lower rank than its current one.
const (
	IntentCreated      = "CREATED"
	IntentSubmitted    = "SUBMITTED"
	IntentAcknowledged = "ACKNOWLEDGED"
	IntentFilled       = "FILLED"
	IntentRejected     = "REJECTED"
	IntentFailed       = "FAILED"
)

// Snapshot kinds for broker state captures.
const (
	SnapshotPre        = "PRE"
	SnapshotReconciled = "RECONCILED"
	SnapshotPost       = "POST"
	SnapshotClose      = "CLOSE" // local belief at run end, carried into the next run's cash check
)

// Run is one orchestrator invocation.
type Run struct {
	RunID        string    `gorm:"primaryKey;column:run_id" json:"run_id"`
	AsOfDate     string    `gorm:"column:as_of_date;index" json:"as_of_date"`
	Status       string    `gorm:"column:status" json:"status"`
	Regime       string    `gorm:"column:regime" json:"regime"`
	HaltedReason string    `gorm:"column:halted_reason" json:"halted_reason,omitempty"`
	StartedAt    time.Time `gorm:"column:started_at" json:"started_at"`
	FinishedAt   time.Time `gorm:"column:finished_at" json:"finished_at"`
}

// OrderIntent records a decision to place an order, independent of venue
// acknowledgement. IntentID is the idempotency key.
type OrderIntent struct {
	IntentID       string    `gorm:"primaryKey;column:intent_id" json:"intent_id"`
	RunID          string    `gorm:"column:run_id;index" json:"run_id"`
	StrategyID     string    `gorm:"column:strategy_id" json:"strategy_id"`
	Instrument     string    `gorm:"column:instrument;index" json:"instrument"`
	Side           string    `gorm:"column:side" json:"side"`
	TargetQuantity int       `gorm:"column:target_quantity" json:"target_quantity"`
	Status         string    `gorm:"column:status" json:"status"`
	VenueOrderID   string    `gorm:"column:venue_order_id" json:"venue_order_id,omitempty"`
	Error          string    `gorm:"column:error" json:"error,omitempty"`
	TimeBucket     string    `gorm:"column:time_bucket;index" json:"time_bucket"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// Terminal reports whether the intent can make no further progress.
func (i OrderIntent) Terminal() bool {
	switch i.Status {
	case IntentFilled, IntentRejected, IntentFailed:
		return true
	}
	return false
}

// IntentTransition is an append-only audit row for each status change.
type IntentTransition struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	IntentID   string    `gorm:"column:intent_id;index" json:"intent_id"`
	FromStatus string    `gorm:"column:from_status" json:"from_status"`
	ToStatus   string    `gorm:"column:to_status" json:"to_status"`
	Note       string    `gorm:"column:note" json:"note,omitempty"`
	At         time.Time `gorm:"column:at" json:"at"`
}

// Position is the locally tracked holding, unique per (strategy, instrument).
// Removed when quantity reaches zero.
type Position struct {
	StrategyID   string    `gorm:"primaryKey;column:strategy_id" json:"strategy_id"`
	Instrument   string    `gorm:"primaryKey;column:instrument" json:"instrument"`
	Quantity     int       `gorm:"column:quantity" json:"quantity"`
	AveragePrice float64   `gorm:"column:average_price" json:"average_price"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// BrokerSnapshot captures what the venue reported at a point in a run.
// Append-only, one per kind per run.
type BrokerSnapshot struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	RunID      string    `gorm:"column:run_id;index" json:"run_id"`
	Kind       string    `gorm:"column:kind" json:"kind"`
	Positions  string    `gorm:"column:positions;type:text" json:"positions"` // JSON payload
	Cash       float64   `gorm:"column:cash" json:"cash"`
	CapturedAt time.Time `gorm:"column:captured_at" json:"captured_at"`
}

// RejectionRecord explains why a signal left the pipeline. A signal exits at
// its first rejection, so at most one row exists per signal.
type RejectionRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	RunID      string    `gorm:"column:run_id;index" json:"run_id"`
	StrategyID string    `gorm:"column:strategy_id" json:"strategy_id"`
	Instrument string    `gorm:"column:instrument" json:"instrument"`
	Stage      string    `gorm:"column:stage" json:"stage"`
	ReasonCode string    `gorm:"column:reason_code" json:"reason_code"`
	Details    string    `gorm:"column:details" json:"details,omitempty"`
	At         time.Time `gorm:"column:at" json:"at"`
}

// FunnelCount is one stage counter for one strategy in one run.
type FunnelCount struct {
	ID         int64  `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	RunID      string `gorm:"column:run_id;index" json:"run_id"`
	StrategyID string `gorm:"column:strategy_id" json:"strategy_id"`
	Stage      string `gorm:"column:stage" json:"stage"`
	Count      int    `gorm:"column:count" json:"count"`
}

// Tables lists every model the store migrates.
var Tables = []interface{}{
	&Run{},
	&OrderIntent{},
	&IntentTransition{},
	&Position{},
	&BrokerSnapshot{},
	&RejectionRecord{},
	&FunnelCount{},
}
