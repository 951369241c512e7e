package store

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("store: not found")

// FailureStats summarizes recent order outcomes for the kill switch.
type FailureStats struct {
	ConsecutiveFailures int     // terminal failures with no fill in between, newest first
	RejectionRate       float64 // (REJECTED+FAILED)/total over the sampled window
	Sampled             int
}

// Store is the persistence boundary for the pipeline. Each method is one
// logical step: the venue call happens between steps, so a later local
// failure must not roll back an earlier step.
type Store interface {
	CreateRun(run *Run) error
	UpdateRun(run *Run) error
	GetRun(runID string) (*Run, error)

	InsertIntent(intent *OrderIntent) error
	GetIntent(intentID string) (*OrderIntent, error)
	UpdateIntentStatus(intentID, from, to, note, venueOrderID, errMsg string) error
	ListIntentsByRun(runID string) ([]OrderIntent, error)
	ListTransitions(intentID string) ([]IntentTransition, error)

	UpsertPosition(pos Position) error
	ListPositions() ([]Position, error)

	InsertSnapshot(snap *BrokerSnapshot) error
	LatestSnapshot(kind string) (*BrokerSnapshot, error)
	InsertRejection(rec *RejectionRecord) error
	InsertFunnelCounts(counts []FunnelCount) error
	ListFunnelCounts(runID string) ([]FunnelCount, error)
	ListRejections(runID string) ([]RejectionRecord, error)

	RecentFailureStats(sample int) (FailureStats, error)
}

// Config holds postgres connection settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

type db struct {
	gormDB *gorm.DB
}

// Open connects to postgres and migrates the pipeline tables.
func Open(cfg Config) (Store, error) {
	gdb, err := gorm.Open(postgres.Open(connectionString(cfg)), &gorm.Config{
		Logger: slogGorm.New(),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := gdb.AutoMigrate(Tables...); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &db{gormDB: gdb}, nil
}

func connectionString(cfg Config) string {
	ssl := cfg.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	hostPort := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	if cfg.Password == "" {
		return fmt.Sprintf("postgres://%s@%s/%s?sslmode=%s", cfg.User, hostPort, cfg.Database, ssl)
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s", cfg.User, cfg.Password, hostPort, cfg.Database, ssl)
}

func (d *db) CreateRun(run *Run) error {
	return d.gormDB.Create(run).Error
}

func (d *db) UpdateRun(run *Run) error {
	return d.gormDB.Save(run).Error
}

func (d *db) GetRun(runID string) (*Run, error) {
	var run Run
	if err := d.gormDB.First(&run, "run_id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

func (d *db) InsertIntent(intent *OrderIntent) error {
	return d.gormDB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(intent).Error; err != nil {
			return err
		}
		return tx.Create(&IntentTransition{
			IntentID: intent.IntentID,
			ToStatus: intent.Status,
			At:       intent.CreatedAt,
		}).Error
	})
}

func (d *db) GetIntent(intentID string) (*OrderIntent, error) {
	var intent OrderIntent
	if err := d.gormDB.First(&intent, "intent_id = ?", intentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &intent, nil
}

func (d *db) UpdateIntentStatus(intentID, from, to, note, venueOrderID, errMsg string) error {
	now := time.Now().UTC()
	return d.gormDB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": to, "updated_at": now}
		if venueOrderID != "" {
			updates["venue_order_id"] = venueOrderID
		}
		if errMsg != "" {
			updates["error"] = errMsg
		}
		res := tx.Model(&OrderIntent{}).
			Where("intent_id = ? AND status = ?", intentID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("intent %s not in status %s", intentID, from)
		}
		return tx.Create(&IntentTransition{
			IntentID:   intentID,
			FromStatus: from,
			ToStatus:   to,
			Note:       note,
			At:         now,
		}).Error
	})
}

func (d *db) ListIntentsByRun(runID string) ([]OrderIntent, error) {
	var intents []OrderIntent
	err := d.gormDB.Where("run_id = ?", runID).Order("created_at").Find(&intents).Error
	return intents, err
}

func (d *db) ListTransitions(intentID string) ([]IntentTransition, error) {
	var trs []IntentTransition
	err := d.gormDB.Where("intent_id = ?", intentID).Order("id").Find(&trs).Error
	return trs, err
}

func (d *db) UpsertPosition(pos Position) error {
	return d.gormDB.Transaction(func(tx *gorm.DB) error {
		if pos.Quantity == 0 {
			return tx.Delete(&Position{}, "strategy_id = ? AND instrument = ?",
				pos.StrategyID, pos.Instrument).Error
		}
		return tx.Save(&pos).Error
	})
}

func (d *db) ListPositions() ([]Position, error) {
	var positions []Position
	err := d.gormDB.Order("strategy_id, instrument").Find(&positions).Error
	return positions, err
}

func (d *db) InsertSnapshot(snap *BrokerSnapshot) error {
	return d.gormDB.Create(snap).Error
}

func (d *db) LatestSnapshot(kind string) (*BrokerSnapshot, error) {
	var snap BrokerSnapshot
	err := d.gormDB.Where("kind = ?", kind).Order("captured_at DESC").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (d *db) InsertRejection(rec *RejectionRecord) error {
	return d.gormDB.Create(rec).Error
}

func (d *db) InsertFunnelCounts(counts []FunnelCount) error {
	if len(counts) == 0 {
		return nil
	}
	return d.gormDB.Create(&counts).Error
}

func (d *db) ListFunnelCounts(runID string) ([]FunnelCount, error) {
	var counts []FunnelCount
	err := d.gormDB.Where("run_id = ?", runID).Find(&counts).Error
	return counts, err
}

func (d *db) ListRejections(runID string) ([]RejectionRecord, error) {
	var recs []RejectionRecord
	err := d.gormDB.Where("run_id = ?", runID).Order("id").Find(&recs).Error
	return recs, err
}

func (d *db) RecentFailureStats(sample int) (FailureStats, error) {
	var intents []OrderIntent
	err := d.gormDB.Order("created_at DESC").Limit(sample).Find(&intents).Error
	if err != nil {
		return FailureStats{}, err
	}
	return ComputeFailureStats(intents), nil
}

// ComputeFailureStats derives kill-switch inputs from intents ordered newest
// first. The consecutive counter stops at the first filled order.
func ComputeFailureStats(newestFirst []OrderIntent) FailureStats {
	stats := FailureStats{Sampled: len(newestFirst)}
	counting := true
	failed := 0
	for _, it := range newestFirst {
		switch it.Status {
		case IntentFailed, IntentRejected:
			failed++
			if counting {
				stats.ConsecutiveFailures++
			}
		case IntentFilled:
			counting = false
		}
	}
	if stats.Sampled > 0 {
		stats.RejectionRate = float64(failed) / float64(stats.Sampled)
	}
	return stats
}
