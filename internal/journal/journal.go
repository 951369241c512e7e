package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// OrderEntry records an intent submission in the audit journal.
type OrderEntry struct {
	IntentID   string `json:"intent_id"`
	RunID      string `json:"run_id"`
	StrategyID string `json:"strategy_id"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Quantity   int    `json:"quantity"`
	Status     string `json:"status"`
}

// FillEntry records an executed trade.
type FillEntry struct {
	IntentID     string  `json:"intent_id"`
	VenueOrderID string  `json:"venue_order_id"`
	Instrument   string  `json:"instrument"`
	Side         string  `json:"side"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"`
}

type entry struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

// Journal is an append-only JSONL file mirroring every order and fill. It
// survives a crashed run, so operators can audit what was sent to the venue
// even when the store write after a fill failed.
type Journal struct {
	path string
}

func New(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	return &Journal{path: path}, nil
}

func (j *Journal) WriteOrder(o OrderEntry) error {
	return j.append(entry{Type: "order", Data: o, At: time.Now().UTC()})
}

func (j *Journal) WriteFill(f FillEntry) error {
	return j.append(entry{Type: "fill", Data: f, At: time.Now().UTC()})
}

func (j *Journal) append(e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}
