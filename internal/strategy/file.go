package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileStrategy replays signals from a JSON fixture. Signal generation is an
// external concern; this adapter lets the pipeline consume pre-computed
// signals dropped by an upstream research job.
type FileStrategy struct {
	id   string
	tags []string
	path string
}

type signalsFile struct {
	Signals []Signal `json:"signals"`
}

func NewFileStrategy(id string, tags []string, path string) *FileStrategy {
	return &FileStrategy{id: id, tags: tags, path: path}
}

func (f *FileStrategy) ID() string     { return f.id }
func (f *FileStrategy) Tags() []string { return f.tags }

func (f *FileStrategy) GenerateSignals(ctx context.Context, state MarketState) ([]Signal, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: read signals: %w", f.id, err)
	}
	var file signalsFile
	if err := json.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("strategy %s: parse signals: %w", f.id, err)
	}
	out := make([]Signal, 0, len(file.Signals))
	for _, sig := range file.Signals {
		sig.StrategyID = f.id
		if sig.AsOfDate.IsZero() {
			sig.AsOfDate = state.AsOfDate
		}
		out = append(out, sig)
	}
	return out, nil
}
