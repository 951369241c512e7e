package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/quantpilot/execution-pipeline/internal/alerts"
	"github.com/quantpilot/execution-pipeline/internal/broker"
	"github.com/quantpilot/execution-pipeline/internal/config"
	"github.com/quantpilot/execution-pipeline/internal/journal"
	"github.com/quantpilot/execution-pipeline/internal/marketdata"
	"github.com/quantpilot/execution-pipeline/internal/observ"
	"github.com/quantpilot/execution-pipeline/internal/orchestrator"
	"github.com/quantpilot/execution-pipeline/internal/store"
	"github.com/quantpilot/execution-pipeline/internal/strategy"
	"github.com/quantpilot/execution-pipeline/internal/transport"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	dateStr := flag.String("date", "", "as-of date (YYYY-MM-DD), defaults to today")
	opsAddr := flag.String("ops", "", "optional addr for the health/metrics/result endpoint, e.g. :8077")
	volIndex := flag.Float64("vol-index", 0, "override volatility index (dry-run only)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal("config_load_failed", err)
	}

	asOf := time.Now().UTC()
	if *dateStr != "" {
		asOf, err = time.Parse("2006-01-02", *dateStr)
		if err != nil {
			fatal("bad_date_flag", err)
		}
	}

	var st store.Store
	if cfg.TradingMode == "dry-run" {
		st = store.NewMemory()
	} else {
		st, err = store.Open(cfg.Database)
		if err != nil {
			fatal("store_open_failed", err)
		}
	}

	var venue broker.Venue
	switch cfg.TradingMode {
	case "live":
		venue, err = broker.NewHTTPVenue(cfg.Venue)
		if err != nil {
			fatal("venue_init_failed", err)
		}
	default:
		venue = broker.NewPaperVenue(cfg.CapitalBase)
	}

	var data marketdata.Provider
	if cfg.MarketData.BaseURL != "" {
		data, err = marketdata.NewHTTPProvider(cfg.MarketData)
		if err != nil {
			fatal("marketdata_init_failed", err)
		}
	} else {
		// Static provider covers dry runs without a data feed.
		data = &marketdata.Static{VolIndex: *volIndex, Histories: map[string][]float64{}}
	}

	registry := strategy.NewRegistry()
	for _, sc := range cfg.Strategies {
		if err := registry.Register(strategy.NewFileStrategy(sc.ID, sc.Tags, sc.SignalsFile)); err != nil {
			fatal("strategy_register_failed", err)
		}
	}

	jnl, err := journal.New(cfg.JournalPath)
	if err != nil {
		fatal("journal_init_failed", err)
	}

	var ops *transport.Server
	if *opsAddr != "" {
		ops = transport.NewServer(*opsAddr)
		ops.Start()
		defer ops.Close()
	}

	ctx := context.Background()
	orch := orchestrator.New(cfg, st, venue, data, registry, jnl)
	result, err := orch.Run(ctx, asOf)
	if err != nil {
		observ.LogError("run_error", err, map[string]any{"run_id": result.RunID})
	}
	if ops != nil {
		ops.SetResult(result)
	}

	notifier := alerts.NewNotifier(cfg.Alerts)
	notifier.NotifyRun(ctx, alerts.RunAlert{
		RunID:        result.RunID,
		Status:       result.Status,
		HaltedReason: result.HaltedReason,
		Trades:       len(result.Trades),
		Rejections:   len(result.Rejections),
	})

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if result.Status == store.RunStatusHalted {
		os.Exit(1)
	}
}

func fatal(event string, err error) {
	observ.LogError(event, err, nil)
	os.Exit(1)
}
