package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/quantpilot/execution-pipeline/internal/broker"
	"github.com/quantpilot/execution-pipeline/internal/config"
	"github.com/quantpilot/execution-pipeline/internal/observ"
	"github.com/quantpilot/execution-pipeline/internal/reconcile"
	"github.com/quantpilot/execution-pipeline/internal/store"
)

// Standalone reconciliation pass: compares the store's positions against the
// venue without touching the trading pipeline. Exit code 1 on FAIL so cron
// alerting can key off it.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal("config_load_failed", err)
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		fatal("store_open_failed", err)
	}
	venue, err := broker.NewHTTPVenue(cfg.Venue)
	if err != nil {
		fatal("venue_init_failed", err)
	}

	positions, err := st.ListPositions()
	if err != nil {
		fatal("positions_load_failed", err)
	}

	// The cash belief comes from the last run's closing snapshot. Without
	// one there is nothing local to compare, so the venue's own number is
	// used and only the position checks are meaningful.
	var localCash float64
	snap, err := st.LatestSnapshot(store.SnapshotClose)
	switch {
	case err == nil:
		localCash = snap.Cash
	case errors.Is(err, store.ErrNotFound):
		account, acctErr := venue.GetAccount(context.Background())
		if acctErr != nil {
			fatal("venue_account_failed", acctErr)
		}
		localCash = account.Cash
	default:
		fatal("cash_belief_load_failed", err)
	}

	result, err := reconcile.New(venue, cfg.Tolerances).Reconcile(context.Background(), positions, localCash)
	if err != nil {
		fatal("reconcile_failed", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if result.Status == reconcile.StatusFail {
		os.Exit(1)
	}
}

func fatal(event string, err error) {
	observ.LogError(event, err, nil)
	os.Exit(1)
}
