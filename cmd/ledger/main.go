// Command ledger inspects the run ledger that tsselect -ledger writes.
//
// Usage:
//
//	ledger -db runs.db runs [-n 20]
//	ledger -db runs.db show <run-id>
//	ledger -db runs.db status
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/banshee-data/eventsweep/internal/db"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "ledger: ", 0)
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "runs.db", "ledger database path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		printHelp(stderr)
		return 2
	}

	if _, err := os.Stat(*dbPath); err != nil {
		logger.Printf("opening ledger: %v", err)
		return 1
	}
	store, err := db.OpenLedger(*dbPath)
	if err != nil {
		logger.Printf("%v", err)
		return 1
	}
	defer store.Close()

	switch rest[0] {
	case "runs":
		sub := flag.NewFlagSet("runs", flag.ContinueOnError)
		sub.SetOutput(stderr)
		limit := sub.Int("n", 20, "number of runs to list (0 for all)")
		if err := sub.Parse(rest[1:]); err != nil {
			return 2
		}
		runs, err := store.ListRuns(*limit)
		if err != nil {
			logger.Printf("%v", err)
			return 1
		}
		for _, r := range runs {
			fmt.Fprintf(stdout, "%s  %s  %-8s  %d/%d workers  %d selections\n",
				r.RunID, r.StartedAt.Format(time.RFC3339), r.Status,
				r.EffectiveWorkers, r.RequestedWorkers, r.NSelections)
		}
	case "show":
		if len(rest) != 2 {
			printHelp(stderr)
			return 2
		}
		if err := show(stdout, store, rest[1]); err != nil {
			logger.Printf("%v", err)
			return 1
		}
	case "status":
		version, dirty, err := store.SchemaVersion()
		if err != nil {
			logger.Printf("%v", err)
			return 1
		}
		fmt.Fprintf(stdout, "schema version: %d\n", version)
		fmt.Fprintf(stdout, "dirty: %v\n", dirty)
	case "help":
		printHelp(stdout)
	default:
		logger.Printf("unknown command %q", rest[0])
		printHelp(stderr)
		return 2
	}
	return 0
}

func show(w io.Writer, store *db.RunStore, runID string) error {
	r, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	workers, err := store.ListWorkers(runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "run:        %s\n", r.RunID)
	fmt.Fprintf(w, "status:     %s\n", r.Status)
	fmt.Fprintf(w, "started:    %s\n", r.StartedAt.Format(time.RFC3339))
	if r.CompletedAt != nil {
		fmt.Fprintf(w, "completed:  %s (%s)\n", r.CompletedAt.Format(time.RFC3339), r.CompletedAt.Sub(r.StartedAt))
	}
	fmt.Fprintf(w, "workers:    %d of %d requested\n", r.EffectiveWorkers, r.RequestedWorkers)
	fmt.Fprintf(w, "selections: %d\n", r.NSelections)
	if r.Error != "" {
		fmt.Fprintf(w, "error:      %s\n", r.Error)
	}
	for _, wr := range workers {
		fmt.Fprintf(w, "  worker %d: %s, %d inputs, %d events", wr.Worker, wr.Status, wr.Inputs, wr.Events)
		if wr.FailedPhase != "" {
			fmt.Fprintf(w, ", failed in %s", wr.FailedPhase)
			if wr.FailedSlot != nil {
				fmt.Fprintf(w, " slot %d", *wr.FailedSlot)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "usage: ledger [-db path] <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  runs [-n N]   list recent runs, newest first")
	fmt.Fprintln(w, "  show <run-id> show one run and its workers")
	fmt.Fprintln(w, "  status        show the ledger schema version")
}
