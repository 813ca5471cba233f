// tally-admin is the operator CLI for the position loader. Every subcommand
// maps to one operator facade call and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bobmcallan/tally/internal/app"
	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

const usage = `tally-admin - position loader operations

Usage: tally-admin [-config path] <command> [flags]

Commands:
  eod           run EOD for one account
  eod-all       run EOD for every registered account
  status        show EOD status for an account and date
  history       show recent EOD statuses for an account
  upload        activate a manual position upload from a JSON file
  adjust        apply one intraday position adjustment
  rollback      re-activate the previous batch for an account
  reset         clear EOD status and content hash
  diff          diff positions against the previous business day
  reconcile     reconcile one account
  reconcile-all reconcile every account
  replay        replay a topic's dead letters
  progress      show the current orchestrated run
  holiday       register a holiday on the calendar
  version       print version and exit
`

func main() {
	configPath := flag.String("config", "", "path to tally.toml")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if args[0] == "version" {
		fmt.Println(common.GetFullVersion())
		return
	}

	application, err := app.NewApp(*configPath)
	if err != nil {
		fatal("failed to start: %v", err)
	}
	defer application.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := run(ctx, application, args[0], args[1:]); err != nil {
		fatal("%v", err)
	}
}

func run(ctx context.Context, application *app.App, command string, args []string) error {
	op := application.Operator

	switch command {
	case "eod":
		fs := flag.NewFlagSet("eod", flag.ExitOnError)
		account := fs.String("account", "", "account ID")
		date := fs.String("date", "", "business date (default today)")
		fs.Parse(args)
		status, err := op.TriggerEod(ctx, *account, *date)
		if err != nil {
			return err
		}
		return printJSON(status)

	case "eod-all":
		fs := flag.NewFlagSet("eod-all", flag.ExitOnError)
		date := fs.String("date", "", "business date (default today)")
		fs.Parse(args)
		result, err := op.RunEodAll(ctx, *date)
		if err != nil {
			return err
		}
		return printJSON(result)

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		account := fs.String("account", "", "account ID")
		date := fs.String("date", common.Today(), "business date")
		fs.Parse(args)
		status, err := op.GetStatus(ctx, *account, *date)
		if err != nil {
			return err
		}
		return printJSON(status)

	case "history":
		fs := flag.NewFlagSet("history", flag.ExitOnError)
		account := fs.String("account", "", "account ID")
		limit := fs.Int("limit", 10, "max rows")
		fs.Parse(args)
		history, err := op.GetEodHistory(ctx, *account, *limit)
		if err != nil {
			return err
		}
		return printJSON(history)

	case "upload":
		fs := flag.NewFlagSet("upload", flag.ExitOnError)
		account := fs.String("account", "", "account ID")
		date := fs.String("date", common.Today(), "business date")
		file := fs.String("file", "", "JSON file with a position array")
		fs.Parse(args)
		positions, err := readPositions(*file)
		if err != nil {
			return err
		}
		batch, err := op.UploadPositions(ctx, *account, *date, positions)
		if err != nil {
			return err
		}
		return printJSON(batch)

	case "adjust":
		fs := flag.NewFlagSet("adjust", flag.ExitOnError)
		account := fs.String("account", "", "account ID")
		product := fs.String("product", "", "product ID")
		date := fs.String("date", common.Today(), "business date")
		quantity := fs.Float64("quantity", 0, "new quantity")
		price := fs.Float64("price", 0, "new price")
		fs.Parse(args)
		if err := op.AdjustPosition(ctx, *account, *product, *date, *quantity, *price); err != nil {
			return err
		}
		fmt.Printf("adjusted %s/%s on %s\n", *account, *product, *date)
		return nil

	case "rollback":
		fs := flag.NewFlagSet("rollback", flag.ExitOnError)
		account := fs.String("account", "", "account ID")
		date := fs.String("date", common.Today(), "business date")
		fs.Parse(args)
		ok, err := op.Rollback(ctx, *account, *date)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no previous batch to roll back to for %s", *account)
		}
		fmt.Printf("rolled back %s on %s\n", *account, *date)
		return nil

	case "reset":
		fs := flag.NewFlagSet("reset", flag.ExitOnError)
		account := fs.String("account", "", "account ID")
		date := fs.String("date", common.Today(), "business date")
		fs.Parse(args)
		if err := op.Reset(ctx, *account, *date); err != nil {
			return err
		}
		fmt.Printf("reset %s on %s\n", *account, *date)
		return nil

	case "diff":
		fs := flag.NewFlagSet("diff", flag.ExitOnError)
		account := fs.String("account", "", "account ID")
		date := fs.String("date", common.Today(), "business date")
		fs.Parse(args)
		report, err := op.Diff(ctx, *account, *date)
		if err != nil {
			return err
		}
		return printJSON(report)

	case "reconcile":
		fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
		account := fs.String("account", "", "account ID")
		date := fs.String("date", common.Today(), "business date")
		fs.Parse(args)
		report, err := op.Reconcile(ctx, *account, *date)
		if err != nil {
			return err
		}
		return printJSON(report)

	case "reconcile-all":
		fs := flag.NewFlagSet("reconcile-all", flag.ExitOnError)
		date := fs.String("date", common.Today(), "business date")
		fs.Parse(args)
		reports, err := op.ReconcileAll(ctx, *date)
		if err != nil {
			return err
		}
		return printJSON(reports)

	case "replay":
		fs := flag.NewFlagSet("replay", flag.ExitOnError)
		topic := fs.String("topic", models.TopicPositionChange, "origin topic to replay dead letters for")
		fs.Parse(args)
		n, err := op.ReplayDLT(ctx, *topic)
		if err != nil {
			return err
		}
		fmt.Printf("replayed %d dead letters to %s\n", n, *topic)
		return nil

	case "progress":
		fs := flag.NewFlagSet("progress", flag.ExitOnError)
		date := fs.String("date", common.Today(), "business date")
		fs.Parse(args)
		progress := op.Progress(*date)
		if progress == nil {
			return fmt.Errorf("no run for %s", *date)
		}
		return printJSON(progress)

	case "holiday":
		fs := flag.NewFlagSet("holiday", flag.ExitOnError)
		country := fs.String("country", application.Config.Scheduler.HolidayCountry, "country code")
		date := fs.String("date", "", "holiday date")
		fs.Parse(args)
		if err := op.UpsertHoliday(ctx, *country, *date); err != nil {
			return err
		}
		fmt.Printf("holiday %s registered for %s\n", *date, *country)
		return nil

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func readPositions(path string) ([]models.SnapshotPosition, error) {
	if path == "" {
		return nil, fmt.Errorf("-file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var positions []models.SnapshotPosition
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return positions, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
