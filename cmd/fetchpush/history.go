package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/ligustah/fetchpush/pkg/ledger"
)

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)

	var common commonFlags
	common.register(fs)
	runSel := fs.String("run", "", "Show the items of one run: its index or \"latest\"")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fetchpush history [options]

List the runs recorded in the ledger, oldest first, or the items of one run.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	logger := newLogger(common.verbose)
	cfg, err := loadConfig(fs, &common, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx := context.Background()
	bucket, err := openBucket(ctx, cfg.LedgerURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger storage: %v\n", err)
		return ExitLedgerError
	}
	defer bucket.Close()

	led, err := ledger.Load(ctx, bucket, cfg.LedgerKey, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitLedgerError
	}
	if led.Corrupt() {
		return ExitLedgerError
	}

	runs := led.Runs()
	if *runSel == "" {
		printRuns(os.Stdout, led, runs)
		return ExitSuccess
	}

	idx := len(runs) - 1
	if *runSel != "latest" {
		n, err := strconv.Atoi(*runSel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -run %q\n", *runSel)
			return ExitInvalidArgs
		}
		idx = n
	}
	if idx < 0 || idx >= len(runs) {
		fmt.Fprintf(os.Stderr, "Error: no run %s (ledger has %d runs)\n", *runSel, len(runs))
		return ExitInvalidArgs
	}

	entry, _ := led.Entry(runs[idx])
	printEntry(os.Stdout, entry)
	return ExitSuccess
}

func printRuns(w io.Writer, led *ledger.Ledger, runs []time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	for i, ts := range runs {
		entry, _ := led.Entry(ts)
		done := 0
		for _, rec := range entry {
			if rec.Completed() {
				done++
			}
		}
		fmt.Fprintf(w, "%3d  %s  %d items  %d completed\n", i, ts.Format(time.RFC3339), len(entry), done)
	}
}

func printEntry(w io.Writer, entry ledger.Entry) {
	urls := make([]string, 0, len(entry))
	for u := range entry {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	for _, u := range urls {
		rec := entry[u]
		state := "pending"
		if rec.Completed() {
			state = rec.CompletedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-6s %-25s %10d  %s -> %s\n", rec.Method, state, rec.FileSize, u, rec.FilePath)
	}
}
