package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/ligustah/fetchpush/internal/config"
	fphttp "github.com/ligustah/fetchpush/internal/http"
	"github.com/ligustah/fetchpush/internal/progress"
	"github.com/ligustah/fetchpush/internal/runner"
	"github.com/ligustah/fetchpush/pkg/ledger"
	"github.com/ligustah/fetchpush/pkg/transfer"
)

// modeFlags select what a run does besides transferring.
type modeFlags struct {
	resume     bool
	check      bool
	checkOnly  bool
	checkFirst bool
	dry        bool
	reverse    bool
}

func runTransfer(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	input := fs.String("i", "-", "Manifest file, - for stdin")
	var (
		common commonFlags
		tf     transferFlags
		mode   modeFlags
	)
	common.register(fs)
	tf.register(fs)
	fs.BoolVar(&mode.resume, "resume", false, "Skip items the last run completed")
	fs.BoolVar(&mode.check, "check", false, "Verify uploads with HEAD requests afterwards")
	fs.BoolVar(&mode.checkOnly, "checkonly", false, "Only verify uploads, transfer nothing")
	fs.BoolVar(&mode.checkFirst, "checkfirst", false, "Verify first and upload only what is missing or different")
	fs.BoolVar(&mode.dry, "dry", false, "Print what would be transferred")
	fs.BoolVar(&mode.reverse, "reverse", false, "Swap GET and PUT: download what the manifest uploads and back")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fetchpush run [options] [manifest]

Transfer every item of a JSON manifest:

  {"HTTPAsyncData": {"PUT": {"https://host/a": "/data/a"}, "GET": {...}}}

Requests of one method run concurrently, up to -limit at a time. Failed
requests are retried after -cooldown with half the concurrency, then one at
a time. Every run is recorded in the ledger; -resume continues the last one.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return ExitInvalidArgs
	}
	if fs.NArg() == 1 {
		*input = fs.Arg(0)
	}
	if mode.checkOnly && mode.checkFirst {
		fmt.Fprintln(os.Stderr, "Error: -checkonly and -checkfirst are mutually exclusive")
		return ExitInvalidArgs
	}

	return execute(fs, *input, common, tf, mode)
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)

	input := fs.String("i", "-", "Manifest file, - for stdin")
	var (
		common commonFlags
		tf     transferFlags
	)
	common.register(fs)
	tf.register(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fetchpush check [options] [manifest]

Send a HEAD request for every PUT and HEAD item of the manifest and compare
the remote content-length (and checksum, when available) with the local
file. Nothing is transferred and the ledger is not written.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return ExitInvalidArgs
	}
	if fs.NArg() == 1 {
		*input = fs.Arg(0)
	}

	return execute(fs, *input, common, tf, modeFlags{checkOnly: true})
}

func execute(fs *flag.FlagSet, input string, common commonFlags, tf transferFlags, mode modeFlags) int {
	logger := newLogger(common.verbose)
	slog.SetDefault(logger)

	cfg, err := loadConfig(fs, &common, &tf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	manifest, err := readManifest(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	applyCredentials(&cfg, manifest, fs)

	if cfg.InsecureSkipVerify {
		logger.Warn("TLS certificate verification is disabled")
	}
	if cfg.Username != "" && cfg.Password == "" {
		logger.Warn("Username given without password", slog.String("username", cfg.Username))
	}

	ctx, cancel := signalContext()
	defer cancel()

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

	client := fphttp.NewClient(fphttp.Options{
		Timeout:            cfg.Timeout,
		Username:           cfg.Username,
		Password:           cfg.Password,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		UserAgent:          cfg.UserAgent,
	})

	opts := runner.Options{
		Limit:      cfg.Limit,
		MaxRetries: cfg.Retries,
		Cooldown:   cfg.Cooldown,
		Client:     client,
		FS:         afero.NewOsFs(),
		Checksum:   cfg.Checksum,
		Resume:     mode.resume,
		Reverse:    mode.reverse,
		Verify:     mode.check,
		CheckFirst: mode.checkFirst,
		CheckOnly:  mode.checkOnly,
		Dry:        mode.dry,
		Logger:     logger,
	}

	var reporter *progress.Reporter
	if cfg.Progress && !mode.dry {
		reporter = progress.NewReporter(progress.Options{
			TotalRequests: len(manifest.Items()),
			Limit:         cfg.Limit,
		})
		opts.Progress = reporter
		reporter.Start()
	}

	summary, err := runner.Run(ctx, manifest, led, opts)
	if reporter != nil {
		reporter.Stop()
	}
	printSummary(os.Stderr, summary, cfg)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "[fetchpush] Interrupted. Run again with -resume to continue")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	return exitCode(err)
}

func readManifest(input string) (*transfer.Manifest, error) {
	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return nil, fmt.Errorf("open manifest: %w", err)
		}
		defer f.Close()
		r = f
	}
	return transfer.ParseManifest(r)
}

// applyCredentials lets manifest credentials replace configured ones unless
// they were given as flags.
func applyCredentials(cfg *config.Config, m *transfer.Manifest, fs *flag.FlagSet) {
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if m.Username != "" && !explicit["username"] {
		cfg.Username = m.Username
		if m.Password != "" || !explicit["password"] {
			cfg.Password = m.Password
		}
	}
}

func printSummary(w io.Writer, s *runner.Summary, cfg config.Config) {
	if s == nil {
		return
	}

	fmt.Fprintf(w, "[fetchpush] Run %s: %d items | %d skipped | %d requests | %s transferred\n",
		s.RunID, s.Items, s.Skipped, s.Requests, progress.FormatBytes(s.TotalBytes))
	if s.Username != "" {
		fmt.Fprintf(w, "[fetchpush] User: %s\n", s.Username)
	}
	for _, f := range s.Failures {
		fmt.Fprintf(w, "[fetchpush] FAILED %s %s (status %d): %v\n",
			f.Item.Method, f.Item.URL, f.Outcome.StatusCode, f.Outcome.Err)
	}

	bad := 0
	for _, r := range s.Verification {
		if r.Match {
			continue
		}
		bad++
		fmt.Fprintf(w, "[fetchpush] MISMATCH %s local=%d remote=%d status=%d\n",
			r.URL, r.LocalSize, r.RemoteSize, r.StatusCode)
	}
	if len(s.Verification) > 0 {
		fmt.Fprintf(w, "[fetchpush] Verified %d uploads, %d mismatched\n", len(s.Verification), bad)
	}
	if len(s.Failures) > 0 {
		fmt.Fprintf(w, "[fetchpush] %d requests failed after %d retries; ledger: %s/%s\n",
			len(s.Failures), cfg.Retries, cfg.LedgerURL, cfg.LedgerKey)
	}
}
