package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ligustah/fetchpush/internal/integrity"
	"github.com/ligustah/fetchpush/internal/runner"
	"github.com/ligustah/fetchpush/pkg/transfer"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitInvalidArgs     = 2
	ExitInvalidManifest = 3
	ExitTransferFailed  = 4
	ExitLedgerError     = 5
	ExitVerifyFailed    = 6
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "run":
		return runTransfer(cmdArgs)
	case "check":
		return runCheck(cmdArgs)
	case "history":
		return runHistory(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: fetchpush <command> [options]

Commands:
  run      Transfer every item of a manifest, with retries and a resumable ledger
  check    Compare remote copies of a manifest's uploads with the local files
  history  List runs recorded in the ledger

Run 'fetchpush <command> -h' for command-specific help.`)
}

// exitCode maps a run error to the process exit code.
func exitCode(err error) int {
	var manifestErr *transfer.ManifestError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &manifestErr):
		return ExitInvalidManifest
	case errors.Is(err, runner.ErrTransferFailed):
		return ExitTransferFailed
	case errors.Is(err, runner.ErrLedger):
		return ExitLedgerError
	case errors.Is(err, integrity.ErrMismatch):
		return ExitVerifyFailed
	default:
		return ExitGeneralError
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[fetchpush] Received interrupt, saving ledger and shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
