package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/ligustah/fetchpush/internal/config"
	"github.com/ligustah/fetchpush/internal/integrity"
	"github.com/ligustah/fetchpush/internal/runner"
	"github.com/ligustah/fetchpush/pkg/ledger"
	"github.com/ligustah/fetchpush/pkg/transfer"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	return path
}

func configWithUser(user, pass string) config.Config {
	cfg := config.Default()
	cfg.Username = user
	cfg.Password = pass
	return cfg
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"manifest", fmt.Errorf("read: %w", &transfer.ManifestError{Reason: "empty document"}), ExitInvalidManifest},
		{"failed", &runner.FailedError{}, ExitTransferFailed},
		{"ledger", fmt.Errorf("%w: flush: boom", runner.ErrLedger), ExitLedgerError},
		{"mismatch", fmt.Errorf("%w: 1 of 2", integrity.ErrMismatch), ExitVerifyFailed},
		{"failed and mismatch", errors.Join(&runner.FailedError{}, integrity.ErrMismatch), ExitTransferFailed},
		{"other", errors.New("boom"), ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if got := run([]string{"frobnicate"}); got != ExitInvalidArgs {
		t.Errorf("run() = %d, want %d", got, ExitInvalidArgs)
	}
	if got := run(nil); got != ExitInvalidArgs {
		t.Errorf("run() = %d, want %d", got, ExitInvalidArgs)
	}
}

func TestExtraManifestArgs(t *testing.T) {
	tests := []struct {
		name string
		cmd  func([]string) int
	}{
		{"run", runTransfer},
		{"check", runCheck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd([]string{"a.json", "b.json"}); got != ExitInvalidArgs {
				t.Errorf("%s with two manifests = %d, want %d", tt.name, got, ExitInvalidArgs)
			}
		})
	}
}

func TestLoadConfigFlagsWin(t *testing.T) {
	t.Setenv("FETCHPUSH_LIMIT", "50")
	t.Setenv("FETCHPUSH_RETRIES", "5")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var (
		common commonFlags
		tf     transferFlags
	)
	common.register(fs)
	tf.register(fs)
	if err := fs.Parse([]string{"-limit", "8", "-retries", "0", "-env", writeEnv(t, "")}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, err := loadConfig(fs, &common, &tf)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Limit != 8 {
		t.Errorf("expected flag limit 8, got %d", cfg.Limit)
	}
	if cfg.Retries != 0 {
		t.Errorf("expected explicit -retries 0, got %d", cfg.Retries)
	}
}

func TestApplyCredentials(t *testing.T) {
	m := &transfer.Manifest{Username: "manifest-user", Password: "manifest-pass"}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var tf transferFlags
	tf.register(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := configWithUser("env-user", "env-pass")
	applyCredentials(&cfg, m, fs)
	if cfg.Username != "manifest-user" || cfg.Password != "manifest-pass" {
		t.Errorf("expected manifest credentials, got %s/%s", cfg.Username, cfg.Password)
	}

	if err := fs.Parse([]string{"-username", "flag-user"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg = configWithUser("flag-user", "")
	applyCredentials(&cfg, m, fs)
	if cfg.Username != "flag-user" {
		t.Errorf("expected flag user to win, got %s", cfg.Username)
	}
}

func TestPrintEntry(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	led := ledger.New(bucket, "", nil)
	it := transfer.NewItem(transfer.MethodPut, "http://h/a", "/data/a")
	it.Size = 100
	it.MarkComplete(time.Unix(1700000000, 0).UTC())
	if err := led.Record(time.Unix(1699999999, 0), []*transfer.Item{it, transfer.NewItem(transfer.MethodGet, "http://h/b", "/b")}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := led.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var runs bytes.Buffer
	printRuns(&runs, led, led.Runs())
	if !strings.Contains(runs.String(), "2 items  1 completed") {
		t.Errorf("unexpected run listing: %q", runs.String())
	}

	var out bytes.Buffer
	printEntry(&out, led.Latest())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", out.String())
	}
	if !strings.Contains(lines[0], "http://h/a -> /data/a") || !strings.Contains(lines[0], "100") {
		t.Errorf("unexpected first line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "pending") {
		t.Errorf("expected pending GET, got %q", lines[1])
	}
}
