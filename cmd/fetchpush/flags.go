package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/fetchpush/internal/config"
)

// commonFlags are shared by every command that reads configuration.
type commonFlags struct {
	configPath string
	envPath    string
	ledgerURL  string
	ledgerKey  string
	verbose    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&c.envPath, "env", "", "Load variables from this .env file (default: ./.env if present)")
	fs.StringVar(&c.ledgerURL, "ledger", "", "Ledger bucket URL (default: file://.)")
	fs.StringVar(&c.ledgerKey, "ledger-key", "", "Ledger object name (default: async.log.json)")
	fs.BoolVar(&c.verbose, "verbose", false, "Enable debug logging")
}

// transferFlags configure the HTTP side of a run.
type transferFlags struct {
	limit     int
	timeout   time.Duration
	retries   int
	cooldown  time.Duration
	username  string
	password  string
	checksum  bool
	insecure  bool
	progress  bool
	userAgent string
}

func (t *transferFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&t.limit, "limit", 0, "Concurrent requests in the first round (default: 200)")
	fs.DurationVar(&t.timeout, "timeout", 0, "Per-request timeout (default: 10s)")
	fs.IntVar(&t.retries, "retries", 0, "Retry rounds after the first (default: 3)")
	fs.DurationVar(&t.cooldown, "cooldown", 0, "Pause before each retry round (default: 10s)")
	fs.StringVar(&t.username, "username", "", "HTTP basic auth user")
	fs.StringVar(&t.password, "password", "", "HTTP basic auth password")
	fs.BoolVar(&t.checksum, "checksum", false, "Record SHA-256 checksums of transferred files")
	fs.BoolVar(&t.insecure, "insecure", false, "Skip TLS certificate verification")
	fs.BoolVar(&t.progress, "progress", false, "Show progress on stderr")
	fs.StringVar(&t.userAgent, "user-agent", "", "User-Agent header")
}

// loadConfig layers defaults, the config file, .env, the environment and
// explicitly set flags, in that order.
func loadConfig(fs *flag.FlagSet, c *commonFlags, t *transferFlags) (config.Config, error) {
	cfg := config.Default()
	if c.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(c.configPath); err != nil {
			return config.Config{}, err
		}
	}

	var envPaths []string
	if c.envPath != "" {
		envPaths = append(envPaths, c.envPath)
	}
	if err := config.LoadDotEnv(envPaths...); err != nil {
		return config.Config{}, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := config.Config{
		LedgerURL: c.ledgerURL,
		LedgerKey: c.ledgerKey,
	}
	if t != nil {
		override.Limit = t.limit
		override.Timeout = t.timeout
		override.Cooldown = t.cooldown
		override.Username = t.username
		override.Password = t.password
		override.Checksum = t.checksum
		override.InsecureSkipVerify = t.insecure
		override.Progress = t.progress
		override.UserAgent = t.userAgent
	}
	cfg = cfg.Merge(override)

	// Merge skips zero values, so an explicit -retries 0 is applied here.
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "retries" && t != nil {
			cfg.Retries = t.retries
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openBucket opens the ledger bucket. file:// URLs may be relative and are
// resolved against the working directory.
func openBucket(ctx context.Context, url string) (*blob.Bucket, error) {
	if dir, ok := strings.CutPrefix(url, "file://"); ok && !strings.HasPrefix(dir, "/") {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve ledger directory: %w", err)
		}
		return fileblob.OpenBucket(abs, &fileblob.Options{CreateDir: true})
	}
	return blob.OpenBucket(ctx, url)
}
