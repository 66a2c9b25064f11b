package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "FETCHPUSH_"

// Config defines configuration for the fetchpush CLI.
type Config struct {
	LedgerURL          string        `yaml:"ledger_url"`
	LedgerKey          string        `yaml:"ledger_key"`
	Limit              int           `yaml:"limit"`
	Timeout            time.Duration `yaml:"timeout"`
	Retries            int           `yaml:"retries"`
	Cooldown           time.Duration `yaml:"cooldown"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	Checksum           bool          `yaml:"checksum"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Progress           bool          `yaml:"progress"`
	UserAgent          string        `yaml:"user_agent"`
}

// Default returns a Config with the stock run parameters.
func Default() Config {
	return Config{
		LedgerURL: "file://.",
		LedgerKey: "async.log.json",
		Limit:     200,
		Timeout:   10 * time.Second,
		Retries:   3,
		Cooldown:  10 * time.Second,
		UserAgent: "fetchpush",
	}
}

// yamlConfig is used for YAML unmarshaling with string durations and an
// explicit retries count.
type yamlConfig struct {
	LedgerURL          string `yaml:"ledger_url"`
	LedgerKey          string `yaml:"ledger_key"`
	Limit              int    `yaml:"limit"`
	Timeout            string `yaml:"timeout"`
	Retries            *int   `yaml:"retries"`
	Cooldown           string `yaml:"cooldown"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	Checksum           bool   `yaml:"checksum"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	Progress           bool   `yaml:"progress"`
	UserAgent          string `yaml:"user_agent"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.LedgerURL != "" {
		cfg.LedgerURL = yc.LedgerURL
	}
	if yc.LedgerKey != "" {
		cfg.LedgerKey = yc.LedgerKey
	}
	if yc.Limit != 0 {
		cfg.Limit = yc.Limit
	}
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if yc.Retries != nil {
		cfg.Retries = *yc.Retries
	}
	if yc.Cooldown != "" {
		d, err := time.ParseDuration(yc.Cooldown)
		if err != nil {
			return Config{}, fmt.Errorf("parse cooldown: %w", err)
		}
		cfg.Cooldown = d
	}
	cfg.Username = yc.Username
	cfg.Password = yc.Password
	cfg.Checksum = yc.Checksum
	cfg.InsecureSkipVerify = yc.InsecureSkipVerify
	cfg.Progress = yc.Progress
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding variables that are already set. A missing default .env
// is not an error; an explicitly named file must exist.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FETCHPUSH_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvPrefix + "LEDGER_URL"); v != "" {
		c.LedgerURL = v
	}
	if v := os.Getenv(EnvPrefix + "LEDGER_KEY"); v != "" {
		c.LedgerKey = v
	}
	if v := os.Getenv(EnvPrefix + "LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sLIMIT: %w", EnvPrefix, err)
		}
		c.Limit = n
	}
	if v := os.Getenv(EnvPrefix + "TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sTIMEOUT: %w", EnvPrefix, err)
		}
		c.Timeout = d
	}
	if v := os.Getenv(EnvPrefix + "RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sRETRIES: %w", EnvPrefix, err)
		}
		c.Retries = n
	}
	if v := os.Getenv(EnvPrefix + "COOLDOWN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sCOOLDOWN: %w", EnvPrefix, err)
		}
		c.Cooldown = d
	}
	if v := os.Getenv(EnvPrefix + "USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv(EnvPrefix + "PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv(EnvPrefix + "CHECKSUM"); v != "" {
		c.Checksum = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvPrefix + "INSECURE_SKIP_VERIFY"); v != "" {
		c.InsecureSkipVerify = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvPrefix + "PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvPrefix + "USER_AGENT"); v != "" {
		c.UserAgent = v
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LedgerURL == "" {
		return errors.New("config: ledger_url is required")
	}
	if c.LedgerKey == "" {
		return errors.New("config: ledger_key is required")
	}
	if c.Limit < 1 {
		return errors.New("config: limit must be at least 1")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	if c.Retries < 0 {
		return errors.New("config: retries must not be negative")
	}
	if c.Cooldown < 0 {
		return errors.New("config: cooldown must not be negative")
	}
	if c.Password != "" && c.Username == "" {
		return errors.New("config: password given without username")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored, so a zero Retries cannot be merged;
// callers set it directly.
func (c Config) Merge(override Config) Config {
	if override.LedgerURL != "" {
		c.LedgerURL = override.LedgerURL
	}
	if override.LedgerKey != "" {
		c.LedgerKey = override.LedgerKey
	}
	if override.Limit != 0 {
		c.Limit = override.Limit
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.Retries != 0 {
		c.Retries = override.Retries
	}
	if override.Cooldown != 0 {
		c.Cooldown = override.Cooldown
	}
	if override.Username != "" {
		c.Username = override.Username
	}
	if override.Password != "" {
		c.Password = override.Password
	}
	if override.Checksum {
		c.Checksum = true
	}
	if override.InsecureSkipVerify {
		c.InsecureSkipVerify = true
	}
	if override.Progress {
		c.Progress = true
	}
	if override.UserAgent != "" {
		c.UserAgent = override.UserAgent
	}
	return c
}
