// Package config defines process configuration and loading hooks.
//
// Conventions:
//   - New() builds a Config with defaults; Load layers file and env on top.
//   - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"strings"
)

// Sheet kinds accepted by SheetType.
const (
	SheetCSV      = "csv"
	SheetWorkbook = "workbook"
	SheetSQLite   = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFile is appended to in addition to stdout. Empty disables it.
	LogFile string `koanf:"log_file"`

	// Addr is the local HTTP API listen address. Empty disables the API.
	Addr string `koanf:"addr"`

	// QueueSize bounds the number of profiles in flight.
	QueueSize int `koanf:"queue_size"`

	// HourlyLimit caps external calls per trailing hour; <= 0 disables the cap.
	HourlyLimit int `koanf:"hourly_limit"`

	// IgnoreDuplicates stores profiles even when already seen.
	IgnoreDuplicates bool `koanf:"ignore_duplicates"`

	// Debug swaps the API client for a sample fetcher and lifts the quota.
	Debug bool `koanf:"debug"`

	// SheetPath is the output file. Empty picks the default for SheetType.
	SheetPath string `koanf:"sheet_path"`

	// SheetType is csv, workbook or sqlite. Empty infers it from SheetPath.
	SheetType string `koanf:"sheet_type"`

	// LedgerPath is the JSON document holding call history.
	LedgerPath string `koanf:"ledger_path"`

	// InboxDir is watched for *.txt files of profile URLs. Empty disables it.
	InboxDir string `koanf:"inbox_dir"`

	// Console reads profile URLs from stdin.
	Console bool `koanf:"console"`

	// APIBaseURL is the profile gateway base URL.
	APIBaseURL string `koanf:"api_base_url"`

	// APIToken authenticates against the profile gateway.
	APIToken string `koanf:"api_token"`

	// APITimeoutMS bounds a single gateway HTTP request.
	APITimeoutMS int `koanf:"api_timeout_ms"`

	// APIMaxRetries and APIBackoffMS control retry of failed gateway calls.
	APIMaxRetries int `koanf:"api_max_retries"`
	APIBackoffMS  int `koanf:"api_backoff_ms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:      "info",
		LogFile:       "liscrape-log.log",
		Addr:          "127.0.0.1:9081",
		QueueSize:     10,
		HourlyLimit:   90,
		LedgerPath:    "config.json",
		Console:       true,
		APIBaseURL:    "http://127.0.0.1:8700",
		APITimeoutMS:  15_000,
		APIMaxRetries: 2,
		APIBackoffMS:  500,
	}
}

// Validate checks field ranges and fills in derived defaults.
func (c *Config) Validate() error {
	c.SheetType = strings.ToLower(strings.TrimSpace(c.SheetType))
	switch c.SheetType {
	case "", SheetCSV, SheetWorkbook, SheetSQLite:
	case "excel", "xlsx":
		c.SheetType = SheetWorkbook
	default:
		return fmt.Errorf("%w: unknown sheet_type %q", ErrInvalidConfig, c.SheetType)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("%w: ledger_path must not be empty", ErrInvalidConfig)
	}
	if c.APIMaxRetries < 0 || c.APIBackoffMS < 0 || c.APITimeoutMS < 0 {
		return fmt.Errorf("%w: api retry and timeout settings must not be negative", ErrInvalidConfig)
	}
	if !c.Debug && strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("%w: api_base_url must not be empty", ErrInvalidConfig)
	}
	return nil
}
