// Package config holds the process configuration of the bridge. Values are
// resolved with the precedence flags > environment (ASTM_BRIDGE_*) > TOML
// file > defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-astm/astm"
	"github.com/arloliu/go-astm/dispatch"
	"github.com/arloliu/go-astm/dump"
	"github.com/arloliu/go-astm/logger"
)

// Log backends.
const (
	LogBackendSlog    = "slog"
	LogBackendZerolog = "zerolog"
)

// Config is the resolved process configuration.
type Config struct {
	Listen          string
	Database        string
	PoolSize        int
	Catalog         string
	WatchCatalog    bool
	JournalDir      string
	DumpDir         string
	DumpCompression string

	RetryLimit      int
	ReceiveTimeout  time.Duration
	CharTimeout     time.Duration
	ShutdownTimeout time.Duration
	StatsInterval   time.Duration
	MaxConnections  int

	Staleness        time.Duration
	SequencingPolicy string
	PrivateTag       string
	PatientIDWidth   int
	Timezone         string
	BillingAuthor    string
	SARSOverrideCode string

	LogLevel   string
	LogBackend string
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() Config {
	return Config{
		Listen:           ":3000",
		Database:         "astm-bridge.db",
		PoolSize:         4,
		DumpCompression:  "none",
		RetryLimit:       astm.DefaultRetryLimit,
		ReceiveTimeout:   astm.DefaultReceiveTimeout,
		CharTimeout:      astm.DefaultCharTimeout,
		ShutdownTimeout:  10 * time.Second,
		Staleness:        24 * time.Hour,
		SequencingPolicy: dispatch.HardFail.String(),
		PrivateTag:       dispatch.DefaultPrivateTag,
		Timezone:         "Local",
		BillingAuthor:    "XX",
		SARSOverrideCode: "COVT1",
		LogLevel:         "info",
		LogBackend:       LogBackendSlog,
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if strings.TrimSpace(c.Database) == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("pool size must be at least 1, got %d", c.PoolSize))
	}
	if c.WatchCatalog && c.Catalog == "" {
		errs = append(errs, errors.New("watch-catalog requires a catalog file"))
	}
	if _, err := dump.ParseCompression(c.DumpCompression); err != nil {
		errs = append(errs, err)
	}

	if c.RetryLimit < 1 || c.RetryLimit > astm.MaxRetryLimit {
		errs = append(errs, fmt.Errorf("retry limit must be in [1, %d], got %d", astm.MaxRetryLimit, c.RetryLimit))
	}
	if c.ReceiveTimeout < astm.MinReceiveTimeout || c.ReceiveTimeout > astm.MaxReceiveTimeout {
		errs = append(errs, fmt.Errorf("receive timeout must be in [%v, %v], got %v", astm.MinReceiveTimeout, astm.MaxReceiveTimeout, c.ReceiveTimeout))
	}
	if c.CharTimeout < astm.MinCharTimeout || c.CharTimeout > astm.MaxCharTimeout {
		errs = append(errs, fmt.Errorf("char timeout must be in [%v, %v], got %v", astm.MinCharTimeout, astm.MaxCharTimeout, c.CharTimeout))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.StatsInterval < 0 {
		errs = append(errs, errors.New("stats interval must not be negative"))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, errors.New("max connections must not be negative"))
	}

	if c.Staleness <= 0 {
		errs = append(errs, errors.New("staleness must be positive"))
	}
	if _, err := dispatch.ParseSequencingPolicy(c.SequencingPolicy); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.PrivateTag) == "" {
		errs = append(errs, errors.New("private tag must not be empty"))
	}
	if c.PatientIDWidth < 0 || c.PatientIDWidth > 32 {
		errs = append(errs, fmt.Errorf("patient id width must be in [0, 32], got %d", c.PatientIDWidth))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if strings.TrimSpace(c.BillingAuthor) == "" {
		errs = append(errs, errors.New("billing author must not be empty"))
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogBackend != LogBackendSlog && c.LogBackend != LogBackendZerolog {
		errs = append(errs, fmt.Errorf("log backend must be %q or %q, got %q", LogBackendSlog, LogBackendZerolog, c.LogBackend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}

	return nil
}

// Location returns the time zone record times are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
