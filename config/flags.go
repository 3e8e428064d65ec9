package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// BindFlags registers a flag for every configuration key on fs. Flag
// defaults are the current values of cfg.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "TCP listen address for instrument connections")
	fs.StringVar(&cfg.Database, "database", cfg.Database, "SQLite database path")
	fs.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "number of pooled database connections")
	fs.StringVar(&cfg.Catalog, "catalog", cfg.Catalog, "YAML catalog file synced into the database at startup")
	fs.BoolVar(&cfg.WatchCatalog, "watch-catalog", cfg.WatchCatalog, "resync the catalog when the file changes")
	fs.StringVar(&cfg.JournalDir, "journal-dir", cfg.JournalDir, "directory of the outcome journal (disabled when empty)")
	fs.StringVar(&cfg.DumpDir, "dump-dir", cfg.DumpDir, "directory for raw connection dumps (disabled when empty)")
	fs.StringVar(&cfg.DumpCompression, "dump-compression", cfg.DumpCompression, "dump compression: none, zstd or lz4")

	fs.IntVar(&cfg.RetryLimit, "retry-limit", cfg.RetryLimit, "consecutive NAKs before a transmission is aborted")
	fs.DurationVar(&cfg.ReceiveTimeout, "receive-timeout", cfg.ReceiveTimeout, "maximum wait for the next frame")
	fs.DurationVar(&cfg.CharTimeout, "char-timeout", cfg.CharTimeout, "maximum wait between bytes of a frame")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown bound")
	fs.DurationVar(&cfg.StatsInterval, "stats-interval", cfg.StatsInterval, "interval of periodic metric logging (0 disables)")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "maximum concurrent connections (0 is unlimited)")

	fs.DurationVar(&cfg.Staleness, "staleness", cfg.Staleness, "results completed longer before the header are skipped")
	fs.StringVar(&cfg.SequencingPolicy, "sequencing-policy", cfg.SequencingPolicy, "hard-fail or warn-and-continue")
	fs.StringVar(&cfg.PrivateTag, "private-tag", cfg.PrivateTag, "sample id prefix tag marking private orders")
	fs.IntVar(&cfg.PatientIDWidth, "patient-id-width", cfg.PatientIDWidth, "zero-pad patient ids to this width (0 disables)")
	fs.StringVar(&cfg.Timezone, "timezone", cfg.Timezone, "time zone of instrument timestamps")
	fs.StringVar(&cfg.BillingAuthor, "billing-author", cfg.BillingAuthor, "author written on ledger entries")
	fs.StringVar(&cfg.SARSOverrideCode, "sars-override-code", cfg.SARSOverrideCode, "billing position for positive SARS results (empty disables)")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogBackend, "log-backend", cfg.LogBackend, "log backend: slog or zerolog")
}

// Resolve layers the file at path (if not empty) and the environment beneath
// the flags set on fs, then validates cfg.
func Resolve(fs *pflag.FlagSet, cfg *Config, path string) error {
	changed := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if path != "" {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return err
		}
		if err := ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	}

	if err := ApplyEnvConfig(cfg, changed); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return cfg.Validate()
}
