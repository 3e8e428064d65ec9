package config

import (
	"fmt"
	"os"
	"time"
)

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "ASTM_BRIDGE_"

// ApplyEnvConfig applies ASTM_BRIDGE_* environment variables to cfg,
// skipping flags in changed.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newSetter(changed)

	s.setString("listen", env("LISTEN"), &cfg.Listen)
	s.setString("database", env("DATABASE"), &cfg.Database)
	s.setString("catalog", env("CATALOG"), &cfg.Catalog)
	s.setString("journal-dir", env("JOURNAL_DIR"), &cfg.JournalDir)
	s.setString("dump-dir", env("DUMP_DIR"), &cfg.DumpDir)
	s.setString("dump-compression", env("DUMP_COMPRESSION"), &cfg.DumpCompression)
	s.setString("sequencing-policy", env("SEQUENCING_POLICY"), &cfg.SequencingPolicy)
	s.setString("private-tag", env("PRIVATE_TAG"), &cfg.PrivateTag)
	s.setString("timezone", env("TIMEZONE"), &cfg.Timezone)
	s.setString("billing-author", env("BILLING_AUTHOR"), &cfg.BillingAuthor)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-backend", env("LOG_BACKEND"), &cfg.LogBackend)

	if v, ok := os.LookupEnv(EnvPrefix + "SARS_OVERRIDE_CODE"); ok {
		s.setStringPtr("sars-override-code", &v, &cfg.SARSOverrideCode)
	}

	ints := []struct {
		flag string
		key  string
		dst  *int
	}{
		{"pool-size", "POOL_SIZE", &cfg.PoolSize},
		{"retry-limit", "RETRY_LIMIT", &cfg.RetryLimit},
		{"max-connections", "MAX_CONNECTIONS", &cfg.MaxConnections},
		{"patient-id-width", "PATIENT_ID_WIDTH", &cfg.PatientIDWidth},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, env(i.key), i.dst); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, i.key, err)
		}
	}

	durations := []struct {
		flag string
		key  string
		dst  *time.Duration
	}{
		{"receive-timeout", "RECEIVE_TIMEOUT", &cfg.ReceiveTimeout},
		{"char-timeout", "CHAR_TIMEOUT", &cfg.CharTimeout},
		{"shutdown-timeout", "SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"stats-interval", "STATS_INTERVAL", &cfg.StatsInterval},
		{"staleness", "STALENESS", &cfg.Staleness},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, env(d.key), d.dst); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, d.key, err)
		}
	}

	if err := s.setBoolFromString("watch-catalog", env("WATCH_CATALOG"), &cfg.WatchCatalog); err != nil {
		return fmt.Errorf("env %sWATCH_CATALOG: %w", EnvPrefix, err)
	}

	return nil
}

func env(key string) string {
	return os.Getenv(EnvPrefix + key)
}
