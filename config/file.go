package config

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config with string durations for TOML. Pointer fields
// distinguish "absent" from the zero value.
type FileConfig struct {
	Listen          string `toml:"listen"`
	Database        string `toml:"database"`
	PoolSize        *int   `toml:"pool_size"`
	Catalog         string `toml:"catalog"`
	WatchCatalog    *bool  `toml:"watch_catalog"`
	JournalDir      string `toml:"journal_dir"`
	DumpDir         string `toml:"dump_dir"`
	DumpCompression string `toml:"dump_compression"`

	RetryLimit      *int   `toml:"retry_limit"`
	ReceiveTimeout  string `toml:"receive_timeout"`
	CharTimeout     string `toml:"char_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	StatsInterval   string `toml:"stats_interval"`
	MaxConnections  *int   `toml:"max_connections"`

	Staleness        string  `toml:"staleness"`
	SequencingPolicy string  `toml:"sequencing_policy"`
	PrivateTag       string  `toml:"private_tag"`
	PatientIDWidth   *int    `toml:"patient_id_width"`
	Timezone         string  `toml:"timezone"`
	BillingAuthor    string  `toml:"billing_author"`
	SARSOverrideCode *string `toml:"sars_override_code"`

	LogLevel   string `toml:"log_level"`
	LogBackend string `toml:"log_backend"`
}

// LoadFileConfig reads a TOML configuration file. Unknown keys are rejected.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig

	f, err := os.Open(path)
	if err != nil {
		return fc, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&fc); err != nil {
		return fc, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return fc, nil
}

// ApplyFileConfig applies file values to cfg, skipping flags in changed.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newSetter(changed)

	s.setString("listen", fc.Listen, &cfg.Listen)
	s.setString("database", fc.Database, &cfg.Database)
	s.setInt("pool-size", fc.PoolSize, &cfg.PoolSize)
	s.setString("catalog", fc.Catalog, &cfg.Catalog)
	s.setBool("watch-catalog", fc.WatchCatalog, &cfg.WatchCatalog)
	s.setString("journal-dir", fc.JournalDir, &cfg.JournalDir)
	s.setString("dump-dir", fc.DumpDir, &cfg.DumpDir)
	s.setString("dump-compression", fc.DumpCompression, &cfg.DumpCompression)

	s.setInt("retry-limit", fc.RetryLimit, &cfg.RetryLimit)
	s.setInt("max-connections", fc.MaxConnections, &cfg.MaxConnections)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"receive-timeout", fc.ReceiveTimeout, &cfg.ReceiveTimeout},
		{"char-timeout", fc.CharTimeout, &cfg.CharTimeout},
		{"shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"stats-interval", fc.StatsInterval, &cfg.StatsInterval},
		{"staleness", fc.Staleness, &cfg.Staleness},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
	}

	s.setString("sequencing-policy", fc.SequencingPolicy, &cfg.SequencingPolicy)
	s.setString("private-tag", fc.PrivateTag, &cfg.PrivateTag)
	s.setInt("patient-id-width", fc.PatientIDWidth, &cfg.PatientIDWidth)
	s.setString("timezone", fc.Timezone, &cfg.Timezone)
	s.setString("billing-author", fc.BillingAuthor, &cfg.BillingAuthor)
	s.setStringPtr("sars-override-code", fc.SARSOverrideCode, &cfg.SARSOverrideCode)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-backend", fc.LogBackend, &cfg.LogBackend)

	return nil
}
