package app

import (
	"fmt"
	"time"
)

// Defaults applied when neither flags, environment nor config file set a value.
const (
	DefaultProbeTimeout      = 5 * time.Second
	DefaultDocumentTimeout   = 30 * time.Second
	DefaultRequestsPerSecond = 10
	DefaultDatabasePath      = "form13f.db"
	DefaultMaxDocumentBytes  = 256 << 20
)

// Config holds runtime configuration for the application.
type Config struct {
	// Archive access
	UserAgent         string
	ArchiveBaseURL    string
	RequestsPerSecond int
	// MaxDocumentBytes rejects archive responses larger than this.
	MaxDocumentBytes int64

	// Timeouts: short for validation probes, long for the holdings download.
	ProbeTimeout    time.Duration
	DocumentTimeout time.Duration

	// Locator filename lists; empty means the built-in lists.
	KnownFilenames    []string
	ExcludedFilenames []string

	// Persistence
	DatabasePath string

	// CacheDir enables the on-disk archive document cache when non-empty.
	CacheDir string
	// CacheMaxAge purges cached documents older than this at startup. Zero keeps all.
	CacheMaxAge time.Duration

	Verbose bool
}

// WithDefaults returns cfg with zero fields filled from the defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.DocumentTimeout <= 0 {
		cfg.DocumentTimeout = DefaultDocumentTimeout
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath
	}
	if cfg.MaxDocumentBytes == 0 {
		cfg.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	return cfg
}

// ResolveConfig layers configuration sources over the values taken from
// flags: flags win over environment, environment over the config file at
// configPath (optional), and the file over built-in defaults.
func ResolveConfig(flags Config, configPath string) (Config, error) {
	cfg := flags
	ApplyEnvToConfig(&cfg)
	if configPath != "" {
		fc, err := LoadConfigFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", configPath, err)
		}
		ApplyFileConfig(&cfg, fc)
	}
	cfg = cfg.WithDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
