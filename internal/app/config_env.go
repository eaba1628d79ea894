package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvToConfig populates unset fields of cfg from environment variables.
// Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = os.Getenv("USER_AGENT")
	}
	if cfg.ArchiveBaseURL == "" {
		cfg.ArchiveBaseURL = os.Getenv("EDGAR_ARCHIVE_URL")
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = os.Getenv("DATABASE_PATH")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = os.Getenv("CACHE_DIR")
	}
	if cfg.RequestsPerSecond == 0 {
		if n, ok := envInt("EDGAR_RPS"); ok {
			cfg.RequestsPerSecond = n
		}
	}
	if cfg.MaxDocumentBytes == 0 {
		if n, ok := envInt("MAX_DOCUMENT_BYTES"); ok {
			cfg.MaxDocumentBytes = int64(n)
		}
	}
	if cfg.ProbeTimeout == 0 {
		if d, ok := envDuration("PROBE_TIMEOUT"); ok {
			cfg.ProbeTimeout = d
		}
	}
	if cfg.DocumentTimeout == 0 {
		if d, ok := envDuration("DOCUMENT_TIMEOUT"); ok {
			cfg.DocumentTimeout = d
		}
	}
	if !cfg.Verbose {
		if v, ok := envBool("VERBOSE"); ok && v {
			cfg.Verbose = true
		}
	}
}

func envInt(key string) (int, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// envDuration accepts Go durations ("5s") or a bare number of seconds.
func envDuration(key string) (time.Duration, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
