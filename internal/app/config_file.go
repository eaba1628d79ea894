package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/hyperifyio/form13f/internal/edgar"
)

// FileConfig represents the single-file configuration schema.
type FileConfig struct {
	Archive struct {
		BaseURL           string `yaml:"baseURL" json:"baseURL"`
		UserAgent         string `yaml:"userAgent" json:"userAgent"`
		RequestsPerSecond int    `yaml:"requestsPerSecond" json:"requestsPerSecond"`
		MaxDocumentBytes  int64  `yaml:"maxDocumentBytes" json:"maxDocumentBytes"`
	} `yaml:"archive" json:"archive"`

	Timeouts struct {
		Probe    Duration `yaml:"probe" json:"probe"`
		Document Duration `yaml:"document" json:"document"`
	} `yaml:"timeouts" json:"timeouts"`

	Locator struct {
		KnownFilenames    []string `yaml:"knownFilenames" json:"knownFilenames"`
		ExcludedFilenames []string `yaml:"excludedFilenames" json:"excludedFilenames"`
	} `yaml:"locator" json:"locator"`

	Database struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"database" json:"database"`

	Cache struct {
		Dir    string   `yaml:"dir" json:"dir"`
		MaxAge Duration `yaml:"maxAge" json:"maxAge"`
	} `yaml:"cache" json:"cache"`

	Verbose bool `yaml:"verbose" json:"verbose"`
}

// Duration reads "30s" style strings from YAML and JSON.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.set(n.Value)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	return d.set(s)
}

func (d *Duration) set(s string) error {
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays values from FileConfig into cfg for any fields that
// are still unset. Flags have already been parsed by then, so explicit flags
// win.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	if cfg.ArchiveBaseURL == "" {
		cfg.ArchiveBaseURL = fc.Archive.BaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = fc.Archive.UserAgent
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = fc.Archive.RequestsPerSecond
	}
	if cfg.MaxDocumentBytes == 0 {
		cfg.MaxDocumentBytes = fc.Archive.MaxDocumentBytes
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = time.Duration(fc.Timeouts.Probe)
	}
	if cfg.DocumentTimeout == 0 {
		cfg.DocumentTimeout = time.Duration(fc.Timeouts.Document)
	}
	if len(cfg.KnownFilenames) == 0 && len(fc.Locator.KnownFilenames) > 0 {
		cfg.KnownFilenames = append([]string{}, fc.Locator.KnownFilenames...)
	}
	if len(cfg.ExcludedFilenames) == 0 && len(fc.Locator.ExcludedFilenames) > 0 {
		cfg.ExcludedFilenames = append([]string{}, fc.Locator.ExcludedFilenames...)
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = fc.Database.Path
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = fc.Cache.Dir
	}
	if cfg.CacheMaxAge == 0 {
		cfg.CacheMaxAge = time.Duration(fc.Cache.MaxAge)
	}
	if !cfg.Verbose && fc.Verbose {
		cfg.Verbose = true
	}
}

// ValidateConfig checks the settings processing cannot run without.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return errors.New("config: user agent is required (or set USER_AGENT); the archive rejects anonymous clients")
	}
	if cfg.RequestsPerSecond < 0 || cfg.RequestsPerSecond > edgar.MaxRequestsPerSecond {
		return fmt.Errorf("config: requests per second must be between 1 and %d", edgar.MaxRequestsPerSecond)
	}
	if cfg.MaxDocumentBytes < 0 {
		return errors.New("config: max document bytes must not be negative")
	}
	if cfg.ProbeTimeout < 0 || cfg.DocumentTimeout < 0 || cfg.CacheMaxAge < 0 {
		return errors.New("config: negative timeouts are not allowed")
	}
	if cfg.ArchiveBaseURL != "" {
		u, err := url.Parse(cfg.ArchiveBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: archive base URL %q is not an http(s) URL", cfg.ArchiveBaseURL)
		}
	}
	return nil
}
