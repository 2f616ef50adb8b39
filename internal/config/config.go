// Package config loads client configuration from a YAML file with
// environment-variable overrides. A .env file in the working directory is
// honored for local development.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the client configuration.
type Config struct {
	// APIURL is the base URL of the OpsDeck backend.
	APIURL string `yaml:"api_url"`

	// TokenFile is where the durable token record lives.
	TokenFile string `yaml:"token_file"`

	// RequestTimeout bounds every outbound HTTP call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RefreshCooldown is the wait enforced after a failed refresh.
	RefreshCooldown time.Duration `yaml:"refresh_cooldown"`

	// OrgCacheTTL is how long the current-org record stays fresh.
	OrgCacheTTL time.Duration `yaml:"org_cache_ttl"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is json or text.
	LogFormat string `yaml:"log_format"`
}

// UnmarshalYAML fills in only the fields present in the document, leaving
// the rest untouched so defaults survive a partial config file. Durations
// accept Go duration strings and bare second counts.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		APIURL          string `yaml:"api_url"`
		TokenFile       string `yaml:"token_file"`
		RequestTimeout  string `yaml:"request_timeout"`
		RefreshCooldown string `yaml:"refresh_cooldown"`
		OrgCacheTTL     string `yaml:"org_cache_ttl"`
		LogLevel        string `yaml:"log_level"`
		LogFormat       string `yaml:"log_format"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.APIURL != "" {
		c.APIURL = raw.APIURL
	}
	if raw.TokenFile != "" {
		c.TokenFile = raw.TokenFile
	}
	if raw.LogLevel != "" {
		c.LogLevel = raw.LogLevel
	}
	if raw.LogFormat != "" {
		c.LogFormat = raw.LogFormat
	}

	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{raw.RequestTimeout, &c.RequestTimeout},
		{raw.RefreshCooldown, &c.RefreshCooldown},
		{raw.OrgCacheTTL, &c.OrgCacheTTL},
	} {
		if f.raw == "" {
			continue
		}
		d, err := parseDuration(f.raw)
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		APIURL:          "http://localhost:8000",
		TokenFile:       filepath.Join(home, ".opsdeck", "auth.json"),
		RequestTimeout:  30 * time.Second,
		RefreshCooldown: 30 * time.Second,
		OrgCacheTTL:     15 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".opsdeck", "config.yaml")
}

// Load reads the configuration file at path, if it exists, layered over the
// defaults, then applies environment overrides. A missing file is not an
// error; a malformed one is.
func Load(path string) (Config, error) {
	// Best-effort .env for local development.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overrides cfg fields from OPSDECK_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OPSDECK_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("OPSDECK_TOKEN_FILE"); v != "" {
		cfg.TokenFile = v
	}
	if v := os.Getenv("OPSDECK_REQUEST_TIMEOUT"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.RequestTimeout = d
		}
	}
	if v := os.Getenv("OPSDECK_REFRESH_COOLDOWN"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.RefreshCooldown = d
		}
	}
	if v := os.Getenv("OPSDECK_ORG_CACHE_TTL"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.OrgCacheTTL = d
		}
	}
	if v := os.Getenv("OPSDECK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OPSDECK_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}

// parseDuration accepts both Go duration strings and bare second counts.
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}
