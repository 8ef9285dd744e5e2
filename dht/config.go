package dht

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// configOverrides mirrors Config but with every field optional, so a YAML
// document only needs to name the knobs it actually wants to change.
// Durations are plain strings parsed with time.ParseDuration, matching
// how operators write "30m", "1h" in the override file.
type configOverrides struct {
	Alpha                  *int    `yaml:"alpha"`
	K                      *int    `yaml:"k"`
	ResponseTimeout        *string `yaml:"response_timeout"`
	Refresh                *string `yaml:"refresh"`
	Replicate              *string `yaml:"replicate"`
	Republish              *string `yaml:"republish"`
	Expire                 *string `yaml:"expire"`
	MaxUnimprovedRefreshes *int    `yaml:"max_unimproved_refreshes"`
	ConvoyJitter           *string `yaml:"convoy_jitter"`
	PingFreshness          *string `yaml:"ping_freshness"`
}

// LoadConfig reads a YAML override document from path and applies it on
// top of DefaultConfig, returning the merged Config. A missing field in
// the document leaves the default untouched.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	var overrides configOverrides
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := applyOverrides(&cfg, overrides); err != nil {
		return cfg, fmt.Errorf("applying config %s: %w", path, err)
	}
	return cfg, nil
}

func applyOverrides(cfg *Config, o configOverrides) error {
	if o.Alpha != nil {
		cfg.Alpha = *o.Alpha
	}
	if o.K != nil {
		cfg.K = *o.K
	}
	if o.MaxUnimprovedRefreshes != nil {
		cfg.MaxUnimprovedRefreshes = *o.MaxUnimprovedRefreshes
	}

	durations := []struct {
		src *string
		dst *time.Duration
	}{
		{o.ResponseTimeout, &cfg.ResponseTimeout},
		{o.Refresh, &cfg.Refresh},
		{o.Replicate, &cfg.Replicate},
		{o.Republish, &cfg.Republish},
		{o.Expire, &cfg.Expire},
		{o.ConvoyJitter, &cfg.ConvoyJitter},
		{o.PingFreshness, &cfg.PingFreshness},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", *d.src, err)
		}
		*d.dst = parsed
	}
	return nil
}
