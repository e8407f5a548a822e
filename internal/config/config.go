// Package config handles TOML-based configuration loading and validation.
// The file is parsed as data only; rule patterns are compiled and checked
// before the engine ever sees them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"hlshunter/internal/httputil"
	"hlshunter/internal/sniff"
)

// Duration is a time.Duration that reads TOML strings like "1s" or "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Suppress lists the page elements dismissed while an unlock attempt is live,
// or on every suppress tick when Always is set.
type Suppress struct {
	Click      []string `toml:"click"`       // close buttons to click
	Remove     []string `toml:"remove"`      // overlays to remove
	Container  string   `toml:"container"`   // player container whose children are checked
	Paywall    []string `toml:"paywall"`     // a container child holding one of these is hidden
	SkipLabels []string `toml:"skip_labels"` // visible elements with exactly this text are clicked
	BlockPause bool     `toml:"block_pause"` // stop the page from pausing its video
	Always     bool     `toml:"always"`      // suppress without a trial trigger
}

// Config holds all application configuration.
type Config struct {
	PollInterval     Duration         `toml:"poll_interval"`
	SuppressInterval Duration         `toml:"suppress_interval"`
	TrialThreshold   float64          `toml:"trial_threshold"` // seconds
	ManifestMarker   string           `toml:"manifest_marker"`
	ExcludeKeywords  []string         `toml:"exclude_keywords"`
	Rules            []sniff.RuleSpec `toml:"rules"`
	TrialMarkers     []string         `toml:"trial_markers"`
	DevTools         string           `toml:"devtools"`
	Target           string           `toml:"target"`
	HLSCDN           string           `toml:"hls_cdn"`
	Player           string           `toml:"player"`
	Remux            bool             `toml:"remux"` // pipe manual selections through ffmpeg
	Suppress         Suppress         `toml:"suppress"`
	LogLevel         string           `toml:"log_level"`
	LogJSON          bool             `toml:"log_json"`
	Debug            bool             `toml:"debug"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		PollInterval:     Duration{time.Second},
		SuppressInterval: Duration{time.Second},
		TrialThreshold:   60,
		ManifestMarker:   sniff.DefaultManifestMarker,
		ExcludeKeywords:  append([]string(nil), sniff.DefaultExcludeKeywords...),
		Rules:            append([]sniff.RuleSpec(nil), sniff.DefaultRules...),
		TrialMarkers:     []string{"试看结束"},
		DevTools:         "http://127.0.0.1:9222",
		HLSCDN:           "https://cdn.jsdelivr.net/npm/hls.js@latest",
		Player:           "mpv",
		Suppress: Suppress{
			Click:      []string{".timer_close"},
			Remove:     []string{".van-overlay", ".van-popup"},
			Container:  ".video-palyer",
			Paywall:    []string{".buy-payType-list"},
			SkipLabels: []string{"跳过预览"},
			BlockPause: true,
		},
		LogLevel: "info",
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hlshunter"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "hlshunter"), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the default config file and merges it over the defaults.
// If the file doesn't exist, defaults are returned.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path and merges it over the defaults.
// A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// A [[rules]] table in the file replaces the default list rather than appending.
	cfg.Rules = nil
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Rules == nil {
		cfg.Rules = append([]sniff.RuleSpec(nil), sniff.DefaultRules...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	if c.PollInterval.Duration < 50*time.Millisecond {
		return fmt.Errorf("poll_interval %s too short (minimum 50ms)", c.PollInterval)
	}
	if c.SuppressInterval.Duration < 50*time.Millisecond {
		return fmt.Errorf("suppress_interval %s too short (minimum 50ms)", c.SuppressInterval)
	}
	if c.TrialThreshold <= 0 {
		return fmt.Errorf("trial_threshold must be positive, got %v", c.TrialThreshold)
	}
	if strings.TrimSpace(c.ManifestMarker) == "" {
		return fmt.Errorf("manifest_marker cannot be empty")
	}
	if _, err := sniff.CompileRules(c.Rules); err != nil {
		return fmt.Errorf("rules: %w", err)
	}

	validPlayers := map[string]bool{
		"mpv": true, "vlc": true, "iina": true, "celluloid": true,
	}
	if !validPlayers[strings.ToLower(c.Player)] {
		return fmt.Errorf("unsupported player %q (valid: mpv, vlc, iina, celluloid)", c.Player)
	}

	if err := httputil.ValidateEndpoint(c.DevTools); err != nil {
		return fmt.Errorf("devtools: %w", err)
	}
	if err := httputil.ValidateURL(c.HLSCDN); err != nil {
		return fmt.Errorf("hls_cdn: %w", err)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// Threshold returns the trial threshold as a duration.
func (c *Config) Threshold() time.Duration {
	return time.Duration(c.TrialThreshold * float64(time.Second))
}

// Sniffer builds the sniff pipeline described by the config.
func (c *Config) Sniffer() (*sniff.Sniffer, error) {
	rules, err := sniff.CompileRules(c.Rules)
	if err != nil {
		return nil, err
	}
	return &sniff.Sniffer{
		Marker: c.ManifestMarker,
		Filter: sniff.NewFilter(c.ExcludeKeywords),
		Rules:  rules,
	}, nil
}
