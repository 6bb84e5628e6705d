// Package config loads the playfs configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"playfs/internal/exec"
	"playfs/internal/htmlbind"
	"playfs/internal/logging"
	"playfs/internal/typeacq"
)

var (
	configLogger = logging.GetLogger().WithPrefix("config")
)

// DefaultListen is the address the dev server binds when none is set.
const DefaultListen = "127.0.0.1:8080"

// Types configures background type acquisition.
type Types struct {
	// Enabled turns on declaration downloads for TypeScript imports.
	Enabled bool `yaml:"enabled"`
	// Concurrency bounds parallel declaration fetches.
	Concurrency int `yaml:"concurrency,omitempty"`
}

// Config is the content of a playfs configuration file. Every field is
// optional.
type Config struct {
	Listen string `yaml:"listen,omitempty"`
	// Origin restricts websocket clients to one origin. Empty accepts the
	// server's own origin only.
	Origin       string        `yaml:"origin,omitempty"`
	BlobPrefix   string        `yaml:"blob_prefix,omitempty"`
	CDN          string        `yaml:"cdn,omitempty"`
	ReleaseDelay time.Duration `yaml:"release_delay,omitempty"`
	LogLevel     string        `yaml:"log_level,omitempty"`
	HTMLBinder   string        `yaml:"html_binder,omitempty"`
	// Snapshot is the state file the playground is restored from and
	// saved to.
	Snapshot string `yaml:"snapshot,omitempty"`
	// Mirror is a host directory copied into the store and followed.
	Mirror string `yaml:"mirror,omitempty"`
	// Mount is where the FUSE view is mounted.
	Mount string `yaml:"mount,omitempty"`
	Types Types  `yaml:"types,omitempty"`
	// Aliases maps an extension onto a registered one, e.g. "es6: js".
	Aliases map[string]string `yaml:"aliases,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:       DefaultListen,
		CDN:          typeacq.DefaultCDN,
		ReleaseDelay: exec.DefaultReleaseDelay,
		LogLevel:     "info",
		HTMLBinder:   htmlbind.Auto.String(),
		Types: Types{
			Concurrency: typeacq.DefaultMaxConcurrency,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	configLogger.Debug("Loading configuration from: %s", path)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		configLogger.Info("No configuration file at %s, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML data into cfg and validates the result. Unknown keys
// are rejected.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField()); err != nil {
		return errors.New(yaml.FormatError(err, false, true))
	}
	return cfg.Validate()
}

// Validate checks every field that is parsed later.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := htmlbind.ParseStrategy(c.HTMLBinder); err != nil {
		return err
	}
	if c.ReleaseDelay < 0 {
		return fmt.Errorf("release_delay must not be negative, got %s", c.ReleaseDelay)
	}
	if c.Types.Concurrency < 0 {
		return fmt.Errorf("types.concurrency must not be negative, got %d", c.Types.Concurrency)
	}
	for ext, target := range c.Aliases {
		if strings.TrimPrefix(ext, ".") == "" || strings.TrimPrefix(target, ".") == "" {
			return fmt.Errorf("invalid alias %q: %q", ext, target)
		}
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() logging.LogLevel {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// Strategy returns the parsed HTML binder strategy.
func (c *Config) Strategy() htmlbind.Strategy {
	s, err := htmlbind.ParseStrategy(c.HTMLBinder)
	if err != nil {
		return htmlbind.Auto
	}
	return s
}

// AliasList returns the aliases as sorted (ext, target) pairs without
// leading dots.
func (c *Config) AliasList() [][2]string {
	out := make([][2]string, 0, len(c.Aliases))
	for ext, target := range c.Aliases {
		out = append(out, [2]string{strings.TrimPrefix(ext, "."), strings.TrimPrefix(target, ".")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
