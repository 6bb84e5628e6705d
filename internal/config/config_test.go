package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playfs/internal/htmlbind"
	"playfs/internal/logging"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, logging.LevelInfo, cfg.Level())
	assert.Equal(t, htmlbind.Auto, cfg.Strategy())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
cdn: https://cdn.example.com
release_delay: 5s
log_level: debug
html_binder: stream
mirror: ./site
types:
  enabled: true
  concurrency: 2
aliases:
  .es6: js
  cts: ts
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "https://cdn.example.com", cfg.CDN)
	assert.Equal(t, 5*time.Second, cfg.ReleaseDelay)
	assert.Equal(t, logging.LevelDebug, cfg.Level())
	assert.Equal(t, htmlbind.Stream, cfg.Strategy())
	assert.Equal(t, "./site", cfg.Mirror)
	assert.True(t, cfg.Types.Enabled)
	assert.Equal(t, 2, cfg.Types.Concurrency)
	assert.Equal(t, [][2]string{{"cts", "ts"}, {"es6", "js"}}, cfg.AliasList())
	// Unset keys keep their defaults
	assert.Empty(t, cfg.BlobPrefix)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "listn: :80\n"},
		{"bad level", "log_level: loud\n"},
		{"bad binder", "html_binder: regex\n"},
		{"negative delay", "release_delay: -1s\n"},
		{"negative concurrency", "types:\n  concurrency: -2\n"},
		{"empty alias", "aliases:\n  es6: \"\"\n"},
		{"syntax", "listen: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Parse([]byte(tt.yaml), Default()))
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Aliases = map[string]string{"es6": "js"}
	data, err := cfg.Marshal()
	require.NoError(t, err)

	got := &Config{}
	require.NoError(t, Parse(data, got))
	assert.Equal(t, cfg, got)
}
