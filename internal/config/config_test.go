package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "abilityserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadServer_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadServer(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServer(), cfg)
}

func TestLoadServer_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
tick_interval: 100ms
definitions_path: /etc/abilitycore/definitions.yaml
metrics_addr: ""
snapshot_interval: 1m
database:
  enabled: true
  host: db
  password: secret
`)
	cfg, err := LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 100*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, "/etc/abilitycore/definitions.yaml", cfg.DefinitionsPath)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, time.Minute, cfg.SnapshotInterval)
	assert.True(t, cfg.Database.Enabled)
	// Unset keys keep their defaults.
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres://abilitycore:secret@db:5432/abilitycore?sslmode=disable", cfg.Database.DSN())
}

func TestLoadServer_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not yaml", "tick_interval: [1"},
		{"zero tick", "tick_interval: 0s"},
		{"bad level", "log_level: loud"},
		{"no snapshot interval", "database: {enabled: true}\nsnapshot_interval: 0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServer(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
