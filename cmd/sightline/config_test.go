package main

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
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, defaultEngineURL, cfg.EngineURL)
	assert.Equal(t, "127.0.0.1:3000", cfg.APIAddr)
	assert.Equal(t, defaultLiveInterval, cfg.LiveInterval)
	assert.Equal(t, "m", cfg.DefaultSpanUnit)
	assert.Equal(t, filepath.Join(home, ".local", "share", "sightline", "history.duckdb"), cfg.DBPath)
	assert.Equal(t, 10, cfg.Anomaly.NumberOfTrees)
	assert.Equal(t, 0.005, cfg.Anomaly.AnomalyRate)
	assert.Empty(t, cfg.ConfigPath)
}

func TestLoadConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := writeConfig(t, `
engine-url: https://search.internal:9200
api-port: 8080
live-interval: 15s
db-path: ~/data/history.duckdb
datasources:
  - s3logs
  - archive
anomaly:
  shingle-size: 4
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://search.internal:9200", cfg.EngineURL)
	assert.Equal(t, "127.0.0.1:8080", cfg.APIAddr)
	assert.Equal(t, 15*time.Second, cfg.LiveInterval)
	assert.Equal(t, filepath.Join(home, "data", "history.duckdb"), cfg.DBPath)
	assert.Equal(t, []string{"s3logs", "archive"}, cfg.Datasources)
	assert.Equal(t, 4, cfg.Anomaly.ShingleSize)
	assert.Equal(t, 256, cfg.Anomaly.SampleSize)
	assert.Equal(t, path, cfg.ConfigPath)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SIGHTLINE_SESSION_TOKEN", "tok")
	t.Setenv("SIGHTLINE_DEFAULT_SPAN_UNIT", "h")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.SessionToken)
	assert.Equal(t, "h", cfg.DefaultSpanUnit)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"port out of range", "api-port: 70000\n"},
		{"engine url scheme", "engine-url: ftp://example\n"},
		{"span unit", "default-span-unit: fortnight\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			_, err := loadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
