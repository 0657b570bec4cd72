package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	assert.Equal(t, ":7654", cfg.EndpointAddr)
	assert.Equal(t, ":7655", cfg.EndpointAddrHealth)
	assert.Empty(t, cfg.DatabaseDSN)
	assert.Equal(t, 30*time.Second, cfg.AuthTimeout)
	assert.False(t, cfg.SnapshotOnShutdown)
}

func TestParseFlags(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"blinddb", "-a", ":9999", "-t", "5", "-n", "-d", "postgres://x"}

	cfg := &Config{}
	cfg.LoadDefaults()
	parseFlags(cfg)

	assert.Equal(t, ":9999", cfg.EndpointAddr)
	assert.Equal(t, 5*time.Second, cfg.AuthTimeout)
	assert.True(t, cfg.SnapshotOnShutdown)
	assert.Equal(t, "postgres://x", cfg.DatabaseDSN)
}

func TestParseJson(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.json")

	payload := map[string]any{
		"endpoint_addr":        ":1234",
		"endpoint_addr_health": ":1235",
		"database_dsn":         "postgres://json",
		"auth_timeout":         "45s",
		"snapshot_on_shutdown": true,
		"s3_bucket":            "dumps",
	}
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))

	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"blinddb", "-c", path}

	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)

	assert.Equal(t, ":1234", cfg.EndpointAddr)
	assert.Equal(t, ":1235", cfg.EndpointAddrHealth)
	assert.Equal(t, "postgres://json", cfg.DatabaseDSN)
	assert.Equal(t, 45*time.Second, cfg.AuthTimeout)
	assert.True(t, cfg.SnapshotOnShutdown)
	assert.Equal(t, "dumps", cfg.S3Bucket)
}
