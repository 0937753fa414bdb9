package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	err := Default().Validate()
	assert.NoError(t, err)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mgmtd.yaml")
	contents := `
listen_port: 9008
database_path: /data/mgmtd.sqlite
quota:
  enabled: true
  update_interval: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.EqualValues(t, 9008, cfg.ListenPort)
	assert.Equal(t, "/data/mgmtd.sqlite", cfg.DatabasePath)
	assert.True(t, cfg.Quota.Enabled)
	assert.Equal(t, time.Minute, cfg.Quota.UpdateInterval)
	// untouched fields still carry their defaults
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestValidate_RejectsMissingListenPort(t *testing.T) {
	cfg := Default()
	cfg.ListenPort = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsAuthEnabledWithoutSecretFile(t *testing.T) {
	cfg := Default()
	cfg.Auth.Enabled = true
	cfg.Auth.SecretFile = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmergencyAboveLow(t *testing.T) {
	cfg := Default()
	cfg.MetaCapacityLimits.EmergencySpace = cfg.MetaCapacityLimits.LowSpace + 1
	assert.Error(t, cfg.Validate())
}
