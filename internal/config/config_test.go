package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "ap-south-1", cfg.Region)
	assert.Equal(t, "msk-iam-oneclick", cfg.BaseName)
	assert.Equal(t, 30*time.Minute, cfg.OperationTTL)
	assert.Equal(t, 30*time.Minute, cfg.OperationTimeout)
	assert.Equal(t, 5*time.Second, cfg.EventPollInterval)
	assert.Equal(t, 2*time.Second, cfg.CommandPollInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Simulate)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oneclick.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"addr: \":9090\"\nregion: eu-west-1\nbase_name: staging\nsimulate: true\noperation_timeout: 10m\n",
	), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "staging", cfg.BaseName)
	assert.True(t, cfg.Simulate)
	assert.Equal(t, 10*time.Minute, cfg.OperationTimeout)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.EventPollInterval)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ONECLICK_REGION", "us-east-1")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}
