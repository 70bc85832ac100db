package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.NoError(t, ValidateConfig(cfg))
}

func TestConfigValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsNonPositiveRetryBudgets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.TableRetryAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Pipeline.WriteRetryAttempts = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateServerConfig(t *testing.T) {
	assert.NoError(t, ValidateServerConfig(&ServerConfig{Host: "0.0.0.0", Port: 5011}))
	assert.Error(t, ValidateServerConfig(&ServerConfig{Host: "", Port: 5011}))
	assert.Error(t, ValidateServerConfig(&ServerConfig{Host: "0.0.0.0", Port: -1}))
}
