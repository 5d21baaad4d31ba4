package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigError_Error(t *testing.T) {
	err := ConfigError{Message: "test error"}
	assert.Equal(t, "test error", err.Error())
}

func TestConfig_SecretsNotSerialized(t *testing.T) {
	cfg := Config{
		API:      APIConfig{BaseURL: "https://chat.example.com/api", AuthToken: "token-value"},
		Database: DatabaseConfig{Path: "cache.db", EncryptionSecret: "secret-value", EnableEncryption: true},
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "token-value")
	assert.NotContains(t, string(data), "secret-value")
	assert.Contains(t, string(data), "https://chat.example.com/api")
}
