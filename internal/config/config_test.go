package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetEnvPrefix("CASEFLOW")
	viper.SetDefault(KeyRoutingPolicy, DefaultRoutingPolicy)
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyAgentTimeoutMS, int(DefaultAgentTimeout/time.Millisecond))
	viper.SetDefault(KeyWorkingTTLMin, int(DefaultWorkingTTL/time.Minute))
	viper.SetDefault(KeyOllamaBaseURL, DefaultOllamaURL)
	viper.SetDefault(KeyRetrievalTopK, DefaultRetrievalTopK)
	viper.SetDefault(KeyRateLimitPerMin, DefaultRatePerMin)
	viper.Set(KeyDataDir, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultAgentTimeout, cfg.AgentTimeout)
	assert.Equal(t, DefaultWorkingTTL, cfg.WorkingTTL)
	assert.Equal(t, DefaultRetrievalTopK, cfg.RetrievalTopK)
	assert.True(t, cfg.UsingDefaultSecretsKey())
}

func TestLoad_DerivedKeyIsValidAndStable(t *testing.T) {
	dir := t.TempDir()
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetDefault(KeyAgentTimeoutMS, 1000)
	viper.SetDefault(KeyWorkingTTLMin, 1)
	viper.SetDefault(KeyRetrievalTopK, 5)
	viper.Set(KeyDataDir, dir)

	first, err := Load()
	require.NoError(t, err)
	second, err := Load()
	require.NoError(t, err)
	assert.Equal(t, first.SecretsKey, second.SecretsKey)
	assert.Len(t, first.SecretsKey, 64)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := &Config{
		AgentTimeout:  0,
		WorkingTTL:    time.Minute,
		RetrievalTopK: 5,
		SecretsKey:    "0123456789abcdef0123456789abcdef", // 32 raw bytes
	}
	assert.Error(t, cfg.validate())

	cfg.AgentTimeout = time.Second
	require.NoError(t, cfg.validate())

	cfg.SecretsKey = "too-short"
	assert.Error(t, cfg.validate())
}

func TestDBPaths(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/cf"}
	assert.Equal(t, "/tmp/cf/memory.db", cfg.MemoryDBPath())
	assert.Equal(t, "/tmp/cf/cases.db", cfg.CasesDBPath())
	assert.Equal(t, "/tmp/cf/executions.db", cfg.ExecutionsDBPath())
	assert.Equal(t, "/tmp/cf/secrets.db", cfg.SecretsDBPath())
}
