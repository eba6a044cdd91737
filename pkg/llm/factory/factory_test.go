package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/config"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
)

func TestNewTiersUsesConfiguredModels(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Fast = config.ModelCfg{Provider: config.ProviderOllama, Model: "llama3.1", Host: "http://127.0.0.1:11434", MaxTokens: 512, Temp: 0.2}
	cfg.LLM.Deep = config.ModelCfg{Provider: config.ProviderAnthropic, Model: "claude-sonnet-4-5", APIKey: "test", MaxTokens: 4096, Temp: 0.3}

	tiers, err := NewTiers(cfg.LLM, nil)
	require.NoError(t, err)
	assert.Equal(t, "llama3.1", tiers.Select(llm.TierFast).GetModelName())
	assert.Equal(t, "claude-sonnet-4-5", tiers.Select(llm.TierDeep).GetModelName())
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient(config.ModelCfg{Provider: "carrier-pigeon", Model: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}
