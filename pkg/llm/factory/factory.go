// Package factory builds tiered LLM clients from configuration.
package factory

import (
	"fmt"
	"time"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/config"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm/anthropic"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm/google"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm/ollama"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm/openai"
)

// NewClient returns the raw provider client for one model config.
func NewClient(m config.ModelCfg) (llm.LLMClient, error) {
	switch m.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewClient(m.APIKey, m.Model), nil
	case config.ProviderOpenAI:
		return openai.NewClient(m.APIKey, m.Model), nil
	case config.ProviderGoogle:
		return google.NewClient(m.APIKey, m.Model), nil
	case config.ProviderOllama:
		return ollama.NewClient(m.Host, m.Model), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", m.Provider)
	}
}

// NewTiers builds the fast and deep tier clients, each wrapped with retry and
// the call observer.
func NewTiers(cfg config.LLMConfig, obs llm.CallObserver) (*llm.Tiers, error) {
	policy := llm.DefaultRetryPolicy
	policy.MaxAttempts = cfg.MaxRetries

	build := func(name string, m config.ModelCfg) (llm.LLMClient, error) {
		raw, err := NewClient(m)
		if err != nil {
			return nil, fmt.Errorf("%s tier: %w", name, err)
		}
		return &tuned{next: llm.WithObserver(llm.WithRetry(raw, policy), obs), model: m, timeout: cfg.Timeout}, nil
	}

	fast, err := build("fast", cfg.Fast)
	if err != nil {
		return nil, err
	}
	deep, err := build("deep", cfg.Deep)
	if err != nil {
		return nil, err
	}
	return llm.NewTiers(fast, deep)
}

// tuned applies per-tier token, temperature and timeout settings.
type tuned struct {
	next    llm.LLMClient
	model   config.ModelCfg
	timeout time.Duration
}
