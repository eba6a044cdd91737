package llm

import "fmt"

// Tier is a reasoning tier. Deep is slower and more expensive.
type Tier string

const (
	TierFast Tier = "fast"
	TierDeep Tier = "deep"
)

// TierSelector resolves a tier to the client serving it.
type TierSelector interface {
	Select(tier Tier) LLMClient
}

// Tiers is a static TierSelector.
type Tiers struct {
	Fast LLMClient
	Deep LLMClient
}

// NewTiers returns a selector, falling back to whichever client is non-nil.
func NewTiers(fast, deep LLMClient) (*Tiers, error) {
	if fast == nil && deep == nil {
		return nil, fmt.Errorf("at least one tier client is required")
	}
	if fast == nil {
		fast = deep
	}
	if deep == nil {
		deep = fast
	}
	return &Tiers{Fast: fast, Deep: deep}, nil
}

// Select implements TierSelector.
func (t *Tiers) Select(tier Tier) LLMClient {
	if tier == TierDeep {
		return t.Deep
	}
	return t.Fast
}
