// Package google provides the Gemini implementation of llm.LLMClient.
package google

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
)

// Client wraps the GenAI client. The underlying client is created on first use
// because construction needs a context.
type Client struct {
	apiKey string
	model  string

	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewClient creates a Gemini client for model.
func NewClient(apiKey, model string) llm.LLMClient {
	return &Client{apiKey: apiKey, model: model}
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (g *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := in.Validate(); err != nil {
		return llm.CompletionResponse{}, llm.NewErrorWithCause(llm.ErrorTypeBadPrompt, err, "request validation failed")
	}

	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if g.initErr != nil {
		return llm.CompletionResponse{}, llm.NewErrorWithCause(llm.ErrorTypeAuth, g.initErr, "failed to create Gemini client")
	}

	system, rest := llm.SplitSystem(in)
	contents := make([]*genai.Content, 0, len(rest))
	for i := range rest {
		role := "user"
		if rest[i].Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: rest[i].Content}},
		})
	}

	//nolint:gosec // MaxTokens is bounded by config validation
	maxTokens := int32(in.MaxTokens)
	temperature := in.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: maxTokens,
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if in.ResponseFormat == llm.FormatJSON {
		cfg.ResponseMIMEType = "application/json"
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return llm.CompletionResponse{}, llm.Classify(fmt.Errorf("gemini generate content: %w", err), 0)
	}
	if result == nil || result.Text() == "" {
		return llm.CompletionResponse{}, llm.NewError(llm.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	stop := ""
	if len(result.Candidates) > 0 {
		stop = string(result.Candidates[0].FinishReason)
	}
	return llm.CompletionResponse{Content: result.Text(), StopReason: stop}, nil
}

// GetModelName implements llm.LLMClient.
func (g *Client) GetModelName() string {
	return g.model
}
