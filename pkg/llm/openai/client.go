// Package openai provides the OpenAI Responses API implementation of llm.LLMClient.
package openai

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
)

// Client wraps the official OpenAI client.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates an OpenAI client for model.
func NewClient(apiKey, model string) llm.LLMClient {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete implements llm.LLMClient. The conversation is flattened into a
// single input with the system prompt passed as instructions.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := in.Validate(); err != nil {
		return llm.CompletionResponse{}, llm.NewErrorWithCause(llm.ErrorTypeBadPrompt, err, "request validation failed")
	}

	system, rest := llm.SplitSystem(in)
	var input strings.Builder
	for i := range rest {
		if rest[i].Role == llm.RoleAssistant {
			input.WriteString("Assistant: ")
		}
		input.WriteString(rest[i].Content)
		input.WriteString("\n\n")
	}

	maxTokens := in.MaxTokens
	if maxTokens == 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input.String())},
	}
	if system != "" {
		params.Instructions = openai.String(system)
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llm.Classify(err, 0)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llm.NewError(llm.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	content := resp.OutputText()
	if content == "" {
		return llm.CompletionResponse{}, llm.NewError(llm.ErrorTypeEmptyResponse, "no text output from OpenAI Responses API")
	}
	return llm.CompletionResponse{Content: content, StopReason: string(resp.Status)}, nil
}

// GetModelName implements llm.LLMClient.
func (c *Client) GetModelName() string {
	return c.model
}
