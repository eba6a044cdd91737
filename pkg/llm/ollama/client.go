// Package ollama provides the local Ollama implementation of llm.LLMClient.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
)

const defaultHost = "http://localhost:11434"

// Client wraps the Ollama chat API.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates an Ollama client. An unparsable host falls back to localhost.
func NewClient(hostURL, model string) llm.LLMClient {
	parsed, err := url.Parse(hostURL)
	if err != nil || hostURL == "" {
		parsed, _ = url.Parse(defaultHost)
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// Complete implements llm.LLMClient. JSON requests carry the schema in the
// native format field so the server constrains decoding.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := in.Validate(); err != nil {
		return llm.CompletionResponse{}, llm.NewErrorWithCause(llm.ErrorTypeBadPrompt, err, "request validation failed")
	}

	system, rest := llm.SplitSystem(in)
	messages := make([]api.Message, 0, len(rest)+1)
	if system != "" {
		messages = append(messages, api.Message{Role: string(llm.RoleSystem), Content: system})
	}
	for i := range rest {
		messages = append(messages, api.Message{Role: string(rest[i].Role), Content: rest[i].Content})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	if in.ResponseFormat == llm.FormatJSON {
		req.Format = json.RawMessage(`"json"`)
		if len(in.ResponseSchema) > 0 {
			if schema, err := json.Marshal(in.ResponseSchema); err == nil {
				req.Format = schema
			}
		}
	}

	var response api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return llm.CompletionResponse{}, llm.Classify(err, statusErr.StatusCode)
		}
		return llm.CompletionResponse{}, llm.Classify(err, 0)
	}
	if response.Message.Content == "" {
		return llm.CompletionResponse{}, llm.NewError(llm.ErrorTypeEmptyResponse, "empty response from Ollama")
	}

	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: response.DoneReason,
	}, nil
}

// GetModelName implements llm.LLMClient.
func (c *Client) GetModelName() string {
	return c.model
}
