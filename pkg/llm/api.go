// Package llm defines the model-call contract used by planning, replanning and routing.
//
// Every caller in this module asks for a JSON object and defensively extracts
// the first balanced {...} from the reply (see ExtractFirstObject). Provider
// implementations live in the sub-packages and are chosen by the factory.
package llm

import (
	"context"
	"fmt"
)

// CompletionRole is the role of a message in a conversation.
type CompletionRole string

const (
	RoleSystem    CompletionRole = "system"
	RoleUser      CompletionRole = "user"
	RoleAssistant CompletionRole = "assistant"
)

const (
	// TemperatureDefault is used for planning and routing judgments.
	TemperatureDefault = 0.3
	// DefaultMaxTokens caps replies when the caller leaves MaxTokens unset.
	DefaultMaxTokens = 4096
)

// ResponseFormat constrains the shape of the reply.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// CompletionMessage is one message in a completion request.
type CompletionMessage struct {
	Role    CompletionRole
	Content string
}

// CompletionRequest is a single model call.
//
//nolint:govet // value semantics preferred over pointer indirection
type CompletionRequest struct {
	Messages       []CompletionMessage
	ResponseFormat ResponseFormat
	// ResponseSchema is a JSON schema for the reply. Providers that support
	// structured output enforce it; others receive it appended to the prompt.
	ResponseSchema map[string]any
	MaxTokens      int
	Temperature    float32
}

// CompletionResponse is the reply to a completion request.
type CompletionResponse struct {
	Content    string
	StopReason string
}

// LLMClient is the black-box model call.
type LLMClient interface { //nolint:revive // name kept for parity with provider packages
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)
	GetModelName() string
}

// NewJSONRequest builds a single-prompt request asking for a schema-constrained JSON reply.
func NewJSONRequest(system, prompt string, schema map[string]any) CompletionRequest {
	msgs := make([]CompletionMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, CompletionMessage{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, CompletionMessage{Role: RoleUser, Content: prompt})
	return CompletionRequest{
		Messages:       msgs,
		ResponseFormat: FormatJSON,
		ResponseSchema: schema,
		MaxTokens:      DefaultMaxTokens,
		Temperature:    TemperatureDefault,
	}
}

// Validate checks a request before it is sent.
func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("message list cannot be empty")
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative")
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}
