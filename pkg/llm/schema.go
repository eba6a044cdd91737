package llm

import (
	"encoding/json"
	"strings"
)

// SplitSystem separates system messages from the conversation. Providers that
// take the system prompt as a separate parameter call this first. For JSON
// requests the schema is appended to the system prompt so that providers
// without native structured output still see the contract.
func SplitSystem(in CompletionRequest) (system string, rest []CompletionMessage) {
	var parts []string
	for i := range in.Messages {
		if in.Messages[i].Role == RoleSystem {
			parts = append(parts, in.Messages[i].Content)
			continue
		}
		rest = append(rest, in.Messages[i])
	}
	if instr := SchemaInstruction(in); instr != "" {
		parts = append(parts, instr)
	}
	return strings.Join(parts, "\n\n"), rest
}

// SchemaInstruction renders the JSON contract for a request, or "" for text requests.
func SchemaInstruction(in CompletionRequest) string {
	if in.ResponseFormat != FormatJSON {
		return ""
	}
	if len(in.ResponseSchema) == 0 {
		return "Respond with a single JSON object and nothing else."
	}
	schema, err := json.Marshal(in.ResponseSchema)
	if err != nil {
		return "Respond with a single JSON object and nothing else."
	}
	return "Respond with a single JSON object and nothing else. It must conform to this JSON schema:\n" + string(schema)
}
