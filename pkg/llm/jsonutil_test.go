package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFirstObject(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"prose around", `Sure! Here it is: {"a":1} hope that helps {"b":2}`, `{"a":1}`},
		{"markdown fence", "```json\n{\"decision\":\"new\"}\n```", `{"decision":"new"}`},
		{"nested", `x {"a":{"b":[1,{"c":2}]}} y`, `{"a":{"b":[1,{"c":2}]}}`},
		{"brace inside string", `{"text":"use } carefully {"}`, `{"text":"use } carefully {"}`},
		{"escaped quote", `{"text":"say \"}\" now"}`, `{"text":"say \"}\" now"}`},
		{"unterminated then valid", `{"broken": {"ok":true}`, `{"ok":true}`},
		{"no object", `no json here`, ``},
		{"only open brace", `{"a":1`, ``},
		{"empty", ``, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractFirstObject(tt.input))
		})
	}
}

func TestDecodeFirstObject(t *testing.T) {
	var out struct {
		Decision string   `json:"decision"`
		Tools    []string `json:"tools"`
	}

	require.NoError(t, DecodeFirstObject(`result: {"decision":"queue","tools":["a","b",],}`, &out))
	assert.Equal(t, "queue", out.Decision)
	assert.Equal(t, []string{"a", "b"}, out.Tools)

	err := DecodeFirstObject("nothing", &out)
	assert.ErrorIs(t, err, ErrNoJSONObject)

	err = DecodeFirstObject(`{"decision": queue}`, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON object")
}
