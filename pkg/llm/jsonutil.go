package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSONObject is returned when a reply contains no balanced JSON object.
var ErrNoJSONObject = errors.New("no JSON object found in model response")

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// ExtractFirstObject returns the first balanced {...} in content, ignoring
// braces that appear inside JSON strings. It returns "" when none is closed.
func ExtractFirstObject(content string) string {
	start := strings.IndexByte(content, '{')
	for start != -1 {
		if end := matchBrace(content, start); end != -1 {
			return content[start : end+1]
		}
		next := strings.IndexByte(content[start+1:], '{')
		if next == -1 {
			return ""
		}
		start += next + 1
	}
	return ""
}

// matchBrace returns the index of the brace closing content[start], or -1.
func matchBrace(content string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// DecodeFirstObject extracts the first balanced object from content and
// unmarshals it into v. Trailing commas, a common model artifact, are removed
// before a second attempt.
func DecodeFirstObject(content string, v any) error {
	raw := ExtractFirstObject(content)
	if raw == "" {
		return ErrNoJSONObject
	}
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	cleaned := trailingCommaPattern.ReplaceAllString(raw, "$1")
	if cleaned != raw {
		if retryErr := json.Unmarshal([]byte(cleaned), v); retryErr == nil {
			return nil
		}
	}
	return fmt.Errorf("invalid JSON object in model response: %w", err)
}
