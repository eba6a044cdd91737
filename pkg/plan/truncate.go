package plan

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

//nolint:gochecknoglobals // codec construction is expensive and the codec is immutable
var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.ForModel(tokenizer.GPT4)
		if err == nil {
			codec = c
		}
	})
	return codec
}

// TruncateOutput bounds step output to maxTokens before it is reused in a
// prompt, keeping the head and noting how much was cut.
func TruncateOutput(output string, maxTokens int) string {
	if maxTokens <= 0 || output == "" {
		return output
	}

	c := getCodec()
	if c == nil {
		return truncateChars(output, maxTokens*4)
	}

	ids, _, err := c.Encode(output)
	if err != nil {
		return truncateChars(output, maxTokens*4)
	}
	if len(ids) <= maxTokens {
		return output
	}
	head, err := c.Decode(ids[:maxTokens])
	if err != nil {
		return truncateChars(output, maxTokens*4)
	}
	return fmt.Sprintf("%s\n...[truncated %d of %d tokens]", head, len(ids)-maxTokens, len(ids))
}

func truncateChars(output string, maxChars int) string {
	runes := []rune(output)
	if len(runes) <= maxChars {
		return output
	}
	return fmt.Sprintf("%s\n...[truncated %d characters]", string(runes[:maxChars]), len(runes)-maxChars)
}
