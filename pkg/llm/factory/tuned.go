package factory

import (
	"context"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
)

//nolint:gocritic // CompletionRequest passed by value to match the interface
func (t *tuned) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if in.MaxTokens == 0 || in.MaxTokens > t.model.MaxTokens {
		in.MaxTokens = t.model.MaxTokens
	}
	if in.Temperature == 0 {
		in.Temperature = t.model.Temp
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.next.Complete(ctx, in)
}

func (t *tuned) GetModelName() string {
	return t.next.GetModelName()
}
