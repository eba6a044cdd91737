package llm

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy is exponential backoff with jitter.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryPolicy is used when the configuration does not override it.
//
//nolint:gochecknoglobals // sensible default config pattern
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Delay returns the wait before the given attempt (attempt 1 never waits).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-2))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d = d/2 + rand.Float64()*d/2 //nolint:gosec // jitter does not need crypto randomness
	}
	return time.Duration(d)
}

type retryClient struct {
	next   LLMClient
	policy RetryPolicy
}

// WithRetry wraps next so retryable failures are repeated per policy.
func WithRetry(next LLMClient, policy RetryPolicy) LLMClient {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retryClient{next: next, policy: policy}
}

func (r *retryClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if delay := r.policy.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := r.next.Complete(ctx, in)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
	}
	return CompletionResponse{}, lastErr
}

func (r *retryClient) GetModelName() string {
	return r.next.GetModelName()
}

// CallObserver receives one callback per completed model call.
type CallObserver interface {
	ObserveLLMCall(model string, duration time.Duration, err error)
}

type observedClient struct {
	next LLMClient
	obs  CallObserver
}

// WithObserver reports every call on next to obs.
func WithObserver(next LLMClient, obs CallObserver) LLMClient {
	if obs == nil {
		return next
	}
	return &observedClient{next: next, obs: obs}
}

func (o *observedClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	start := time.Now()
	resp, err := o.next.Complete(ctx, in)
	o.obs.ObserveLLMCall(o.next.GetModelName(), time.Since(start), err)
	return resp, err
}

func (o *observedClient) GetModelName() string {
	return o.next.GetModelName()
}
