package provider

import (
	"context"
	"errors"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// ErrRateLimited marks a transient failure caused by provider rate
// limiting. Wrapped inside the taxonomy error so the retry loop can
// widen its backoff.
var ErrRateLimited = errors.New("rate limited")

// IsRateLimited reports whether err stems from provider rate limiting.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// CallRequest is one chat completion request.
type CallRequest struct {
	Model       string
	Messages    []types.Message
	Temperature float64
	MaxTokens   int
}

// CallResult is a completed chat completion.
type CallResult struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// StreamFunc receives content chunks as they arrive.
type StreamFunc func(chunk string) error

// Adapter is the surface every model provider implements. Call and
// Stream return taxonomy errors so callers can classify without
// knowing the provider's wire protocol.
type Adapter interface {
	// Name returns the provider identifier used in config and records.
	Name() string

	// Models lists the models this adapter can serve.
	Models() []string

	// Call performs a blocking chat completion.
	Call(ctx context.Context, req CallRequest) (*CallResult, error)

	// Stream performs a chat completion delivering chunks through fn.
	// The final result carries the full content and token counts.
	Stream(ctx context.Context, req CallRequest, fn StreamFunc) (*CallResult, error)

	// Cost estimates the USD cost of a call against the given model.
	Cost(model string, inputTokens, outputTokens int) float64

	// HealthProbe checks reachability with a minimal request.
	HealthProbe(ctx context.Context) error
}
