package llm

import (
	"context"

	"golang.org/x/time/rate"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

// RateLimited throttles calls to the wrapped completer with a token bucket.
type RateLimited struct {
	next    orchestrator.Completer
	limiter *rate.Limiter
}

// NewRateLimited allows rps requests per second with the given burst.
func NewRateLimited(next orchestrator.Completer, rps float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Complete waits for capacity, then delegates.
func (r *RateLimited) Complete(ctx context.Context, req orchestrator.CompletionRequest) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", orchestrator.NewCancelledError("llm", ctx.Err())
		}
		return "", orchestrator.NewLLMError("ratelimit", err)
	}
	return r.next.Complete(ctx, req)
}

// Unwrap returns the wrapped completer.
func (r *RateLimited) Unwrap() orchestrator.Completer {
	return r.next
}
