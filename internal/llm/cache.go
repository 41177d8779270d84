package llm

import (
	"context"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/effective-security/xlog"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

// Cached memoizes completions. Temperature is fixed at zero, so identical
// requests are expected to produce identical text.
type Cached struct {
	next  orchestrator.Completer
	cache orchestrator.Cache
}

// NewCached wraps next with cache.
func NewCached(next orchestrator.Completer, cache orchestrator.Cache) *Cached {
	return &Cached{next: next, cache: cache}
}

// CacheKey hashes every field that affects the completion.
func CacheKey(req orchestrator.CompletionRequest) string {
	d := xxhash.New()
	_, _ = d.WriteString(req.Model)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatBool(req.JSON))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(req.System)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(req.User)
	return "llm:" + strconv.FormatUint(d.Sum64(), 16)
}

// Complete returns a cached completion or delegates and stores the result.
// Cache failures never fail the request.
func (c *Cached) Complete(ctx context.Context, req orchestrator.CompletionRequest) (string, error) {
	key := CacheKey(req)
	if v, err := c.cache.Get(ctx, key); err == nil {
		if s, ok := v.(string); ok {
			logger.ContextKV(ctx, xlog.DEBUG, "status", "cache_hit", "key", key)
			return s, nil
		}
	}
	text, err := c.next.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, text); err != nil {
		logger.ContextKV(ctx, xlog.WARNING, "status", "cache_set_failed", "key", key, "err", err.Error())
	}
	return text, nil
}

// Unwrap returns the wrapped completer.
func (c *Cached) Unwrap() orchestrator.Completer {
	return c.next
}
