package engine

import (
	"context"
	"time"
)

// defaultCallTimeout is the default per-call timeout for LLM/embedding/
// rerank calls when the caller's context carries no earlier deadline (§5).
const defaultCallTimeout = 60 * time.Second

// timeoutProvider wraps a Provider so every call gets a bounded deadline,
// without overriding a tighter deadline the caller already set.
type timeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

// WithTimeout wraps p so every call is bounded by d (default 60s per §5).
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		d = defaultCallTimeout
	}
	return &timeoutProvider{inner: p, timeout: d}
}

func (t *timeoutProvider) Name() string { return t.inner.Name() }

func (t *timeoutProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	ctx, cancel := boundedContext(ctx, t.timeout)
	defer cancel()
	return t.inner.Chat(ctx, req)
}

func (t *timeoutProvider) ChatWithTools(ctx context.Context, req ChatRequest, tools []ToolDefinition) (ChatResponse, error) {
	ctx, cancel := boundedContext(ctx, t.timeout)
	defer cancel()
	return t.inner.ChatWithTools(ctx, req, tools)
}

var _ Provider = (*timeoutProvider)(nil)

// boundedContext returns a child context with a deadline no later than d
// from now. If ctx already has an earlier deadline, it is returned unchanged.
func boundedContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	deadline := time.Now().Add(d)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}
