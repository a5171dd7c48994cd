package retry

import (
	"context"
	"time"

	"stackwatch/internal/ports"
)

// Embedder decorates a ports.Embedder with the bounded retry policy, so
// every embedding caller treats a transient backend failure the same way:
// retried up to maxAttempts before it escalates.
type Embedder struct {
	inner       ports.Embedder
	maxAttempts int
	base        time.Duration
}

var _ ports.Embedder = (*Embedder)(nil)

// NewEmbedder wraps the inner client with maxAttempts and the initial
// backoff delay.
func NewEmbedder(inner ports.Embedder, maxAttempts int, base time.Duration) *Embedder {
	return &Embedder{inner: inner, maxAttempts: maxAttempts, base: base}
}

// Embed delegates to the inner client, retrying retryable failures. The
// returned error is the inner client's, so errors.Is checks still work.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := Do(ctx, e.maxAttempts, e.base, func(ctx context.Context) error {
		v, err := e.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}
