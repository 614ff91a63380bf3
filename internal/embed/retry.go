package embed

import (
	"context"
	"math/rand"
	"time"

	pipeerrors "github.com/docpipe/docpipe/internal/errors"
)

// RetryEmbedder wraps an Embedder with bounded exponential backoff.
// Only retryable failures (backend unavailable, timeout) are retried;
// validation errors and cancellations surface immediately.
type RetryEmbedder struct {
	inner Embedder
	cfg   pipeerrors.RetryConfig
}

var _ Embedder = (*RetryEmbedder)(nil)

// NewRetryEmbedder creates a retrying embedder wrapping inner.
func NewRetryEmbedder(inner Embedder, cfg pipeerrors.RetryConfig) *RetryEmbedder {
	if cfg.MaxRetries == 0 {
		cfg = pipeerrors.DefaultRetryConfig()
	}
	return &RetryEmbedder{inner: inner, cfg: cfg}
}

// Embed generates an embedding, retrying transient failures.
func (r *RetryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := r.retry(ctx, func() error {
		var err error
		vec, err = r.inner.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch generates batch embeddings, retrying transient failures.
func (r *RetryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := r.retry(ctx, func() error {
		var err error
		vecs, err = r.inner.EmbedBatch(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// retry runs fn with exponential backoff, stopping early on
// non-retryable errors. The last error is returned as-is so callers
// keep its error code.
func (r *RetryEmbedder) retry(ctx context.Context, fn func() error) error {
	delay := r.cfg.InitialDelay
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !pipeerrors.IsRetryable(err) || attempt >= r.cfg.MaxRetries {
			return err
		}

		wait := delay
		if r.cfg.Jitter {
			wait = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * r.cfg.Multiplier)
		if delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}
}

// Dimensions returns the embedding dimension of the inner embedder.
func (r *RetryEmbedder) Dimensions() int { return r.inner.Dimensions() }

// ModelName returns the inner model identifier.
func (r *RetryEmbedder) ModelName() string { return r.inner.ModelName() }

// MaxBatchSize returns the inner batch limit.
func (r *RetryEmbedder) MaxBatchSize() int { return r.inner.MaxBatchSize() }

// MaxTextLength returns the inner per-text character limit.
func (r *RetryEmbedder) MaxTextLength() int { return r.inner.MaxTextLength() }

// Available reports the inner embedder's readiness.
func (r *RetryEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }

// Close closes the inner embedder.
func (r *RetryEmbedder) Close() error { return r.inner.Close() }
