package embedding

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/hyperjump/vismatch/internal/models"
)

// TimeoutEmbedder bounds every Embed call. Model runtimes generally cannot be interrupted,
// so the call keeps running in the background after the deadline; the caller gets an
// ErrEmbedding wrapping the context error instead of blocking.
type TimeoutEmbedder struct {
	Embedder
	timeout time.Duration
}

// WithTimeout wraps e so each call returns within d. A non-positive d returns e unchanged.
func WithTimeout(e Embedder, d time.Duration) Embedder {
	if d <= 0 {
		return e
	}
	return &TimeoutEmbedder{Embedder: e, timeout: d}
}

type embedResult struct {
	vec []float32
	err error
}

// Embed runs the wrapped embedder with a deadline.
func (t *TimeoutEmbedder) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan embedResult, 1)
	go func() {
		vec, err := t.Embedder.Embed(ctx, img)
		done <- embedResult{vec: vec, err: err}
	}()

	select {
	case res := <-done:
		return res.vec, res.err
	case <-ctx.Done():
		return nil, models.EmbeddingError("embed", fmt.Errorf("gave up after %s: %w", t.timeout, ctx.Err()))
	}
}
