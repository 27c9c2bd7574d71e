package embedding

import (
	"context"
	"image"
)

// EmbedFunc is the signature of a single embedding call.
type EmbedFunc func(ctx context.Context, img image.Image) ([]float32, error)

// FuncEmbedder adapts a function to the Embedder interface. Useful for wiring remote
// models and for scripting exact vectors in tests.
type FuncEmbedder struct {
	dimensions int
	fn         EmbedFunc
}

// NewFuncEmbedder returns an Embedder that delegates to fn.
func NewFuncEmbedder(dimensions int, fn EmbedFunc) *FuncEmbedder {
	return &FuncEmbedder{dimensions: dimensions, fn: fn}
}

// Embed calls the wrapped function.
func (e *FuncEmbedder) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	return e.fn(ctx, img)
}

// Dimensions returns the embedding dimension.
func (e *FuncEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *FuncEmbedder) Close() error {
	return nil
}
