package embedding

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"image"
	"math"

	"github.com/hyperjump/vismatch/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and for running without a model.
// It returns a fixed-dimension vector derived from the pixel hash so that the same image
// always gets the same embedding.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic embedding based on the image content hash.
func (e *MockEmbedder) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sum, err := hex.DecodeString(ImageKey(img))
	if err != nil {
		return nil, err
	}
	seed := float64(binary.BigEndian.Uint32(sum[:4])%100000) + 1
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
