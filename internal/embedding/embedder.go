// Package embedding provides image embedding via ONNX, caching, and vector validation.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/hyperjump/vismatch/internal/models"
	"github.com/hyperjump/vismatch/pkg/utils"
)

// Embedder produces a fixed-dimension vector embedding for an image.
// Implementations must be deterministic for a given image and safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, img image.Image) ([]float32, error)
	Dimensions() int
	Close() error
}

// Validate checks that vec has exactly dims finite components.
// Failures are reported as ErrEmbedding so a bad model output is never stored or searched.
func Validate(vec []float32, dims int) error {
	if len(vec) != dims {
		return models.EmbeddingError("validate embedding", fmt.Errorf("got %d components, expected %d", len(vec), dims))
	}
	if !utils.AllFinite(vec) {
		return models.EmbeddingError("validate embedding", fmt.Errorf("embedding has non-finite components"))
	}
	return nil
}

// EmbedValidated runs e on img and validates the result. Any failure is an ErrEmbedding.
func EmbedValidated(ctx context.Context, e Embedder, img image.Image) ([]float32, error) {
	if img == nil {
		return nil, models.InputError("embed", fmt.Errorf("image is nil"))
	}
	vec, err := e.Embed(ctx, img)
	if err != nil {
		if errors.Is(err, models.ErrEmbedding) {
			return nil, err
		}
		return nil, models.EmbeddingError("embed", err)
	}
	if err := Validate(vec, e.Dimensions()); err != nil {
		return nil, err
	}
	return vec, nil
}
