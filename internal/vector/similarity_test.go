package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name   string
		a, b   []float32
		want   float64
		wantOK bool
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1, true},
		{"scaled is still identical", []float32{1, 2, 3}, []float32{10, 20, 30}, 1, true},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0, true},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1, true},
		{"45 degrees", []float32{1, 0}, []float32{1, 1}, 1 / math.Sqrt2, true},
		{"zero norm", []float32{0, 0}, []float32{1, 0}, 0, false},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0, false},
		{"empty", nil, nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Cosine(tt.a, tt.b)
			require.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCosine_notDotProductShortcut(t *testing.T) {
	// Unnormalized inputs: the raw dot product is 8, cosine is 1.
	sim, ok := Cosine([]float32{2, 0}, []float32{4, 0})
	require.True(t, ok)
	assert.InDelta(t, 1.0, sim, 1e-12)
}

func TestL2NormAndDot(t *testing.T) {
	assert.InDelta(t, 5.0, L2Norm([]float32{3, 4}), 1e-12)
	assert.InDelta(t, 11.0, Dot([]float32{1, 2}, []float32{3, 4}), 1e-12)
	assert.Equal(t, 0.0, Dot([]float32{1}, []float32{1, 2}))
}
