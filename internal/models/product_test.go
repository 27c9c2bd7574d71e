package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProductRecord(t *testing.T) {
	tests := []struct {
		name      string
		fields    map[string]any
		wantID    string
		wantName  string
		wantImage string
	}{
		{"string id", map[string]any{"id": "p1", "name": "Mug", "image": "http://x/1.jpg"}, "p1", "Mug", "http://x/1.jpg"},
		{"numeric id", map[string]any{"id": json.Number("42"), "image": "a.png"}, "42", "", "a.png"},
		{"float id", map[string]any{"id": float64(7), "title": "Lamp"}, "7", "Lamp", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProductRecord(tt.fields)
			assert.Equal(t, tt.wantID, p.ID)
			assert.Equal(t, tt.wantName, p.Name)
			assert.Equal(t, tt.wantImage, p.Image)
		})
	}
}

func TestNewProductRecord_derivedIDIsDeterministic(t *testing.T) {
	a := NewProductRecord(map[string]any{"image": "http://x/1.jpg"})
	b := NewProductRecord(map[string]any{"image": "http://x/1.jpg"})
	c := NewProductRecord(map[string]any{"image": "http://x/2.jpg"})
	require.NotEmpty(t, a.ID)
	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestProductRecord_JSONPreservesFields(t *testing.T) {
	in := `{"category":"kitchen","id":1,"image":"http://x/1.jpg","name":"Mug","price":19.99}`
	var p ProductRecord
	require.NoError(t, json.Unmarshal([]byte(in), &p))
	assert.Equal(t, "1", p.ID)
	price, ok := p.Price()
	require.True(t, ok)
	assert.InDelta(t, 19.99, price, 1e-9)

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.Contains(t, string(out), `"price":19.99`)
}

func TestKindError_Is(t *testing.T) {
	cause := json.Unmarshal([]byte("{"), &map[string]any{})
	err := FetchError("fetch http", cause)
	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrEmbedding)
	assert.Contains(t, err.Error(), "fetch http")
}
