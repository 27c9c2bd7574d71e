// Package store holds the embedding store: row-aligned embedding vectors and the
// catalog products they were computed from.
package store

import (
	"fmt"

	"github.com/hyperjump/vismatch/internal/models"
	"github.com/hyperjump/vismatch/internal/vector"
	"github.com/hyperjump/vismatch/pkg/utils"
)

// Store is an immutable embedding store. Row i of the vectors belongs to product i.
// A Store is never mutated after New returns, so it is safe for concurrent readers.
type Store struct {
	dims     int
	vectors  [][]float32
	products []models.ProductRecord
	norms    []float64
}

// New validates and builds a store. vectors and products must have the same length and
// every vector must have exactly dims finite components. The slices are copied.
func New(dims int, vectors [][]float32, products []models.ProductRecord) (*Store, error) {
	if dims <= 0 {
		return nil, models.StoreIntegrityError("new store", fmt.Errorf("dimension must be positive, got %d", dims))
	}
	if len(vectors) != len(products) {
		return nil, models.StoreIntegrityError("new store",
			fmt.Errorf("%d vectors but %d products", len(vectors), len(products)))
	}
	s := &Store{
		dims:     dims,
		vectors:  make([][]float32, len(vectors)),
		products: make([]models.ProductRecord, len(products)),
		norms:    make([]float64, len(vectors)),
	}
	for i, v := range vectors {
		if len(v) != dims {
			return nil, models.StoreIntegrityError("new store",
				fmt.Errorf("row %d has %d components, expected %d", i, len(v), dims))
		}
		if !utils.AllFinite(v) {
			return nil, models.StoreIntegrityError("new store", fmt.Errorf("row %d has non-finite components", i))
		}
		row := make([]float32, dims)
		copy(row, v)
		s.vectors[i] = row
		s.norms[i] = vector.L2Norm(row)
	}
	copy(s.products, products)
	return s, nil
}

// Len returns the number of rows.
func (s *Store) Len() int { return len(s.products) }

// Dims returns the embedding dimension.
func (s *Store) Dims() int { return s.dims }

// Vector returns row i. Callers must not modify it.
func (s *Store) Vector(i int) []float32 { return s.vectors[i] }

// Norm returns the L2 norm of row i.
func (s *Store) Norm(i int) float64 { return s.norms[i] }

// Product returns the product of row i.
func (s *Store) Product(i int) models.ProductRecord { return s.products[i] }

// Products returns a copy of the product sequence in row order.
func (s *Store) Products() []models.ProductRecord {
	out := make([]models.ProductRecord, len(s.products))
	copy(out, s.products)
	return out
}

// CheckServable reports whether the store can answer queries: it must hold at least one row.
func (s *Store) CheckServable() error {
	if s == nil {
		return models.StoreIntegrityError("check store", fmt.Errorf("store is nil"))
	}
	if s.Len() == 0 {
		return models.StoreIntegrityError("check store", fmt.Errorf("store is empty"))
	}
	return nil
}
