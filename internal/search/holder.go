package search

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/vismatch/internal/models"
	"github.com/hyperjump/vismatch/internal/store"
)

// Holder owns the store a search process serves. Replacing it swaps a whole-store
// reference, so a query always sees one consistent store from start to finish.
type Holder struct {
	paths   store.Paths
	current atomic.Pointer[store.Store]
	dims    int // expected vector width; 0 accepts any
	logger  *zap.Logger
}

// HolderOption configures a Holder.
type HolderOption func(*Holder)

// WithHolderLogger sets the logger used for reload events.
func WithHolderLogger(l *zap.Logger) HolderOption {
	return func(h *Holder) { h.logger = l }
}

// WithExpectedDims makes Reload refuse stores whose vectors are not dims wide, such as
// a store built with a different model.
func WithExpectedDims(dims int) HolderOption {
	return func(h *Holder) { h.dims = dims }
}

// NewHolder creates an empty holder that loads from paths.
func NewHolder(paths store.Paths, opts ...HolderOption) *Holder {
	h := &Holder{paths: paths}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Current returns the store being served, or nil before the first successful load.
func (h *Holder) Current() *store.Store {
	return h.current.Load()
}

// Paths returns the artifact locations the holder loads from.
func (h *Holder) Paths() store.Paths {
	return h.paths
}

// Set installs s as the served store.
func (h *Holder) Set(s *store.Store) {
	h.current.Store(s)
}

// Reload loads the store from disk and swaps it in. On failure the current store stays
// in place and the error (an ErrStoreIntegrity) is returned.
func (h *Holder) Reload() error {
	s, err := store.Load(h.paths)
	if err == nil && h.dims > 0 && s.Dims() != h.dims {
		err = models.StoreIntegrityError("load store",
			fmt.Errorf("store vectors are %d wide but the model produces %d", s.Dims(), h.dims))
	}
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("store reload failed, keeping current store", zap.Error(err))
		}
		return err
	}
	prev := h.current.Swap(s)
	if h.logger != nil {
		fields := []zap.Field{zap.Int("products", s.Len()), zap.Int("dims", s.Dims())}
		if prev != nil {
			fields = append(fields, zap.Int("previous_products", prev.Len()))
		}
		h.logger.Info("store loaded", fields...)
	}
	return nil
}
