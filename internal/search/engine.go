// Package search ranks stored products by cosine similarity to a query image.
package search

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/vismatch/internal/config"
	"github.com/hyperjump/vismatch/internal/embedding"
	"github.com/hyperjump/vismatch/internal/models"
	"github.com/hyperjump/vismatch/internal/store"
	"github.com/hyperjump/vismatch/internal/vector"
)

// StoreSource supplies the store to search. *Holder implements it.
type StoreSource interface {
	Current() *store.Store
}

// Engine answers image similarity queries against the current store.
type Engine struct {
	source     StoreSource
	embedder   embedding.Embedder
	threshold  float64
	maxResults int
	logger     *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for query debug output.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine. cfg supplies the default threshold and result cap.
func NewEngine(source StoreSource, embedder embedding.Embedder, cfg *config.SearchConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		source:     source,
		embedder:   embedder,
		threshold:  cfg.SimilarityThreshold,
		maxResults: cfg.MaxResults,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Threshold returns the default similarity threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Search embeds img and returns matches at or above the default threshold, best first.
// An empty result is not an error.
func (e *Engine) Search(ctx context.Context, img image.Image) ([]models.Match, error) {
	return e.SearchWithThreshold(ctx, img, e.threshold)
}

// SearchWithThreshold is Search with an explicit threshold in [-1, 1].
func (e *Engine) SearchWithThreshold(ctx context.Context, img image.Image, threshold float64) ([]models.Match, error) {
	if math.IsNaN(threshold) || threshold < -1 || threshold > 1 {
		return nil, models.InputError("search", fmt.Errorf("threshold %v outside [-1, 1]", threshold))
	}
	s := e.source.Current()
	if s == nil {
		return nil, &models.KindError{Kind: models.ErrStoreNotLoaded, Op: "search"}
	}

	q, err := embedding.EmbedValidated(ctx, e.embedder, img)
	if err != nil {
		return nil, err
	}
	if len(q) != s.Dims() {
		return nil, models.StoreIntegrityError("search",
			fmt.Errorf("query has %d components but store has %d", len(q), s.Dims()))
	}

	matches := Rank(s, q, threshold)
	if e.maxResults > 0 && len(matches) > e.maxResults {
		matches = matches[:e.maxResults]
	}
	if e.logger != nil {
		e.logger.Debug("search completed",
			zap.Int("candidates", s.Len()),
			zap.Int("matches", len(matches)),
			zap.Float64("threshold", threshold))
	}
	return matches, nil
}

// Query runs SearchWithThreshold and wraps the matches with timing metadata.
func (e *Engine) Query(ctx context.Context, img image.Image, threshold float64, label string) (*models.SearchResponse, error) {
	start := time.Now()
	matches, err := e.SearchWithThreshold(ctx, img, threshold)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []models.Match{}
	}
	return &models.SearchResponse{
		Matches:   matches,
		Total:     len(matches),
		Threshold: threshold,
		QueryTime: time.Since(start).Milliseconds(),
		Query:     label,
	}, nil
}

// Rank scores q against every row of s and returns the rows with similarity >= threshold,
// highest first. Equal scores keep store order. Rows whose similarity is undefined
// (zero norm) are left out, as is everything when q has zero norm.
func Rank(s *store.Store, q []float32, threshold float64) []models.Match {
	qNorm := vector.L2Norm(q)
	matches := []models.Match{}
	for i := 0; i < s.Len(); i++ {
		sim, ok := vector.CosineWithNorms(q, qNorm, s.Vector(i), s.Norm(i))
		if !ok || sim < threshold {
			continue
		}
		matches = append(matches, models.Match{Similarity: sim, Index: i})
	}
	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Similarity > matches[b].Similarity
	})
	for i := range matches {
		matches[i].Product = s.Product(matches[i].Index)
	}
	return matches
}
