// Package ingest builds the embedding store from a product catalog.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/vismatch/internal/catalog"
	"github.com/hyperjump/vismatch/internal/embedding"
	"github.com/hyperjump/vismatch/internal/models"
	"github.com/hyperjump/vismatch/internal/storage"
	"github.com/hyperjump/vismatch/internal/store"
)

// ErrNothingEmbedded is returned when every catalog record was skipped.
var ErrNothingEmbedded = errors.New("no catalog record could be embedded")

// Resolver turns an image locator into a decoded image.
type Resolver interface {
	Fetch(ctx context.Context, locator string) (image.Image, error)
}

// Pipeline resolves, embeds and persists catalog records.
type Pipeline struct {
	resolver Resolver
	embedder embedding.Embedder
	paths    store.Paths
	workers  int
	ledger   storage.Ledger // optional; when set, runs and skips are recorded
	logger   *zap.Logger    // optional
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets a logger for skip and progress events.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithLedger records every run in l.
func WithLedger(l storage.Ledger) PipelineOption {
	return func(p *Pipeline) { p.ledger = l }
}

// WithWorkers sets how many records are resolved and embedded concurrently.
// Output order does not depend on it.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// NewPipeline creates a pipeline that writes the store to paths.
func NewPipeline(resolver Resolver, embedder embedding.Embedder, paths store.Paths, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		resolver: resolver,
		embedder: embedder,
		paths:    paths,
		workers:  1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunCatalog loads the catalog at path and runs the pipeline on it.
// A missing or unreadable catalog aborts before anything is written.
func (p *Pipeline) RunCatalog(ctx context.Context, path string) (*store.Store, *models.IngestReport, error) {
	records, err := catalog.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load catalog: %w", err)
	}
	return p.run(ctx, path, records)
}

// Run embeds records and replaces the persisted store with the result.
// Per-record failures are skipped and reported. Cancellation, an empty result or an
// unwritable store abort the run and leave the previous store in place.
func (p *Pipeline) Run(ctx context.Context, records []models.ProductRecord) (*store.Store, *models.IngestReport, error) {
	return p.run(ctx, "", records)
}

func (p *Pipeline) run(ctx context.Context, catalogPath string, records []models.ProductRecord) (*store.Store, *models.IngestReport, error) {
	report := &models.IngestReport{
		RunID:     uuid.New().String(),
		Catalog:   catalogPath,
		Total:     len(records),
		Status:    models.RunStatusRunning,
		StartedAt: time.Now(),
	}
	p.recordStart(ctx, report)

	s, err := p.build(ctx, records, report)
	if err == nil {
		err = store.Save(s, p.paths)
		if err != nil {
			err = fmt.Errorf("save store: %w", err)
		}
	}

	report.FinishedAt = time.Now()
	if err != nil {
		report.Status = models.RunStatusFailed
		p.recordFinish(ctx, report)
		if p.logger != nil {
			p.logger.Error("ingestion failed", zap.String("run_id", report.RunID), zap.Error(err))
		}
		return nil, report, err
	}
	report.Status = models.RunStatusSucceeded
	p.recordFinish(ctx, report)
	if p.logger != nil {
		p.logger.Info("ingestion finished",
			zap.String("run_id", report.RunID),
			zap.Int("embedded", report.Embedded),
			zap.Int("skipped", report.Skipped),
			zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
	}
	return s, report, nil
}

// Build embeds records without persisting anything. The returned store holds the
// successful records in input order.
func (p *Pipeline) Build(ctx context.Context, records []models.ProductRecord) (*store.Store, *models.IngestReport, error) {
	report := &models.IngestReport{Total: len(records), StartedAt: time.Now()}
	s, err := p.build(ctx, records, report)
	report.FinishedAt = time.Now()
	return s, report, err
}

type outcome struct {
	vec []float32
	err error
}

func (p *Pipeline) build(ctx context.Context, records []models.ProductRecord, report *models.IngestReport) (*store.Store, error) {
	outcomes := make([]outcome, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range records {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := p.embedRecord(gctx, records[i])
			outcomes[i] = outcome{vec: vec, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingestion interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingestion interrupted: %w", err)
	}

	// Stable filter: vectors and products are appended together in input order.
	vectors := make([][]float32, 0, len(records))
	products := make([]models.ProductRecord, 0, len(records))
	for i, o := range outcomes {
		if o.err != nil {
			p.skip(report, i, records[i], o.err)
			continue
		}
		vectors = append(vectors, o.vec)
		products = append(products, records[i])
	}
	report.Embedded = len(products)
	report.Skipped = len(report.Skips)
	p.recordSkips(ctx, report)

	if len(products) == 0 {
		return nil, models.StoreIntegrityError("build store",
			fmt.Errorf("%w (%d skipped)", ErrNothingEmbedded, report.Skipped))
	}
	return store.New(p.embedder.Dimensions(), vectors, products)
}

func (p *Pipeline) embedRecord(ctx context.Context, rec models.ProductRecord) ([]float32, error) {
	if rec.Image == "" {
		return nil, models.FetchError("resolve image", errors.New("record has no image locator"))
	}
	img, err := p.resolver.Fetch(ctx, rec.Image)
	if err != nil {
		if !errors.Is(err, models.ErrFetch) {
			err = models.FetchError("resolve image", err)
		}
		return nil, err
	}
	return embedding.EmbedValidated(ctx, p.embedder, img)
}

func (p *Pipeline) skip(report *models.IngestReport, position int, rec models.ProductRecord, err error) {
	report.Skips = append(report.Skips, models.SkipEvent{
		Position:  position,
		ProductID: rec.ID,
		Image:     rec.Image,
		Reason:    err.Error(),
	})
	if p.logger != nil {
		p.logger.Warn("skipping product",
			zap.Int("position", position),
			zap.String("product_id", rec.ID),
			zap.String("image", rec.Image),
			zap.Error(err))
	}
}

// Ledger writes are best effort: the store is the product, the ledger is bookkeeping.

func (p *Pipeline) recordStart(ctx context.Context, report *models.IngestReport) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.CreateRun(context.WithoutCancel(ctx), report); err != nil {
		p.ledgerFailed("create run", err)
	}
}

func (p *Pipeline) recordSkips(ctx context.Context, report *models.IngestReport) {
	if p.ledger == nil || report.RunID == "" {
		return
	}
	if err := p.ledger.AddSkips(context.WithoutCancel(ctx), report.RunID, report.Skips); err != nil {
		p.ledgerFailed("add skips", err)
	}
}

func (p *Pipeline) recordFinish(ctx context.Context, report *models.IngestReport) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.FinishRun(context.WithoutCancel(ctx), report); err != nil {
		p.ledgerFailed("finish run", err)
	}
}

func (p *Pipeline) ledgerFailed(op string, err error) {
	if p.logger != nil {
		p.logger.Warn("run ledger write failed", zap.String("op", op), zap.Error(err))
	}
}
