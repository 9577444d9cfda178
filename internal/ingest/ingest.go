// Package ingest fans a query out to candidate sources and reconciles what
// they return.
package ingest

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"price-tracker-api/internal/logger"
	"price-tracker-api/internal/metrics"
	"price-tracker-api/internal/models"
	"price-tracker-api/internal/validation"
)

const defaultConcurrency = 4

// Source yields candidate records for a query.
type Source interface {
	Name() string
	Search(ctx context.Context, query string) ([]models.Candidate, error)
}

// Reconciler merges one candidate into the catalog.
type Reconciler interface {
	Reconcile(ctx context.Context, c models.Candidate) (*models.Product, error)
}

// StaticSource returns a fixed list of candidates regardless of the query.
type StaticSource struct {
	SourceName string
	Candidates []models.Candidate
}

func (s StaticSource) Name() string {
	return s.SourceName
}

func (s StaticSource) Search(_ context.Context, _ string) ([]models.Candidate, error) {
	return s.Candidates, nil
}

type Runner struct {
	reconciler  Reconciler
	metrics     *metrics.Metrics
	logger      logger.Logger
	concurrency int
}

func NewRunner(reconciler Reconciler, m *metrics.Metrics, log logger.Logger, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{
		reconciler:  reconciler,
		metrics:     m,
		logger:      log,
		concurrency: concurrency,
	}
}

// Run searches every source concurrently and reconciles each returned
// candidate. A failing source contributes nothing and is listed in
// FailedSources. A candidate that cannot be reconciled counts as rejected.
// Only cancellation of ctx is returned as an error.
func (r *Runner) Run(ctx context.Context, query string, sources []Source) (models.IngestSummary, error) {
	var (
		mu      sync.Mutex
		summary models.IngestSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, src := range sources {
		src := src
		g.Go(func() error {
			candidates, err := src.Search(gctx, query)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Warn("Ingest source failed",
					logger.String("source", src.Name()),
					logger.Error(err),
				)
				r.metrics.IngestSourceFailures.WithLabelValues(src.Name()).Inc()
				mu.Lock()
				summary.FailedSources = append(summary.FailedSources, src.Name())
				mu.Unlock()
				return nil
			}

			for _, c := range candidates {
				if err := gctx.Err(); err != nil {
					return err
				}
				ok := r.reconcile(gctx, src.Name(), c)
				mu.Lock()
				if ok {
					summary.Reconciled++
				} else {
					summary.Rejected++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	return summary, err
}

func (r *Runner) reconcile(ctx context.Context, source string, c models.Candidate) bool {
	if c.Source == "" {
		c.Source = source
	}
	_, err := r.reconciler.Reconcile(ctx, c)
	if err == nil {
		return true
	}

	var vErr *validation.ValidationError
	if errors.As(err, &vErr) {
		r.logger.Debug("Candidate rejected",
			logger.String("source", source),
			logger.String("field", vErr.Field),
		)
	} else {
		r.logger.Error("Candidate reconciliation failed",
			logger.String("source", source),
			logger.Error(err),
		)
	}
	return false
}
