package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tracker-api/internal/apperrors"
	"price-tracker-api/internal/logger"
	"price-tracker-api/internal/metrics"
	"price-tracker-api/internal/models"
	"price-tracker-api/internal/validation"
)

type fakeReconciler struct {
	mu   sync.Mutex
	seen []models.Candidate
}

func (f *fakeReconciler) Reconcile(_ context.Context, c models.Candidate) (*models.Product, error) {
	f.mu.Lock()
	f.seen = append(f.seen, c)
	f.mu.Unlock()

	switch {
	case c.Price <= 0:
		return nil, &validation.ValidationError{Field: "price", Message: "must be a positive finite number"}
	case c.Model == "busy":
		return nil, apperrors.ErrDependencyUnavailable
	}
	return &models.Product{ID: "p-" + c.Model}, nil
}

type failingSource struct{ name string }

func (s failingSource) Name() string { return s.name }

func (s failingSource) Search(context.Context, string) ([]models.Candidate, error) {
	return nil, errors.New("upstream timeout")
}

func newTestRunner(rec Reconciler) (*Runner, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewRunner(rec, metrics.New(reg), logger.NewNop(), 2), reg
}

func sourceFailures(t *testing.T, reg *prometheus.Registry, source string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "price_tracker_ingest_source_failures_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "source" && lp.GetValue() == source {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRunner_Run(t *testing.T) {
	rec := &fakeReconciler{}
	runner, _ := newTestRunner(rec)

	sources := []Source{
		StaticSource{SourceName: "shop-a", Candidates: []models.Candidate{
			{Brand: "Apple", Model: "iPhone 15", URL: "https://a.example/1", Price: 900},
			{Brand: "Apple", Model: "iPhone 15", URL: "https://a.example/1", Price: 0},
		}},
		failingSource{name: "shop-b"},
		StaticSource{SourceName: "shop-c", Candidates: []models.Candidate{
			{Brand: "Apple", Model: "iPhone 15", Source: "shop-c", URL: "https://c.example/1", Price: 880},
			{Brand: "Apple", Model: "busy", Source: "shop-c", URL: "https://c.example/2", Price: 10},
		}},
	}

	summary, err := runner.Run(context.Background(), "iphone 15", sources)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Reconciled)
	assert.Equal(t, 2, summary.Rejected)
	assert.Equal(t, []string{"shop-b"}, summary.FailedSources)

	require.Len(t, rec.seen, 4)
	for _, c := range rec.seen {
		assert.NotEmpty(t, c.Source, "source name is filled in from the source")
	}
}

func TestRunner_SourceFailureIsCounted(t *testing.T) {
	rec := &fakeReconciler{}
	runner, reg := newTestRunner(rec)

	summary, err := runner.Run(context.Background(), "q", []Source{failingSource{name: "down"}})
	require.NoError(t, err)
	assert.Equal(t, models.IngestSummary{FailedSources: []string{"down"}}, summary)
	assert.Equal(t, 1.0, sourceFailures(t, reg, "down"))
}

func TestRunner_CancelledContext(t *testing.T) {
	rec := &fakeReconciler{}
	runner, _ := newTestRunner(rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, "q", []Source{StaticSource{SourceName: "a", Candidates: []models.Candidate{{Price: 1}}}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.seen)
}

func TestStaticSource(t *testing.T) {
	s := StaticSource{SourceName: "batch", Candidates: []models.Candidate{{Model: "x"}}}
	assert.Equal(t, "batch", s.Name())
	got, err := s.Search(context.Background(), "ignored")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
