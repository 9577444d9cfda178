package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"price-tracker-api/internal/config"
)

func TestInitTracing_DisabledIsNoop(t *testing.T) {
	tr, err := InitTracing(config.TracingConfig{Enabled: false})
	require.NoError(t, err)

	ctx, span := tr.StartSpan(context.Background(), "catalog.Reconcile", attribute.String("source", "amazon"))
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	assert.NotPanics(t, func() { RecordError(span, errors.New("x")) })
	assert.NoError(t, Shutdown(context.Background()))
}

func TestNilTracer(t *testing.T) {
	var tr *Tracer
	_, span := tr.StartSpan(context.Background(), "x")
	span.End()
}
