package logger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tracker-api/internal/logger"
)

func TestNew_UsableAtEveryLevel(t *testing.T) {
	l, err := logger.New(logger.Config{Level: "debug", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	l.Debug("debug", logger.String("k", "v"))
	l.Info("info", logger.Int("n", 1))
	l.Warn("warn", logger.Float64("price", 9.99))
	child := l.With(logger.String("component", "test"))
	assert.NotNil(t, child)
	child.Error("error", logger.Bool("ok", false))
}

func TestFromContext(t *testing.T) {
	nop := logger.NewNop()
	ctx := logger.WithContext(context.Background(), nop)
	assert.Same(t, nop, logger.FromContext(ctx))
	assert.NotNil(t, logger.FromContext(context.Background()))
}
