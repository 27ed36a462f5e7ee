package infrastructure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	ctx = WithTraceID(ctx, "trace-123")
	assert.Equal(t, "trace-123", GetTraceID(ctx))

	t.Run("ensure keeps an existing id", func(t *testing.T) {
		assert.Equal(t, "trace-123", GetTraceID(EnsureTraceID(ctx)))
	})

	t.Run("ensure generates when absent", func(t *testing.T) {
		generated := GetTraceID(EnsureTraceID(context.Background()))
		assert.NotEmpty(t, generated)
	})
}

func TestGenerateTraceID(t *testing.T) {
	a := GenerateTraceID()
	b := GenerateTraceID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
