package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracing_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { provider.Shutdown(context.Background()) })

	eng, _, mr := setupTestEngine(t, WithTracer(provider.Tracer("test")))
	ctx := context.Background()

	_, err := eng.ABTest(ctx, admin, "button_color", buttonColor(t))
	require.NoError(t, err)

	_, err = eng.Bingo(ctx, guest, "unknown_conversion")
	require.ErrorIs(t, err, ErrNotFound)

	mr.SetError("ERR store unavailable")
	_, err = eng.ABTest(ctx, admin, "other", nil)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	assert.Equal(t, "engine.ABTest", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	var created bool
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "bingo.created" {
			created = kv.Value.AsBool()
		}
	}
	assert.True(t, created)

	assert.Equal(t, "engine.Bingo", spans[1].Name())
	assert.Equal(t, codes.Unset, spans[1].Status().Code, "not found is not a span error")

	assert.Equal(t, "engine.ABTest", spans[2].Name())
	assert.Equal(t, codes.Error, spans[2].Status().Code)
}
