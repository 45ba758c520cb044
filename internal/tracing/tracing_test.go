package tracing_test

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/storefront-orders/internal/tracing"
)

func TestKafkaHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	headers := tracing.InjectKafkaHeaders(ctx, []kafka.Header{{Key: "x-event-type", Value: []byte("X")}})
	require.Len(t, headers, 2)

	got := trace.SpanContextFromContext(tracing.ExtractKafkaHeaders(context.Background(), headers))
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
	assert.Equal(t, span.SpanContext().TraceID().String(), tracing.TraceID(ctx))
}

func TestTraceIDWithoutSpan(t *testing.T) {
	assert.Empty(t, tracing.TraceID(context.Background()))
}

func TestSetupWithoutExporter(t *testing.T) {
	shutdown, err := tracing.Setup(context.Background(), "test", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
