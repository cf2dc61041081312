package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/cascade-run/cascade/pkg/workflow"
)

func recordingSink(t *testing.T) (*EventSink, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewEventSink(tp.Tracer("test"), nil), recorder
}

func TestEventSinkSpansPerRun(t *testing.T) {
	sink, recorder := recordingSink(t)

	sink.Emit(workflow.Event{Type: workflow.EventWorkflowStart, Data: map[string]interface{}{
		"workflow": "pipe", "run_id": "r1",
	}})
	sink.Emit(workflow.Event{Type: workflow.EventStepStart, StepName: "a", Data: map[string]interface{}{"iteration": 1}})
	sink.Emit(workflow.Event{Type: workflow.EventStepComplete, StepName: "a", Data: map[string]interface{}{
		"status": "success", "model": "anthropic:m", "duration_ms": int64(1200),
	}})
	sink.Emit(workflow.Event{Type: workflow.EventWorkflowEnd, Data: map[string]interface{}{
		"workflow": "pipe", "run_id": "r1", "status": "success",
	}})

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	step := spans[0]
	assert.Equal(t, "step.a", step.Name())
	root := spans[1]
	assert.Equal(t, "workflow.run", root.Name())

	// The step span nests under the run span.
	assert.Equal(t, root.SpanContext().SpanID(), step.Parent().SpanID())
	assert.Equal(t, codes.Unset, root.Status().Code)
}

func TestEventSinkFailedStepMarksError(t *testing.T) {
	sink, recorder := recordingSink(t)

	sink.Emit(workflow.Event{Type: workflow.EventWorkflowStart, Data: map[string]interface{}{"workflow": "w", "run_id": "r"}})
	sink.Emit(workflow.Event{Type: workflow.EventStepStart, StepName: "a", Data: map[string]interface{}{"iteration": 1}})
	sink.Emit(workflow.Event{Type: workflow.EventStepComplete, StepName: "a", Data: map[string]interface{}{
		"status": "failed", "error": "All model attempts failed",
	}})
	sink.Emit(workflow.Event{Type: workflow.EventWorkflowEnd, Data: map[string]interface{}{"status": "partial"}})

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code, "non-success run marks the root span")
}

func TestEventSinkClosesOrphanedStepSpans(t *testing.T) {
	sink, recorder := recordingSink(t)

	sink.Emit(workflow.Event{Type: workflow.EventWorkflowStart, Data: map[string]interface{}{"workflow": "w", "run_id": "r"}})
	sink.Emit(workflow.Event{Type: workflow.EventStepStart, StepName: "hung", Data: map[string]interface{}{"iteration": 1}})
	// Cancellation: the run ends without a step_complete for "hung".
	sink.Emit(workflow.Event{Type: workflow.EventWorkflowEnd, Data: map[string]interface{}{"status": "failed"}})

	spans := recorder.Ended()
	require.Len(t, spans, 2, "the orphaned step span is closed with the run")
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestEventSinkSkippedStepWithoutStart(t *testing.T) {
	sink, recorder := recordingSink(t)

	sink.Emit(workflow.Event{Type: workflow.EventWorkflowStart, Data: map[string]interface{}{"workflow": "w", "run_id": "r"}})
	// Skips emit only step_complete; no span was opened and none should end.
	sink.Emit(workflow.Event{Type: workflow.EventStepComplete, StepName: "skipped", Data: map[string]interface{}{
		"status": "skipped", "reason": "when condition false",
	}})
	sink.Emit(workflow.Event{Type: workflow.EventWorkflowEnd, Data: map[string]interface{}{"status": "partial"}})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "workflow.run", spans[0].Name())
}

func TestEventSinkStepDurationCoercion(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := NewMetrics(mp)
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	sink := NewEventSink(tp.Tracer("test"), metrics)

	sink.Emit(workflow.Event{Type: workflow.EventWorkflowStart, Data: map[string]interface{}{"workflow": "w", "run_id": "r"}})
	sink.Emit(workflow.Event{Type: workflow.EventStepStart, StepName: "a", Data: map[string]interface{}{"iteration": 1}})
	// Events replayed from a JSONL trace file carry JSON-decoded numbers,
	// so duration_ms is float64 rather than int64.
	sink.Emit(workflow.Event{Type: workflow.EventStepComplete, StepName: "a", Data: map[string]interface{}{
		"status": "success", "duration_ms": float64(1200),
	}})
	sink.Emit(workflow.Event{Type: workflow.EventWorkflowEnd, Data: map[string]interface{}{"status": "success"}})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	hist := stepDurationHistogram(t, rm)
	require.Len(t, hist.DataPoints, 1)
	assert.InDelta(t, 1.2, hist.DataPoints[0].Sum, 1e-9)
}

func stepDurationHistogram(t *testing.T, rm metricdata.ResourceMetrics) metricdata.Histogram[float64] {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cascade_step_duration_seconds" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			return hist
		}
	}
	t.Fatal("cascade_step_duration_seconds not recorded")
	return metricdata.Histogram[float64]{}
}

func TestProviderDisabledByDefault(t *testing.T) {
	t.Setenv(TraceEnvVar, "")
	p, err := NewProviderFromEnv(context.Background(), "test")
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Metrics())
	assert.NotNil(t, p.MetricsHandler())
}

func TestProviderStdoutMode(t *testing.T) {
	p, err := NewProvider(context.Background(), "test", "stdout")
	require.NoError(t, err)
	defer p.Shutdown(context.Background())
	assert.True(t, p.Enabled())
	assert.NotNil(t, p.NewSink())
}
