package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cascade-run/cascade/pkg/workflow"
)

// EventSink converts canonical run events into OpenTelemetry spans and
// metric samples. It implements workflow.Sink. One sink serves one run: the
// workflow_start event opens the root span and step spans nest under it.
type EventSink struct {
	tracer  trace.Tracer
	metrics *Metrics

	mu        sync.Mutex
	runCtx    context.Context
	runSpan   trace.Span
	stepSpans map[string]trace.Span
	workflow  string
}

// NewEventSink builds a sink on an explicit tracer. Metrics may be nil.
func NewEventSink(tracer trace.Tracer, metrics *Metrics) *EventSink {
	return &EventSink{
		tracer:    tracer,
		metrics:   metrics,
		stepSpans: make(map[string]trace.Span),
	}
}

// NewSink builds an event sink on the provider's tracer and metrics.
func (p *Provider) NewSink() *EventSink {
	return NewEventSink(p.Tracer(), p.Metrics())
}

// Emit translates one event. Unknown event types are ignored.
func (s *EventSink) Emit(event workflow.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Type {
	case workflow.EventWorkflowStart:
		s.workflow = str(event.Data["workflow"])
		s.runCtx, s.runSpan = s.tracer.Start(context.Background(), "workflow.run",
			trace.WithAttributes(
				attribute.String("workflow.name", s.workflow),
				attribute.String("workflow.run_id", str(event.Data["run_id"])),
			))
		if s.metrics != nil {
			s.metrics.RunStarted(s.runCtx, s.workflow)
		}

	case workflow.EventStepStart:
		parent := s.runCtx
		if parent == nil {
			parent = context.Background()
		}
		_, span := s.tracer.Start(parent, "step."+event.StepName,
			trace.WithAttributes(
				attribute.String("step.name", event.StepName),
				attribute.Int("step.iteration", intOf(event.Data["iteration"])),
			))
		s.stepSpans[event.StepName] = span

	case workflow.EventStepComplete:
		status := str(event.Data["status"])
		span, started := s.stepSpans[event.StepName]
		if started {
			delete(s.stepSpans, event.StepName)
			span.SetAttributes(attribute.String("step.status", status))
			if model := str(event.Data["model"]); model != "" {
				span.SetAttributes(attribute.String("step.model", model))
			}
			if errMsg := str(event.Data["error"]); errMsg != "" {
				span.SetStatus(codes.Error, errMsg)
			}
			span.End()
		}
		if s.metrics != nil {
			ctx := s.runCtx
			if ctx == nil {
				ctx = context.Background()
			}
			// duration_ms arrives as int64 in-process but float64 once
			// round-tripped through a JSONL trace file.
			seconds := float64(intOf(event.Data["duration_ms"])) / 1000
			s.metrics.StepCompleted(ctx, event.StepName, status, seconds)
		}

	case workflow.EventWorkflowEnd:
		// Steps cut short by cancellation may never see a complete
		// event; close their spans before the root.
		for name, span := range s.stepSpans {
			span.SetStatus(codes.Error, "run ended before step completed")
			span.End()
			delete(s.stepSpans, name)
		}
		if s.runSpan != nil {
			status := str(event.Data["status"])
			s.runSpan.SetAttributes(attribute.String("workflow.status", status))
			if status != string(workflow.RunSuccess) {
				s.runSpan.SetStatus(codes.Error, "run finished "+status)
			}
			s.runSpan.End()
			if s.metrics != nil {
				s.metrics.RunCompleted(s.runCtx, s.workflow, status)
			}
			s.runSpan = nil
			s.runCtx = nil
		}
	}
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func intOf(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
