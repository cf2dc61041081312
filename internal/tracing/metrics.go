package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine's metric instruments. All record methods are safe
// for concurrent use.
type Metrics struct {
	runsStarted      metric.Int64Counter
	runsCompleted    metric.Int64Counter
	stepDuration     metric.Float64Histogram
	failoverAttempts metric.Int64Counter
	tokensTotal      metric.Int64Counter
}

// NewMetrics registers the instrument set on the given meter provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(tracerName)
	m := &Metrics{}
	var err error

	m.runsStarted, err = meter.Int64Counter(
		"cascade_runs_started_total",
		metric.WithDescription("Workflow runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.runsCompleted, err = meter.Int64Counter(
		"cascade_runs_completed_total",
		metric.WithDescription("Workflow runs completed, labelled by terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.stepDuration, err = meter.Float64Histogram(
		"cascade_step_duration_seconds",
		metric.WithDescription("Step execution duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.failoverAttempts, err = meter.Int64Counter(
		"cascade_model_failover_attempts_total",
		metric.WithDescription("Model candidates tried beyond the first"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.tokensTotal, err = meter.Int64Counter(
		"cascade_tokens_total",
		metric.WithDescription("Tokens consumed, labelled by direction"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RunStarted counts a run start.
func (m *Metrics) RunStarted(ctx context.Context, workflowName string) {
	m.runsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflowName),
	))
}

// RunCompleted counts a run end with its terminal status.
func (m *Metrics) RunCompleted(ctx context.Context, workflowName, status string) {
	m.runsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflowName),
		attribute.String("status", status),
	))
}

// StepCompleted records a step's duration and terminal status.
func (m *Metrics) StepCompleted(ctx context.Context, step, status string, seconds float64) {
	m.stepDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("status", status),
	))
}

// Failover counts extra model attempts on a step.
func (m *Metrics) Failover(ctx context.Context, step string, extraAttempts int) {
	if extraAttempts <= 0 {
		return
	}
	m.failoverAttempts.Add(ctx, int64(extraAttempts), metric.WithAttributes(
		attribute.String("step", step),
	))
}

// Tokens counts token usage for a step.
func (m *Metrics) Tokens(ctx context.Context, step string, input, output int64) {
	if input > 0 {
		m.tokensTotal.Add(ctx, input, metric.WithAttributes(
			attribute.String("step", step),
			attribute.String("direction", "input"),
		))
	}
	if output > 0 {
		m.tokensTotal.Add(ctx, output, metric.WithAttributes(
			attribute.String("step", step),
			attribute.String("direction", "output"),
		))
	}
}
