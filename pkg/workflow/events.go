package workflow

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// EventType tags a canonical event.
type EventType string

const (
	EventWorkflowStart EventType = "workflow_start"
	EventWorkflowEnd   EventType = "workflow_end"
	EventStepStart     EventType = "step_start"
	EventStepComplete  EventType = "step_complete"
)

// Event is the trace-sink-neutral record emitted at every lifecycle
// boundary. Exactly one workflow_start and one workflow_end are emitted per
// invocation; every executed step gets a matched step_start/step_complete
// pair, and every cascaded skip gets a single step_complete.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	StepName  string                 `json:"step_name,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Sink is a pure emission target. Implementations must not block the
// executor; buffer or drop internally and log drops.
type Sink interface {
	Emit(event Event)
}

// sensitiveFields are stripped from event data unless capture is enabled.
var sensitiveFields = []string{"inputs", "outputs", "prompt", "response", "content"}

// Filter returns a copy of the event without sensitive data fields. Events
// with no sensitive fields are returned unchanged.
func (e Event) Filter() Event {
	if len(e.Data) == 0 {
		return e
	}
	found := false
	for _, f := range sensitiveFields {
		if _, ok := e.Data[f]; ok {
			found = true
			break
		}
	}
	if !found {
		return e
	}

	data := make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	for _, f := range sensitiveFields {
		delete(data, f)
	}
	e.Data = data
	return e
}

// CaptureSensitive reports whether CASCADE_TRACE_CAPTURE opts in to
// prompt/response content in traces.
func CaptureSensitive() bool {
	v := os.Getenv("CASCADE_TRACE_CAPTURE")
	return v == "1" || v == "true"
}

// NullSink discards every event.
type NullSink struct{}

// Emit discards the event.
func (NullSink) Emit(Event) {}

// FanoutSink forwards each event to every child sink.
type FanoutSink struct {
	sinks   []Sink
	capture bool
}

// NewFanoutSink composes sinks. When capture is false, sensitive fields are
// filtered once before fan-out.
func NewFanoutSink(capture bool, sinks ...Sink) *FanoutSink {
	return &FanoutSink{sinks: sinks, capture: capture}
}

// Emit forwards the event to all children.
func (f *FanoutSink) Emit(event Event) {
	if !f.capture {
		event = event.Filter()
	}
	for _, s := range f.sinks {
		s.Emit(event)
	}
}

// MemorySink buffers events for replay. Safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty replay buffer.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit appends the event to the buffer.
func (m *MemorySink) Emit(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of the buffered events in emission order.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByType returns the buffered events of one type, in emission order.
func (m *MemorySink) ByType(t EventType) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// FileSink appends events as JSON lines. Emission failures are logged and
// dropped; a sink never fails the run.
type FileSink struct {
	mu     sync.Mutex
	f      *os.File
	enc    *json.Encoder
	logger *slog.Logger
}

// NewFileSink opens (appending) a JSONL event file.
func NewFileSink(path string, logger *slog.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{f: f, enc: json.NewEncoder(f), logger: logger}, nil
}

// Emit writes the event as one JSON line.
func (s *FileSink) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(event); err != nil {
		s.logger.Warn("event sink write failed, dropping event",
			"type", string(event.Type),
			"error", err,
		)
	}
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
