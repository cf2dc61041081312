package workflow

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFilterStripsSensitiveFields(t *testing.T) {
	e := Event{
		Type: EventStepComplete,
		Data: map[string]interface{}{
			"status":  "success",
			"outputs": map[string]interface{}{"secret": true},
			"prompt":  "hidden",
		},
	}

	filtered := e.Filter()
	assert.Equal(t, "success", filtered.Data["status"])
	assert.NotContains(t, filtered.Data, "outputs")
	assert.NotContains(t, filtered.Data, "prompt")

	// Original event is untouched.
	assert.Contains(t, e.Data, "outputs")
}

func TestFanoutSink(t *testing.T) {
	a := NewMemorySink()
	b := NewMemorySink()
	f := NewFanoutSink(false, a, b)

	f.Emit(Event{Type: EventStepStart, StepName: "s", Data: map[string]interface{}{
		"iteration": 1,
		"prompt":    "secret",
	}})

	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
	assert.NotContains(t, a.Events()[0].Data, "prompt")

	// Capture mode forwards sensitive fields.
	c := NewMemorySink()
	NewFanoutSink(true, c).Emit(Event{Type: EventStepStart, Data: map[string]interface{}{"prompt": "visible"}})
	assert.Contains(t, c.Events()[0].Data, "prompt")
}

func TestMemorySinkByType(t *testing.T) {
	m := NewMemorySink()
	m.Emit(Event{Type: EventWorkflowStart})
	m.Emit(Event{Type: EventStepComplete, StepName: "a"})
	m.Emit(Event{Type: EventStepComplete, StepName: "b"})
	m.Emit(Event{Type: EventWorkflowEnd})

	completes := m.ByType(EventStepComplete)
	require.Len(t, completes, 2)
	assert.Equal(t, "a", completes[0].StepName)
	assert.Equal(t, "b", completes[1].StepName)
}

func TestFileSinkWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	s, err := NewFileSink(path, nil)
	require.NoError(t, err)

	s.Emit(Event{Type: EventWorkflowStart, Data: map[string]interface{}{"workflow": "w"}})
	s.Emit(Event{Type: EventWorkflowEnd, Data: map[string]interface{}{"status": "success"}})
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines = append(lines, e)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, EventWorkflowStart, lines[0].Type)
	assert.Equal(t, EventWorkflowEnd, lines[1].Type)
}

func TestCaptureSensitiveEnv(t *testing.T) {
	t.Setenv("CASCADE_TRACE_CAPTURE", "")
	assert.False(t, CaptureSensitive())
	t.Setenv("CASCADE_TRACE_CAPTURE", "1")
	assert.True(t, CaptureSensitive())
	t.Setenv("CASCADE_TRACE_CAPTURE", "true")
	assert.True(t, CaptureSensitive())
}
