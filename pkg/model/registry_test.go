package model

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearModelEnv blanks every variable the registry consults so tests control
// availability explicitly.
func clearModelEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY"} {
		t.Setenv(v, "")
	}
	for tier := 1; tier <= MaxTier; tier++ {
		t.Setenv(TierEnvVar(tier), "")
	}
}

func TestProviderTag(t *testing.T) {
	assert.Equal(t, "openai", Provider("openai:gpt-4o"))
	assert.Equal(t, "ollama", Provider("ollama:llama3.2"))
	assert.Equal(t, "", Provider("no-tag"))
}

func TestAvailable(t *testing.T) {
	clearModelEnv(t)
	r := NewRegistry()

	// ollama requires no credentials.
	assert.True(t, r.Available("ollama"))
	assert.False(t, r.Available("openai"))
	assert.False(t, r.Available("unknown"))

	t.Setenv("OPENAI_API_KEY", "sk-test")
	assert.True(t, r.Available("openai"))
}

func TestCandidatesInvalidTier(t *testing.T) {
	r := NewRegistry()
	_, err := r.Candidates(0, Override{}, true)
	require.Error(t, err)
	_, err = r.Candidates(6, Override{}, true)
	require.Error(t, err)
}

func TestCandidatesProbedDefaultMovesToFront(t *testing.T) {
	clearModelEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	r := NewRegistry()
	// Tier 2 chain starts with openai, which is unavailable; the anthropic
	// entry is the probed default and leads.
	got, err := r.Candidates(2, Override{}, true)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "anthropic:claude-3-5-haiku", got[0])
	assert.Contains(t, got, "openai:gpt-4o-mini")
	assert.Contains(t, got, "google:gemini-2.0-flash")
	// anthropic is available, so its backup joins the tail.
	assert.Equal(t, "anthropic:claude-3-5-sonnet", got[len(got)-1])
}

func TestCandidatesOverrideFirst(t *testing.T) {
	clearModelEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	r := NewRegistry()
	got, err := r.Candidates(3, ParseOverride("openai:o3-mini"), true)
	require.NoError(t, err)
	assert.Equal(t, "openai:o3-mini", got[0])
}

func TestCandidatesTierEnvVar(t *testing.T) {
	clearModelEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv(TierEnvVar(3), "openai:gpt-4.1")

	r := NewRegistry()
	got, err := r.Candidates(3, Override{}, true)
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4.1", got[0])

	// A per-step override still outranks the tier variable.
	got, err = r.Candidates(3, ParseOverride("ollama:llama3.2"), true)
	require.NoError(t, err)
	assert.Equal(t, "ollama:llama3.2", got[0])
	assert.Equal(t, "openai:gpt-4.1", got[1])
}

func TestCandidatesFilterKeepsPinnedHead(t *testing.T) {
	clearModelEnv(t)

	r := NewRegistry()
	// No credentials at all: openai is unavailable, but the explicit
	// override stays pinned so the caller can report why it failed.
	got, err := r.Candidates(1, ParseOverride("openai:gpt-4o"), false)
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o", got[0])
	for _, id := range got[1:] {
		assert.True(t, r.Available(Provider(id)), "unpinned candidate %s should be available", id)
	}
	// Only ollama survives the availability filter in the tail.
	assert.Contains(t, got, "ollama:llama3.2")
	assert.NotContains(t, got, "anthropic:claude-3-5-haiku")
}

func TestCandidatesDeDup(t *testing.T) {
	clearModelEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	r := NewRegistry()
	// Override names the same model the chain already leads with.
	got, err := r.Candidates(2, ParseOverride("openai:gpt-4o-mini"), true)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, id := range got {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "candidate %s duplicated", id)
	}
	assert.Equal(t, "openai:gpt-4o-mini", got[0])
}

func TestCandidatesOverrideEnvErrorSurfaces(t *testing.T) {
	clearModelEnv(t)
	t.Setenv("CASCADE_MISSING_MODEL", "")

	r := NewRegistry()
	_, err := r.Candidates(2, ParseOverride("env:CASCADE_MISSING_MODEL"), true)
	require.Error(t, err)
}

type stubBackend struct {
	name string
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return &CompletionResponse{Content: "ok", Model: req.Model}, nil
}

func TestBackendLazyConstructionAndCache(t *testing.T) {
	r := NewRegistry()

	built := 0
	r.RegisterBackendFactory("openai", func(modelID string) (Backend, error) {
		built++
		return &stubBackend{name: "openai"}, nil
	})

	b1, err := r.Backend("openai:gpt-4o")
	require.NoError(t, err)
	b2, err := r.Backend("openai:gpt-4o")
	require.NoError(t, err)
	assert.Same(t, b1, b2)
	assert.Equal(t, 1, built)

	_, err = r.Backend("openai:gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, 2, built)

	_, err = r.Backend("nowhere:model")
	require.Error(t, err)
}

func TestBackendFactoryError(t *testing.T) {
	r := NewRegistry()
	r.RegisterBackendFactory("openai", func(modelID string) (Backend, error) {
		return nil, fmt.Errorf("boom")
	})

	_, err := r.Backend("openai:gpt-4o")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend construction failed")
}
