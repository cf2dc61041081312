package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name string
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake " + f.name }

func (f *fakeTool) Schema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Property{
			"query": {Type: "string", Description: "what to look up"},
		},
		Required: []string{"query"},
	}
}

func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	return &Result{Output: map[string]interface{}{"echo": args["query"]}, Success: true}, nil
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "search"}))

	got, err := r.Get("search")
	require.NoError(t, err)
	assert.Equal(t, "search", got.Name())

	assert.True(t, r.Has("search"))
	assert.False(t, r.Has("nope"))

	_, err = r.Get("nope")
	require.Error(t, err)
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "search"}))
	require.Error(t, r.Register(&fakeTool{name: "search"}))
	require.Error(t, r.Register(nil))
	require.Error(t, r.Register(&fakeTool{name: ""}))
	require.Error(t, r.RegisterForTier(&fakeTool{name: "x"}, 0))
	require.Error(t, r.RegisterForTier(&fakeTool{name: "x"}, 9))
}

func TestForTierSupersets(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterForTier(&fakeTool{name: "read_file"}, 1))
	require.NoError(t, r.RegisterForTier(&fakeTool{name: "http_request"}, 2))
	require.NoError(t, r.RegisterForTier(&fakeTool{name: "shell"}, 4))

	names := func(ts []Tool) []string {
		out := make([]string, len(ts))
		for i, tt := range ts {
			out[i] = tt.Name()
		}
		return out
	}

	assert.Equal(t, []string{"read_file"}, names(r.ForTier(1)))
	assert.Equal(t, []string{"http_request", "read_file"}, names(r.ForTier(2)))
	assert.Equal(t, []string{"http_request", "read_file", "shell"}, names(r.ForTier(5)))

	// Every tier's set contains the tier below it.
	for tier := 2; tier <= 5; tier++ {
		lower := names(r.ForTier(tier - 1))
		higher := names(r.ForTier(tier))
		for _, n := range lower {
			assert.Contains(t, higher, n, "tier %d must include tier %d tools", tier, tier-1)
		}
	}
}

func TestSelectExplicitList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterForTier(&fakeTool{name: "read_file"}, 1))
	require.NoError(t, r.RegisterForTier(&fakeTool{name: "shell"}, 4))

	got, err := r.Select(4, []string{"shell", "read_file"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "shell", got[0].Name())

	// A tier-2 step cannot name a tier-4 tool.
	_, err = r.Select(2, []string{"shell"})
	require.Error(t, err)

	_, err = r.Select(2, []string{"missing"})
	require.Error(t, err)

	// Empty list falls back to the tier subset.
	got, err = r.Select(1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "read_file", got[0].Name())
}

func TestDefsExport(t *testing.T) {
	defs := Defs([]Tool{&fakeTool{name: "search"}})
	require.Len(t, defs, 1)
	assert.Equal(t, "search", defs[0].Name)

	schema := defs[0].InputSchema
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	q, ok := props["query"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "string", q["type"])
	assert.Equal(t, []string{"query"}, schema["required"])
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "search"}))
	require.NoError(t, r.Unregister("search"))
	assert.False(t, r.Has("search"))
	require.Error(t, r.Unregister("search"))
}
