package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/cascade-run/cascade/pkg/errors"
)

const minimalWorkflow = `
name: pipe
steps:
  - name: a
    agent: tier0_emit
`

func writeWorkflow(t *testing.T, dir, file, body string) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFileSourceLoadAndCache(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkflow(t, dir, "pipe.yaml", minimalWorkflow)

	s, err := NewFileSource(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	// Bare name, relative file name, and absolute path all resolve.
	wf, err := s.Load("pipe")
	require.NoError(t, err)
	assert.Equal(t, "pipe", wf.Name)

	again, err := s.Load("pipe.yaml")
	require.NoError(t, err)
	assert.Same(t, wf, again, "cache serves the parsed definition")

	byPath, err := s.Load(path)
	require.NoError(t, err)
	assert.Same(t, wf, byPath)
	assert.True(t, s.Cached(path))
}

func TestFileSourceUnknownWorkflow(t *testing.T) {
	s, err := NewFileSource(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load("ghost")
	var nf *cerrors.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestFileSourceRejectsInvalidDefinition(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "bad.yaml", `
name: bad
steps:
  - name: a
    agent: not_an_agent
`)

	s, err := NewFileSource(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load("bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent")
}

func TestFileSourceInvalidate(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkflow(t, dir, "pipe.yaml", minimalWorkflow)

	s, err := NewFileSource(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	wf1, err := s.Load("pipe")
	require.NoError(t, err)

	s.Invalidate(path)
	assert.False(t, s.Cached(path))

	wf2, err := s.Load("pipe")
	require.NoError(t, err)
	assert.NotSame(t, wf1, wf2, "invalidation forces a re-parse")
}

func TestFileSourceWatcherInvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkflow(t, dir, "pipe.yaml", minimalWorkflow)

	s, err := NewFileSource(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load("pipe")
	require.NoError(t, err)
	require.True(t, s.Cached(path))

	writeWorkflow(t, dir, "pipe.yaml", minimalWorkflow+"version: \"2\"\n")

	assert.Eventually(t, func() bool {
		return !s.Cached(path)
	}, 2*time.Second, 10*time.Millisecond, "file write evicts the cached definition")
}

func TestFileSourceMissingDirectory(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope"), nil)
	var nf *cerrors.NotFoundError
	require.ErrorAs(t, err, &nf)
}
