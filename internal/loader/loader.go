// Package loader resolves workflow names to parsed definitions on disk. A
// FileSource caches parsed workflows and invalidates entries when the
// backing file changes, so long-running processes pick up edits without a
// restart.
package loader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cascade-run/cascade/pkg/errors"
	"github.com/cascade-run/cascade/pkg/workflow"
)

// yamlExtensions are the file suffixes a bare workflow name resolves
// against, in probe order.
var yamlExtensions = []string{".yaml", ".yml"}

// FileSource loads workflow definitions from a directory. It implements
// workflow.ConfigSource.
type FileSource struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*workflow.Workflow // keyed by absolute file path

	watcher *fsnotify.Watcher
	doneCh  chan struct{}
}

// NewFileSource creates a source rooted at dir and starts watching it for
// changes. Pass "." to serve workflows relative to the working directory.
func NewFileSource(dir string, logger *slog.Logger) (*FileSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workflow dir: %w", err)
	}
	if info, err := os.Stat(absDir); err != nil {
		return nil, &errors.NotFoundError{Resource: "workflow directory", ID: dir}
	} else if !info.IsDir() {
		return nil, &errors.ConfigError{Key: "workflow_dir", Reason: fmt.Sprintf("%s is not a directory", dir)}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(absDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", absDir, err)
	}

	s := &FileSource{
		dir:     absDir,
		logger:  logger.With(slog.String("component", "loader"), slog.String("dir", absDir)),
		cache:   make(map[string]*workflow.Workflow),
		watcher: fsw,
		doneCh:  make(chan struct{}),
	}
	go s.watchLoop()
	return s, nil
}

// Load resolves name to a workflow definition. Name may be a bare workflow
// name (resolved as <dir>/<name>.yaml), a relative path, or an absolute
// path. Parsed definitions are cached until the file changes.
func (s *FileSource) Load(name string) (*workflow.Workflow, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	wf, ok := s.cache[path]
	s.mu.RUnlock()
	if ok {
		return wf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: name}
	}
	wf, err = workflow.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}

	s.mu.Lock()
	s.cache[path] = wf
	s.mu.Unlock()

	s.logger.Debug("workflow loaded", slog.String("workflow", wf.Name), slog.String("path", path))
	return wf, nil
}

// Invalidate drops the cached entry for path. The next Load re-reads the
// file.
func (s *FileSource) Invalidate(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	s.mu.Lock()
	_, had := s.cache[abs]
	delete(s.cache, abs)
	s.mu.Unlock()
	if had {
		s.logger.Info("workflow cache invalidated", slog.String("path", abs))
	}
}

// Cached reports whether path currently has a cached definition.
func (s *FileSource) Cached(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[abs]
	return ok
}

// Close stops the watcher. Cached entries remain readable.
func (s *FileSource) Close() error {
	err := s.watcher.Close()
	<-s.doneCh
	return err
}

// resolve maps a workflow name onto an existing file path.
func (s *FileSource) resolve(name string) (string, error) {
	candidates := []string{name}
	if !filepath.IsAbs(name) {
		candidates = append(candidates, filepath.Join(s.dir, name))
	}
	if !hasYAMLExtension(name) {
		for _, ext := range yamlExtensions {
			candidates = append(candidates, filepath.Join(s.dir, name+ext))
		}
	}
	for _, c := range candidates {
		abs, err := filepath.Abs(c)
		if err != nil {
			continue
		}
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			return abs, nil
		}
	}
	return "", &errors.NotFoundError{Resource: "workflow", ID: name}
}

func hasYAMLExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// watchLoop invalidates cache entries as their files change. The loop exits
// when the watcher closes.
func (s *FileSource) watchLoop() {
	defer close(s.doneCh)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.Invalidate(event.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("file watcher error", slog.Any("error", err))
		}
	}
}
