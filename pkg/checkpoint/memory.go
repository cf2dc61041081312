package checkpoint

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in process memory. Suitable for tests and
// single-run invocations that only need within-process resume.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]*Snapshot
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]*Snapshot)}
}

// Put appends a snapshot for the thread.
func (s *MemoryStore) Put(ctx context.Context, threadID string, state json.RawMessage) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		ThreadID:  threadID,
		Seq:       int64(len(s.threads[threadID]) + 1),
		CreatedAt: time.Now().UTC(),
		State:     append(json.RawMessage(nil), state...),
	}
	s.threads[threadID] = append(s.threads[threadID], snap)
	return snap, nil
}

// Get returns the latest snapshot for the thread, or nil if none exists.
func (s *MemoryStore) Get(ctx context.Context, threadID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.threads[threadID]
	if len(snaps) == 0 {
		return nil, nil
	}
	return snaps[len(snaps)-1], nil
}

// History returns up to limit snapshots for the thread, newest first.
func (s *MemoryStore) History(ctx context.Context, threadID string, limit int) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.threads[threadID]
	out := make([]*Snapshot, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, snaps[i])
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
