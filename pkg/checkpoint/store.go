// Package checkpoint provides run-state snapshot stores keyed by thread id.
//
// The executor snapshots run state after each node completion; a resume
// invocation rebuilds state from the latest snapshot and continues from
// non-terminal steps. Snapshots are opaque JSON payloads so the store has no
// dependency on the run-state shape.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"
)

// Snapshot is one persisted run-state capture.
type Snapshot struct {
	// ThreadID scopes the snapshot to one logical run thread.
	ThreadID string `json:"thread_id"`

	// Seq orders snapshots within a thread, starting at 1.
	Seq int64 `json:"seq"`

	// CreatedAt is when the snapshot was persisted.
	CreatedAt time.Time `json:"created_at"`

	// State is the serialized run state.
	State json.RawMessage `json:"state"`
}

// Store persists and retrieves snapshots. Atomicity of Put is the store's
// responsibility. Get returns (nil, nil) when the thread has no snapshot.
type Store interface {
	// Put appends a new snapshot for the thread and returns it with its
	// assigned sequence number.
	Put(ctx context.Context, threadID string, state json.RawMessage) (*Snapshot, error)

	// Get returns the latest snapshot for the thread, or nil if none exists.
	Get(ctx context.Context, threadID string) (*Snapshot, error)

	// History returns up to limit snapshots for the thread, newest first.
	// limit <= 0 means no limit.
	History(ctx context.Context, threadID string, limit int) ([]*Snapshot, error)

	// Close releases store resources.
	Close() error
}
