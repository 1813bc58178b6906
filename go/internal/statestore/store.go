// Package statestore is the shared, path-addressed key-value tree every
// game client coordinates through. Values are JSON-like (maps, slices,
// strings, float64 numbers, bools). Writers never see their own write
// through a later read guarantee; subscribers see whole-subtree snapshots.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath is returned for empty segments or unsupported depths.
	ErrInvalidPath = errors.New("invalid path")
	// ErrConflict is returned when a transaction keeps losing the race.
	ErrConflict = errors.New("concurrent modification")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("store session closed")
	// ErrInvalidValue is returned for values that are not JSON encodable.
	ErrInvalidValue = errors.New("invalid value")
)

// Snapshot is the full value of a subtree at one point of the write order.
type Snapshot struct {
	Path   string
	Value  any
	Exists bool
}

// Decode copies the snapshot value into v via its JSON form.
func (s Snapshot) Decode(v any) error {
	data, err := json.Marshal(s.Value)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", s.Path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode snapshot %s: %w", s.Path, err)
	}
	return nil
}

// Increment is an Update value that adds Delta to the current number at the
// path. A missing value counts as zero.
type Increment struct {
	Delta float64
}

// Inc returns an Increment of n.
func Inc(n float64) Increment {
	return Increment{Delta: n}
}

// SubscribeFunc receives snapshots. Calls for one subscription never overlap.
type SubscribeFunc func(Snapshot)

// TxnFunc computes the new value of a path from its current value. Returning
// a nil value deletes the path. A non-nil error aborts the transaction and is
// returned unchanged from Transaction.
type TxnFunc func(current any) (any, error)

// Store is one client's view of the shared tree.
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	Set(ctx context.Context, path string, value any) error
	// Update applies every path in updates as one unit. Values may be
	// Increment or nil (delete).
	Update(ctx context.Context, updates map[string]any) error
	Remove(ctx context.Context, path string) error
	// Push allocates a fresh, time-ordered child key under parent without
	// writing anything.
	Push(ctx context.Context, parent string) (string, error)
	Transaction(ctx context.Context, path string, fn TxnFunc) error
	// Subscribe calls fn with the current value and again after every change
	// of the subtree, including deletion. The returned func unsubscribes.
	Subscribe(ctx context.Context, path string, fn SubscribeFunc) (func(), error)
	// OnDisconnect registers a write applied when this session ends, whether
	// the client closes cleanly or its connection drops. The write is skipped
	// if the parent of path no longer exists at that point.
	OnDisconnect(ctx context.Context, path string, value any) error
	Close() error
}

// Backend hands out client sessions that share one tree.
type Backend interface {
	NewSession(clientID string) Store
}

// Normalize converts v into the JSON-like representation stored in the tree.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return out, nil
}
