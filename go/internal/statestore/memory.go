package statestore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxTransactionRetries = 25

// MemoryBackend is an in-process tree shared by every session it hands out.
// The gateway serves it to browser clients; tests use it directly.
type MemoryBackend struct {
	mu     sync.Mutex
	root   any
	subs   map[uint64]*subscription
	nextID atomic.Uint64
}

// NewMemoryBackend creates an empty tree.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		subs: make(map[uint64]*subscription),
	}
}

// NewSession returns a client session. Closing it applies its disconnect
// hooks and drops its subscriptions.
func (b *MemoryBackend) NewSession(clientID string) Store {
	return &MemorySession{
		backend:  b,
		clientID: clientID,
		subs:     make(map[uint64]*subscription),
	}
}

type write struct {
	segs  []string
	value any
	// ifParent skips the write when the parent node is gone, so a
	// disconnect hook never recreates a removed record.
	ifParent bool
}

// parentExists reports whether the node above segs is present in root.
func parentExists(root any, segs []string) bool {
	if len(segs) == 0 {
		return true
	}
	_, ok := getAt(root, segs[:len(segs)-1])
	return ok
}

// apply runs writes as one unit and notifies overlapping subscriptions.
// Callers hold b.mu.
func (b *MemoryBackend) apply(writes []write) {
	root := b.root
	applied := writes[:0:0]
	for _, w := range writes {
		if w.ifParent && !parentExists(root, w.segs) {
			continue
		}
		applied = append(applied, w)
		if inc, ok := w.value.(Increment); ok {
			cur, _ := getAt(root, w.segs)
			root = setAt(root, w.segs, toNumber(cur)+inc.Delta)
			continue
		}
		root = setAt(root, w.segs, w.value)
	}
	b.root = root

	for _, sub := range b.subs {
		for _, w := range applied {
			if overlaps(sub.segs, w.segs) {
				b.offer(sub)
				break
			}
		}
	}
}

func (b *MemoryBackend) offer(sub *subscription) {
	val, ok := getAt(b.root, sub.segs)
	sub.offer(Snapshot{Path: sub.path, Value: val, Exists: ok})
}

func (b *MemoryBackend) get(segs []string, path string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	val, ok := getAt(b.root, segs)
	return Snapshot{Path: path, Value: val, Exists: ok}
}

// MemorySession is one client's handle on a MemoryBackend.
type MemorySession struct {
	backend  *MemoryBackend
	clientID string

	mu     sync.Mutex
	closed bool
	subs   map[uint64]*subscription
	hooks  []write
}

func (s *MemorySession) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemorySession) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return Snapshot{}, err
	}
	segs, err := SplitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	return s.backend.get(segs, path), nil
}

func (s *MemorySession) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

func (s *MemorySession) Update(ctx context.Context, updates map[string]any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	writes, err := prepareWrites(updates)
	if err != nil {
		return err
	}
	b := s.backend
	b.mu.Lock()
	b.apply(writes)
	b.mu.Unlock()
	return nil
}

func (s *MemorySession) Remove(ctx context.Context, path string) error {
	return s.Update(ctx, map[string]any{path: nil})
}

func (s *MemorySession) Push(ctx context.Context, parent string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if _, err := SplitPath(parent); err != nil {
		return "", err
	}
	return NewKey(), nil
}

// Transaction reads the path, runs fn without holding the tree lock and
// commits only if the value is still the one fn saw.
func (s *MemorySession) Transaction(ctx context.Context, path string, fn TxnFunc) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	b := s.backend
	for attempt := 0; attempt < maxTransactionRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap := b.get(segs, path)
		next, err := fn(snap.Value)
		if err != nil {
			return err
		}
		next, err = Normalize(next)
		if err != nil {
			return err
		}

		b.mu.Lock()
		cur, _ := getAt(b.root, segs)
		if equalValues(cur, snap.Value) {
			b.apply([]write{{segs: segs, value: next}})
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()
		log.Debug().Str("path", path).Int("attempt", attempt+1).Msg("transaction conflict, retrying")
	}
	return ErrConflict
}

func (s *MemorySession) Subscribe(ctx context.Context, path string, fn SubscribeFunc) (func(), error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	b := s.backend
	sub := newSubscription(b.nextID.Add(1), path, segs, fn)
	s.subs[sub.id] = sub
	s.mu.Unlock()

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.offer(sub)
	b.mu.Unlock()

	return func() { s.unsubscribe(sub) }, nil
}

func (s *MemorySession) unsubscribe(sub *subscription) {
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()

	s.backend.mu.Lock()
	delete(s.backend.subs, sub.id)
	s.backend.mu.Unlock()
	sub.stop()
}

func (s *MemorySession) OnDisconnect(ctx context.Context, path string, value any) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	value, err = Normalize(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.hooks = append(s.hooks, write{segs: segs, value: value, ifParent: true})
	return nil
}

// Close applies the registered disconnect hooks as one update and stops all
// subscriptions of the session. A hook whose parent no longer exists is
// dropped. Closing twice is a no-op.
func (s *MemorySession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	hooks := s.hooks
	s.hooks = nil
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	b := s.backend
	b.mu.Lock()
	for id := range subs {
		delete(b.subs, id)
	}
	if len(hooks) > 0 {
		b.apply(hooks)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	if len(hooks) > 0 {
		log.Debug().Str("client_id", s.clientID).Int("hooks", len(hooks)).Msg("applied disconnect hooks")
	}
	return nil
}

func prepareWrites(updates map[string]any) ([]write, error) {
	writes := make([]write, 0, len(updates))
	for path, value := range updates {
		segs, err := SplitPath(path)
		if err != nil {
			return nil, err
		}
		if _, ok := value.(Increment); !ok {
			value, err = Normalize(value)
			if err != nil {
				return nil, err
			}
		}
		writes = append(writes, write{segs: segs, value: value})
	}
	// Parents before children so "a" and "a/b" in one update compose.
	sort.Slice(writes, func(i, j int) bool {
		if len(writes[i].segs) != len(writes[j].segs) {
			return len(writes[i].segs) < len(writes[j].segs)
		}
		return JoinPath(writes[i].segs...) < JoinPath(writes[j].segs...)
	})
	return writes, nil
}

// NewKey returns a fresh time-ordered key suitable for Push.
func NewKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
