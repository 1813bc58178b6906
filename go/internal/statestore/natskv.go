package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds connection settings for the JetStream KV backend.
type NATSConfig struct {
	URL           string
	Bucket        string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns the default JetStream KV configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Bucket:        "triviaroom",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBackend stores the tree in a JetStream KeyValue bucket. Every record
// two levels deep (game-rooms/{id}, weekly-ranking/{userId}) is one KV entry
// holding a JSON document, so multi-path updates are atomic per record and
// use the entry revision for compare-and-set.
type NATSBackend struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// ConnectNATS connects to NATS and opens (or creates) the bucket.
func ConnectNATS(ctx context.Context, cfg NATSConfig) (*NATSBackend, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "triviaroom shared state",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open key-value bucket %s: %w", cfg.Bucket, err)
	}

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("connected to JetStream KV")
	return &NATSBackend{nc: nc, kv: kv}, nil
}

// Connected reports whether the NATS connection is up.
func (b *NATSBackend) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Close drains nothing and closes the connection.
func (b *NATSBackend) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

// NewSession returns a session over the bucket. Its disconnect hooks run on
// Close; ungraceful process exits rely on the presence reaper instead.
func (b *NATSBackend) NewSession(clientID string) Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &NATSSession{
		backend:  b,
		clientID: clientID,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[uint64]*natsWatch),
	}
}

// docKey maps a path to its KV key and the remaining in-document path.
func docKey(segs []string) (string, []string, error) {
	if len(segs) < 2 {
		return "", nil, fmt.Errorf("%w: need at least two segments", ErrInvalidPath)
	}
	for _, s := range segs[:2] {
		if strings.ContainsAny(s, ".*> ") {
			return "", nil, fmt.Errorf("%w: %q is not a valid key token", ErrInvalidPath, s)
		}
	}
	return segs[0] + "." + segs[1], segs[2:], nil
}

// collectionFilter is the watch filter for every record under one root.
func collectionFilter(root string) string {
	return root + ".*"
}

func recordID(key string) string {
	if i := strings.IndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return false
}

func decodeDoc(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return doc, nil
}

// NATSSession is one client's handle on a NATSBackend.
type NATSSession struct {
	backend  *NATSBackend
	clientID string
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
	nextID uint64
	subs   map[uint64]*natsWatch
	hooks  map[string]any
}

type natsWatch struct {
	sub     *subscription
	watcher jetstream.KeyWatcher
}

func (s *NATSSession) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *NATSSession) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return Snapshot{}, err
	}
	segs, err := SplitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	if len(segs) == 1 {
		docs, err := s.listCollection(ctx, segs[0])
		if err != nil {
			return Snapshot{}, err
		}
		if len(docs) == 0 {
			return Snapshot{Path: path}, nil
		}
		return Snapshot{Path: path, Value: docs, Exists: true}, nil
	}
	key, rest, err := docKey(segs)
	if err != nil {
		return Snapshot{}, err
	}
	doc, _, err := s.readDoc(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	val, ok := getAt(doc, rest)
	return Snapshot{Path: path, Value: val, Exists: ok}, nil
}

func (s *NATSSession) readDoc(ctx context.Context, key string) (any, uint64, error) {
	entry, err := s.backend.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", key, err)
	}
	doc, err := decodeDoc(entry.Value())
	if err != nil {
		return nil, 0, err
	}
	return doc, entry.Revision(), nil
}

func (s *NATSSession) listCollection(ctx context.Context, root string) (map[string]any, error) {
	w, err := s.backend.kv.Watch(ctx, collectionFilter(root), jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	defer w.Stop()

	docs := make(map[string]any)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			if !ok || entry == nil {
				return docs, nil
			}
			doc, err := decodeDoc(entry.Value())
			if err != nil {
				log.Warn().Err(err).Str("key", entry.Key()).Msg("skipping undecodable record")
				continue
			}
			docs[recordID(entry.Key())] = doc
		}
	}
}

// mutateDoc applies fn to one record with revision-checked writes, retrying
// on conflicts.
func (s *NATSSession) mutateDoc(ctx context.Context, key string, fn func(doc any) (any, error)) error {
	kv := s.backend.kv
	for attempt := 0; attempt < maxTransactionRetries; attempt++ {
		doc, rev, err := s.readDoc(ctx, key)
		if err != nil {
			return err
		}
		next, err := fn(doc)
		if err != nil {
			return err
		}

		switch {
		case next == nil && rev == 0:
			return nil
		case next == nil:
			err = kv.Delete(ctx, key, jetstream.LastRevision(rev))
		default:
			data, mErr := json.Marshal(next)
			if mErr != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, mErr)
			}
			if rev == 0 {
				_, err = kv.Create(ctx, key, data)
			} else {
				_, err = kv.Update(ctx, key, data, rev)
			}
		}
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("write %s: %w", key, err)
		}
		log.Debug().Str("key", key).Int("attempt", attempt+1).Msg("revision conflict, retrying")
	}
	return ErrConflict
}

func (s *NATSSession) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

func (s *NATSSession) Update(ctx context.Context, updates map[string]any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	writes, err := prepareWrites(updates)
	if err != nil {
		return err
	}

	byKey := make(map[string][]write)
	var order []string
	for _, w := range writes {
		if len(w.segs) == 1 {
			if err := s.writeCollection(ctx, w.segs[0], w.value); err != nil {
				return err
			}
			continue
		}
		key, rest, err := docKey(w.segs)
		if err != nil {
			return err
		}
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], write{segs: rest, value: w.value})
	}

	for _, key := range order {
		ws := byKey[key]
		err := s.mutateDoc(ctx, key, func(doc any) (any, error) {
			for _, w := range ws {
				if inc, ok := w.value.(Increment); ok {
					cur, _ := getAt(doc, w.segs)
					doc = setAt(doc, w.segs, toNumber(cur)+inc.Delta)
					continue
				}
				doc = setAt(doc, w.segs, w.value)
			}
			return doc, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// writeCollection replaces every record under root with the children of value.
func (s *NATSSession) writeCollection(ctx context.Context, root string, value any) error {
	existing, err := s.listCollection(ctx, root)
	if err != nil {
		return err
	}
	children, _ := value.(map[string]any)
	for id := range existing {
		if _, keep := children[id]; keep {
			continue
		}
		if err := s.backend.kv.Delete(ctx, root+"."+id); err != nil {
			return fmt.Errorf("delete %s.%s: %w", root, id, err)
		}
	}
	for id, child := range children {
		data, err := json.Marshal(child)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		if _, err := s.backend.kv.Put(ctx, root+"."+id, data); err != nil {
			return fmt.Errorf("put %s.%s: %w", root, id, err)
		}
	}
	return nil
}

func (s *NATSSession) Remove(ctx context.Context, path string) error {
	return s.Update(ctx, map[string]any{path: nil})
}

func (s *NATSSession) Push(ctx context.Context, parent string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if _, err := SplitPath(parent); err != nil {
		return "", err
	}
	return NewKey(), nil
}

func (s *NATSSession) Transaction(ctx context.Context, path string, fn TxnFunc) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	key, rest, err := docKey(segs)
	if err != nil {
		return err
	}
	return s.mutateDoc(ctx, key, func(doc any) (any, error) {
		cur, _ := getAt(doc, rest)
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		next, err = Normalize(next)
		if err != nil {
			return nil, err
		}
		return setAt(doc, rest, next), nil
	})
}

func (s *NATSSession) Subscribe(ctx context.Context, path string, fn SubscribeFunc) (func(), error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	var filter string
	var rest []string
	switch {
	case len(segs) == 1:
		filter = collectionFilter(segs[0])
	default:
		filter, rest, err = docKey(segs)
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	watcher, err := s.backend.kv.Watch(s.ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", filter, err)
	}
	w := &natsWatch{
		sub:     newSubscription(id, path, segs, fn),
		watcher: watcher,
	}

	s.mu.Lock()
	s.subs[id] = w
	s.mu.Unlock()

	go s.pump(w, len(segs) == 1, rest)

	return func() { s.unsubscribe(id) }, nil
}

// pump turns KV watch entries into snapshots. For a collection it keeps the
// current set of records and offers the whole map on every change.
func (s *NATSSession) pump(w *natsWatch, collection bool, rest []string) {
	docs := make(map[string]any)
	var single any
	initialDone := false

	emit := func() {
		if collection {
			if len(docs) == 0 {
				w.sub.offer(Snapshot{Path: w.sub.path})
				return
			}
			cp := make(map[string]any, len(docs))
			for k, v := range docs {
				cp[k] = v
			}
			w.sub.offer(Snapshot{Path: w.sub.path, Value: cp, Exists: true})
			return
		}
		val, ok := getAt(single, rest)
		w.sub.offer(Snapshot{Path: w.sub.path, Value: val, Exists: ok})
	}

	for entry := range w.watcher.Updates() {
		if entry == nil {
			initialDone = true
			emit()
			continue
		}
		var doc any
		if entry.Operation() == jetstream.KeyValuePut {
			var err error
			doc, err = decodeDoc(entry.Value())
			if err != nil {
				log.Warn().Err(err).Str("key", entry.Key()).Msg("skipping undecodable record")
				continue
			}
		}
		if collection {
			if doc == nil {
				delete(docs, recordID(entry.Key()))
			} else {
				docs[recordID(entry.Key())] = doc
			}
		} else {
			single = doc
		}
		if initialDone {
			emit()
		}
	}
}

func (s *NATSSession) unsubscribe(id uint64) {
	s.mu.Lock()
	w, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := w.watcher.Stop(); err != nil {
		log.Debug().Err(err).Msg("failed to stop KV watcher")
	}
	w.sub.stop()
}

func (s *NATSSession) OnDisconnect(ctx context.Context, path string, value any) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	if _, _, err := docKey(segs); err != nil {
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
	if s.hooks == nil {
		s.hooks = make(map[string]any)
	}
	s.hooks[path] = value
	return nil
}

// applyHooks writes disconnect hooks record by record, skipping any hook
// whose parent is no longer in the document.
func (s *NATSSession) applyHooks(ctx context.Context, hooks map[string]any) error {
	byKey := make(map[string][]write)
	for path, value := range hooks {
		segs, err := SplitPath(path)
		if err != nil {
			return err
		}
		key, rest, err := docKey(segs)
		if err != nil {
			return err
		}
		byKey[key] = append(byKey[key], write{segs: rest, value: value, ifParent: true})
	}
	for key, ws := range byKey {
		err := s.mutateDoc(ctx, key, func(doc any) (any, error) {
			if doc == nil {
				return nil, nil
			}
			for _, w := range ws {
				if !parentExists(doc, w.segs) {
					continue
				}
				doc = setAt(doc, w.segs, w.value)
			}
			return doc, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Close applies disconnect hooks and stops all watchers.
func (s *NATSSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	hooks := s.hooks
	s.hooks = nil
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.unsubscribe(id)
	}

	var err error
	if len(hooks) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.applyHooks(ctx, hooks)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("client_id", s.clientID).Msg("failed to apply disconnect hooks")
		}
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return err
}
