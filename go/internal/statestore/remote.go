package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"
)

const remoteReadLimit = 4 << 20

// RemoteStore is a Store served by a gateway over a websocket. Closing it
// (or losing the connection) lets the gateway run this client's disconnect
// hooks.
type RemoteStore struct {
	conn    *websocket.Conn
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	nextID    atomic.Uint64
	nextSubID atomic.Uint64

	mu      sync.Mutex
	closed  bool
	pending map[uint64]chan Message
	subs    map[uint64]*subscription
}

// DialRemote connects to a gateway websocket endpoint such as
// ws://localhost:8080/ws.
func DialRemote(ctx context.Context, url string, timeout time.Duration) (*RemoteStore, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}
	conn.SetReadLimit(remoteReadLimit)

	rctx, cancel := context.WithCancel(context.Background())
	r := &RemoteStore{
		conn:    conn,
		timeout: timeout,
		ctx:     rctx,
		cancel:  cancel,
		pending: make(map[uint64]chan Message),
		subs:    make(map[uint64]*subscription),
	}
	go r.readLoop()
	return r, nil
}

func (r *RemoteStore) readLoop() {
	defer r.shutdown()
	for {
		var msg Message
		if err := wsjson.Read(r.ctx, r.conn, &msg); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && r.ctx.Err() == nil {
				log.Error().Err(err).Msg("remote store connection lost")
			}
			return
		}
		switch msg.Type {
		case MessageReply:
			r.mu.Lock()
			ch, ok := r.pending[msg.ID]
			delete(r.pending, msg.ID)
			r.mu.Unlock()
			if ok {
				ch <- msg
			}
		case MessageSnapshot:
			r.mu.Lock()
			sub, ok := r.subs[msg.SubID]
			r.mu.Unlock()
			if !ok {
				continue
			}
			val, err := DecodeValue(msg.Value)
			if err != nil {
				log.Error().Err(err).Str("path", msg.Path).Msg("failed to decode pushed snapshot")
				continue
			}
			sub.offer(Snapshot{Path: msg.Path, Value: val, Exists: msg.Exists})
		default:
			log.Warn().Str("type", msg.Type).Msg("unknown gateway message type - ignoring")
		}
	}
}

func (r *RemoteStore) shutdown() {
	r.mu.Lock()
	r.closed = true
	pending := r.pending
	r.pending = make(map[uint64]chan Message)
	subs := r.subs
	r.subs = make(map[uint64]*subscription)
	r.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, sub := range subs {
		sub.stop()
	}
}

func (r *RemoteStore) call(ctx context.Context, req Request) (Message, error) {
	req.ID = r.nextID.Add(1)
	ch := make(chan Message, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Message{}, ErrClosed
	}
	r.pending[req.ID] = ch
	r.mu.Unlock()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := wsjson.Write(ctx, r.conn, req); err != nil {
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return Message{}, fmt.Errorf("failed to send %s request: %w", req.Op, err)
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return Message{}, ErrClosed
		}
		if msg.Error != "" {
			return msg, ErrorFor(msg.Code, msg.Error)
		}
		return msg, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return Message{}, ctx.Err()
	}
}

func (r *RemoteStore) Get(ctx context.Context, path string) (Snapshot, error) {
	msg, err := r.call(ctx, Request{Op: OpGet, Path: path})
	if err != nil {
		return Snapshot{}, err
	}
	val, err := DecodeValue(msg.Value)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: path, Value: val, Exists: msg.Exists}, nil
}

func (r *RemoteStore) Set(ctx context.Context, path string, value any) error {
	raw, err := EncodeValue(value)
	if err != nil {
		return err
	}
	_, err = r.call(ctx, Request{Op: OpSet, Path: path, Value: raw})
	return err
}

func (r *RemoteStore) Update(ctx context.Context, updates map[string]any) error {
	wire := make(map[string]json.RawMessage, len(updates))
	for path, value := range updates {
		raw, err := EncodeValue(value)
		if err != nil {
			return err
		}
		wire[path] = raw
	}
	_, err := r.call(ctx, Request{Op: OpUpdate, Updates: wire})
	return err
}

func (r *RemoteStore) Remove(ctx context.Context, path string) error {
	_, err := r.call(ctx, Request{Op: OpRemove, Path: path})
	return err
}

func (r *RemoteStore) Push(ctx context.Context, parent string) (string, error) {
	msg, err := r.call(ctx, Request{Op: OpPush, Path: parent})
	if err != nil {
		return "", err
	}
	return msg.Key, nil
}

// Transaction runs fn locally and commits with compare-and-set on the
// gateway, retrying while other writers get in first.
func (r *RemoteStore) Transaction(ctx context.Context, path string, fn TxnFunc) error {
	for attempt := 0; attempt < maxTransactionRetries; attempt++ {
		snap, err := r.Get(ctx, path)
		if err != nil {
			return err
		}
		next, err := fn(snap.Value)
		if err != nil {
			return err
		}
		expect, err := EncodeValue(snap.Value)
		if err != nil {
			return err
		}
		value, err := EncodeValue(next)
		if err != nil {
			return err
		}
		_, err = r.call(ctx, Request{Op: OpCompareSet, Path: path, Expect: expect, Value: value})
		if errors.Is(err, errMismatch) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (r *RemoteStore) Subscribe(ctx context.Context, path string, fn SubscribeFunc) (func(), error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(r.nextSubID.Add(1), path, segs, fn)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.stop()
		return nil, ErrClosed
	}
	r.subs[sub.id] = sub
	r.mu.Unlock()

	if _, err := r.call(ctx, Request{Op: OpSubscribe, Path: path, SubID: sub.id}); err != nil {
		r.dropSub(sub)
		return nil, err
	}

	return func() {
		r.dropSub(sub)
		ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
		defer cancel()
		if _, err := r.call(ctx, Request{Op: OpUnsubscribe, SubID: sub.id}); err != nil && !errors.Is(err, ErrClosed) {
			log.Warn().Err(err).Str("path", path).Msg("failed to unsubscribe on gateway")
		}
	}, nil
}

func (r *RemoteStore) dropSub(sub *subscription) {
	r.mu.Lock()
	delete(r.subs, sub.id)
	r.mu.Unlock()
	sub.stop()
}

func (r *RemoteStore) OnDisconnect(ctx context.Context, path string, value any) error {
	raw, err := EncodeValue(value)
	if err != nil {
		return err
	}
	_, err = r.call(ctx, Request{Op: OpOnDisconnect, Path: path, Value: raw})
	return err
}

// Close ends the session cleanly; the gateway then applies disconnect hooks.
func (r *RemoteStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	err := r.conn.Close(websocket.StatusNormalClosure, "client closed")
	r.cancel()
	return err
}
