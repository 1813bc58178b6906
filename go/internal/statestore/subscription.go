package statestore

import "sync"

// subscription delivers snapshots to one SubscribeFunc from its own
// goroutine. Offers are made in write order; if the callback falls behind,
// intermediate snapshots are coalesced and only the latest is delivered.
type subscription struct {
	id   uint64
	path string
	segs []string
	fn   SubscribeFunc

	mu        sync.Mutex
	pending   *Snapshot
	last      any
	delivered bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newSubscription(id uint64, path string, segs []string, fn SubscribeFunc) *subscription {
	s := &subscription{
		id:   id,
		path: path,
		segs: segs,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// offer queues snap unless it equals the last offered value. The first
// offer is always queued.
func (s *subscription) offer(snap Snapshot) {
	s.mu.Lock()
	if s.delivered && equalValues(s.last, snap.Value) {
		s.mu.Unlock()
		return
	}
	s.delivered = true
	s.last = snap.Value
	s.pending = &snap
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			s.mu.Lock()
			snap := s.pending
			s.pending = nil
			s.mu.Unlock()
			if snap == nil {
				continue
			}
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(*snap)
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}
