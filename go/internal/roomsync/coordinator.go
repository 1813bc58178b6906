package roomsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultAdvanceGrace is the pause after the countdown reaches zero before
// the coordinator advances.
const DefaultAdvanceGrace = time.Second

// Advancer moves a room forward.
type Advancer interface {
	NextQuestion(ctx context.Context, roomID string) error
	FinishGame(ctx context.Context, roomID string) error
}

// CoordinatorPolicy decides which client advances the question cursor.
type CoordinatorPolicy string

const (
	// PolicyHostOnly lets only the host advance. If the host leaves mid-game
	// the room stalls until the reaper finishes it.
	PolicyHostOnly CoordinatorPolicy = "host_only"
	// PolicyLowestOnline falls back to the online player with the lowest id
	// while the host is offline.
	PolicyLowestOnline CoordinatorPolicy = "lowest_online"
)

// ParseCoordinatorPolicy parses a policy name. The empty string means
// host_only.
func ParseCoordinatorPolicy(s string) (CoordinatorPolicy, error) {
	switch CoordinatorPolicy(s) {
	case "", PolicyHostOnly:
		return PolicyHostOnly, nil
	case PolicyLowestOnline:
		return PolicyLowestOnline, nil
	}
	return "", fmt.Errorf("unknown coordinator policy %q", s)
}

// CoordinatorFor returns the player id responsible for advancing room.
func CoordinatorFor(room *models.Room, policy CoordinatorPolicy) string {
	if room == nil {
		return ""
	}
	if policy != PolicyLowestOnline {
		return room.Host
	}
	if host, ok := room.Players[room.Host]; ok && host != nil && host.IsOnline {
		return room.Host
	}
	ids := make([]string, 0, len(room.Players))
	for id, p := range room.Players {
		if p != nil && p.IsOnline {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return room.Host
	}
	sort.Strings(ids)
	return ids[0]
}

// scheduleKey identifies one question window. A new questionStartTime for
// the same index is a new window.
type scheduleKey struct {
	index int
	start int64
}

type pendingTimer struct {
	timer clockwork.Timer
	stop  chan struct{}
}

// Coordinator runs the question timer for one room on one client. Only the
// responsible client schedules anything; everyone else just observes.
type Coordinator struct {
	roomID   string
	playerID string
	advancer Advancer
	clock    clockwork.Clock
	policy   CoordinatorPolicy
	duration time.Duration
	grace    time.Duration

	mu            sync.Mutex
	ctx           context.Context
	timer         *pendingTimer
	lastScheduled *scheduleKey
	finishSent    bool
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	RoomID   string
	PlayerID string
	Policy   CoordinatorPolicy
	Duration time.Duration
	Grace    time.Duration
	Clock    clockwork.Clock
}

// NewCoordinator creates a coordinator. ctx bounds every timer it starts.
func NewCoordinator(ctx context.Context, advancer Advancer, cfg CoordinatorConfig) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyHostOnly
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	return &Coordinator{
		roomID:   cfg.RoomID,
		playerID: cfg.PlayerID,
		advancer: advancer,
		clock:    cfg.Clock,
		policy:   cfg.Policy,
		duration: cfg.Duration,
		grace:    cfg.Grace,
		ctx:      ctx,
	}
}

// Observe reacts to a room snapshot: it schedules the advance for the
// current question window, or cancels the timer when this client is not
// responsible or the game is not running.
func (c *Coordinator) Observe(room *models.Room) {
	if room == nil || room.Status != models.RoomStatusPlaying {
		c.Cancel()
		return
	}
	if CoordinatorFor(room, c.policy) != c.playerID {
		c.Cancel()
		return
	}

	if room.Exhausted() {
		c.Cancel()
		c.finish("questions exhausted")
		return
	}

	key := scheduleKey{index: room.CurrentQuestion, start: room.QuestionStartTime}

	// Base-time idempotency guard - the same window arrives with every snapshot
	c.mu.Lock()
	if c.lastScheduled != nil && *c.lastScheduled == key {
		c.mu.Unlock()
		return
	}
	c.lastScheduled = &key
	c.mu.Unlock()

	start := room.QuestionStartedAt()
	if start.IsZero() {
		start = c.clock.Now()
	}
	deadline := start.Add(c.duration + c.grace)
	wait := deadline.Sub(c.clock.Now())
	if wait < 0 {
		wait = 0
	}
	last := room.CurrentQuestion+1 >= len(room.Questions)

	pt := &pendingTimer{timer: c.clock.NewTimer(wait), stop: make(chan struct{})}
	c.replaceTimer(pt)

	go func(pt *pendingTimer) {
		select {
		case <-pt.timer.Chan():
			c.removeTimer(pt)
			if last {
				c.finish("last question timed out")
				return
			}
			if err := c.advancer.NextQuestion(c.ctx, c.roomID); err != nil {
				log.Error().Err(err).
					Str("room_id", c.roomID).
					Int("question", key.index).
					Msg("failed to advance question")
				return
			}
			log.Debug().Str("room_id", c.roomID).Int("question", key.index+1).Msg("advanced question")
		case <-pt.stop:
		case <-c.ctx.Done():
			stopAndDrainTimer(pt.timer)
			c.removeTimer(pt)
		}
	}(pt)

	log.Debug().
		Str("room_id", c.roomID).
		Int("question", key.index).
		Time("deadline", deadline).
		Dur("wait", wait).
		Msg("scheduled question timer")
}

func (c *Coordinator) finish(reason string) {
	c.mu.Lock()
	if c.finishSent {
		c.mu.Unlock()
		return
	}
	c.finishSent = true
	c.mu.Unlock()

	if err := c.advancer.FinishGame(c.ctx, c.roomID); err != nil {
		log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to finish game")
		c.mu.Lock()
		c.finishSent = false
		c.mu.Unlock()
		return
	}
	log.Info().Str("room_id", c.roomID).Str("reason", reason).Msg("finished game")
}

// Cancel stops any pending timer.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.cancel()
		c.timer = nil
	}
	c.lastScheduled = nil
}

// replaceTimer swaps in a new timer, stopping the previous one.
func (c *Coordinator) replaceTimer(pt *pendingTimer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.cancel()
		log.Debug().Str("room_id", c.roomID).Msg("replaced existing timer")
	}
	c.timer = pt
}

func (c *Coordinator) removeTimer(pt *pendingTimer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == pt {
		c.timer = nil
	}
}

func (pt *pendingTimer) cancel() {
	stopAndDrainTimer(pt.timer)
	close(pt.stop)
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
