package roomsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/room"
	"github.com/mcdev12/triviaroom/go/internal/scoring"
	"github.com/rs/zerolog/log"
)

// DefaultHeartbeatInterval is how often a client refreshes its presence.
const DefaultHeartbeatInterval = 30 * time.Second

// eventBuffer bounds unread transitions per client.
const eventBuffer = 64

var (
	ErrNoActiveQuestion = errors.New("no question is open")
	ErrAlreadyAnswered  = errors.New("question already answered")
	ErrClientStopped    = errors.New("client stopped")
)

// RoomAPI is what a Client needs from the room repository.
type RoomAPI interface {
	Advancer
	OnRoomChange(ctx context.Context, roomID string, fn func(*models.Room)) (func(), error)
	SubmitAnswer(ctx context.Context, roomID string, req room.SubmitAnswerRequest) error
	UpdatePresence(ctx context.Context, roomID, playerID string) error
}

// ClientConfig configures a Client.
type ClientConfig struct {
	RoomID            string
	PlayerID          string
	Policy            CoordinatorPolicy
	QuestionDuration  time.Duration
	AdvanceGrace      time.Duration
	HeartbeatInterval time.Duration
	Clock             clockwork.Clock
}

// AnswerState is the local, optimistic state of the current question.
type AnswerState struct {
	QuestionIndex int
	AnswerID      int64
	Correct       bool
	ResponseTime  float64
}

// Client follows one room for one player. Every snapshot goes through the
// tracker and the coordinator; transitions are published on Events.
type Client struct {
	api    RoomAPI
	cfg    ClientConfig
	clock  clockwork.Clock
	coord  *Coordinator
	events chan Transition

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	submitsWG sync.WaitGroup

	mu          sync.Mutex
	tracker     *Tracker
	room        *models.Room
	answer      *AnswerState
	unsubscribe func()
	stopped     bool
}

// NewClient creates a client. Call Start to begin following the room.
func NewClient(api RoomAPI, cfg ClientConfig) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.QuestionDuration <= 0 {
		cfg.QuestionDuration = scoring.QuestionDuration
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.AdvanceGrace == 0 {
		cfg.AdvanceGrace = DefaultAdvanceGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		api:     api,
		cfg:     cfg,
		clock:   cfg.Clock,
		events:  make(chan Transition, eventBuffer),
		ctx:     ctx,
		cancel:  cancel,
		tracker: NewTracker(cfg.PlayerID),
	}
	c.coord = NewCoordinator(ctx, api, CoordinatorConfig{
		RoomID:   cfg.RoomID,
		PlayerID: cfg.PlayerID,
		Policy:   cfg.Policy,
		Duration: cfg.QuestionDuration,
		Grace:    cfg.AdvanceGrace,
		Clock:    cfg.Clock,
	})
	return c
}

// Events delivers transitions in snapshot order. It is closed by Stop.
func (c *Client) Events() <-chan Transition {
	return c.events
}

// Start subscribes to the room and starts the presence heartbeat.
func (c *Client) Start(ctx context.Context) error {
	unsub, err := c.api.OnRoomChange(ctx, c.cfg.RoomID, c.onSnapshot)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.unsubscribe = unsub
	c.mu.Unlock()

	c.wg.Add(1)
	go c.heartbeat()
	return nil
}

func (c *Client) heartbeat() {
	defer c.wg.Done()
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.api.UpdatePresence(c.ctx, c.cfg.RoomID, c.cfg.PlayerID); err != nil {
				log.Error().Err(err).
					Str("room_id", c.cfg.RoomID).
					Str("player_id", c.cfg.PlayerID).
					Msg("failed to update presence")
			}
		}
	}
}

func (c *Client) onSnapshot(r *models.Room) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.room = r
	transitions := c.tracker.Observe(r)
	for _, tr := range transitions {
		if tr.Kind == TransitionQuestionChanged {
			c.answer = nil
		}
	}
	for _, tr := range transitions {
		// The last slot is kept for the single terminal transition so a
		// forced exit is never dropped behind unread events.
		if !tr.Kind.Terminal() && len(c.events) >= cap(c.events)-1 {
			log.Warn().
				Str("room_id", c.cfg.RoomID).
				Str("transition", tr.Kind.String()).
				Msg("event channel full, dropping transition")
			continue
		}
		c.events <- tr
	}
	terminal := c.tracker.Terminal()
	c.mu.Unlock()

	if terminal {
		c.coord.Cancel()
		return
	}
	c.coord.Observe(r)
}

// Room returns the last received snapshot, nil before the first one or
// after deletion.
func (c *Client) Room() *models.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Answer returns the local answer state of the current question.
func (c *Client) Answer() (AnswerState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answer == nil {
		return AnswerState{}, false
	}
	return *c.answer, true
}

// TimeRemaining is the countdown for the current question.
func (c *Client) TimeRemaining() int {
	c.mu.Lock()
	r := c.room
	c.mu.Unlock()
	if r == nil || r.Status != models.RoomStatusPlaying {
		return 0
	}
	return TimeRemaining(r, c.clock.Now(), c.cfg.QuestionDuration)
}

// SelectAnswer locks the current question locally before anything is sent,
// then submits in the background. Submission errors are logged only; the
// next snapshot is the source of truth.
func (c *Client) SelectAnswer(answerID int64) (AnswerState, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return AnswerState{}, ErrClientStopped
	}
	r := c.room
	if r == nil || r.Status != models.RoomStatusPlaying {
		c.mu.Unlock()
		return AnswerState{}, ErrNoActiveQuestion
	}
	q := r.CurrentGameQuestion()
	if q == nil {
		c.mu.Unlock()
		return AnswerState{}, ErrNoActiveQuestion
	}
	if c.answer != nil {
		c.mu.Unlock()
		return AnswerState{}, ErrAlreadyAnswered
	}
	if p, ok := r.Players[c.cfg.PlayerID]; ok && p.HasAnswered(r.CurrentQuestion) {
		c.mu.Unlock()
		return AnswerState{}, ErrAlreadyAnswered
	}

	start := r.QuestionStartedAt()
	if start.IsZero() {
		start = c.clock.Now()
	}
	state := AnswerState{
		QuestionIndex: r.CurrentQuestion,
		AnswerID:      answerID,
		Correct:       q.IsCorrect(answerID),
		ResponseTime:  scoring.ResponseTime(start, c.clock.Now()),
	}
	c.answer = &state
	c.submitsWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.submitsWG.Done()
		rt := state.ResponseTime
		err := c.api.SubmitAnswer(c.ctx, c.cfg.RoomID, room.SubmitAnswerRequest{
			PlayerID:      c.cfg.PlayerID,
			QuestionIndex: state.QuestionIndex,
			IsCorrect:     state.Correct,
			ResponseTime:  &rt,
		})
		if err != nil {
			log.Error().Err(err).
				Str("room_id", c.cfg.RoomID).
				Str("player_id", c.cfg.PlayerID).
				Int("question", state.QuestionIndex).
				Msg("failed to submit answer")
		}
	}()
	return state, nil
}

// Stop unsubscribes, stops the heartbeat and the coordinator, waits for
// pending submissions and closes Events.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	unsub := c.unsubscribe
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.coord.Cancel()
	c.submitsWG.Wait()
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	close(c.events)
	c.mu.Unlock()
}
