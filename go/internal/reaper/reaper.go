// Package reaper periodically cleans up abandoned rooms: rooms nobody
// deleted, players whose connection died without firing the disconnect
// hook, and games whose coordinator vanished mid-question.
package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/triviaroom/go/internal/metrics"
	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/room"
	"github.com/mcdev12/triviaroom/go/internal/scoring"
	"github.com/rs/zerolog/log"
)

// RoomStore is the subset of room.Repository the reaper needs.
type RoomStore interface {
	ListRooms(ctx context.Context) (map[string]*models.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
	MarkOffline(ctx context.Context, roomID, playerID string) error
	FinishGame(ctx context.Context, roomID string) error
}

// Config controls sweep cadence and the age thresholds.
type Config struct {
	Interval time.Duration
	// RoomTTL is the maximum age of any room, measured from creation.
	RoomTTL time.Duration
	// FinishedTTL is the age after which finished rooms are removed.
	FinishedTTL time.Duration
	// PresenceTimeout marks players offline when lastSeen is older.
	PresenceTimeout time.Duration
	// StallTimeout is how long past the question deadline a playing room
	// may sit before the reaper finishes it.
	StallTimeout     time.Duration
	QuestionDuration time.Duration
}

// DefaultConfig mirrors the 5 minute sweep and 1 hour room lifetime.
func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Minute,
		RoomTTL:          time.Hour,
		FinishedTTL:      10 * time.Minute,
		PresenceTimeout:  2 * time.Minute,
		StallTimeout:     time.Minute,
		QuestionDuration: scoring.QuestionDuration,
	}
}

// Result counts what one sweep did.
type Result struct {
	Deleted       int
	MarkedOffline int
	Finished      int
}

type Reaper struct {
	rooms   RoomStore
	clock   clockwork.Clock
	cfg     Config
	metrics metrics.Collector
}

func New(rooms RoomStore, clock clockwork.Clock, cfg Config, m metrics.Collector) *Reaper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = metrics.NoOpCollector{}
	}
	if cfg.QuestionDuration <= 0 {
		cfg.QuestionDuration = scoring.QuestionDuration
	}
	return &Reaper{rooms: rooms, clock: clock, cfg: cfg, metrics: m}
}

// Run sweeps every Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	if r.cfg.Interval <= 0 {
		log.Warn().Msg("reaper interval not set, reaper disabled")
		return
	}
	ticker := r.clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.cfg.Interval).Msg("room reaper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room reaper stopped")
			return
		case <-ticker.Chan():
			if _, err := r.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("room sweep failed")
			}
		}
	}
}

// Sweep runs one cleanup pass. Individual write failures are logged and
// skipped; only a failed listing is returned.
func (r *Reaper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	rooms, err := r.rooms.ListRooms(ctx)
	if err != nil {
		return res, err
	}
	now := r.clock.Now()

	for id, rm := range rooms {
		if r.expired(rm, now) {
			if err := r.rooms.DeleteRoom(ctx, id); err != nil {
				log.Error().Err(err).Str("room_id", id).Msg("failed to delete expired room")
				continue
			}
			res.Deleted++
			continue
		}

		if r.stalled(rm, now) {
			if err := r.rooms.FinishGame(ctx, id); err != nil {
				log.Error().Err(err).Str("room_id", id).Msg("failed to finish stalled game")
			} else {
				res.Finished++
			}
		}

		if r.cfg.PresenceTimeout <= 0 {
			continue
		}
		cutoff := now.Add(-r.cfg.PresenceTimeout).UnixMilli()
		for pid, p := range rm.Players {
			if !p.IsOnline || p.LastSeen >= cutoff {
				continue
			}
			if err := r.rooms.MarkOffline(ctx, id, pid); err != nil {
				if !errors.Is(err, room.ErrPlayerNotFound) {
					log.Error().Err(err).Str("room_id", id).Str("player_id", pid).Msg("failed to mark player offline")
				}
				continue
			}
			res.MarkedOffline++
		}
	}

	r.metrics.RecordReaped("deleted", res.Deleted)
	r.metrics.RecordReaped("offline", res.MarkedOffline)
	r.metrics.RecordReaped("finished", res.Finished)
	if res != (Result{}) {
		log.Info().
			Int("deleted", res.Deleted).
			Int("marked_offline", res.MarkedOffline).
			Int("finished", res.Finished).
			Msg("room sweep complete")
	}
	return res, nil
}

func (r *Reaper) expired(rm *models.Room, now time.Time) bool {
	created := time.UnixMilli(rm.CreatedAt)
	if r.cfg.RoomTTL > 0 && now.Sub(created) > r.cfg.RoomTTL {
		return true
	}
	// Finished rooms carry no finish time; the last question start is the
	// closest marker, falling back to creation.
	if rm.Status == models.RoomStatusFinished && r.cfg.FinishedTTL > 0 {
		last := created
		if rm.QuestionStartTime > 0 {
			last = rm.QuestionStartedAt()
		}
		return now.Sub(last) > r.cfg.FinishedTTL
	}
	return false
}

func (r *Reaper) stalled(rm *models.Room, now time.Time) bool {
	if rm.Status != models.RoomStatusPlaying || r.cfg.StallTimeout <= 0 || rm.QuestionStartTime == 0 {
		return false
	}
	deadline := rm.QuestionStartedAt().Add(r.cfg.QuestionDuration + r.cfg.StallTimeout)
	return now.After(deadline)
}
