// Package ranking keeps each user's log of completed games and derives the
// rolling weekly leaderboard from it on every read.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

var (
	ErrPlayerNotFound = errors.New("ranking player not found")
	ErrInvalidRecord  = errors.New("invalid game record")
)

const (
	DefaultWindow     = 7 * 24 * time.Hour
	DefaultPruneAfter = 14 * 24 * time.Hour
	DefaultTopN       = 50
)

// Repository persists WeeklyRankingPlayer records.
type Repository interface {
	Get(ctx context.Context, userID string) (*models.WeeklyRankingPlayer, error)
	Put(ctx context.Context, p *models.WeeklyRankingPlayer) error
	UpdateName(ctx context.Context, userID, name string) error
	List(ctx context.Context) ([]*models.WeeklyRankingPlayer, error)
	// Watch calls fn after any record changes until the returned func is
	// called.
	Watch(ctx context.Context, fn func()) (func(), error)
}

// Config tunes the aggregator.
type Config struct {
	Window     time.Duration
	PruneAfter time.Duration
	TopN       int
}

// DefaultConfig returns the weekly window with a two week prune horizon.
func DefaultConfig() Config {
	return Config{
		Window:     DefaultWindow,
		PruneAfter: DefaultPruneAfter,
		TopN:       DefaultTopN,
	}
}

// Aggregator records games and computes leaderboards.
type Aggregator struct {
	repo  Repository
	clock clockwork.Clock
	cfg   Config
}

// NewAggregator creates an Aggregator. Zero config values fall back to the
// defaults.
func NewAggregator(repo Repository, clock clockwork.Clock, cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.PruneAfter <= 0 {
		cfg.PruneAfter = def.PruneAfter
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Aggregator{repo: repo, clock: clock, cfg: cfg}
}

// DefaultPlayerName is the name given to a profile created without one:
// "Player" and four digits derived from the user id.
func DefaultPlayerName(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return fmt.Sprintf("Player%d", 1000+h.Sum32()%9000)
}

// GetOrCreateProfile returns the user's record, creating an empty one if
// needed. Stale games are pruned on the way.
func (a *Aggregator) GetOrCreateProfile(ctx context.Context, userID, name string) (*models.WeeklyRankingPlayer, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRecord)
	}
	now := a.clock.Now()
	p, err := a.repo.Get(ctx, userID)
	switch {
	case errors.Is(err, ErrPlayerNotFound):
		if strings.TrimSpace(name) == "" {
			name = DefaultPlayerName(userID)
		}
		p = &models.WeeklyRankingPlayer{
			UserID:      userID,
			PlayerName:  strings.TrimSpace(name),
			Games:       []models.GameRecord{},
			LastUpdated: now.UnixMilli(),
		}
		if err := a.repo.Put(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to create ranking profile: %w", err)
		}
		log.Info().Str("user_id", userID).Msg("created ranking profile")
		return p, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get ranking profile: %w", err)
	}

	if kept, pruned := Prune(p.Games, now, a.cfg.PruneAfter); pruned {
		p.Games = kept
		p.LastUpdated = now.UnixMilli()
		if err := a.repo.Put(ctx, p); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("failed to write pruned ranking profile")
		}
	}
	return p, nil
}

// RecordGame appends one game to the user's log, prunes old games and writes
// the log back. Concurrent writers for the same user are last-write-wins.
func (a *Aggregator) RecordGame(ctx context.Context, userID, name string, rec models.GameRecord) error {
	if rec.CorrectAnswers < 0 || rec.TotalQuestions < 0 || rec.CorrectAnswers > rec.TotalQuestions || rec.XPGained < 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidRecord, rec)
	}
	p, err := a.GetOrCreateProfile(ctx, userID, name)
	if err != nil {
		return err
	}
	now := a.clock.Now()
	if rec.Timestamp == 0 {
		rec.Timestamp = now.UnixMilli()
	}
	p.Games, _ = Prune(append(p.Games, rec), now, a.cfg.PruneAfter)
	p.LastUpdated = now.UnixMilli()
	if err := a.repo.Put(ctx, p); err != nil {
		return fmt.Errorf("failed to record game: %w", err)
	}
	log.Info().
		Str("user_id", userID).
		Int("xp", rec.XPGained).
		Int("correct", rec.CorrectAnswers).
		Int("total", rec.TotalQuestions).
		Msg("recorded game")
	return nil
}

func (a *Aggregator) rankAll(ctx context.Context) ([]models.RankingEntry, error) {
	players, err := a.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranking players: %w", err)
	}
	return Rank(players, a.clock.Now(), a.cfg.Window), nil
}

// Top returns the first n leaderboard entries. n <= 0 uses the configured
// size.
func (a *Aggregator) Top(ctx context.Context, n int) ([]models.RankingEntry, error) {
	if n <= 0 {
		n = a.cfg.TopN
	}
	entries, err := a.rankAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// CurrentPlayerPosition returns the user's entry. Players outside the top N
// are ranked against everyone; players with no games in the window get a
// zero entry placed after every ranked player.
func (a *Aggregator) CurrentPlayerPosition(ctx context.Context, userID string) (models.RankingEntry, error) {
	top, err := a.Top(ctx, a.cfg.TopN)
	if err != nil {
		return models.RankingEntry{}, err
	}
	for _, e := range top {
		if e.UserID == userID {
			return e, nil
		}
	}

	all, err := a.rankAll(ctx)
	if err != nil {
		return models.RankingEntry{}, err
	}
	for _, e := range all {
		if e.UserID == userID {
			return e, nil
		}
	}

	entry := models.RankingEntry{UserID: userID, Position: len(all) + 1}
	if p, err := a.repo.Get(ctx, userID); err == nil {
		entry.PlayerName = p.PlayerName
	} else if !errors.Is(err, ErrPlayerNotFound) {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to load ranking profile name")
	}
	return entry, nil
}

// UpdatePlayerName overwrites the stored display name. Past games are not
// touched.
func (a *Aggregator) UpdatePlayerName(ctx context.Context, userID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}
	if err := a.repo.UpdateName(ctx, userID, name); err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return err
		}
		return fmt.Errorf("failed to update player name: %w", err)
	}
	return nil
}

// OnRankingChange calls fn with the current top entries after every change
// to any ranking record.
func (a *Aggregator) OnRankingChange(ctx context.Context, fn func([]models.RankingEntry)) (func(), error) {
	return a.repo.Watch(ctx, func() {
		top, err := a.Top(ctx, a.cfg.TopN)
		if err != nil {
			log.Error().Err(err).Msg("failed to compute ranking after change")
			return
		}
		fn(top)
	})
}
