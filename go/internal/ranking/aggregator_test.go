package ranking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/statestore"
)

const day = 24 * time.Hour

func newTestAggregator(t *testing.T, topN int) (*Aggregator, *clockwork.FakeClock) {
	t.Helper()
	s := statestore.NewMemoryBackend().NewSession("ranking")
	t.Cleanup(func() { s.Close() })
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	return NewAggregator(NewStoreRepository(s), clock, Config{TopN: topN}), clock
}

func record(at time.Time, xp, correct, total int, rt float64) models.GameRecord {
	return models.GameRecord{
		Timestamp:           at.UnixMilli(),
		XPGained:            xp,
		CorrectAnswers:      correct,
		TotalQuestions:      total,
		CorrectResponseTime: rt,
	}
}

func TestRollingWindowExcludesOldGames(t *testing.T) {
	a, clock := newTestAggregator(t, 0)
	ctx := context.Background()
	now := clock.Now()

	if err := a.RecordGame(ctx, "u1", "Ana", record(now.Add(-8*day), 50, 5, 5, 10)); err != nil {
		t.Fatalf("RecordGame returned error: %v", err)
	}
	if err := a.RecordGame(ctx, "u1", "Ana", record(now.Add(-1*day), 30, 3, 4, 6)); err != nil {
		t.Fatalf("RecordGame returned error: %v", err)
	}

	top, err := a.Top(ctx, 10)
	if err != nil {
		t.Fatalf("Top returned error: %v", err)
	}
	if len(top) != 1 {
		t.Fatalf("len(top) = %d, want 1", len(top))
	}
	e := top[0]
	if e.WeeklyXP != 30 {
		t.Errorf("weeklyXP = %d, want 30", e.WeeklyXP)
	}
	if e.GamesPlayed != 1 || e.Accuracy != 75 || e.AverageSpeed != 2 || e.Position != 1 {
		t.Errorf("entry = %+v", e)
	}

	// A week later the same data decays out of the leaderboard with no write.
	clock.Advance(7 * day)
	top, _ = a.Top(ctx, 10)
	if len(top) != 0 {
		t.Errorf("top after decay = %+v, want empty", top)
	}
}

func TestRecordGamePrunesAfterTwoWeeks(t *testing.T) {
	a, clock := newTestAggregator(t, 0)
	ctx := context.Background()
	now := clock.Now()

	_ = a.RecordGame(ctx, "u1", "Ana", record(now.Add(-15*day), 10, 1, 1, 1))
	_ = a.RecordGame(ctx, "u1", "Ana", record(now.Add(-13*day), 20, 2, 2, 2))
	_ = a.RecordGame(ctx, "u1", "Ana", record(now, 30, 3, 3, 3))

	p, err := a.GetOrCreateProfile(ctx, "u1", "")
	if err != nil {
		t.Fatalf("GetOrCreateProfile returned error: %v", err)
	}
	if len(p.Games) != 2 {
		t.Fatalf("games = %+v, want 2 kept", p.Games)
	}
	for _, g := range p.Games {
		if g.Timestamp < now.Add(-14*day).UnixMilli() {
			t.Errorf("game older than 14 days kept: %+v", g)
		}
	}
}

func TestRankingTiebreakAndTopN(t *testing.T) {
	a, clock := newTestAggregator(t, 2)
	ctx := context.Background()
	now := clock.Now()

	_ = a.RecordGame(ctx, "u3", "C", record(now, 40, 4, 5, 8))
	_ = a.RecordGame(ctx, "u2", "B", record(now, 40, 4, 5, 8))
	_ = a.RecordGame(ctx, "u1", "A", record(now, 10, 1, 5, 8))
	_, _ = a.GetOrCreateProfile(ctx, "u4", "Idle")

	top, err := a.Top(ctx, 0)
	if err != nil {
		t.Fatalf("Top returned error: %v", err)
	}
	if len(top) != 2 || top[0].UserID != "u2" || top[1].UserID != "u3" {
		t.Fatalf("top = %+v, want u2 then u3", top)
	}

	pos, err := a.CurrentPlayerPosition(ctx, "u1")
	if err != nil {
		t.Fatalf("CurrentPlayerPosition returned error: %v", err)
	}
	if pos.Position != 3 || pos.WeeklyXP != 10 {
		t.Errorf("u1 position = %+v, want position 3 with 10 XP", pos)
	}
}

func TestUnrankedPlayerGetsPlaceholder(t *testing.T) {
	a, clock := newTestAggregator(t, 0)
	ctx := context.Background()
	_ = a.RecordGame(ctx, "u1", "A", record(clock.Now(), 10, 1, 1, 1))
	_ = a.RecordGame(ctx, "u2", "B", record(clock.Now(), 20, 2, 2, 2))
	_, _ = a.GetOrCreateProfile(ctx, "idle", "Idle")

	for _, id := range []string{"idle", "never-played"} {
		e, err := a.CurrentPlayerPosition(ctx, id)
		if err != nil {
			t.Fatalf("CurrentPlayerPosition(%s) returned error: %v", id, err)
		}
		if e.Position != 3 || e.WeeklyXP != 0 || e.GamesPlayed != 0 || e.Accuracy != 0 {
			t.Errorf("CurrentPlayerPosition(%s) = %+v, want zero stats at position 3", id, e)
		}
	}
	e, _ := a.CurrentPlayerPosition(ctx, "idle")
	if e.PlayerName != "Idle" {
		t.Errorf("placeholder name = %q, want Idle", e.PlayerName)
	}
}

func TestUpdatePlayerName(t *testing.T) {
	a, clock := newTestAggregator(t, 0)
	ctx := context.Background()
	_ = a.RecordGame(ctx, "u1", "Old", record(clock.Now(), 10, 1, 1, 1))

	if err := a.UpdatePlayerName(ctx, "u1", "New"); err != nil {
		t.Fatalf("UpdatePlayerName returned error: %v", err)
	}
	top, _ := a.Top(ctx, 0)
	if top[0].PlayerName != "New" {
		t.Errorf("name = %q, want New", top[0].PlayerName)
	}
	if err := a.UpdatePlayerName(ctx, "ghost", "X"); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("UpdatePlayerName for missing user error = %v, want ErrPlayerNotFound", err)
	}
}

func TestGetOrCreateProfileDefaultName(t *testing.T) {
	a, _ := newTestAggregator(t, 0)
	p, err := a.GetOrCreateProfile(context.Background(), "user_abc", " ")
	if err != nil {
		t.Fatalf("GetOrCreateProfile returned error: %v", err)
	}
	if p.PlayerName != DefaultPlayerName("user_abc") || len(p.PlayerName) != len("Player0000") {
		t.Errorf("default name = %q", p.PlayerName)
	}
}

func TestRecordGameRejectsInvalidRecord(t *testing.T) {
	a, clock := newTestAggregator(t, 0)
	err := a.RecordGame(context.Background(), "u1", "A", record(clock.Now(), 10, 5, 3, 1))
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("RecordGame error = %v, want ErrInvalidRecord", err)
	}
}

func TestOnRankingChange(t *testing.T) {
	a, clock := newTestAggregator(t, 0)
	ctx := context.Background()

	ch := make(chan []models.RankingEntry, 8)
	unsub, err := a.OnRankingChange(ctx, func(top []models.RankingEntry) { ch <- top })
	if err != nil {
		t.Fatalf("OnRankingChange returned error: %v", err)
	}
	defer unsub()

	_ = a.RecordGame(ctx, "u1", "A", record(clock.Now(), 10, 1, 1, 1))
	deadline := time.After(2 * time.Second)
	for {
		select {
		case top := <-ch:
			if len(top) == 1 && top[0].UserID == "u1" {
				return
			}
		case <-deadline:
			t.Fatalf("no ranking update after RecordGame")
		}
	}
}
