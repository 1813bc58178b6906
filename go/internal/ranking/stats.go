package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/mcdev12/triviaroom/go/internal/models"
)

// WindowStats aggregates the games of p played at or after now-window. The
// returned entry has no position.
func WindowStats(p *models.WeeklyRankingPlayer, now time.Time, window time.Duration) models.RankingEntry {
	entry := models.RankingEntry{UserID: p.UserID, PlayerName: p.PlayerName}
	cutoff := now.Add(-window).UnixMilli()
	for _, g := range p.Games {
		if g.Timestamp < cutoff {
			continue
		}
		entry.WeeklyXP += g.XPGained
		entry.GamesPlayed++
		entry.TotalCorrect += g.CorrectAnswers
		entry.TotalQuestions += g.TotalQuestions
		entry.TotalResponseTime += g.CorrectResponseTime
	}
	if entry.TotalQuestions > 0 {
		entry.Accuracy = round1(float64(entry.TotalCorrect) / float64(entry.TotalQuestions) * 100)
	}
	if entry.TotalCorrect > 0 {
		entry.AverageSpeed = round1(entry.TotalResponseTime / float64(entry.TotalCorrect))
	}
	return entry
}

// Prune drops games older than now-horizon. It reports whether anything was
// dropped.
func Prune(games []models.GameRecord, now time.Time, horizon time.Duration) ([]models.GameRecord, bool) {
	cutoff := now.Add(-horizon).UnixMilli()
	kept := make([]models.GameRecord, 0, len(games))
	for _, g := range games {
		if g.Timestamp >= cutoff {
			kept = append(kept, g)
		}
	}
	return kept, len(kept) != len(games)
}

// Rank computes the window stats of every player, drops those without
// weekly XP and orders the rest by XP descending, then user id. Positions
// start at 1.
func Rank(players []*models.WeeklyRankingPlayer, now time.Time, window time.Duration) []models.RankingEntry {
	entries := make([]models.RankingEntry, 0, len(players))
	for _, p := range players {
		if p == nil {
			continue
		}
		e := WindowStats(p, now, window)
		if e.WeeklyXP <= 0 {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].WeeklyXP != entries[j].WeeklyXP {
			return entries[i].WeeklyXP > entries[j].WeeklyXP
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Position = i + 1
	}
	return entries
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
