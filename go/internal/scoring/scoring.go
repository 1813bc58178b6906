// Package scoring holds the fixed scoring rules and the question clock.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mcdev12/triviaroom/go/internal/models"
)

const (
	// PointsPerCorrect is awarded for each correct answer. No partial credit.
	PointsPerCorrect = 10
	// QuestionDuration is how long each question stays open.
	QuestionDuration = 15 * time.Second
)

// TimeRemaining derives the whole seconds left on a question from its shared
// start marker. It never goes below zero.
func TimeRemaining(start, now time.Time, duration time.Duration) int {
	total := int(duration / time.Second)
	if start.IsZero() {
		return total
	}
	elapsed := int(math.Floor(now.Sub(start).Seconds()))
	if elapsed < 0 {
		elapsed = 0
	}
	if remaining := total - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}

// ResponseTime is the whole seconds between the question start and the
// local answer selection.
func ResponseTime(start, selected time.Time) float64 {
	d := selected.Sub(start).Seconds()
	if d < 0 {
		return 0
	}
	return math.Floor(d)
}

// AnswerResult is one answered question.
type AnswerResult struct {
	Correct      bool
	ResponseTime float64
}

// SpeedBonus rewards time saved on correct answers only: each correct answer
// has a budget of the question duration, wrong answers count for nothing.
func SpeedBonus(results []AnswerResult, duration time.Duration) int {
	var correct int
	var used float64
	for _, r := range results {
		if !r.Correct {
			continue
		}
		correct++
		used += r.ResponseTime
	}
	saved := float64(correct)*duration.Seconds() - used
	if saved < 0 {
		return 0
	}
	return int(math.Floor(saved))
}

// Summary is the end-of-game outcome for one player.
type Summary struct {
	Score               int
	CorrectAnswers      int
	TotalQuestions      int
	CorrectResponseTime float64
	SpeedBonus          int
}

// Summarize totals a player's results.
func Summarize(results []AnswerResult, totalQuestions int, duration time.Duration) Summary {
	s := Summary{TotalQuestions: totalQuestions}
	for _, r := range results {
		if r.Correct {
			s.CorrectAnswers++
			s.CorrectResponseTime += r.ResponseTime
		}
	}
	s.Score = s.CorrectAnswers * PointsPerCorrect
	s.SpeedBonus = SpeedBonus(results, duration)
	return s
}

// FromPlayer rebuilds the ordered results of a room player. Questions the
// player answered without a recorded time count as taking the full duration.
func FromPlayer(p *models.Player, duration time.Duration) []AnswerResult {
	if p == nil {
		return nil
	}
	indices := make([]int, 0, len(p.Answers))
	for i := range p.Answers {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	results := make([]AnswerResult, 0, len(indices))
	for _, i := range indices {
		rt, ok := p.ResponseTimes[i]
		if !ok {
			rt = duration.Seconds()
		}
		results = append(results, AnswerResult{Correct: p.Answers[i], ResponseTime: rt})
	}
	return results
}

// XPPolicy decides how a game's outcome converts to ranking XP.
type XPPolicy string

const (
	XPScorePlusSpeedBonus XPPolicy = "score_plus_speed_bonus"
	XPScoreOnly           XPPolicy = "score_only"
)

// ParseXPPolicy parses a policy name. The empty string selects the default.
func ParseXPPolicy(s string) (XPPolicy, error) {
	switch XPPolicy(s) {
	case "", XPScorePlusSpeedBonus:
		return XPScorePlusSpeedBonus, nil
	case XPScoreOnly:
		return XPScoreOnly, nil
	}
	return "", fmt.Errorf("unknown xp policy %q", s)
}

// XP returns the ranking XP for a summary. Solo and multiplayer games use the
// same policy.
func (p XPPolicy) XP(s Summary) int {
	if p == XPScoreOnly {
		return s.Score
	}
	return s.Score + s.SpeedBonus
}

// Record converts a summary into a ranking log entry.
func (p XPPolicy) Record(s Summary, at time.Time) models.GameRecord {
	return models.GameRecord{
		Timestamp:           at.UnixMilli(),
		XPGained:            p.XP(s),
		CorrectAnswers:      s.CorrectAnswers,
		TotalQuestions:      s.TotalQuestions,
		CorrectResponseTime: s.CorrectResponseTime,
	}
}
