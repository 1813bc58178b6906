// Package roomsync is the client side of the room protocol: it turns room
// snapshots into state transitions, derives the question countdown from the
// shared start marker and decides who advances the question cursor.
package roomsync

import (
	"sort"
	"time"

	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/scoring"
)

// MinPlayersToStart is the smallest room that can start a game.
const MinPlayersToStart = 2

// AreAllPlayersReady reports whether the room has enough players and every
// one of them, host included, is ready.
func AreAllPlayersReady(room *models.Room) bool {
	if room == nil || len(room.Players) < MinPlayersToStart {
		return false
	}
	for _, p := range room.Players {
		if p == nil || !p.IsReady {
			return false
		}
	}
	return true
}

// CanStart reports whether playerID may start the game from this snapshot.
// The check is advisory; the store does not enforce it.
func CanStart(room *models.Room, playerID string) bool {
	return room != nil &&
		room.Status == models.RoomStatusWaiting &&
		room.IsHost(playerID) &&
		AreAllPlayersReady(room)
}

// OnlinePlayerCount counts players whose online flag is set.
func OnlinePlayerCount(room *models.Room) int {
	if room == nil {
		return 0
	}
	n := 0
	for _, p := range room.Players {
		if p != nil && p.IsOnline {
			n++
		}
	}
	return n
}

// Standing is one row of a room scoreboard.
type Standing struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	IsOnline bool   `json:"isOnline"`
	Position int    `json:"position"`
}

// Standings ranks the room's players by score, ties broken by player id.
func Standings(room *models.Room) []Standing {
	if room == nil {
		return nil
	}
	out := make([]Standing, 0, len(room.Players))
	for id, p := range room.Players {
		if p == nil {
			continue
		}
		out = append(out, Standing{PlayerID: id, Name: p.Name, Score: p.Score, IsOnline: p.IsOnline})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}

// TimeRemaining is the countdown every client renders for the current
// question, derived from the room's questionStartTime.
func TimeRemaining(room *models.Room, now time.Time, duration time.Duration) int {
	if room == nil {
		return 0
	}
	start := room.QuestionStartedAt()
	if start.IsZero() {
		start = now
	}
	return scoring.TimeRemaining(start, now, duration)
}
