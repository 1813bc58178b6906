package roomsync

import (
	"testing"
	"time"

	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/scoring"
)

func testRoom(status models.RoomStatus, players map[string]*models.Player) *models.Room {
	return &models.Room{
		Host:       "host",
		Status:     status,
		MaxPlayers: 4,
		Questions:  make([]models.GameQuestion, 3),
		Players:    players,
	}
}

func TestReadyGate(t *testing.T) {
	room := testRoom(models.RoomStatusWaiting, map[string]*models.Player{
		"host":  {Name: "Host", IsReady: true},
		"guest": {Name: "Guest"},
	})
	if AreAllPlayersReady(room) {
		t.Errorf("AreAllPlayersReady with one unready player = true, want false")
	}
	if CanStart(room, "host") {
		t.Errorf("CanStart with one unready player = true, want false")
	}

	room.Players["guest"].IsReady = true
	if !AreAllPlayersReady(room) {
		t.Errorf("AreAllPlayersReady with both ready = false, want true")
	}
	if !CanStart(room, "host") {
		t.Errorf("CanStart for host = false, want true")
	}
	if CanStart(room, "guest") {
		t.Errorf("CanStart for non-host = true, want false")
	}
}

func TestReadyGateNeedsTwoPlayers(t *testing.T) {
	room := testRoom(models.RoomStatusWaiting, map[string]*models.Player{
		"host": {IsReady: true},
	})
	if AreAllPlayersReady(room) {
		t.Errorf("AreAllPlayersReady with a single player = true, want false")
	}
	if AreAllPlayersReady(nil) {
		t.Errorf("AreAllPlayersReady(nil) = true, want false")
	}
}

func TestStandingsAndOnlineCount(t *testing.T) {
	room := testRoom(models.RoomStatusPlaying, map[string]*models.Player{
		"c": {Name: "C", Score: 20, IsOnline: true},
		"a": {Name: "A", Score: 20},
		"b": {Name: "B", Score: 30, IsOnline: true},
	})
	got := Standings(room)
	want := []string{"b", "a", "c"}
	for i, id := range want {
		if got[i].PlayerID != id || got[i].Position != i+1 {
			t.Errorf("standings[%d] = %+v, want %s at %d", i, got[i], id, i+1)
		}
	}
	if n := OnlinePlayerCount(room); n != 2 {
		t.Errorf("OnlinePlayerCount = %d, want 2", n)
	}
}

func TestTimeRemainingFromSharedStart(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	room := testRoom(models.RoomStatusPlaying, nil)
	room.QuestionStartTime = start.UnixMilli()

	// A client that connects 6.5s into the question sees the same countdown
	// as one that has been watching all along.
	if got := TimeRemaining(room, start.Add(6500*time.Millisecond), scoring.QuestionDuration); got != 9 {
		t.Errorf("TimeRemaining = %d, want 9", got)
	}
	if got := TimeRemaining(room, start.Add(time.Hour), scoring.QuestionDuration); got != 0 {
		t.Errorf("TimeRemaining long after start = %d, want 0", got)
	}
}
