package roomsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/room"
	"github.com/mcdev12/triviaroom/go/internal/statestore"
)

func gameQuestions(n int) []models.GameQuestion {
	qs := make([]models.GameQuestion, n)
	for i := range qs {
		id := int64(i + 1)
		qs[i] = models.GameQuestion{
			Question: models.Question{ID: id, CorrectAnswerID: id * 10},
			Answers: []models.Answer{
				{ID: id * 10, QuestionID: id, IsCorrect: true},
				{ID: id*10 + 1, QuestionID: id},
			},
		}
	}
	return qs
}

func nextEvent(t *testing.T, c *Client, want TransitionKind) Transition {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case tr, ok := <-c.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %v", want)
			}
			if tr.Kind == want {
				return tr
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
			return Transition{}
		}
	}
}

func waitForRoom(t *testing.T, repo *room.Repository, roomID string, cond func(*models.Room) bool) *models.Room {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r, err := repo.GetRoom(context.Background(), roomID)
		if err == nil && cond(r) {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %s never reached the expected state", roomID)
	return nil
}

func TestClientPlaysThroughGame(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	backend := statestore.NewMemoryBackend()

	hostSession := backend.NewSession("host")
	defer hostSession.Close()
	hostRepo := room.NewRepository(hostSession, clock, room.JoinAdvisory)

	guestSession := backend.NewSession("guest")
	defer guestSession.Close()
	guestRepo := room.NewRepository(guestSession, clock, room.JoinAdvisory)

	roomID, err := hostRepo.CreateRoom(ctx, room.CreateRoomRequest{
		HostID:    "host",
		HostName:  "Host",
		Questions: gameQuestions(2),
	})
	if err != nil {
		t.Fatalf("CreateRoom returned error: %v", err)
	}
	if err := guestRepo.JoinRoom(ctx, roomID, "guest", "Guest"); err != nil {
		t.Fatalf("JoinRoom returned error: %v", err)
	}

	host := NewClient(hostRepo, ClientConfig{RoomID: roomID, PlayerID: "host", Clock: clock})
	if err := host.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer host.Stop()

	if _, err := host.SelectAnswer(10); !errors.Is(err, ErrNoActiveQuestion) {
		t.Errorf("SelectAnswer before start error = %v, want ErrNoActiveQuestion", err)
	}

	_ = hostRepo.SetPlayerReady(ctx, roomID, "host", true)
	_ = guestRepo.SetPlayerReady(ctx, roomID, "guest", true)
	r := waitForRoom(t, hostRepo, roomID, func(r *models.Room) bool { return AreAllPlayersReady(r) })
	if !CanStart(r, "host") {
		t.Fatalf("CanStart = false with everyone ready")
	}
	if err := hostRepo.StartGame(ctx, roomID); err != nil {
		t.Fatalf("StartGame returned error: %v", err)
	}
	if tr := nextEvent(t, host, TransitionQuestionChanged); tr.QuestionIndex != 0 {
		t.Fatalf("first question index = %d, want 0", tr.QuestionIndex)
	}

	clock.Advance(3 * time.Second)
	state, err := host.SelectAnswer(10)
	if err != nil {
		t.Fatalf("SelectAnswer returned error: %v", err)
	}
	if !state.Correct || state.ResponseTime != 3 || state.QuestionIndex != 0 {
		t.Errorf("answer state = %+v", state)
	}
	if _, err := host.SelectAnswer(11); !errors.Is(err, ErrAlreadyAnswered) {
		t.Errorf("second SelectAnswer error = %v, want ErrAlreadyAnswered", err)
	}
	waitForRoom(t, hostRepo, roomID, func(r *models.Room) bool {
		return r.Players["host"].Score == 10 && r.Players["host"].CurrentQuestion == 1
	})

	// Waiters: the heartbeat ticker and the question timer.
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(waitCtx, 2); err != nil {
		t.Fatalf("question timer never scheduled: %v", err)
	}
	clock.Advance(13 * time.Second)
	if tr := nextEvent(t, host, TransitionQuestionChanged); tr.QuestionIndex != 1 {
		t.Fatalf("second question index = %d, want 1", tr.QuestionIndex)
	}
	if _, ok := host.Answer(); ok {
		t.Errorf("answer state not reset on question change")
	}
	if got := host.TimeRemaining(); got != 15 {
		t.Errorf("TimeRemaining on new question = %d, want 15", got)
	}

	if err := clock.BlockUntilContext(waitCtx, 2); err != nil {
		t.Fatalf("last question timer never scheduled: %v", err)
	}
	clock.Advance(16 * time.Second)
	nextEvent(t, host, TransitionGameFinished)
}

func TestClientSeesRemovalAndDeletion(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	backend := statestore.NewMemoryBackend()
	s := backend.NewSession("host")
	defer s.Close()
	repo := room.NewRepository(s, clock, room.JoinAdvisory)

	roomID, err := repo.CreateRoom(ctx, room.CreateRoomRequest{HostID: "host", HostName: "Host", Questions: gameQuestions(1)})
	if err != nil {
		t.Fatalf("CreateRoom returned error: %v", err)
	}
	_ = repo.JoinRoom(ctx, roomID, "guest", "Guest")

	guest := NewClient(repo, ClientConfig{RoomID: roomID, PlayerID: "guest", Clock: clock})
	if err := guest.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer guest.Stop()
	waitForRoom(t, repo, roomID, func(*models.Room) bool { return guest.Room() != nil })

	_ = repo.RemovePlayer(ctx, roomID, "guest")
	nextEvent(t, guest, TransitionPlayerRemoved)

	host := NewClient(repo, ClientConfig{RoomID: roomID, PlayerID: "host", Clock: clock})
	if err := host.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer host.Stop()
	waitForRoom(t, repo, roomID, func(*models.Room) bool { return host.Room() != nil })

	_ = repo.DeleteRoom(ctx, roomID)
	nextEvent(t, host, TransitionRoomDeleted)
}

func TestClientKeepsTerminalEventWhenBacklogged(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := room.NewRepository(statestore.NewMemoryBackend().NewSession("alice"), clock, room.JoinAdvisory)
	c := NewClient(repo, ClientConfig{RoomID: "r1", PlayerID: "alice", Clock: clock})
	defer c.Stop()

	// Nobody reads events while the question index keeps moving.
	for i := 0; i < 2*eventBuffer; i++ {
		c.onSnapshot(playingRoom(clock, i, 4*eventBuffer))
	}
	c.onSnapshot(nil)

	var last Transition
	n := 0
	for len(c.events) > 0 {
		last = <-c.events
		n++
	}
	if n != eventBuffer {
		t.Errorf("buffered %d events, want %d", n, eventBuffer)
	}
	if last.Kind != TransitionRoomDeleted {
		t.Errorf("last event = %v, want %v", last.Kind, TransitionRoomDeleted)
	}
}

func TestClientHeartbeatRefreshesPresence(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	backend := statestore.NewMemoryBackend()
	s := backend.NewSession("host")
	defer s.Close()
	repo := room.NewRepository(s, clock, room.JoinAdvisory)

	roomID, _ := repo.CreateRoom(ctx, room.CreateRoomRequest{HostID: "host", HostName: "Host", Questions: gameQuestions(1)})
	_ = repo.SetPlayerOnline(ctx, roomID, "host", false)

	c := NewClient(repo, ClientConfig{RoomID: roomID, PlayerID: "host", Clock: clock})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer c.Stop()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("heartbeat ticker never started: %v", err)
	}
	clock.Advance(DefaultHeartbeatInterval)

	r := waitForRoom(t, repo, roomID, func(r *models.Room) bool { return r.Players["host"].IsOnline })
	if r.Players["host"].LastSeen != clock.Now().UnixMilli() {
		t.Errorf("lastSeen = %d, want %d", r.Players["host"].LastSeen, clock.Now().UnixMilli())
	}
}
