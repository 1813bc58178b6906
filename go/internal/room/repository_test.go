package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/statestore"
)

func testQuestions(n int) []models.GameQuestion {
	qs := make([]models.GameQuestion, n)
	for i := range qs {
		id := int64(i + 1)
		qs[i] = models.GameQuestion{
			Question: models.Question{ID: id, Text: "Q", CorrectAnswerID: id * 10},
			Answers: []models.Answer{
				{ID: id * 10, QuestionID: id, Text: "right", IsCorrect: true},
				{ID: id*10 + 1, QuestionID: id, Text: "wrong"},
			},
		}
	}
	return qs
}

func newTestRepo(t *testing.T, b *statestore.MemoryBackend, clientID string, policy JoinPolicy) *Repository {
	t.Helper()
	s := b.NewSession(clientID)
	t.Cleanup(func() { s.Close() })
	return NewRepository(s, clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000)), policy)
}

func createRoom(t *testing.T, repo *Repository, maxPlayers, questions int) string {
	t.Helper()
	id, err := repo.CreateRoom(context.Background(), CreateRoomRequest{
		HostID:     "host",
		HostName:   "Host",
		Questions:  testQuestions(questions),
		MaxPlayers: maxPlayers,
	})
	if err != nil {
		t.Fatalf("CreateRoom returned error: %v", err)
	}
	return id
}

func TestCreateRoomWritesWaitingRoomWithHost(t *testing.T) {
	repo := newTestRepo(t, statestore.NewMemoryBackend(), "host", JoinAdvisory)
	id := createRoom(t, repo, 4, 3)

	room, err := repo.GetRoom(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRoom returned error: %v", err)
	}
	if room.Status != models.RoomStatusWaiting {
		t.Errorf("status = %q, want waiting", room.Status)
	}
	if room.CurrentQuestion != 0 || len(room.Questions) != 3 || room.MaxPlayers != 4 {
		t.Errorf("unexpected room %+v", room)
	}
	host, ok := room.Players["host"]
	if !ok {
		t.Fatalf("host missing from players")
	}
	if host.Score != 0 || host.IsReady || !host.IsOnline {
		t.Errorf("unexpected host entry %+v", host)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	repo := newTestRepo(t, statestore.NewMemoryBackend(), "host", JoinAdvisory)
	ctx := context.Background()

	cases := []CreateRoomRequest{
		{HostName: "Host", Questions: testQuestions(1)},
		{HostID: "h", HostName: "  ", Questions: testQuestions(1)},
		{HostID: "h", HostName: "Host"},
		{HostID: "h", HostName: "Host", Questions: testQuestions(1), MaxPlayers: 1},
		{HostID: "h", HostName: "abcdefghijklmnopqrstuvwxyz012345", Questions: testQuestions(1)},
	}
	for i, req := range cases {
		if _, err := repo.CreateRoom(ctx, req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("case %d: error = %v, want ErrInvalidRequest", i, err)
		}
	}
}

func TestStoreUnavailable(t *testing.T) {
	repo := NewRepository(nil, nil, "")
	ctx := context.Background()

	if _, err := repo.CreateRoom(ctx, CreateRoomRequest{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("CreateRoom error = %v, want ErrStoreUnavailable", err)
	}
	if err := repo.JoinRoom(ctx, "r", "p", "P"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("JoinRoom error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := repo.OnRoomChange(ctx, "r", func(*models.Room) {}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("OnRoomChange error = %v, want ErrStoreUnavailable", err)
	}
}

func TestJoinRoomGating(t *testing.T) {
	for _, policy := range []JoinPolicy{JoinAdvisory, JoinStrict} {
		t.Run(string(policy), func(t *testing.T) {
			b := statestore.NewMemoryBackend()
			repo := newTestRepo(t, b, "host", policy)
			ctx := context.Background()
			id := createRoom(t, repo, 2, 2)

			if err := repo.JoinRoom(ctx, "missing", "p2", "Two"); !errors.Is(err, ErrRoomNotFound) {
				t.Errorf("join missing room error = %v, want ErrRoomNotFound", err)
			}
			if err := repo.JoinRoom(ctx, id, "p2", "Two"); err != nil {
				t.Fatalf("JoinRoom returned error: %v", err)
			}
			if err := repo.JoinRoom(ctx, id, "p3", "Three"); !errors.Is(err, ErrRoomFull) {
				t.Errorf("third join error = %v, want ErrRoomFull", err)
			}
			// A member rejoining is not blocked by capacity.
			if err := repo.JoinRoom(ctx, id, "p2", "Two again"); err != nil {
				t.Errorf("rejoin returned error: %v", err)
			}

			if err := repo.StartGame(ctx, id); err != nil {
				t.Fatalf("StartGame returned error: %v", err)
			}
			_ = repo.RemovePlayer(ctx, id, "p2")
			if err := repo.JoinRoom(ctx, id, "p4", "Four"); !errors.Is(err, ErrRoomAlreadyStarted) {
				t.Errorf("join started room error = %v, want ErrRoomAlreadyStarted", err)
			}
		})
	}
}

func TestStrictJoinClosesCapacityRace(t *testing.T) {
	b := statestore.NewMemoryBackend()
	host := newTestRepo(t, b, "host", JoinStrict)
	id := createRoom(t, host, 3, 1)

	const joiners = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	var joined, full int
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			repo := NewRepository(b.NewSession("p"), nil, JoinStrict)
			err := repo.JoinRoom(context.Background(), id, "p"+string(rune('a'+i)), "P")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, ErrRoomFull):
				full++
			default:
				t.Errorf("JoinRoom returned error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if joined != 2 || full != joiners-2 {
		t.Errorf("joined = %d, full = %d; want 2 and %d", joined, full, joiners-2)
	}
	room, _ := host.GetRoom(context.Background(), id)
	if len(room.Players) != 3 {
		t.Errorf("players = %d, want 3", len(room.Players))
	}
}

func TestSubmitAnswerKeepsAnswersInStepWithCursor(t *testing.T) {
	b := statestore.NewMemoryBackend()
	repo := newTestRepo(t, b, "host", JoinAdvisory)
	ctx := context.Background()
	id := createRoom(t, repo, 2, 4)

	rt := 4.0
	if err := repo.SubmitAnswer(ctx, id, SubmitAnswerRequest{PlayerID: "host", QuestionIndex: 0, IsCorrect: true, ResponseTime: &rt}); err != nil {
		t.Fatalf("SubmitAnswer returned error: %v", err)
	}
	// Question 1 was missed; answering question 2 backfills it as wrong.
	if err := repo.SubmitAnswer(ctx, id, SubmitAnswerRequest{PlayerID: "host", QuestionIndex: 2, IsCorrect: true}); err != nil {
		t.Fatalf("SubmitAnswer returned error: %v", err)
	}
	if err := repo.SubmitAnswer(ctx, id, SubmitAnswerRequest{PlayerID: "host", QuestionIndex: 2, IsCorrect: true}); !errors.Is(err, ErrAnswerAlreadySubmitted) {
		t.Errorf("duplicate submit error = %v, want ErrAnswerAlreadySubmitted", err)
	}
	if err := repo.SubmitAnswer(ctx, id, SubmitAnswerRequest{PlayerID: "ghost", QuestionIndex: 0}); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("unknown player submit error = %v, want ErrPlayerNotFound", err)
	}

	room, err := repo.GetRoom(ctx, id)
	if err != nil {
		t.Fatalf("GetRoom returned error: %v", err)
	}
	p := room.Players["host"]
	if len(p.Answers) != p.CurrentQuestion {
		t.Errorf("len(answers) = %d, currentQuestion = %d", len(p.Answers), p.CurrentQuestion)
	}
	if p.CurrentQuestion != 3 {
		t.Errorf("currentQuestion = %d, want 3", p.CurrentQuestion)
	}
	if p.Score != 20 {
		t.Errorf("score = %d, want 20", p.Score)
	}
	if p.Answers[1] {
		t.Errorf("answers[1] = true, want false")
	}
	if p.ResponseTimes[0] != 4 || p.TotalResponseTime != 4 {
		t.Errorf("response times = %v total %v, want 4", p.ResponseTimes, p.TotalResponseTime)
	}
}

func TestSubmitAnswerRejectsIndexPastLastQuestion(t *testing.T) {
	repo := newTestRepo(t, statestore.NewMemoryBackend(), "host", JoinAdvisory)
	ctx := context.Background()
	id := createRoom(t, repo, 2, 3)

	for _, idx := range []int{3, 1_000_000_000} {
		err := repo.SubmitAnswer(ctx, id, SubmitAnswerRequest{PlayerID: "host", QuestionIndex: idx, IsCorrect: true})
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("SubmitAnswer(%d) error = %v, want ErrInvalidRequest", idx, err)
		}
	}
	room, _ := repo.GetRoom(ctx, id)
	p := room.Players["host"]
	if p.CurrentQuestion != 0 || len(p.Answers) != 0 || p.Score != 0 {
		t.Errorf("rejected answers changed player: %+v", p)
	}
}

func TestClaimResultOnlyOnce(t *testing.T) {
	repo := newTestRepo(t, statestore.NewMemoryBackend(), "host", JoinAdvisory)
	ctx := context.Background()
	id := createRoom(t, repo, 2, 1)

	if _, err := repo.ClaimResult(ctx, id, "host"); !errors.Is(err, ErrGameNotFinished) {
		t.Fatalf("ClaimResult before finish error = %v, want ErrGameNotFinished", err)
	}
	_ = repo.FinishGame(ctx, id)

	if _, err := repo.ClaimResult(ctx, id, "ghost"); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("ClaimResult(ghost) error = %v, want ErrPlayerNotFound", err)
	}
	claimed, err := repo.ClaimResult(ctx, id, "host")
	if err != nil {
		t.Fatalf("ClaimResult returned error: %v", err)
	}
	if claimed.Players["host"].Name != "Host" {
		t.Errorf("claimed room player = %+v", claimed.Players["host"])
	}
	if _, err := repo.ClaimResult(ctx, id, "host"); !errors.Is(err, ErrAlreadyRecorded) {
		t.Errorf("second ClaimResult error = %v, want ErrAlreadyRecorded", err)
	}

	if err := repo.ReleaseResult(ctx, id, "host"); err != nil {
		t.Fatalf("ReleaseResult returned error: %v", err)
	}
	if _, err := repo.ClaimResult(ctx, id, "host"); err != nil {
		t.Errorf("ClaimResult after release returned error: %v", err)
	}
}

func TestFinishGameIsIdempotent(t *testing.T) {
	repo := newTestRepo(t, statestore.NewMemoryBackend(), "host", JoinAdvisory)
	ctx := context.Background()
	id := createRoom(t, repo, 2, 1)

	for i := 0; i < 2; i++ {
		if err := repo.FinishGame(ctx, id); err != nil {
			t.Fatalf("FinishGame #%d returned error: %v", i+1, err)
		}
	}
	room, _ := repo.GetRoom(ctx, id)
	if room.Status != models.RoomStatusFinished {
		t.Errorf("status = %q, want finished", room.Status)
	}
}

func TestNextQuestionAdvancesCursorAndClock(t *testing.T) {
	b := statestore.NewMemoryBackend()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	s := b.NewSession("host")
	defer s.Close()
	repo := NewRepository(s, clock, JoinAdvisory)
	ctx := context.Background()
	id := createRoom(t, repo, 2, 3)

	_ = repo.StartGame(ctx, id)
	clock.Advance(16 * time.Second)
	if err := repo.NextQuestion(ctx, id); err != nil {
		t.Fatalf("NextQuestion returned error: %v", err)
	}
	room, _ := repo.GetRoom(ctx, id)
	if room.CurrentQuestion != 1 {
		t.Errorf("currentQuestion = %d, want 1", room.CurrentQuestion)
	}
	if room.QuestionStartTime != clock.Now().UnixMilli() {
		t.Errorf("questionStartTime = %d, want %d", room.QuestionStartTime, clock.Now().UnixMilli())
	}
	if room.Status != models.RoomStatusPlaying {
		t.Errorf("status = %q, want playing", room.Status)
	}
}

func TestOnRoomChangeReportsDeletion(t *testing.T) {
	b := statestore.NewMemoryBackend()
	repo := newTestRepo(t, b, "host", JoinAdvisory)
	ctx := context.Background()
	id := createRoom(t, repo, 2, 1)

	ch := make(chan *models.Room, 8)
	unsub, err := repo.OnRoomChange(ctx, id, func(r *models.Room) { ch <- r })
	if err != nil {
		t.Fatalf("OnRoomChange returned error: %v", err)
	}
	defer unsub()

	select {
	case r := <-ch:
		if r == nil || r.Host != "host" {
			t.Fatalf("initial snapshot = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no initial snapshot")
	}

	if err := repo.DeleteRoom(ctx, id); err != nil {
		t.Fatalf("DeleteRoom returned error: %v", err)
	}
	select {
	case r := <-ch:
		if r != nil {
			t.Fatalf("expected nil after delete, got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no snapshot after delete")
	}
}

func TestDisconnectHookMarksPlayerOffline(t *testing.T) {
	b := statestore.NewMemoryBackend()
	host := newTestRepo(t, b, "host", JoinAdvisory)
	ctx := context.Background()
	id := createRoom(t, host, 3, 1)

	guestSession := b.NewSession("guest")
	guest := NewRepository(guestSession, nil, JoinAdvisory)
	if err := guest.JoinRoom(ctx, id, "guest", "Guest"); err != nil {
		t.Fatalf("JoinRoom returned error: %v", err)
	}
	guestSession.Close()

	room, _ := host.GetRoom(ctx, id)
	if room.Players["guest"].IsOnline {
		t.Errorf("guest still online after session close")
	}
}

func TestDisconnectAfterKickKeepsSlotFree(t *testing.T) {
	b := statestore.NewMemoryBackend()
	host := newTestRepo(t, b, "host", JoinAdvisory)
	ctx := context.Background()
	id := createRoom(t, host, 2, 1)

	guestSession := b.NewSession("guest")
	guest := NewRepository(guestSession, nil, JoinAdvisory)
	if err := guest.JoinRoom(ctx, id, "guest", "Guest"); err != nil {
		t.Fatalf("JoinRoom returned error: %v", err)
	}
	if err := host.RemovePlayer(ctx, id, "guest"); err != nil {
		t.Fatalf("RemovePlayer returned error: %v", err)
	}
	guestSession.Close()

	room, _ := host.GetRoom(ctx, id)
	if _, ok := room.Players["guest"]; ok {
		t.Fatalf("kicked guest came back after session close: %+v", room.Players["guest"])
	}
	if len(room.Players) != 1 {
		t.Fatalf("players = %d, want 1", len(room.Players))
	}

	other := newTestRepo(t, b, "other", JoinAdvisory)
	if err := other.JoinRoom(ctx, id, "other", "Other"); err != nil {
		t.Errorf("JoinRoom after kick returned error: %v", err)
	}
}

func TestDisconnectAfterDeleteLeavesRoomGone(t *testing.T) {
	b := statestore.NewMemoryBackend()
	ctx := context.Background()
	hostSession := b.NewSession("host")
	host := NewRepository(hostSession, nil, JoinAdvisory)
	id := createRoom(t, host, 2, 1)

	if err := host.DeleteRoom(ctx, id); err != nil {
		t.Fatalf("DeleteRoom returned error: %v", err)
	}
	hostSession.Close()

	observer := newTestRepo(t, b, "observer", JoinAdvisory)
	if _, err := observer.GetRoom(ctx, id); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("GetRoom after delete and close error = %v, want ErrRoomNotFound", err)
	}
}

func TestUpdatePresenceDoesNotRecreateRemovedPlayer(t *testing.T) {
	repo := newTestRepo(t, statestore.NewMemoryBackend(), "host", JoinAdvisory)
	ctx := context.Background()
	id := createRoom(t, repo, 2, 1)

	if err := repo.UpdatePresence(ctx, id, "host"); err != nil {
		t.Fatalf("UpdatePresence returned error: %v", err)
	}
	if err := repo.UpdatePresence(ctx, id, "nobody"); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("UpdatePresence for missing player error = %v, want ErrPlayerNotFound", err)
	}
	room, _ := repo.GetRoom(ctx, id)
	if _, ok := room.Players["nobody"]; ok {
		t.Errorf("presence update recreated a removed player")
	}
}

func TestLeaveRoom(t *testing.T) {
	b := statestore.NewMemoryBackend()
	host := newTestRepo(t, b, "host", JoinAdvisory)
	ctx := context.Background()
	id := createRoom(t, host, 3, 1)

	s := b.NewSession("guest")
	guest := NewRepository(s, nil, JoinAdvisory)
	_ = guest.JoinRoom(ctx, id, "guest", "Guest")
	if err := guest.LeaveRoom(ctx, id, "guest"); err != nil {
		t.Fatalf("LeaveRoom returned error: %v", err)
	}
	s.Close()

	room, _ := host.GetRoom(ctx, id)
	if _, ok := room.Players["guest"]; ok {
		t.Errorf("guest still present after leaving: %+v", room.Players["guest"])
	}
}

func TestShareURL(t *testing.T) {
	if got := ShareURL("https://quiz.example/", "abc"); got != "https://quiz.example/multiplayer/abc" {
		t.Errorf("ShareURL = %q", got)
	}
}

func TestMarkOfflineSkipsRemovedPlayer(t *testing.T) {
	repo := newTestRepo(t, statestore.NewMemoryBackend(), "host", JoinAdvisory)
	ctx := context.Background()
	id := createRoom(t, repo, 4, 1)

	if err := repo.MarkOffline(ctx, id, "host"); err != nil {
		t.Fatalf("MarkOffline returned error: %v", err)
	}
	room, err := repo.GetRoom(ctx, id)
	if err != nil {
		t.Fatalf("GetRoom returned error: %v", err)
	}
	if room.Players["host"].IsOnline {
		t.Errorf("host still online after MarkOffline")
	}

	if err := repo.MarkOffline(ctx, id, "ghost"); !errors.Is(err, ErrPlayerNotFound) {
		t.Fatalf("MarkOffline(ghost) error = %v, want ErrPlayerNotFound", err)
	}
	room, _ = repo.GetRoom(ctx, id)
	if _, ok := room.Players["ghost"]; ok {
		t.Errorf("MarkOffline recreated a missing player")
	}
}
