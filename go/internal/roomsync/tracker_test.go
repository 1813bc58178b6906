package roomsync

import (
	"testing"

	"github.com/mcdev12/triviaroom/go/internal/models"
)

func kinds(trs []Transition) []TransitionKind {
	out := make([]TransitionKind, len(trs))
	for i, tr := range trs {
		out[i] = tr.Kind
	}
	return out
}

func sameKinds(a, b []TransitionKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTrackerQuestionChangeFiresOncePerIndex(t *testing.T) {
	tr := NewTracker("p1")
	players := map[string]*models.Player{"host": {}, "p1": {}}

	room := testRoom(models.RoomStatusPlaying, players)
	room.CurrentQuestion = 2
	tr.Observe(room)

	next := testRoom(models.RoomStatusPlaying, players)
	next.CurrentQuestion = 3
	next.Questions = make([]models.GameQuestion, 5)
	got := tr.Observe(next)
	if !sameKinds(kinds(got), []TransitionKind{TransitionQuestionChanged}) || got[0].QuestionIndex != 3 {
		t.Fatalf("index 2 -> 3 transitions = %v", got)
	}

	// Same index again, e.g. another player's answer landed.
	again := testRoom(models.RoomStatusPlaying, players)
	again.CurrentQuestion = 3
	again.Questions = make([]models.GameQuestion, 5)
	if got := tr.Observe(again); len(got) != 0 {
		t.Fatalf("repeat snapshot transitions = %v, want none", got)
	}
}

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker("p1")
	players := map[string]*models.Player{"host": {}, "p1": {}}

	if got := tr.Observe(testRoom(models.RoomStatusWaiting, players)); len(got) != 0 {
		t.Fatalf("waiting transitions = %v, want none", got)
	}

	got := tr.Observe(testRoom(models.RoomStatusPlaying, players))
	want := []TransitionKind{TransitionGameStarted, TransitionQuestionChanged}
	if !sameKinds(kinds(got), want) {
		t.Fatalf("start transitions = %v, want %v", kinds(got), want)
	}

	exhausted := testRoom(models.RoomStatusPlaying, players)
	exhausted.CurrentQuestion = 3
	if got := tr.Observe(exhausted); !sameKinds(kinds(got), []TransitionKind{TransitionQuestionsExhausted}) {
		t.Fatalf("exhausted transitions = %v", kinds(got))
	}

	finished := testRoom(models.RoomStatusFinished, players)
	finished.CurrentQuestion = 3
	if got := tr.Observe(finished); !sameKinds(kinds(got), []TransitionKind{TransitionGameFinished}) {
		t.Fatalf("finish transitions = %v", kinds(got))
	}
	if got := tr.Observe(finished); len(got) != 0 {
		t.Fatalf("repeat finish transitions = %v", kinds(got))
	}

	if got := tr.Observe(nil); !sameKinds(kinds(got), []TransitionKind{TransitionRoomDeleted}) {
		t.Fatalf("delete transitions = %v", kinds(got))
	}
	if !tr.Terminal() {
		t.Fatalf("tracker not terminal after deletion")
	}
	if got := tr.Observe(finished); got != nil {
		t.Fatalf("transitions after terminal = %v", kinds(got))
	}
}

func TestTrackerPlayerRemoved(t *testing.T) {
	tr := NewTracker("p1")
	tr.Observe(testRoom(models.RoomStatusWaiting, map[string]*models.Player{"host": {}, "p1": {}}))

	got := tr.Observe(testRoom(models.RoomStatusWaiting, map[string]*models.Player{"host": {}}))
	if !sameKinds(kinds(got), []TransitionKind{TransitionPlayerRemoved}) {
		t.Fatalf("removal transitions = %v", kinds(got))
	}
	if !got[0].Kind.Terminal() {
		t.Fatalf("player removal should be terminal")
	}
}

func TestTrackerIgnoresAbsenceBeforeJoin(t *testing.T) {
	tr := NewTracker("p1")
	if got := tr.Observe(testRoom(models.RoomStatusWaiting, map[string]*models.Player{"host": {}})); len(got) != 0 {
		t.Fatalf("transitions before join = %v", kinds(got))
	}
	if tr.Terminal() {
		t.Fatalf("tracker terminal before the player ever joined")
	}
}
