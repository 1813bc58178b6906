package roomsync

import "github.com/mcdev12/triviaroom/go/internal/models"

// TransitionKind names a change a client reacts to.
type TransitionKind int

const (
	// TransitionRoomDeleted is terminal: the room no longer exists.
	TransitionRoomDeleted TransitionKind = iota
	// TransitionPlayerRemoved is terminal: the local player was present and
	// is gone while the room still exists.
	TransitionPlayerRemoved
	TransitionGameStarted
	// TransitionQuestionChanged fires once per question index.
	TransitionQuestionChanged
	// TransitionQuestionsExhausted fires when a playing room's cursor runs
	// past the last question.
	TransitionQuestionsExhausted
	TransitionGameFinished
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionRoomDeleted:
		return "room_deleted"
	case TransitionPlayerRemoved:
		return "player_removed"
	case TransitionGameStarted:
		return "game_started"
	case TransitionQuestionChanged:
		return "question_changed"
	case TransitionQuestionsExhausted:
		return "questions_exhausted"
	case TransitionGameFinished:
		return "game_finished"
	}
	return "unknown"
}

// Terminal reports whether the client must stop after this transition.
func (k TransitionKind) Terminal() bool {
	return k == TransitionRoomDeleted || k == TransitionPlayerRemoved
}

// Transition is one detected change.
type Transition struct {
	Kind          TransitionKind
	QuestionIndex int
	Room          *models.Room
}

// Tracker compares consecutive snapshots of one room for one player. It is
// not safe for concurrent use.
type Tracker struct {
	playerID string

	seen      bool
	present   bool
	status    models.RoomStatus
	index     int
	indexSeen bool
	exhausted bool
	terminal  bool
}

// NewTracker creates a tracker for playerID.
func NewTracker(playerID string) *Tracker {
	return &Tracker{playerID: playerID}
}

// Terminal reports whether the tracker has seen deletion or removal.
func (t *Tracker) Terminal() bool {
	return t.terminal
}

// Observe records snapshot room (nil when deleted) and returns the
// transitions it implies. Repeated snapshots with the same status and index
// yield nothing.
func (t *Tracker) Observe(room *models.Room) []Transition {
	if t.terminal {
		return nil
	}
	if room == nil {
		t.terminal = true
		return []Transition{{Kind: TransitionRoomDeleted}}
	}

	_, present := room.Players[t.playerID]
	if t.present && !present {
		t.terminal = true
		return []Transition{{Kind: TransitionPlayerRemoved, Room: room}}
	}
	t.present = present

	var out []Transition
	if t.seen && t.status == models.RoomStatusWaiting && room.Status == models.RoomStatusPlaying {
		out = append(out, Transition{Kind: TransitionGameStarted, Room: room})
	}

	if room.Status == models.RoomStatusPlaying {
		if room.Exhausted() {
			if !t.exhausted {
				t.exhausted = true
				out = append(out, Transition{Kind: TransitionQuestionsExhausted, QuestionIndex: room.CurrentQuestion, Room: room})
			}
		} else if !t.indexSeen || room.CurrentQuestion != t.index {
			t.index = room.CurrentQuestion
			t.indexSeen = true
			out = append(out, Transition{Kind: TransitionQuestionChanged, QuestionIndex: room.CurrentQuestion, Room: room})
		}
	}

	if room.Status == models.RoomStatusFinished && t.status != models.RoomStatusFinished {
		out = append(out, Transition{Kind: TransitionGameFinished, Room: room})
	}

	t.seen = true
	t.status = room.Status
	return out
}
