package room

import (
	"errors"
	"fmt"

	"github.com/mcdev12/triviaroom/go/internal/models"
)

// RoomsRoot is the store path every room lives under.
const RoomsRoot = "game-rooms"

const (
	// DefaultMaxPlayers is used when CreateRoomRequest.MaxPlayers is zero.
	DefaultMaxPlayers = 10
	// MaxNameLength bounds display names.
	MaxNameLength = 30
)

var (
	ErrStoreUnavailable       = errors.New("shared state store not configured")
	ErrRoomNotFound           = errors.New("room not found")
	ErrRoomFull               = errors.New("room is full")
	ErrRoomAlreadyStarted     = errors.New("room already started")
	ErrPlayerNotFound         = errors.New("player not in room")
	ErrAnswerAlreadySubmitted = errors.New("answer already submitted")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrGameNotFinished        = errors.New("game is not finished")
	ErrAlreadyRecorded        = errors.New("result already recorded")
)

// JoinPolicy selects how JoinRoom enforces its preconditions.
type JoinPolicy string

const (
	// JoinAdvisory reads the room then writes the player. Two racing joins can
	// both pass the capacity check.
	JoinAdvisory JoinPolicy = "advisory"
	// JoinStrict runs the check and the write in one store transaction.
	JoinStrict JoinPolicy = "strict"
)

// ParseJoinPolicy parses a policy name. The empty string means advisory.
func ParseJoinPolicy(s string) (JoinPolicy, error) {
	switch JoinPolicy(s) {
	case "", JoinAdvisory:
		return JoinAdvisory, nil
	case JoinStrict:
		return JoinStrict, nil
	}
	return "", fmt.Errorf("unknown join policy %q", s)
}

// CreateRoomRequest holds the data needed to open a room.
type CreateRoomRequest struct {
	HostID     string
	HostName   string
	Questions  []models.GameQuestion
	MaxPlayers int
	RoomName   string
	Subjects   []string
}

// SubmitAnswerRequest records one player's answer to one question.
type SubmitAnswerRequest struct {
	PlayerID      string
	QuestionIndex int
	IsCorrect     bool
	// ResponseTime is the elapsed seconds at selection time, if measured.
	ResponseTime *float64
}

// RoomPath returns the store path of a room.
func RoomPath(roomID string) string {
	return RoomsRoot + "/" + roomID
}

// PlayerPath returns the store path of one player inside a room.
func PlayerPath(roomID, playerID string) string {
	return RoomPath(roomID) + "/players/" + playerID
}
