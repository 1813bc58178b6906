package models

import "time"

// RoomStatus defines the lifecycle status of a multiplayer room.
type RoomStatus string

const (
	RoomStatusWaiting  RoomStatus = "waiting"
	RoomStatusPlaying  RoomStatus = "playing"
	RoomStatusFinished RoomStatus = "finished"
)

// Valid reports whether s is a known room status.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusWaiting, RoomStatusPlaying, RoomStatusFinished:
		return true
	}
	return false
}

// Room is the shared record of one multiplayer session. Timestamps are unix
// milliseconds so browser clients can write them with Date.now().
type Room struct {
	Host              string             `json:"host"`
	HostName          string             `json:"hostName"`
	RoomName          string             `json:"roomName,omitempty"`
	Subjects          []string           `json:"subjects,omitempty"`
	Status            RoomStatus         `json:"status"`
	CreatedAt         int64              `json:"createdAt"`
	StartedAt         int64              `json:"startedAt,omitempty"`
	CurrentQuestion   int                `json:"currentQuestion"`
	QuestionStartTime int64              `json:"questionStartTime,omitempty"`
	MaxPlayers        int                `json:"maxPlayers"`
	Questions         []GameQuestion     `json:"questions"`
	Players           map[string]*Player `json:"players"`
}

// Player is a participant nested inside a Room.
type Player struct {
	Name              string          `json:"name"`
	IsReady           bool            `json:"isReady"`
	Score             int             `json:"score"`
	CurrentQuestion   int             `json:"currentQuestion"`
	Answers           map[int]bool    `json:"answers,omitempty"`
	ResponseTimes     map[int]float64 `json:"responseTimes,omitempty"`
	TotalResponseTime float64         `json:"totalResponseTime,omitempty"`
	LastSeen          int64           `json:"lastSeen"`
	IsOnline          bool            `json:"isOnline"`
	// Recorded is set once the player's result has been credited to the
	// weekly ranking.
	Recorded bool `json:"recorded,omitempty"`
}

// NewPlayer returns a player entry with all counters zeroed.
func NewPlayer(name string, now time.Time) *Player {
	return &Player{
		Name:          name,
		Answers:       map[int]bool{},
		ResponseTimes: map[int]float64{},
		LastSeen:      now.UnixMilli(),
		IsOnline:      true,
	}
}

// HasAnswered reports whether the player already answered question index.
func (p *Player) HasAnswered(index int) bool {
	return p.CurrentQuestion > index
}

// CurrentGameQuestion returns the question under the room cursor, or nil
// once the cursor has run past the last question.
func (r *Room) CurrentGameQuestion() *GameQuestion {
	if r.CurrentQuestion < 0 || r.CurrentQuestion >= len(r.Questions) {
		return nil
	}
	return &r.Questions[r.CurrentQuestion]
}

// IsHost reports whether playerID created the room.
func (r *Room) IsHost(playerID string) bool {
	return playerID != "" && r.Host == playerID
}

// Exhausted reports whether the question cursor has reached the end.
func (r *Room) Exhausted() bool {
	return r.CurrentQuestion >= len(r.Questions)
}

// QuestionStartedAt returns the shared question start marker as a time.
func (r *Room) QuestionStartedAt() time.Time {
	if r.QuestionStartTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.QuestionStartTime)
}
