package room

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/scoring"
	"github.com/mcdev12/triviaroom/go/internal/statestore"
	"github.com/rs/zerolog/log"
)

// Repository reads and writes rooms in the shared state store. It performs
// no authorization: host-only operations are the caller's responsibility.
type Repository struct {
	store      statestore.Store
	clock      clockwork.Clock
	joinPolicy JoinPolicy
}

// NewRepository creates a Repository. A nil store makes every operation fail
// with ErrStoreUnavailable.
func NewRepository(store statestore.Store, clock clockwork.Clock, joinPolicy JoinPolicy) *Repository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if joinPolicy == "" {
		joinPolicy = JoinAdvisory
	}
	return &Repository{
		store:      store,
		clock:      clock,
		joinPolicy: joinPolicy,
	}
}

func (r *Repository) ready() error {
	if r == nil || r.store == nil {
		return ErrStoreUnavailable
	}
	return nil
}

func (r *Repository) now() int64 {
	return r.clock.Now().UnixMilli()
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: display name is required", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: display name longer than %d characters", ErrInvalidRequest, MaxNameLength)
	}
	return name, nil
}

// CreateRoom writes a new waiting room with the host as its only player and
// returns the room id.
func (r *Repository) CreateRoom(ctx context.Context, req CreateRoomRequest) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	if req.HostID == "" {
		return "", fmt.Errorf("%w: host id is required", ErrInvalidRequest)
	}
	hostName, err := validateName(req.HostName)
	if err != nil {
		return "", err
	}
	if len(req.Questions) == 0 {
		return "", fmt.Errorf("%w: at least one question is required", ErrInvalidRequest)
	}
	maxPlayers := req.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = DefaultMaxPlayers
	}
	if maxPlayers < 2 {
		return "", fmt.Errorf("%w: max players must be at least 2", ErrInvalidRequest)
	}

	roomID, err := r.store.Push(ctx, RoomsRoot)
	if err != nil {
		return "", fmt.Errorf("failed to allocate room id: %w", err)
	}

	now := r.clock.Now()
	room := models.Room{
		Host:       req.HostID,
		HostName:   hostName,
		RoomName:   strings.TrimSpace(req.RoomName),
		Subjects:   req.Subjects,
		Status:     models.RoomStatusWaiting,
		CreatedAt:  now.UnixMilli(),
		MaxPlayers: maxPlayers,
		Questions:  req.Questions,
		Players: map[string]*models.Player{
			req.HostID: models.NewPlayer(hostName, now),
		},
	}
	if err := r.store.Set(ctx, RoomPath(roomID), room); err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}
	r.registerDisconnect(ctx, roomID, req.HostID)

	log.Info().
		Str("room_id", roomID).
		Str("host_id", req.HostID).
		Int("questions", len(req.Questions)).
		Int("max_players", maxPlayers).
		Msg("created room")
	return roomID, nil
}

// registerDisconnect marks the player offline when this session ends.
func (r *Repository) registerDisconnect(ctx context.Context, roomID, playerID string) {
	if err := r.store.OnDisconnect(ctx, PlayerPath(roomID, playerID)+"/isOnline", false); err != nil {
		log.Error().Err(err).
			Str("room_id", roomID).
			Str("player_id", playerID).
			Msg("failed to register disconnect hook")
	}
}

// JoinRoom adds a player to a waiting room. Joining again with the same id
// resets that player's entry.
func (r *Repository) JoinRoom(ctx context.Context, roomID, playerID, playerName string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if roomID == "" || playerID == "" {
		return fmt.Errorf("%w: room id and player id are required", ErrInvalidRequest)
	}
	name, err := validateName(playerName)
	if err != nil {
		return err
	}
	player := models.NewPlayer(name, r.clock.Now())

	switch r.joinPolicy {
	case JoinStrict:
		err = r.joinStrict(ctx, roomID, playerID, player)
	default:
		err = r.joinAdvisory(ctx, roomID, playerID, player)
	}
	if err != nil {
		return err
	}
	r.registerDisconnect(ctx, roomID, playerID)

	log.Info().
		Str("room_id", roomID).
		Str("player_id", playerID).
		Str("policy", string(r.joinPolicy)).
		Msg("player joined room")
	return nil
}

func checkJoin(room *models.Room, playerID string) error {
	if room.Status != models.RoomStatusWaiting {
		return ErrRoomAlreadyStarted
	}
	if _, member := room.Players[playerID]; member {
		return nil
	}
	if len(room.Players) >= room.MaxPlayers {
		return ErrRoomFull
	}
	return nil
}

func (r *Repository) joinAdvisory(ctx context.Context, roomID, playerID string, player *models.Player) error {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := checkJoin(room, playerID); err != nil {
		return err
	}
	if err := r.store.Set(ctx, PlayerPath(roomID, playerID), player); err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	return nil
}

func (r *Repository) joinStrict(ctx context.Context, roomID, playerID string, player *models.Player) error {
	entry, err := statestore.Normalize(player)
	if err != nil {
		return err
	}
	err = r.store.Transaction(ctx, RoomPath(roomID), func(current any) (any, error) {
		if current == nil {
			return nil, ErrRoomNotFound
		}
		var room models.Room
		if err := (statestore.Snapshot{Path: RoomPath(roomID), Value: current, Exists: true}).Decode(&room); err != nil {
			return nil, err
		}
		if err := checkJoin(&room, playerID); err != nil {
			return nil, err
		}
		doc, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("room %s has unexpected shape %T", roomID, current)
		}
		next := make(map[string]any, len(doc))
		for k, v := range doc {
			next[k] = v
		}
		players := make(map[string]any)
		if existing, ok := doc["players"].(map[string]any); ok {
			for k, v := range existing {
				players[k] = v
			}
		}
		players[playerID] = entry
		next["players"] = players
		return next, nil
	})
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrRoomFull) || errors.Is(err, ErrRoomAlreadyStarted) {
			return err
		}
		return fmt.Errorf("failed to join room: %w", err)
	}
	return nil
}

// SetPlayerReady sets the ready flag of one player.
func (r *Repository) SetPlayerReady(ctx context.Context, roomID, playerID string, ready bool) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.store.Set(ctx, PlayerPath(roomID, playerID)+"/isReady", ready); err != nil {
		return fmt.Errorf("failed to set ready: %w", err)
	}
	return nil
}

// StartGame moves the room to playing and starts the first question clock.
func (r *Repository) StartGame(ctx context.Context, roomID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	now := r.now()
	base := RoomPath(roomID)
	err := r.store.Update(ctx, map[string]any{
		base + "/status":            string(models.RoomStatusPlaying),
		base + "/startedAt":         now,
		base + "/questionStartTime": now,
	})
	if err != nil {
		return fmt.Errorf("failed to start game: %w", err)
	}
	log.Info().Str("room_id", roomID).Msg("game started")
	return nil
}

// NextQuestion advances the room cursor by one and restarts the question
// clock. Callers check bounds first and call FinishGame once exhausted.
func (r *Repository) NextQuestion(ctx context.Context, roomID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	base := RoomPath(roomID)
	err := r.store.Update(ctx, map[string]any{
		base + "/currentQuestion":   statestore.Inc(1),
		base + "/questionStartTime": r.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to advance question: %w", err)
	}
	return nil
}

// SubmitAnswer records a player's answer, advances the player's cursor and
// awards points for a correct answer, all in one update. Skipped questions
// between the player's cursor and questionIndex are recorded as wrong so the
// answer count always matches the cursor.
func (r *Repository) SubmitAnswer(ctx context.Context, roomID string, req SubmitAnswerRequest) error {
	if err := r.ready(); err != nil {
		return err
	}
	if req.QuestionIndex < 0 {
		return fmt.Errorf("%w: negative question index", ErrInvalidRequest)
	}
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if req.QuestionIndex >= len(room.Questions) {
		return fmt.Errorf("%w: question %d of %d", ErrInvalidRequest, req.QuestionIndex, len(room.Questions))
	}
	player, ok := room.Players[req.PlayerID]
	if !ok {
		return ErrPlayerNotFound
	}
	base := PlayerPath(roomID, req.PlayerID)
	cursor := player.CurrentQuestion
	if req.QuestionIndex < cursor {
		return ErrAnswerAlreadySubmitted
	}

	updates := map[string]any{
		base + "/answers/" + strconv.Itoa(req.QuestionIndex): req.IsCorrect,
		base + "/currentQuestion":                            req.QuestionIndex + 1,
	}
	for i := cursor; i < req.QuestionIndex; i++ {
		updates[base+"/answers/"+strconv.Itoa(i)] = false
	}
	if req.IsCorrect {
		updates[base+"/score"] = statestore.Inc(scoring.PointsPerCorrect)
	}
	if req.ResponseTime != nil {
		updates[base+"/responseTimes/"+strconv.Itoa(req.QuestionIndex)] = *req.ResponseTime
		updates[base+"/totalResponseTime"] = statestore.Inc(*req.ResponseTime)
	}
	if err := r.store.Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to submit answer: %w", err)
	}
	return nil
}

// FinishGame marks the room finished. Calling it more than once is harmless.
func (r *Repository) FinishGame(ctx context.Context, roomID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.store.Set(ctx, RoomPath(roomID)+"/status", string(models.RoomStatusFinished)); err != nil {
		return fmt.Errorf("failed to finish game: %w", err)
	}
	log.Info().Str("room_id", roomID).Msg("game finished")
	return nil
}

// RemovePlayer deletes a player's entry.
func (r *Repository) RemovePlayer(ctx context.Context, roomID, playerID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.store.Remove(ctx, PlayerPath(roomID, playerID)); err != nil {
		return fmt.Errorf("failed to remove player: %w", err)
	}
	log.Info().Str("room_id", roomID).Str("player_id", playerID).Msg("player removed")
	return nil
}

// LeaveRoom removes the calling player and cancels its disconnect hook by
// overwriting it with a removal.
func (r *Repository) LeaveRoom(ctx context.Context, roomID, playerID string) error {
	if err := r.RemovePlayer(ctx, roomID, playerID); err != nil {
		return err
	}
	if err := r.store.OnDisconnect(ctx, PlayerPath(roomID, playerID)+"/isOnline", nil); err != nil {
		log.Debug().Err(err).Str("room_id", roomID).Msg("failed to clear disconnect hook")
	}
	return nil
}

// DeleteRoom removes the whole room.
func (r *Repository) DeleteRoom(ctx context.Context, roomID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.store.Remove(ctx, RoomPath(roomID)); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	log.Info().Str("room_id", roomID).Msg("room deleted")
	return nil
}

// UpdatePresence refreshes lastSeen and the online flag. It never recreates
// a player that has been removed.
func (r *Repository) UpdatePresence(ctx context.Context, roomID, playerID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	now := float64(r.now())
	err := r.store.Transaction(ctx, PlayerPath(roomID, playerID), func(current any) (any, error) {
		doc, ok := current.(map[string]any)
		if !ok {
			return nil, ErrPlayerNotFound
		}
		next := make(map[string]any, len(doc))
		for k, v := range doc {
			next[k] = v
		}
		next["lastSeen"] = now
		next["isOnline"] = true
		return next, nil
	})
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return err
		}
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

// SetPlayerOnline writes the online flag of one player.
func (r *Repository) SetPlayerOnline(ctx context.Context, roomID, playerID string, online bool) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.store.Set(ctx, PlayerPath(roomID, playerID)+"/isOnline", online); err != nil {
		return fmt.Errorf("failed to set online flag: %w", err)
	}
	return nil
}

// MarkOffline clears the online flag of a player that still exists. Unlike
// SetPlayerOnline it never writes into a removed player's entry.
func (r *Repository) MarkOffline(ctx context.Context, roomID, playerID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	err := r.store.Transaction(ctx, PlayerPath(roomID, playerID), func(current any) (any, error) {
		doc, ok := current.(map[string]any)
		if !ok {
			return nil, ErrPlayerNotFound
		}
		next := make(map[string]any, len(doc))
		for k, v := range doc {
			next[k] = v
		}
		next["isOnline"] = false
		return next, nil
	})
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return err
		}
		return fmt.Errorf("failed to mark player offline: %w", err)
	}
	return nil
}

// ClaimResult marks a player's result in a finished room as recorded and
// returns the room as it was claimed. A second claim for the same player
// fails with ErrAlreadyRecorded, so the result is credited at most once.
func (r *Repository) ClaimResult(ctx context.Context, roomID, playerID string) (*models.Room, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	var claimed models.Room
	err := r.store.Transaction(ctx, RoomPath(roomID), func(current any) (any, error) {
		doc, ok := current.(map[string]any)
		if !ok {
			return nil, ErrRoomNotFound
		}
		var room models.Room
		if err := (statestore.Snapshot{Path: RoomPath(roomID), Value: current, Exists: true}).Decode(&room); err != nil {
			return nil, err
		}
		p, ok := room.Players[playerID]
		switch {
		case !ok:
			return nil, ErrPlayerNotFound
		case room.Status != models.RoomStatusFinished:
			return nil, ErrGameNotFinished
		case p.Recorded:
			return nil, ErrAlreadyRecorded
		}
		players, _ := doc["players"].(map[string]any)
		entry, _ := players[playerID].(map[string]any)

		nextEntry := make(map[string]any, len(entry)+1)
		for k, v := range entry {
			nextEntry[k] = v
		}
		nextEntry["recorded"] = true
		nextPlayers := make(map[string]any, len(players))
		for k, v := range players {
			nextPlayers[k] = v
		}
		nextPlayers[playerID] = nextEntry
		next := make(map[string]any, len(doc))
		for k, v := range doc {
			next[k] = v
		}
		next["players"] = nextPlayers

		claimed = room
		return next, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrPlayerNotFound),
			errors.Is(err, ErrGameNotFinished), errors.Is(err, ErrAlreadyRecorded):
			return nil, err
		}
		return nil, fmt.Errorf("failed to claim result: %w", err)
	}
	return &claimed, nil
}

// ReleaseResult undoes ClaimResult after the ranking write failed, so the
// result can be recorded again.
func (r *Repository) ReleaseResult(ctx context.Context, roomID, playerID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	err := r.store.Transaction(ctx, PlayerPath(roomID, playerID), func(current any) (any, error) {
		doc, ok := current.(map[string]any)
		if !ok {
			return nil, ErrPlayerNotFound
		}
		next := make(map[string]any, len(doc))
		for k, v := range doc {
			next[k] = v
		}
		delete(next, "recorded")
		return next, nil
	})
	if err != nil && !errors.Is(err, ErrPlayerNotFound) {
		return fmt.Errorf("failed to release result: %w", err)
	}
	return nil
}

// GetRoom reads one room.
func (r *Repository) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, RoomPath(roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	if !snap.Exists {
		return nil, ErrRoomNotFound
	}
	var room models.Room
	if err := snap.Decode(&room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ListRooms reads every room keyed by id.
func (r *Repository) ListRooms(ctx context.Context) (map[string]*models.Room, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, RoomsRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	rooms := make(map[string]*models.Room)
	if !snap.Exists {
		return rooms, nil
	}
	if err := snap.Decode(&rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// OnRoomChange calls fn with the current room and after every change. fn
// receives nil once the room no longer exists.
func (r *Repository) OnRoomChange(ctx context.Context, roomID string, fn func(*models.Room)) (func(), error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.store.Subscribe(ctx, RoomPath(roomID), func(snap statestore.Snapshot) {
		if !snap.Exists {
			fn(nil)
			return
		}
		var room models.Room
		if err := snap.Decode(&room); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to decode room snapshot")
			return
		}
		fn(&room)
	})
}

// ShareURL returns the link a fresh client opens to join roomID.
func ShareURL(baseURL, roomID string) string {
	return strings.TrimRight(baseURL, "/") + "/multiplayer/" + url.PathEscape(roomID)
}
