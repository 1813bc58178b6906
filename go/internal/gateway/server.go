package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/mcdev12/triviaroom/go/internal/metrics"
	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/questions"
	"github.com/mcdev12/triviaroom/go/internal/ranking"
	"github.com/mcdev12/triviaroom/go/internal/room"
	"github.com/mcdev12/triviaroom/go/internal/roomsync"
	"github.com/mcdev12/triviaroom/go/internal/scoring"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	qrSize        = 256
	maxBodyBytes  = 1 << 20
	maxTopEntries = 500
)

// Config holds the HTTP side settings of the gateway.
type Config struct {
	BaseURL          string
	CORSOrigins      []string
	QuestionDuration time.Duration
	XPPolicy         scoring.XPPolicy
	Connection       ConnectionConfig
}

// Deps are the services the gateway exposes. Ranking and Questions may be
// nil, which disables their routes.
type Deps struct {
	Connections *ConnectionManager
	Rooms       *room.Repository
	Ranking     *ranking.Aggregator
	Questions   questions.Store
	Resolver    *questions.Resolver
	Metrics     metrics.Collector
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	Clock          clockwork.Clock
}

// Server routes websocket store sessions and the HTTP API.
type Server struct {
	deps Deps
	cfg  Config
}

func NewServer(deps Deps, cfg Config) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoOpCollector{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if cfg.QuestionDuration <= 0 {
		cfg.QuestionDuration = scoring.QuestionDuration
	}
	if cfg.XPPolicy == "" {
		cfg.XPPolicy = scoring.XPScorePlusSpeedBonus
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{deps: deps, cfg: cfg}
}

// Router registers every route.
func (s *Server) Router() *httprouter.Router {
	r := httprouter.New()

	r.GET("/health", s.handleHealth)
	if s.deps.Connections != nil {
		r.HandlerFunc(http.MethodGet, "/ws", s.deps.Connections.HandleWebSocket)
	}
	if s.deps.MetricsHandler != nil {
		r.Handler(http.MethodGet, "/metrics", s.deps.MetricsHandler)
	}

	r.GET("/multiplayer/:roomId", s.handleRoomSummary)
	r.GET("/multiplayer/:roomId/qr", s.handleRoomQR)

	r.GET("/api/ranking/top", s.handleTop)
	r.GET("/api/ranking/players/:userId", s.handleProfile)
	r.GET("/api/ranking/players/:userId/position", s.handlePosition)
	r.POST("/api/ranking/players/:userId/games", s.handleRecordGame)
	r.PUT("/api/ranking/players/:userId/name", s.handleUpdateName)
	r.POST("/api/rooms/:roomId/players/:playerId/record", s.handleRecordRoomGame)

	r.GET("/api/subjects", s.handleSubjects)
	r.POST("/api/games/resolve", s.handleResolve)

	r.PanicHandler = func(w http.ResponseWriter, req *http.Request, v any) {
		log.Error().Interface("panic", v).Str("path", req.URL.Path).Msg("handler panic")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
	return r
}

// Handler wraps the router with CORS and cleartext HTTP/2.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
		},
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(s.Router()), &http2.Server{})
}

// HTTPServer returns a server listening on addr. WriteTimeout is left unset
// because websocket connections are long lived.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	connections := 0
	if s.deps.Connections != nil {
		connections = s.deps.Connections.ConnectionCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": connections,
	})
}

// RoomSummary is what a share link resolves to before joining.
type RoomSummary struct {
	RoomID      string              `json:"roomId"`
	RoomName    string              `json:"roomName,omitempty"`
	HostName    string              `json:"hostName"`
	Status      models.RoomStatus   `json:"status"`
	Subjects    []string            `json:"subjects,omitempty"`
	Players     int                 `json:"players"`
	Online      int                 `json:"online"`
	MaxPlayers  int                 `json:"maxPlayers"`
	Questions   int                 `json:"questions"`
	Joinable    bool                `json:"joinable"`
	ShareURL    string              `json:"shareUrl"`
	QRCodeURL   string              `json:"qrCodeUrl"`
	CreatedAt   int64               `json:"createdAt"`
	TimeLeft    int                 `json:"timeLeft,omitempty"`
	Leaderboard []roomsync.Standing `json:"leaderboard,omitempty"`
}

func (s *Server) summarize(id string, rm *models.Room) RoomSummary {
	share := room.ShareURL(s.cfg.BaseURL, id)
	sum := RoomSummary{
		RoomID:     id,
		RoomName:   rm.RoomName,
		HostName:   rm.HostName,
		Status:     rm.Status,
		Subjects:   rm.Subjects,
		Players:    len(rm.Players),
		Online:     roomsync.OnlinePlayerCount(rm),
		MaxPlayers: rm.MaxPlayers,
		Questions:  len(rm.Questions),
		Joinable:   rm.Status == models.RoomStatusWaiting && len(rm.Players) < rm.MaxPlayers,
		ShareURL:   share,
		QRCodeURL:  share + "/qr",
		CreatedAt:  rm.CreatedAt,
	}
	if rm.Status != models.RoomStatusWaiting {
		sum.Leaderboard = roomsync.Standings(rm)
	}
	if rm.Status == models.RoomStatusPlaying {
		sum.TimeLeft = roomsync.TimeRemaining(rm, s.deps.Clock.Now(), s.cfg.QuestionDuration)
	}
	return sum
}

func (s *Server) loadRoom(w http.ResponseWriter, r *http.Request, id string) (*models.Room, bool) {
	if s.deps.Rooms == nil {
		writeError(w, http.StatusServiceUnavailable, room.ErrStoreUnavailable)
		return nil, false
	}
	rm, err := s.deps.Rooms.GetRoom(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, false
	}
	return rm, true
}

func (s *Server) handleRoomSummary(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("roomId")
	rm, ok := s.loadRoom(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.summarize(id, rm))
}

func (s *Server) handleRoomQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("roomId")
	if _, ok := s.loadRoom(w, r, id); !ok {
		return
	}
	png, err := qrcode.Encode(room.ShareURL(s.cfg.BaseURL, id), qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("room_id", id).Msg("failed to encode qr code")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		log.Debug().Err(err).Msg("failed to write qr code")
	}
}

func (s *Server) rankingReady(w http.ResponseWriter) bool {
	if s.deps.Ranking == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("ranking is not configured"))
		return false
	}
	return true
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.rankingReady(w) {
		return
	}
	n := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxTopEntries {
			writeError(w, http.StatusBadRequest, errors.New("limit must be between 1 and 500"))
			return
		}
		n = v
	}
	entries, err := s.deps.Ranking.Top(r.Context(), n)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !s.rankingReady(w) {
		return
	}
	p, err := s.deps.Ranking.GetOrCreateProfile(r.Context(), ps.ByName("userId"), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !s.rankingReady(w) {
		return
	}
	entry, err := s.deps.Ranking.CurrentPlayerPosition(r.Context(), ps.ByName("userId"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// AnswerResultRequest is one answered question of a finished game.
type AnswerResultRequest struct {
	Correct      bool    `json:"correct"`
	ResponseTime float64 `json:"responseTime"`
}

// RecordGameRequest reports a finished game for the ranking.
type RecordGameRequest struct {
	PlayerName     string                `json:"playerName"`
	TotalQuestions int                   `json:"totalQuestions"`
	Results        []AnswerResultRequest `json:"results"`
}

// RecordGameResponse is the outcome credited to the player.
type RecordGameResponse struct {
	Record     models.GameRecord `json:"record"`
	Score      int               `json:"score"`
	SpeedBonus int               `json:"speedBonus"`
}

func (s *Server) handleRecordGame(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !s.rankingReady(w) {
		return
	}
	var req RecordGameRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.TotalQuestions < len(req.Results) {
		writeError(w, http.StatusBadRequest, errors.New("more results than questions"))
		return
	}
	results := make([]scoring.AnswerResult, len(req.Results))
	for i, a := range req.Results {
		if a.ResponseTime < 0 {
			writeError(w, http.StatusBadRequest, errors.New("negative response time"))
			return
		}
		results[i] = scoring.AnswerResult{Correct: a.Correct, ResponseTime: a.ResponseTime}
	}
	s.recordSummary(w, r, ps.ByName("userId"), req.PlayerName, scoring.Summarize(results, req.TotalQuestions, s.cfg.QuestionDuration))
}

// handleRecordRoomGame credits a player's result from the room itself, so
// the client cannot inflate it. The result is claimed on the room first, so
// a repeated request is rejected instead of counted twice.
func (s *Server) handleRecordRoomGame(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !s.rankingReady(w) {
		return
	}
	if s.deps.Rooms == nil {
		writeError(w, http.StatusServiceUnavailable, room.ErrStoreUnavailable)
		return
	}
	roomID, playerID := ps.ByName("roomId"), ps.ByName("playerId")
	rm, err := s.deps.Rooms.ClaimResult(r.Context(), roomID, playerID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	p := rm.Players[playerID]
	results := scoring.FromPlayer(p, s.cfg.QuestionDuration)
	if !s.recordSummary(w, r, playerID, p.Name, scoring.Summarize(results, len(rm.Questions), s.cfg.QuestionDuration)) {
		if err := s.deps.Rooms.ReleaseResult(context.WithoutCancel(r.Context()), roomID, playerID); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Str("player_id", playerID).Msg("failed to release result claim")
		}
	}
}

func (s *Server) recordSummary(w http.ResponseWriter, r *http.Request, userID, name string, sum scoring.Summary) bool {
	rec := s.cfg.XPPolicy.Record(sum, s.deps.Clock.Now())
	if err := s.deps.Ranking.RecordGame(r.Context(), userID, name, rec); err != nil {
		writeError(w, statusFor(err), err)
		return false
	}
	s.deps.Metrics.RecordGame(rec.XPGained)
	writeJSON(w, http.StatusCreated, RecordGameResponse{Record: rec, Score: sum.Score, SpeedBonus: sum.SpeedBonus})
	return true
}

// UpdateNameRequest renames a ranking profile.
type UpdateNameRequest struct {
	PlayerName string `json:"playerName"`
}

func (s *Server) handleUpdateName(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !s.rankingReady(w) {
		return
	}
	var req UpdateNameRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PlayerName) == "" {
		writeError(w, http.StatusBadRequest, errors.New("playerName is required"))
		return
	}
	if err := s.deps.Ranking.UpdatePlayerName(r.Context(), ps.ByName("userId"), req.PlayerName); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.Questions == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("question store is not configured"))
		return
	}
	subjects, err := s.deps.Questions.Subjects(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

// ResolveRequest selects a game's questions. Exactly one of Questions and
// Subjects is set.
type ResolveRequest struct {
	Questions []models.GameQuestion   `json:"questions,omitempty"`
	Subjects  []questions.SubjectPick `json:"subjects,omitempty"`
	Limit     int                     `json:"limit"`
}

// ResolveResponse is the canonical question list to put on a new room.
type ResolveResponse struct {
	Questions    []models.GameQuestion `json:"questions"`
	SubjectNames []string              `json:"subjectNames,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.Resolver == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("question store is not configured"))
		return
	}
	var req ResolveRequest
	if !readJSON(w, r, &req) {
		return
	}
	if (len(req.Questions) == 0) == (len(req.Subjects) == 0) {
		writeError(w, http.StatusBadRequest, errors.New("provide either questions or subjects"))
		return
	}

	var src questions.Source = questions.PreparedQuestions{Questions: req.Questions}
	if len(req.Subjects) > 0 {
		src = questions.SubjectSelection{Picks: req.Subjects}
	}
	qs, err := s.deps.Resolver.Resolve(r.Context(), src, req.Limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := ResolveResponse{Questions: qs}
	if sel, ok := src.(questions.SubjectSelection); ok && s.deps.Questions != nil {
		names, err := questions.SubjectNames(r.Context(), s.deps.Questions, sel)
		if err != nil {
			log.Warn().Err(err).Msg("failed to look up subject names")
		}
		resp.SubjectNames = names
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, room.ErrRoomNotFound),
		errors.Is(err, room.ErrPlayerNotFound),
		errors.Is(err, ranking.ErrPlayerNotFound),
		errors.Is(err, questions.ErrSubjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, ranking.ErrInvalidRecord),
		errors.Is(err, room.ErrInvalidRequest),
		errors.Is(err, questions.ErrNoQuestions):
		return http.StatusBadRequest
	case errors.Is(err, room.ErrGameNotFinished),
		errors.Is(err, room.ErrAlreadyRecorded):
		return http.StatusConflict
	case errors.Is(err, room.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}
