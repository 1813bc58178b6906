package triviaroom_client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mcdev12/triviaroom/go/clients"
	"github.com/mcdev12/triviaroom/go/internal/gateway"
	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/questions"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Client talks to the triviaroom HTTP API.
type Client struct {
	*clients.BaseClient
	baseURL string
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultServerBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		BaseClient: clients.NewBaseClient(baseURL),
		baseURL:    baseURL,
	}
}

// WebSocketURL returns the store endpoint for statestore.DialRemote.
func (c *Client) WebSocketURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + WebSocketEndpoint
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + WebSocketEndpoint
	}
	return c.baseURL + WebSocketEndpoint
}

func wrap(err error, what string) error {
	var se *clients.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}

func (c *Client) Subjects(ctx context.Context) ([]models.Subject, error) {
	var out []models.Subject
	if err := c.Get(ctx, SubjectsEndpoint, &out); err != nil {
		return nil, wrap(err, "list subjects")
	}
	return out, nil
}

// ResolveSubjects draws a shuffled game from the server's question bank.
func (c *Client) ResolveSubjects(ctx context.Context, picks []questions.SubjectPick, limit int) (*gateway.ResolveResponse, error) {
	var out gateway.ResolveResponse
	if err := c.Post(ctx, ResolveEndpoint, gateway.ResolveRequest{Subjects: picks, Limit: limit}, &out); err != nil {
		return nil, wrap(err, "resolve questions")
	}
	return &out, nil
}

func (c *Client) RoomSummary(ctx context.Context, roomID string) (*gateway.RoomSummary, error) {
	var out gateway.RoomSummary
	if err := c.Get(ctx, fmt.Sprintf(RoomSummaryEndpoint, url.PathEscape(roomID)), &out); err != nil {
		return nil, wrap(err, "get room")
	}
	return &out, nil
}

// Top returns the leaderboard; limit <= 0 uses the server default.
func (c *Client) Top(ctx context.Context, limit int) ([]models.RankingEntry, error) {
	endpoint := TopEndpoint
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.RankingEntry
	if err := c.Get(ctx, endpoint, &out); err != nil {
		return nil, wrap(err, "get leaderboard")
	}
	return out, nil
}

func (c *Client) Position(ctx context.Context, userID string) (*models.RankingEntry, error) {
	var out models.RankingEntry
	if err := c.Get(ctx, fmt.Sprintf(PositionEndpoint, url.PathEscape(userID)), &out); err != nil {
		return nil, wrap(err, "get ranking position")
	}
	return &out, nil
}

func (c *Client) RecordGame(ctx context.Context, userID string, req gateway.RecordGameRequest) (*gateway.RecordGameResponse, error) {
	var out gateway.RecordGameResponse
	if err := c.Post(ctx, fmt.Sprintf(GamesEndpoint, url.PathEscape(userID)), req, &out); err != nil {
		return nil, wrap(err, "record game")
	}
	return &out, nil
}

// RecordRoomGame asks the server to credit a finished room's result.
func (c *Client) RecordRoomGame(ctx context.Context, roomID, playerID string) (*gateway.RecordGameResponse, error) {
	var out gateway.RecordGameResponse
	endpoint := fmt.Sprintf(RoomRecordEndpoint, url.PathEscape(roomID), url.PathEscape(playerID))
	if err := c.Post(ctx, endpoint, struct{}{}, &out); err != nil {
		return nil, wrap(err, "record room game")
	}
	return &out, nil
}

func (c *Client) UpdateName(ctx context.Context, userID, name string) error {
	if err := c.Put(ctx, fmt.Sprintf(NameEndpoint, url.PathEscape(userID)), gateway.UpdateNameRequest{PlayerName: name}, nil); err != nil {
		return wrap(err, "update player name")
	}
	return nil
}
