package ranking

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/sqlc-dev/pqtype"
)

func TestGamesColumnRoundTrip(t *testing.T) {
	games := []models.GameRecord{
		{Timestamp: 1_700_000_000_000, XPGained: 31, CorrectAnswers: 3, TotalQuestions: 5, CorrectResponseTime: 14.5},
		{Timestamp: 1_700_000_600_000, XPGained: 10, CorrectAnswers: 1, TotalQuestions: 5, CorrectResponseTime: 9},
	}
	col, err := gamesToColumn(games)
	if err != nil {
		t.Fatalf("gamesToColumn returned error: %v", err)
	}
	if !col.Valid {
		t.Fatalf("column not valid for %d games", len(games))
	}
	got, err := gamesFromColumn(col)
	if err != nil {
		t.Fatalf("gamesFromColumn returned error: %v", err)
	}
	if !reflect.DeepEqual(got, games) {
		t.Errorf("games = %+v, want %+v", got, games)
	}
}

func TestGamesColumnEmpty(t *testing.T) {
	col, err := gamesToColumn(nil)
	if err != nil {
		t.Fatalf("gamesToColumn returned error: %v", err)
	}
	if col.Valid {
		t.Errorf("empty log stored as %s, want NULL", col.RawMessage)
	}

	for _, c := range []pqtype.NullRawMessage{
		{},
		{RawMessage: json.RawMessage(`[]`), Valid: true},
	} {
		got, err := gamesFromColumn(c)
		if err != nil {
			t.Fatalf("gamesFromColumn(%s) returned error: %v", c.RawMessage, err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("gamesFromColumn(%s) = %#v, want empty slice", c.RawMessage, got)
		}
	}
}

func TestGamesColumnRejectsCorruptJSON(t *testing.T) {
	if _, err := gamesFromColumn(pqtype.NullRawMessage{RawMessage: json.RawMessage(`{"xpGained":`), Valid: true}); err == nil {
		t.Errorf("expected error for corrupt column")
	}
}

type fakeRow struct {
	userID, name string
	games        pqtype.NullRawMessage
	updated      int64
}

func (r fakeRow) Scan(dest ...any) error {
	*dest[0].(*string) = r.userID
	*dest[1].(*string) = r.name
	*dest[2].(*pqtype.NullRawMessage) = r.games
	*dest[3].(*int64) = r.updated
	return nil
}

func TestScanPlayer(t *testing.T) {
	p, err := scanPlayer(fakeRow{
		userID:  "user_1",
		name:    "Ada",
		games:   pqtype.NullRawMessage{RawMessage: json.RawMessage(`[{"timestamp":5,"xpGained":12,"correctAnswers":1,"totalQuestions":2,"correctResponseTime":3}]`), Valid: true},
		updated: 7,
	})
	if err != nil {
		t.Fatalf("scanPlayer returned error: %v", err)
	}
	if p.UserID != "user_1" || p.PlayerName != "Ada" || p.LastUpdated != 7 {
		t.Errorf("player = %+v", p)
	}
	if len(p.Games) != 1 || p.Games[0].XPGained != 12 || p.Games[0].CorrectResponseTime != 3 {
		t.Errorf("games = %+v", p.Games)
	}
}
