package ranking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

// NotifyChannel is the LISTEN/NOTIFY channel ranking writes announce on.
const NotifyChannel = "weekly_ranking_changed"

const schema = `
CREATE TABLE IF NOT EXISTS weekly_ranking (
    user_id      TEXT PRIMARY KEY,
    player_name  TEXT NOT NULL,
    games        JSONB,
    last_updated BIGINT NOT NULL
)`

// PostgresConfig holds listener settings for change notifications.
type PostgresConfig struct {
	DatabaseURL  string
	PingInterval time.Duration
}

// PostgresRepository stores ranking records in Postgres. The games log is a
// JSONB column; every write sends a notification carrying the user id.
type PostgresRepository struct {
	db  *sql.DB
	cfg PostgresConfig
}

// NewPostgresRepository creates a repository over an open lib/pq database.
func NewPostgresRepository(db *sql.DB, cfg PostgresConfig) *PostgresRepository {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 90 * time.Second
	}
	return &PostgresRepository{db: db, cfg: cfg}
}

// EnsureSchema creates the ranking table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create weekly_ranking table: %w", err)
	}
	return nil
}

func gamesToColumn(games []models.GameRecord) (pqtype.NullRawMessage, error) {
	if len(games) == 0 {
		return pqtype.NullRawMessage{}, nil
	}
	data, err := json.Marshal(games)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("failed to encode games: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

func gamesFromColumn(col pqtype.NullRawMessage) ([]models.GameRecord, error) {
	games := []models.GameRecord{}
	if !col.Valid || len(col.RawMessage) == 0 {
		return games, nil
	}
	if err := json.Unmarshal(col.RawMessage, &games); err != nil {
		return nil, fmt.Errorf("failed to decode games: %w", err)
	}
	return games, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (*models.WeeklyRankingPlayer, error) {
	var p models.WeeklyRankingPlayer
	var games pqtype.NullRawMessage
	if err := row.Scan(&p.UserID, &p.PlayerName, &games, &p.LastUpdated); err != nil {
		return nil, err
	}
	var err error
	p.Games, err = gamesFromColumn(games)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*models.WeeklyRankingPlayer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT user_id, player_name, games, last_updated FROM weekly_ranking WHERE user_id = $1`, userID)
	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ranking record: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Put(ctx context.Context, p *models.WeeklyRankingPlayer) error {
	games, err := gamesToColumn(p.Games)
	if err != nil {
		return err
	}
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO weekly_ranking (user_id, player_name, games, last_updated)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE
SET player_name = EXCLUDED.player_name, games = EXCLUDED.games, last_updated = EXCLUDED.last_updated`,
			p.UserID, p.PlayerName, games, p.LastUpdated)
		if err != nil {
			return fmt.Errorf("failed to upsert ranking record: %w", err)
		}
		return sqlutil.Notify(ctx, tx, NotifyChannel, p.UserID)
	})
}

func (r *PostgresRepository) UpdateName(ctx context.Context, userID, name string) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE weekly_ranking SET player_name = $2 WHERE user_id = $1`, userID, name)
		if err != nil {
			return fmt.Errorf("failed to update player name: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrPlayerNotFound
		}
		return sqlutil.Notify(ctx, tx, NotifyChannel, userID)
	})
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.WeeklyRankingPlayer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, player_name, games, last_updated FROM weekly_ranking ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranking records: %w", err)
	}
	defer rows.Close()

	var out []*models.WeeklyRankingPlayer
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ranking record: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Watch listens on NotifyChannel with a dedicated pq.Listener connection.
func (r *PostgresRepository) Watch(ctx context.Context, fn func()) (func(), error) {
	l := pq.NewListener(
		r.cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("ranking listener event")
			}
		},
	)
	if err := l.Listen(NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}
	log.Info().Str("channel", NotifyChannel).Msg("listening for ranking changes")

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pingTicker := time.NewTicker(r.cfg.PingInterval)
		defer pingTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case note := <-l.Notify:
				// nil means the connection was re-established; state may
				// have changed meanwhile.
				if note != nil {
					log.Debug().Str("user_id", note.Extra).Msg("ranking changed")
				}
				fn()
			case <-pingTicker.C:
				if err := l.Ping(); err != nil {
					log.Error().Err(err).Msg("failed to ping ranking listener")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
		if err := l.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close ranking listener")
		}
	}, nil
}
