package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/triviaroom/go/internal/config"
	"github.com/mcdev12/triviaroom/go/internal/dbconfig"
	"github.com/mcdev12/triviaroom/go/internal/gateway"
	"github.com/mcdev12/triviaroom/go/internal/metrics"
	"github.com/mcdev12/triviaroom/go/internal/questions"
	"github.com/mcdev12/triviaroom/go/internal/ranking"
	"github.com/mcdev12/triviaroom/go/internal/reaper"
	"github.com/mcdev12/triviaroom/go/internal/room"
	"github.com/mcdev12/triviaroom/go/internal/statestore"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Backend     statestore.Backend
	Connections *gateway.ConnectionManager
	Rooms       *room.Repository
	Ranking     *ranking.Aggregator
	Questions   questions.Store
	Resolver    *questions.Resolver
	Reaper      *reaper.Reaper
	Metrics     *metrics.PrometheusCollector

	closers []func()
}

// Close releases everything in reverse setup order.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func setupServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Backend → store session → repositories → aggregator / gateway
	s := &Services{Metrics: metrics.NewPrometheusCollector()}
	clock := clockwork.NewRealClock()

	backend, err := setupBackend(ctx, cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Backend = backend

	// The server's own session backs the HTTP API, ranking and reaper. It is
	// never closed while the process runs, so it registers no hooks.
	session := backend.NewSession("triviaroom-server")
	s.closers = append(s.closers, func() { session.Close() })

	joinPolicy, _ := room.ParseJoinPolicy(cfg.JoinPolicy)
	s.Rooms = room.NewRepository(session, clock, joinPolicy)
	s.Connections = gateway.NewConnectionManager(backend, gateway.DefaultConnectionConfig(), s.Metrics)
	s.Reaper = reaper.New(s.Rooms, clock, cfg.Reaper(), s.Metrics)

	var db *sql.DB
	var pool *pgxpool.Pool
	dbCfg := dbconfig.NewConfigFromEnv()
	if cfg.RankingStore == config.RankingStorePostgres {
		db, err = setupDatabase(ctx, dbCfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { db.Close() })
	}
	if cfg.QuestionStore == config.QuestionsPostgres {
		pool, err = setupPool(ctx, dbCfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
	}

	// Ranking
	var rankingRepo ranking.Repository = ranking.NewStoreRepository(session)
	if db != nil {
		pgRepo := ranking.NewPostgresRepository(db, ranking.PostgresConfig{
			DatabaseURL:  dbCfg.DSN(),
			PingInterval: cfg.RankingPingInt,
		})
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		rankingRepo = pgRepo
	}
	s.Ranking = ranking.NewAggregator(rankingRepo, clock, cfg.Ranking())

	// Questions
	if pool != nil {
		s.Questions = questions.NewPostgresStore(pool)
	} else {
		bank, err := loadQuestionBank(cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Questions = questions.NewMemoryStore(bank, nil)
	}
	s.Resolver = questions.NewResolver(s.Questions, nil)

	log.Info().
		Str("join_policy", string(joinPolicy)).
		Str("coordinator_policy", cfg.CoordinatorPolicy).
		Str("xp_policy", cfg.XPPolicy).
		Msg("services ready")
	return s, nil
}

func setupBackend(ctx context.Context, cfg *config.Config, s *Services) (statestore.Backend, error) {
	if cfg.Backend != config.BackendNATS {
		return statestore.NewMemoryBackend(), nil
	}
	natsCfg := statestore.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Bucket = cfg.NATSBucket
	backend, err := statestore.ConnectNATS(ctx, natsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect shared state backend: %w", err)
	}
	s.closers = append(s.closers, backend.Close)
	return backend, nil
}
