package main

import (
	"net/http"

	"github.com/mcdev12/triviaroom/go/internal/config"
	"github.com/mcdev12/triviaroom/go/internal/gateway"
	"github.com/mcdev12/triviaroom/go/internal/scoring"
)

func setupServer(services *Services, cfg *config.Config) *http.Server {
	xp, _ := scoring.ParseXPPolicy(cfg.XPPolicy)

	srv := gateway.NewServer(gateway.Deps{
		Connections:    services.Connections,
		Rooms:          services.Rooms,
		Ranking:        services.Ranking,
		Questions:      services.Questions,
		Resolver:       services.Resolver,
		Metrics:        services.Metrics,
		MetricsHandler: services.Metrics.Handler(),
	}, gateway.Config{
		BaseURL:          cfg.BaseURL,
		CORSOrigins:      cfg.CORSOrigins,
		QuestionDuration: cfg.QuestionDuration,
		XPPolicy:         xp,
	})
	return srv.HTTPServer(cfg.Addr())
}
