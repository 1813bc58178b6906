// Package config holds the triviaroom server settings. Values come from
// flags, TRIVIAROOM_* environment variables and an optional YAML tuning
// file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcdev12/triviaroom/go/internal/ranking"
	"github.com/mcdev12/triviaroom/go/internal/reaper"
	"github.com/mcdev12/triviaroom/go/internal/room"
	"github.com/mcdev12/triviaroom/go/internal/roomsync"
	"github.com/mcdev12/triviaroom/go/internal/scoring"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "TRIVIAROOM"

const (
	BackendMemory = "memory"
	BackendNATS   = "nats"

	RankingStoreTree     = "store"
	RankingStorePostgres = "postgres"

	QuestionsYAML     = "yaml"
	QuestionsPostgres = "postgres"
)

type Config struct {
	Bind     string
	Port     int
	BaseURL  string
	LogLevel string

	Backend    string
	NATSURL    string
	NATSBucket string

	RankingStore   string
	QuestionStore  string
	QuestionsFile  string
	CORSOrigins    []string
	TuningFile     string
	RankingPingInt time.Duration

	JoinPolicy        string
	CoordinatorPolicy string
	XPPolicy          string

	QuestionDuration  time.Duration
	AdvanceGrace      time.Duration
	HeartbeatInterval time.Duration

	RankingWindow     time.Duration
	RankingPruneAfter time.Duration
	RankingTopN       int

	ReaperInterval  time.Duration
	RoomTTL         time.Duration
	FinishedTTL     time.Duration
	PresenceTimeout time.Duration
	StallTimeout    time.Duration
}

// RegisterFlags adds every setting to fs with its default.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	reap := reaper.DefaultConfig()

	fs.StringVarP(&c.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: TRIVIAROOM_BIND)")
	fs.IntVarP(&c.Port, "port", "p", 8080, "port to listen on (env: TRIVIAROOM_PORT)")
	fs.StringVar(&c.BaseURL, "base-url", "http://localhost:8080", "public URL used in share links (env: TRIVIAROOM_BASE_URL)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "zerolog level (env: TRIVIAROOM_LOG_LEVEL)")

	fs.StringVar(&c.Backend, "backend", BackendMemory, "shared state backend: memory or nats (env: TRIVIAROOM_BACKEND)")
	fs.StringVar(&c.NATSURL, "nats-url", "nats://localhost:4222", "NATS server URL (env: TRIVIAROOM_NATS_URL)")
	fs.StringVar(&c.NATSBucket, "nats-bucket", "TRIVIAROOM_STATE", "JetStream KV bucket (env: TRIVIAROOM_NATS_BUCKET)")

	fs.StringVar(&c.RankingStore, "ranking-store", RankingStoreTree, "ranking storage: store or postgres (env: TRIVIAROOM_RANKING_STORE)")
	fs.StringVar(&c.QuestionStore, "question-store", QuestionsYAML, "question bank: yaml or postgres (env: TRIVIAROOM_QUESTION_STORE)")
	fs.StringVar(&c.QuestionsFile, "questions-file", "", "YAML question bank, embedded sample when empty (env: TRIVIAROOM_QUESTIONS_FILE)")
	fs.StringSliceVar(&c.CORSOrigins, "cors-origins", []string{"*"}, "allowed CORS origins (env: TRIVIAROOM_CORS_ORIGINS)")
	fs.StringVar(&c.TuningFile, "tuning-file", "", "YAML file overriding flag defaults (env: TRIVIAROOM_TUNING_FILE)")
	fs.DurationVar(&c.RankingPingInt, "ranking-ping-interval", 90*time.Second, "LISTEN connection ping interval (env: TRIVIAROOM_RANKING_PING_INTERVAL)")

	fs.StringVar(&c.JoinPolicy, "join-policy", string(room.JoinAdvisory), "advisory or strict (env: TRIVIAROOM_JOIN_POLICY)")
	fs.StringVar(&c.CoordinatorPolicy, "coordinator-policy", string(roomsync.PolicyHostOnly), "host_only or lowest_online (env: TRIVIAROOM_COORDINATOR_POLICY)")
	fs.StringVar(&c.XPPolicy, "xp-policy", string(scoring.XPScorePlusSpeedBonus), "score_plus_speed_bonus or score_only (env: TRIVIAROOM_XP_POLICY)")

	fs.DurationVar(&c.QuestionDuration, "question-duration", scoring.QuestionDuration, "time each question stays open (env: TRIVIAROOM_QUESTION_DURATION)")
	fs.DurationVar(&c.AdvanceGrace, "advance-grace", roomsync.DefaultAdvanceGrace, "delay after the deadline before advancing (env: TRIVIAROOM_ADVANCE_GRACE)")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", roomsync.DefaultHeartbeatInterval, "client presence heartbeat (env: TRIVIAROOM_HEARTBEAT_INTERVAL)")

	fs.DurationVar(&c.RankingWindow, "ranking-window", ranking.DefaultWindow, "rolling ranking window (env: TRIVIAROOM_RANKING_WINDOW)")
	fs.DurationVar(&c.RankingPruneAfter, "ranking-prune-after", ranking.DefaultPruneAfter, "age after which game records are pruned (env: TRIVIAROOM_RANKING_PRUNE_AFTER)")
	fs.IntVar(&c.RankingTopN, "ranking-top", ranking.DefaultTopN, "leaderboard size (env: TRIVIAROOM_RANKING_TOP)")

	fs.DurationVar(&c.ReaperInterval, "reaper-interval", reap.Interval, "room sweep interval, 0 disables (env: TRIVIAROOM_REAPER_INTERVAL)")
	fs.DurationVar(&c.RoomTTL, "room-ttl", reap.RoomTTL, "maximum room age (env: TRIVIAROOM_ROOM_TTL)")
	fs.DurationVar(&c.FinishedTTL, "finished-ttl", reap.FinishedTTL, "how long finished rooms are kept (env: TRIVIAROOM_FINISHED_TTL)")
	fs.DurationVar(&c.PresenceTimeout, "presence-timeout", reap.PresenceTimeout, "silence before a player is marked offline (env: TRIVIAROOM_PRESENCE_TIMEOUT)")
	fs.DurationVar(&c.StallTimeout, "stall-timeout", reap.StallTimeout, "overrun before a stalled game is finished (env: TRIVIAROOM_STALL_TIMEOUT)")
}

// NewViper returns a viper instance reading TRIVIAROOM_* variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Resolve fills every flag not given on the command line, first from the
// environment and then from the tuning file.
func Resolve(fs *pflag.FlagSet, v *viper.Viper) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = append(errs, fmt.Errorf("invalid %s_%s: %w", EnvPrefix, envName(f.Name), err))
			}
		}
	})
	if err := errors.Join(errs...); err != nil {
		return err
	}

	path, err := fs.GetString("tuning-file")
	if err != nil || path == "" {
		return nil
	}
	return ApplyTuningFile(fs, path)
}

// ApplyTuningFile reads a YAML mapping of flag names to values and applies
// the ones not already set.
func ApplyTuningFile(fs *pflag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read tuning file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse tuning file: %w", err)
	}
	for name, raw := range values {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("tuning file %s: unknown setting %q", path, name)
		}
		if f.Changed {
			continue
		}
		if err := fs.Set(name, tuningValue(raw)); err != nil {
			return fmt.Errorf("tuning file %s: invalid %s: %w", path, name, err)
		}
	}
	return nil
}

func tuningValue(raw any) string {
	if list, ok := raw.([]any); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(raw)
}

func envName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	switch c.Backend {
	case BackendMemory, BackendNATS:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.RankingStore {
	case RankingStoreTree, RankingStorePostgres:
	default:
		return fmt.Errorf("unknown ranking store %q", c.RankingStore)
	}
	switch c.QuestionStore {
	case QuestionsYAML, QuestionsPostgres:
	default:
		return fmt.Errorf("unknown question store %q", c.QuestionStore)
	}
	if _, err := room.ParseJoinPolicy(c.JoinPolicy); err != nil {
		return err
	}
	if _, err := roomsync.ParseCoordinatorPolicy(c.CoordinatorPolicy); err != nil {
		return err
	}
	if _, err := scoring.ParseXPPolicy(c.XPPolicy); err != nil {
		return err
	}

	positive := map[string]time.Duration{
		"question-duration":  c.QuestionDuration,
		"heartbeat-interval": c.HeartbeatInterval,
		"ranking-window":     c.RankingWindow,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.AdvanceGrace < 0 || c.ReaperInterval < 0 {
		return errors.New("advance-grace and reaper-interval cannot be negative")
	}
	if c.RankingPruneAfter < c.RankingWindow {
		return fmt.Errorf("ranking-prune-after (%s) is shorter than ranking-window (%s)", c.RankingPruneAfter, c.RankingWindow)
	}
	if c.RankingTopN < 1 {
		return fmt.Errorf("ranking-top must be at least 1, got %d", c.RankingTopN)
	}
	return nil
}

// Level returns the parsed log level. Call after Validate.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

func (c *Config) Ranking() ranking.Config {
	return ranking.Config{Window: c.RankingWindow, PruneAfter: c.RankingPruneAfter, TopN: c.RankingTopN}
}

func (c *Config) Reaper() reaper.Config {
	return reaper.Config{
		Interval:         c.ReaperInterval,
		RoomTTL:          c.RoomTTL,
		FinishedTTL:      c.FinishedTTL,
		PresenceTimeout:  c.PresenceTimeout,
		StallTimeout:     c.StallTimeout,
		QuestionDuration: c.QuestionDuration,
	}
}

// Client returns the sync settings for one player session.
func (c *Config) Client(roomID, playerID string) roomsync.ClientConfig {
	policy, _ := roomsync.ParseCoordinatorPolicy(c.CoordinatorPolicy)
	return roomsync.ClientConfig{
		RoomID:            roomID,
		PlayerID:          playerID,
		Policy:            policy,
		QuestionDuration:  c.QuestionDuration,
		AdvanceGrace:      c.AdvanceGrace,
		HeartbeatInterval: c.HeartbeatInterval,
	}
}
