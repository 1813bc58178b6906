package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) (*Config, *pflag.FlagSet) {
	t.Helper()
	cfg := &Config{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	return cfg, fs
}

func TestDefaultsValidate(t *testing.T) {
	cfg, fs := newFlags(t)
	if err := Resolve(fs, NewViper()); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if cfg.QuestionDuration != 15*time.Second {
		t.Errorf("question duration = %s, want 15s", cfg.QuestionDuration)
	}
	if cfg.RankingWindow != 7*24*time.Hour || cfg.RankingTopN != 50 {
		t.Errorf("unexpected ranking defaults %s / %d", cfg.RankingWindow, cfg.RankingTopN)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("addr = %q", cfg.Addr())
	}
}

func TestEnvironmentOverridesDefaultsButNotFlags(t *testing.T) {
	t.Setenv("TRIVIAROOM_PORT", "9090")
	t.Setenv("TRIVIAROOM_JOIN_POLICY", "strict")
	t.Setenv("TRIVIAROOM_BACKEND", "nats")

	cfg, fs := newFlags(t, "--backend", "memory")
	if err := Resolve(fs, NewViper()); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
	if cfg.JoinPolicy != "strict" {
		t.Errorf("join policy = %q, want strict", cfg.JoinPolicy)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("backend = %q, flag should win over env", cfg.Backend)
	}
}

func TestTuningFileFillsUnsetFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := "question-duration: 20s\nranking-top: 10\ncors-origins:\n  - https://a.example\n  - https://b.example\nxp-policy: score_only\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	cfg, fs := newFlags(t, "--tuning-file", path, "--ranking-top", "5")
	if err := Resolve(fs, NewViper()); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cfg.QuestionDuration != 20*time.Second {
		t.Errorf("question duration = %s, want 20s", cfg.QuestionDuration)
	}
	if cfg.RankingTopN != 5 {
		t.Errorf("ranking top = %d, flag should win over tuning file", cfg.RankingTopN)
	}
	if strings.Join(cfg.CORSOrigins, ",") != "https://a.example,https://b.example" {
		t.Errorf("cors origins = %v", cfg.CORSOrigins)
	}
	if cfg.XPPolicy != "score_only" {
		t.Errorf("xp policy = %q", cfg.XPPolicy)
	}
}

func TestTuningFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("points: 20\n"), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	_, fs := newFlags(t, "--tuning-file", path)
	if err := Resolve(fs, NewViper()); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"port":          func(c *Config) { c.Port = 0 },
		"log level":     func(c *Config) { c.LogLevel = "loud" },
		"backend":       func(c *Config) { c.Backend = "redis" },
		"ranking store": func(c *Config) { c.RankingStore = "mongo" },
		"join policy":   func(c *Config) { c.JoinPolicy = "first" },
		"coordinator":   func(c *Config) { c.CoordinatorPolicy = "everyone" },
		"xp policy":     func(c *Config) { c.XPPolicy = "double" },
		"duration":      func(c *Config) { c.QuestionDuration = 0 },
		"prune horizon": func(c *Config) { c.RankingPruneAfter = 24 * time.Hour },
		"top n":         func(c *Config) { c.RankingTopN = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, _ := newFlags(t)
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate accepted bad %s", name)
			}
		})
	}
}

func TestClientConfig(t *testing.T) {
	cfg, _ := newFlags(t, "--coordinator-policy", "lowest_online", "--question-duration", "10s")
	cc := cfg.Client("room", "p1")
	if cc.RoomID != "room" || cc.PlayerID != "p1" {
		t.Errorf("unexpected ids %+v", cc)
	}
	if cc.Policy != "lowest_online" || cc.QuestionDuration != 10*time.Second {
		t.Errorf("unexpected client config %+v", cc)
	}
}
