package dbconfig

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Postgres settings shared by the server and the seed tool. DATABASE_URL,
// when set, wins over the individual DB_* variables.
type Config struct {
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	ApplicationName string
	ConnectTimeout  time.Duration
}

func NewConfigFromEnv() Config {
	return Config{
		URL:             os.Getenv("DATABASE_URL"),
		Host:            envOr("DB_HOST", "localhost"),
		Port:            envInt("DB_PORT", 5432),
		User:            envOr("DB_USER", "postgres"),
		Password:        envOr("DB_PASSWORD", "postgres"),
		Database:        envOr("DB_NAME", "triviaroom"),
		SSLMode:         envOr("DB_SSLMODE", "disable"),
		ApplicationName: envOr("DB_APPLICATION_NAME", "triviaroom"),
		ConnectTimeout:  time.Duration(envInt("DB_CONNECT_TIMEOUT", 10)) * time.Second,
	}
}

func (c Config) dsnURL() *url.URL {
	if c.URL != "" {
		if u, err := url.Parse(c.URL); err == nil {
			return u
		}
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout/time.Second)))
	}
	return &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
}

// DSN is a postgres:// URL understood by both pgx and lib/pq.
func (c Config) DSN() string {
	return c.dsnURL().String()
}

// Redacted is DSN with the password masked, for logs.
func (c Config) Redacted() string {
	return c.dsnURL().Redacted()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt falls back on unset or unparsable values.
func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
