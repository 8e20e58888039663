package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	ErrMissingPostgresURL = errors.New("missing-postgres-url")
	ErrMissingJWTKey      = errors.New("missing-jwt-key")
	ErrMissingOrigins     = errors.New("missing-allowed-origins")
	ErrInvalidLimits      = errors.New("invalid-limits")
)

// Limits are the per-session token buckets. They can change at runtime.
type Limits struct {
	MessagesPerSecond float64
	MessageBurst      int
	StrokesPerSecond  float64
	StrokeBurst       int
}

type Config struct {
	Addr           string
	AllowedOrigins []string
	PostgresURL    string
	JWTKey         string
	Debug          bool

	TokenAge  time.Duration
	TrollTime time.Duration

	RoomIdleTimeout     time.Duration
	StrokeFlushInterval time.Duration
	TickInterval        time.Duration
	PingInterval        time.Duration

	Limits Limits
}

func DefaultLimits() Limits {
	return Limits{
		MessagesPerSecond: 5,
		MessageBurst:      10,
		StrokesPerSecond:  120,
		StrokeBurst:       240,
	}
}

func DefaultConfig() Config {
	return Config{
		Addr:                ":5000",
		TokenAge:            7 * 24 * time.Hour,
		TrollTime:           2 * time.Second,
		RoomIdleTimeout:     5 * time.Minute,
		StrokeFlushInterval: 16 * time.Millisecond,
		TickInterval:        time.Second,
		PingInterval:        30 * time.Second,
		Limits:              DefaultLimits(),
	}
}

func (l Limits) Validate() error {
	if l.MessagesPerSecond <= 0 || l.StrokesPerSecond <= 0 {
		return fmt.Errorf("%w: rates must be positive", ErrInvalidLimits)
	}
	if l.MessageBurst < 1 || l.StrokeBurst < 1 {
		return fmt.Errorf("%w: bursts must be at least 1", ErrInvalidLimits)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.PostgresURL == "" {
		return ErrMissingPostgresURL
	}
	if c.JWTKey == "" {
		return ErrMissingJWTKey
	}
	if len(c.AllowedOrigins) == 0 {
		return ErrMissingOrigins
	}
	if c.Addr == "" {
		c.Addr = ":5000"
	}
	for name, d := range map[string]time.Duration{
		"token-age":             c.TokenAge,
		"room-idle-timeout":     c.RoomIdleTimeout,
		"stroke-flush-interval": c.StrokeFlushInterval,
		"tick-interval":         c.TickInterval,
		"ping-interval":         c.PingInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return c.Limits.Validate()
}

// setter applies a value only when the matching flag was not set on the
// command line.
type setter struct {
	changed map[string]bool
}

func (s setter) str(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s setter) list(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s setter) duration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s setter) float(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s setter) integer(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s setter) boolean(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ApplyEnv reads CHATUS_ADDR, ALLOWED_ORIGINS, POSTGRES_URL, JWT_KEY and
// CHATUS_DEBUG.
func ApplyEnv(cfg *Config, changed map[string]bool) {
	s := setter{changed: changed}
	s.str("addr", os.Getenv("CHATUS_ADDR"), &cfg.Addr)
	s.list("origins", splitList(os.Getenv("ALLOWED_ORIGINS")), &cfg.AllowedOrigins)
	s.str("postgres-url", os.Getenv("POSTGRES_URL"), &cfg.PostgresURL)
	s.str("jwt-key", os.Getenv("JWT_KEY"), &cfg.JWTKey)
	if v, ok := os.LookupEnv("CHATUS_DEBUG"); ok && !changed["debug"] {
		cfg.Debug = v == "true" || v == "1"
	}
}
