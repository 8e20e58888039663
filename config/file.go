package config

import (
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

type FileLimits struct {
	MessagesPerSecond float64 `toml:"messages_per_second"`
	MessageBurst      int     `toml:"message_burst"`
	StrokesPerSecond  float64 `toml:"strokes_per_second"`
	StrokeBurst       int     `toml:"stroke_burst"`
}

// FileConfig is the TOML shape of Config. Durations are strings like "30s".
type FileConfig struct {
	Addr                string     `toml:"addr"`
	AllowedOrigins      []string   `toml:"allowed_origins"`
	PostgresURL         string     `toml:"postgres_url"`
	JWTKey              string     `toml:"jwt_key"`
	Debug               *bool      `toml:"debug"`
	TokenAge            string     `toml:"token_age"`
	TrollTime           string     `toml:"troll_time"`
	RoomIdleTimeout     string     `toml:"room_idle_timeout"`
	StrokeFlushInterval string     `toml:"stroke_flush_interval"`
	TickInterval        string     `toml:"tick_interval"`
	PingInterval        string     `toml:"ping_interval"`
	Limits              FileLimits `toml:"limits"`
}

func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

func ApplyFile(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := setter{changed: changed}

	s.str("addr", fc.Addr, &cfg.Addr)
	s.list("origins", fc.AllowedOrigins, &cfg.AllowedOrigins)
	s.str("postgres-url", fc.PostgresURL, &cfg.PostgresURL)
	s.str("jwt-key", fc.JWTKey, &cfg.JWTKey)
	s.boolean("debug", fc.Debug, &cfg.Debug)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"token-age", fc.TokenAge, &cfg.TokenAge},
		{"troll-time", fc.TrollTime, &cfg.TrollTime},
		{"room-idle-timeout", fc.RoomIdleTimeout, &cfg.RoomIdleTimeout},
		{"stroke-flush-interval", fc.StrokeFlushInterval, &cfg.StrokeFlushInterval},
		{"tick-interval", fc.TickInterval, &cfg.TickInterval},
		{"ping-interval", fc.PingInterval, &cfg.PingInterval},
	}
	for _, d := range durations {
		if err := s.duration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	applyLimits(s, &cfg.Limits, fc.Limits)
	return nil
}

func applyLimits(s setter, l *Limits, fl FileLimits) {
	s.float("messages-per-second", fl.MessagesPerSecond, &l.MessagesPerSecond)
	s.integer("message-burst", fl.MessageBurst, &l.MessageBurst)
	s.float("strokes-per-second", fl.StrokesPerSecond, &l.StrokesPerSecond)
	s.integer("stroke-burst", fl.StrokeBurst, &l.StrokeBurst)
}

// LoadLimits reads only the [limits] table, starting from base.
func LoadLimits(path string, base Limits, changed map[string]bool) (Limits, error) {
	fc, err := LoadFile(path)
	if err != nil {
		return base, err
	}
	applyLimits(setter{changed: changed}, &base, fc.Limits)
	return base, base.Validate()
}
