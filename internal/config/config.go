package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/scorefactor/scorefactor-backend/internal/room"
)

// Config is the relay server's environment-driven configuration. A .env
// file is loaded first when present, real environment variables win.
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	MatchLengthSec  int           `env:"MATCH_LENGTH_SEC" envDefault:"60"`
	MaxPlayers      int           `env:"MAX_PLAYERS" envDefault:"8"`
	RoomIdleTimeout time.Duration `env:"ROOM_IDLE_TIMEOUT" envDefault:"10m"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MatchLengthSec <= 0 {
		return Config{}, fmt.Errorf("MATCH_LENGTH_SEC must be positive, got %d", cfg.MatchLengthSec)
	}
	if cfg.MaxPlayers < 2 {
		return Config{}, fmt.Errorf("MAX_PLAYERS must be at least 2, got %d", cfg.MaxPlayers)
	}
	return cfg, nil
}

// RoomConfig translates server settings into per-room settings.
func (c Config) RoomConfig() room.Config {
	return room.Config{
		MatchLength:  c.MatchLengthSec,
		MaxPlayers:   c.MaxPlayers,
		TickInterval: time.Second,
		IdleTimeout:  c.RoomIdleTimeout,
	}
}
