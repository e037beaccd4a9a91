package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/quizarena.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// RedisURL enables cross-instance event fan-out when set.
	RedisURL string `env:"REDIS_URL"`

	// OperatorKeyHash is the bcrypt hash of the key operators send as a
	// bearer token.
	OperatorKeyHash string        `env:"OPERATOR_KEY_HASH,required,notEmpty"`
	TokenSecret     string        `env:"TOKEN_SECRET,required,notEmpty"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"12h"`

	DefaultMaxTeams int      `env:"DEFAULT_MAX_TEAMS" envDefault:"60"`
	PremiumHosts    []string `env:"PREMIUM_HOSTS" envSeparator:","`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	// RNGSeed makes pin codes and team palettes reproducible. Zero seeds
	// randomly.
	RNGSeed uint64 `env:"RNG_SEED" envDefault:"0"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if len(cfg.TokenSecret) < 32 {
		return nil, errors.New("TOKEN_SECRET must be at least 32 bytes")
	}
	if cfg.DefaultMaxTeams <= 0 {
		return nil, errors.New("DEFAULT_MAX_TEAMS must be positive")
	}
	return &cfg, nil
}
