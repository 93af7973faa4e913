package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	AllowOrigins []string
}

// StorageConfig holds database and cache configuration.
type StorageConfig struct {
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
}

// RoundConfig holds round loop timings.
type RoundConfig struct {
	BettingWindow   time.Duration
	RevealDuration  time.Duration
	RevealFrameRate int
	Intermission    time.Duration
	AutoStart       bool
}

// OutcomeConfig holds the external random source settings.
type OutcomeConfig struct {
	URL     string
	Timeout time.Duration
}

// MarketConfig holds pricing oracle settings.
type MarketConfig struct {
	OracleURL string
	FXURL     string
	Timeout   time.Duration
	RetryUnit time.Duration
	QuoteTTL  time.Duration
}

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Round       RoundConfig
	Outcome     OutcomeConfig
	Market      MarketConfig
	LevelsFile  string
	AdminSecret string
	EventStream string
	LogLevel    slog.Level
}

// Load reads an optional .env file at path and then the environment.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var errs []error
	dur := func(key string, def time.Duration) time.Duration {
		v, err := time.ParseDuration(getEnv(key, def.String()))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			AllowOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		},
		Storage: StorageConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			RedisURL:    os.Getenv("REDIS_URL"),
			CacheTTL:    dur("CACHE_TTL", 30*time.Second),
		},
		Round: RoundConfig{
			BettingWindow:   dur("BETTING_WINDOW", 10*time.Second),
			RevealDuration:  dur("REVEAL_DURATION", 10*time.Second),
			RevealFrameRate: num("REVEAL_FRAME_RATE", 5),
			Intermission:    dur("INTERMISSION", 5*time.Second),
			AutoStart:       getEnv("AUTO_START", "true") == "true",
		},
		Outcome: OutcomeConfig{
			URL:     getEnv("RNG_URL", "https://csrng.net/csrng/csrng.php?min=1&max=1500000"),
			Timeout: dur("RNG_TIMEOUT", 3*time.Second),
		},
		Market: MarketConfig{
			OracleURL: os.Getenv("ORACLE_URL"),
			FXURL:     os.Getenv("FX_URL"),
			Timeout:   dur("ORACLE_TIMEOUT", 5*time.Second),
			RetryUnit: dur("ORACLE_RETRY_UNIT", time.Second),
			QuoteTTL:  dur("ORACLE_QUOTE_TTL", 10*time.Minute),
		},
		LevelsFile:  os.Getenv("LEVELS_FILE"),
		AdminSecret: os.Getenv("ADMIN_JWT_SECRET"),
		EventStream: getEnv("EVENT_STREAM", "roulette.events"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if cfg.Round.BettingWindow <= 0 {
		errs = append(errs, fmt.Errorf("BETTING_WINDOW must be positive"))
	}
	if cfg.Round.RevealFrameRate <= 0 {
		errs = append(errs, fmt.Errorf("REVEAL_FRAME_RATE must be positive"))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// MarketEnabled reports whether the pricing oracle is configured.
func (c *Config) MarketEnabled() bool {
	return c.Market.OracleURL != "" && c.Market.FXURL != ""
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
