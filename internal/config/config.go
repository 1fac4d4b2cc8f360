package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port               string
	DatabaseURL        string
	RateLimitPerMinute int
	RateLimitBurst     int
	ResetTime          string // HH:MM local time; empty disables the daily reset
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DB_DSN"),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 240),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 60),
		ResetTime:          os.Getenv("RESET_TIME"),
	}
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
