package config

import (
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DatabaseDSN string
	LogLevel    string
}

// Load reads .env when present, then the environment. An empty DSN means
// battle records are discarded instead of persisted.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:        getenv("ADDR", ":8080"),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
