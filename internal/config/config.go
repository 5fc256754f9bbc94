package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort        int
	SMTPPort        int
	DBPath          string
	DatabaseURL     string
	RedisURL        string
	AuthSecret      string
	SMTPAuthEnabled bool
	SMTPUsername    string
	SMTPPassword    string
	PageSize        int
	SyncInterval    time.Duration
	LogLevel        slog.Level
	CORSOrigins     []string
}

// Load reads .env (when present) and then the process environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 3025),
		SMTPPort:        getEnvInt("SMTP_PORT", 2025),
		DBPath:          getEnvString("DB_PATH", ""),
		DatabaseURL:     getEnvString("DATABASE_URL", ""),
		RedisURL:        getEnvString("REDIS_URL", ""),
		AuthSecret:      getEnvString("AUTH_SECRET", ""),
		SMTPAuthEnabled: getEnvBool("SMTP_AUTH_ENABLED", true),
		SMTPUsername:    getEnvString("SMTP_USERNAME", "postbox"),
		SMTPPassword:    getEnvString("SMTP_PASSWORD", "postbox"),
		PageSize:        getEnvInt("PAGE_SIZE", 5),
		SyncInterval:    getEnvDuration("SYNC_INTERVAL", 2*time.Second),
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"*"}),
	}
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	if value, ok := os.LookupEnv(key); ok {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err == nil {
			return level
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := getEnvString(key, "")
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
