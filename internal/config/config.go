package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type WorkerConfig struct {
	DatabaseURL     string
	DiscordToken    string
	AnnounceChannel string
	PollEvery       time.Duration
	FrequentEvery   time.Duration
	JobTimeout      time.Duration
	ResetHour       int
	EventEndHour    int
	NotifyRate      int
	AdminAddr       string
	AdminTokenHash  string
	RandomSeed      int64
	JobsFile        string
	RunOnce         bool
	LogLevel        slog.Level
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DiscordToken:    strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		AnnounceChannel: strings.TrimSpace(os.Getenv("ENCORE_ANNOUNCE_CHANNEL")),
		PollEvery:       envDurationDefault("ENCORE_POLL_EVERY", 5*time.Minute),
		FrequentEvery:   envDurationDefault("ENCORE_FREQUENT_EVERY", 5*time.Minute),
		JobTimeout:      envDurationDefault("ENCORE_JOB_TIMEOUT", 10*time.Minute),
		ResetHour:       envIntDefault("ENCORE_RESET_HOUR", 0),
		EventEndHour:    envIntDefault("ENCORE_EVENT_END_HOUR", 22),
		NotifyRate:      envIntDefault("ENCORE_NOTIFY_RATE", 5),
		AdminAddr:       adminAddr(),
		AdminTokenHash:  strings.TrimSpace(os.Getenv("ENCORE_ADMIN_TOKEN_HASH")),
		RandomSeed:      int64(envIntDefault("ENCORE_RANDOM_SEED", 0)),
		JobsFile:        strings.TrimSpace(os.Getenv("ENCORE_JOBS_FILE")),
		RunOnce:         envBoolDefault("ENCORE_WORKER_RUN_ONCE", false),
		LogLevel:        envLevelDefault("ENCORE_LOG_LEVEL", slog.LevelInfo),
	}
	return cfg, cfg.Validate()
}

func (c WorkerConfig) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.PollEvery <= 0 {
		return fmt.Errorf("ENCORE_POLL_EVERY must be positive")
	}
	if c.FrequentEvery <= 0 {
		return fmt.Errorf("ENCORE_FREQUENT_EVERY must be positive")
	}
	if c.ResetHour < 0 || c.ResetHour > 23 {
		return fmt.Errorf("ENCORE_RESET_HOUR must be between 0 and 23")
	}
	if c.EventEndHour < 0 || c.EventEndHour > 23 {
		return fmt.Errorf("ENCORE_EVENT_END_HOUR must be between 0 and 23")
	}
	if c.NotifyRate <= 0 {
		return fmt.Errorf("ENCORE_NOTIFY_RATE must be positive")
	}
	if c.AdminAddr != "" && c.AdminTokenHash == "" {
		return fmt.Errorf("ENCORE_ADMIN_TOKEN_HASH is required when the admin server is enabled")
	}
	return nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("ENCORE_API_BASE_URL", "http://localhost:8081"), "/"),
	}
}

func adminAddr() string {
	addr := strings.TrimSpace(os.Getenv("ENCORE_ADMIN_ADDR"))
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	return addr
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
