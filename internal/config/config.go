package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string
	DataDir  string
	DBPath   string
	WebDir   string

	LLMProvider string
	LLMModel    string
	LLMAPIKey   string

	// TurnLimit is the default per-agent turn budget for new worlds.
	TurnLimit int

	QueueMaxRetries     int
	QueueTimeoutSeconds int
	PollInterval        time.Duration
	HeartbeatInterval   time.Duration
	ReapInterval        time.Duration
	CleanupInterval     time.Duration
	RetentionAge        time.Duration
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("WORLDD_DATA_DIR", "data")
	return Config{
		HTTPAddr: getEnv("WORLDD_HTTP_ADDR", ":8080"),
		DataDir:  dataDir,
		DBPath:   getEnv("WORLDD_DB_PATH", filepath.Join(dataDir, "worldd.db")),
		WebDir:   getEnv("WORLDD_WEB_DIR", "web"),

		LLMProvider: getEnv("WORLDD_LLM_PROVIDER", "anthropic"),
		LLMModel:    getEnv("WORLDD_LLM_MODEL", ""),
		LLMAPIKey:   getEnv("WORLDD_LLM_API_KEY", ""),

		TurnLimit: getEnvInt("WORLDD_TURN_LIMIT", 5),

		QueueMaxRetries:     getEnvInt("WORLDD_QUEUE_MAX_RETRIES", 3),
		QueueTimeoutSeconds: getEnvInt("WORLDD_QUEUE_TIMEOUT_SECONDS", 300),
		PollInterval:        getEnvDuration("WORLDD_POLL_INTERVAL", 250*time.Millisecond),
		HeartbeatInterval:   getEnvDuration("WORLDD_HEARTBEAT_INTERVAL", 10*time.Second),
		ReapInterval:        getEnvDuration("WORLDD_REAP_INTERVAL", 30*time.Second),
		CleanupInterval:     getEnvDuration("WORLDD_CLEANUP_INTERVAL", time.Hour),
		RetentionAge:        getEnvDuration("WORLDD_RETENTION_AGE", 24*time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
