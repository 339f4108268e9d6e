package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseHost     string `yaml:"database_host"`
	DatabasePort     string `yaml:"database_port"`
	DatabaseUser     string `yaml:"database_user"`
	DatabasePassword string `yaml:"database_password"`
	DatabaseName     string `yaml:"database_name"`
	StoreDriver      string `yaml:"store_driver"`
	ServerPort       string `yaml:"server_port"`
	LogLevel         string `yaml:"log_level"`

	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`
	JWTSecret     string `yaml:"jwt_secret"`
	WSToken       string `yaml:"ws_token"`

	TelegramBotToken string   `yaml:"telegram_bot_token"`
	TelegramChatIDs  []string `yaml:"telegram_chat_ids"`
	TelegramBaseURL  string   `yaml:"telegram_base_url"`
	MarketplaceURL   string   `yaml:"marketplace_url"`
	NotifyWorkers    int      `yaml:"notify_workers"`
	NotifyQueueSize  int      `yaml:"notify_queue_size"`

	AdmissionAttempts int           `yaml:"admission_attempts"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
}

// LoadConfig reads .env (if present), then an optional YAML file named by
// CONFIG_FILE, then lets environment variables override every field.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.DatabaseHost = getEnv("DATABASE_HOST", or(cfg.DatabaseHost, "localhost"))
	cfg.DatabasePort = getEnv("DATABASE_PORT", or(cfg.DatabasePort, "5432"))
	cfg.DatabaseUser = getEnv("DATABASE_USER", or(cfg.DatabaseUser, "postgres"))
	cfg.DatabasePassword = getEnv("DATABASE_PASSWORD", or(cfg.DatabasePassword, "password"))
	cfg.DatabaseName = getEnv("DATABASE_NAME", or(cfg.DatabaseName, "nftshop"))
	cfg.StoreDriver = getEnv("STORE_DRIVER", or(cfg.StoreDriver, "postgres"))
	cfg.ServerPort = getEnv("SERVER_PORT", or(cfg.ServerPort, "3001"))
	cfg.LogLevel = getEnv("LOG_LEVEL", or(cfg.LogLevel, "info"))

	cfg.AdminUsername = getEnv("ADMIN_USERNAME", or(cfg.AdminUsername, "admin"))
	cfg.AdminPassword = getEnv("ADMIN_PASSWORD", cfg.AdminPassword)
	cfg.JWTSecret = getEnv("JWT_SECRET", or(cfg.JWTSecret, "secret"))
	cfg.WSToken = getEnv("WS_TOKEN", cfg.WSToken)

	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	if v, ok := os.LookupEnv("TELEGRAM_CHAT_IDS"); ok {
		cfg.TelegramChatIDs = splitList(v)
	}
	cfg.TelegramBaseURL = getEnv("TELEGRAM_BASE_URL", or(cfg.TelegramBaseURL, "https://api.telegram.org"))
	cfg.MarketplaceURL = getEnv("MARKETPLACE_URL", cfg.MarketplaceURL)
	cfg.NotifyWorkers = getEnvInt("NOTIFY_WORKERS", orInt(cfg.NotifyWorkers, 2))
	cfg.NotifyQueueSize = getEnvInt("NOTIFY_QUEUE_SIZE", orInt(cfg.NotifyQueueSize, 256))

	cfg.AdmissionAttempts = getEnvInt("ADMISSION_ATTEMPTS", orInt(cfg.AdmissionAttempts, 3))
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 50 * time.Millisecond
	}
	if v, ok := os.LookupEnv("RETRY_BASE_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("RETRY_BASE_DELAY: %w", err)
		}
		cfg.RetryBaseDelay = d
	}

	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "memory" {
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultVal
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
