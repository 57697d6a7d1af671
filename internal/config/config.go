package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the client daemon configuration
type Config struct {
	Port       int
	LogLevel   string
	Env        string
	BackendURL string
	AuthToken  string

	DepartmentID string
	UserID       string
	IsAdmin      bool

	// MinQuantity is the lowest quantity a cart entry may hold
	MinQuantity  int
	PollInterval time.Duration

	Storage  StorageConfig
	Realtime RealtimeConfig
}

// StorageConfig selects and configures the durable client storage
type StorageConfig struct {
	Driver      string // file | memory | postgres | redis
	Dir         string
	PostgresDSN string
	RedisAddr   string
	RedisDB     int
}

// RealtimeConfig selects and configures the push channel
type RealtimeConfig struct {
	Driver        string // websocket | kafka
	WebSocketURL  string
	KafkaBrokers  []string
	KafkaTopic    string
	ConsumerGroup string
}

// getEnv retrieves the value of an environment variable or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}

	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return n, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}

	return out
}

// LoadDotEnv loads variables from the given .env files without overriding
// variables already present in the environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}

		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	return nil
}

// Load reads the configuration from environment variables and returns a Config struct.
func Load() (*Config, error) {
	port, err := getEnvInt("PORT", 8090)
	if err != nil {
		return nil, err
	}

	minQty, err := getEnvInt("CART_MIN_QUANTITY", 1)
	if err != nil {
		return nil, err
	}
	if minQty < 1 {
		return nil, fmt.Errorf("CART_MIN_QUANTITY must be >= 1")
	}

	pollSec, err := getEnvInt("POLL_INTERVAL_SEC", 30)
	if err != nil {
		return nil, err
	}
	if pollSec <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_SEC must be > 0")
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	backendURL := strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8080"), "/")

	cfg := &Config{
		Port:         port,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Env:          getEnv("APP_ENV", "development"),
		BackendURL:   backendURL,
		AuthToken:    getEnv("AUTH_TOKEN", ""),
		DepartmentID: getEnv("DEPARTMENT_ID", ""),
		UserID:       getEnv("USER_ID", ""),
		IsAdmin:      strings.EqualFold(getEnv("IS_ADMIN", "false"), "true"),
		MinQuantity:  minQty,
		PollInterval: time.Duration(pollSec) * time.Second,
		Storage: StorageConfig{
			Driver:      strings.ToLower(getEnv("STORAGE_DRIVER", "file")),
			Dir:         getEnv("STORAGE_DIR", ".stationery"),
			PostgresDSN: getEnv("STORAGE_POSTGRES_DSN", ""),
			RedisAddr:   getEnv("STORAGE_REDIS_ADDR", "localhost:6379"),
			RedisDB:     redisDB,
		},
		Realtime: RealtimeConfig{
			Driver:        strings.ToLower(getEnv("REALTIME_DRIVER", "websocket")),
			WebSocketURL:  getEnv("REALTIME_WS_URL", websocketURL(backendURL)),
			KafkaBrokers:  splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
			KafkaTopic:    getEnv("KAFKA_REALTIME_TOPIC", "stationery-realtime"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "stationery-client"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks driver names and the settings each driver needs
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "file":
		if c.Storage.Dir == "" {
			return fmt.Errorf("STORAGE_DIR must not be empty")
		}
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("STORAGE_POSTGRES_DSN is required for the postgres driver")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("STORAGE_REDIS_ADDR is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}

	switch c.Realtime.Driver {
	case "websocket":
		if c.Realtime.WebSocketURL == "" {
			return fmt.Errorf("REALTIME_WS_URL must not be empty")
		}
	case "kafka":
		if len(c.Realtime.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if c.Realtime.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_REALTIME_TOPIC must not be empty")
		}
	default:
		return fmt.Errorf("unknown REALTIME_DRIVER %q", c.Realtime.Driver)
	}

	return nil
}

// RequiredVars lists the environment variables the selected drivers need
func RequiredVars(storageDriver, realtimeDriver string) []string {
	vars := []string{"BACKEND_URL", "AUTH_TOKEN", "DEPARTMENT_ID"}

	switch strings.ToLower(storageDriver) {
	case "postgres":
		vars = append(vars, "STORAGE_POSTGRES_DSN")
	case "redis":
		vars = append(vars, "STORAGE_REDIS_ADDR")
	}

	if strings.ToLower(realtimeDriver) == "kafka" {
		vars = append(vars, "KAFKA_BROKERS")
	}

	return vars
}

// MissingVars returns the required variables that are unset or blank
func MissingVars(vars []string) []string {
	var missing []string

	for _, v := range vars {
		if getEnv(v, "") == "" {
			missing = append(missing, v)
		}
	}

	return missing
}

func websocketURL(backendURL string) string {
	switch {
	case strings.HasPrefix(backendURL, "https://"):
		return "wss://" + strings.TrimPrefix(backendURL, "https://") + "/ws"
	case strings.HasPrefix(backendURL, "http://"):
		return "ws://" + strings.TrimPrefix(backendURL, "http://") + "/ws"
	default:
		return backendURL + "/ws"
	}
}
