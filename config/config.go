package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Signaling   SignalingConfig
	WebSocket   WebSocketConfig
	Persistence PersistenceConfig
	Log         LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// SignalingConfig tunes the stream coordinator.
type SignalingConfig struct {
	AllowAnonymousViewers bool
	VerifyTimeout         time.Duration // bound on the broadcaster ownership check
}

// WebSocketConfig holds per-connection socket settings.
type WebSocketConfig struct {
	PingInterval time.Duration
	PongWait     time.Duration
	SendBuffer   int
}

// PersistenceConfig tunes the asynchronous projection to the durable store.
type PersistenceConfig struct {
	Workers     int
	Buffer      int
	MaxAttempts int
	Backoff     time.Duration
}

// LogConfig selects the zap level.
type LogConfig struct {
	Level string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "livesignal"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 0)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Signaling: SignalingConfig{
			AllowAnonymousViewers: getEnvBool("ALLOW_ANONYMOUS_VIEWERS", true),
			VerifyTimeout:         getEnvMillis("OWNERSHIP_VERIFY_TIMEOUT_MS", 5000),
		},
		WebSocket: WebSocketConfig{
			PingInterval: time.Duration(getEnvInt("WS_PING_INTERVAL_SEC", 30)) * time.Second,
			PongWait:     time.Duration(getEnvInt("WS_PONG_WAIT_SEC", 60)) * time.Second,
			SendBuffer:   getEnvInt("WS_SEND_BUFFER", 256),
		},
		Persistence: PersistenceConfig{
			Workers:     getEnvInt("PERSIST_WORKERS", 4),
			Buffer:      getEnvInt("PERSIST_BUFFER", 1024),
			MaxAttempts: getEnvInt("PERSIST_MAX_ATTEMPTS", 3),
			Backoff:     getEnvMillis("PERSIST_BACKOFF_MS", 200),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Signaling.VerifyTimeout <= 0 {
		return fmt.Errorf("OWNERSHIP_VERIFY_TIMEOUT_MS must be positive")
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return fmt.Errorf("WS_PONG_WAIT_SEC (%s) must exceed WS_PING_INTERVAL_SEC (%s)", c.WebSocket.PongWait, c.WebSocket.PingInterval)
	}
	if c.Persistence.Workers <= 0 {
		return fmt.Errorf("PERSIST_WORKERS must be positive")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}

func getEnvBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
