package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is read once at startup and never mutated afterwards.
type Config struct {
	ServerAddr string
	LogLevel   string

	// Chat platform
	BotToken        string
	ChatID          int64
	TelegramBaseURL string

	// Debrid service
	DebridToken   string
	DebridBaseURL string

	// Remote job lifecycle
	PollInterval         time.Duration
	NotifyInterval       time.Duration
	MaxTransientFailures int
	JobTimeout           time.Duration

	// Relay
	RelayReportInterval time.Duration
	RelayTimeout        time.Duration
	ReadIdleTimeout     time.Duration
	UploadChunkSize     int
	MaxUploadBytes      int64
	DeleteAfterRelay    bool

	// Background watcher and listings
	WatchInterval time.Duration
	PageSize      int
	WorkerCount   int

	// Progress feed
	JWTSecret    string
	FeedTokenTTL time.Duration

	// Optional backends; empty disables them.
	RedisAddr   string
	DatabaseURL string

	// MinIO/S3 fallback for files over MaxUploadBytes
	MinioEndpoint      string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioBucket        string
	MinioUseSSL        bool
	MinioPresignExpiry time.Duration
}

func Load() *Config {
	chatID, _ := strconv.ParseInt(getEnvOrDefault("USER_ID", "0"), 10, 64)
	minioUseSSL, _ := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", "false"))
	deleteAfter, _ := strconv.ParseBool(getEnvOrDefault("DELETE_AFTER_RELAY", "false"))

	serverAddr := getEnvOrDefault("SERVER_ADDR", ":8080")
	if port := os.Getenv("PORT"); port != "" {
		serverAddr = ":" + port
	}

	return &Config{
		ServerAddr: serverAddr,
		LogLevel:   getEnvOrDefault("LOG_LEVEL", "info"),

		BotToken:        os.Getenv("BOT_TOKEN"),
		ChatID:          chatID,
		TelegramBaseURL: strings.TrimRight(getEnvOrDefault("TELEGRAM_API_URL", "https://api.telegram.org"), "/"),

		DebridToken:   os.Getenv("RD_TOKEN"),
		DebridBaseURL: strings.TrimRight(getEnvOrDefault("RD_API_URL", "https://api.real-debrid.com/rest/1.0"), "/"),

		PollInterval:         getDuration("POLL_INTERVAL", 2*time.Second),
		NotifyInterval:       getDuration("NOTIFY_INTERVAL", 3*time.Second),
		MaxTransientFailures: getInt("MAX_TRANSIENT_FAILURES", 5),
		JobTimeout:           getDuration("JOB_TIMEOUT", 6*time.Hour),

		RelayReportInterval: getDuration("RELAY_REPORT_INTERVAL", 5*time.Second),
		RelayTimeout:        getDuration("RELAY_TIMEOUT", 4*time.Hour),
		ReadIdleTimeout:     getDuration("READ_IDLE_TIMEOUT", 60*time.Second),
		UploadChunkSize:     getInt("UPLOAD_CHUNK_SIZE", 512*1024),
		MaxUploadBytes:      int64(getInt("MAX_UPLOAD_MB", 2000)) * 1024 * 1024,
		DeleteAfterRelay:    deleteAfter,

		WatchInterval: getDuration("WATCH_INTERVAL", 10*time.Second),
		PageSize:      getInt("PAGE_SIZE", 50),
		WorkerCount:   getInt("WORKER_COUNT", 3),

		JWTSecret:    getEnvOrDefault("JWT_SECRET", generateDefaultSecret()),
		FeedTokenTTL: getDuration("FEED_TOKEN_TTL", 24*time.Hour),

		RedisAddr:   os.Getenv("REDIS_ADDR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		MinioEndpoint:      os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:     getEnvOrDefault("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:     getEnvOrDefault("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:        getEnvOrDefault("MINIO_BUCKET", "relay-overflow"),
		MinioUseSSL:        minioUseSSL,
		MinioPresignExpiry: getDuration("MINIO_PRESIGN_EXPIRY", 24*time.Hour),
	}
}

// Validate reports the first missing credential.
func (c *Config) Validate() error {
	switch {
	case c.BotToken == "":
		return fmt.Errorf("BOT_TOKEN is required")
	case c.DebridToken == "":
		return fmt.Errorf("RD_TOKEN is required")
	case c.ChatID == 0:
		return fmt.Errorf("USER_ID is required")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnvOrDefault(key, ""))
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnvOrDefault(key, ""))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}
