package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Sync     SyncConfig
	Database DatabaseConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
	EventBus EventBusConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ShutdownTimeout time.Duration
}

type ProviderConfig struct {
	BaseURL         string
	APIKey          string
	APISecret       string
	PollInterval    time.Duration
	HTTPTimeout     time.Duration
	DisableCallback bool
}

type SyncConfig struct {
	ImportType    string // "intraday" or "close"
	IsCard        bool
	CardNumber    string
	AccountNumber string
	DateField     string // "execution_date" or "value_date"
	Timezone      string
	Interval      time.Duration
	LookbackDays  int
}

type DatabaseConfig struct {
	// Source is a pgx connection string. Empty means the in-memory ledger.
	Source string
}

type WorkerConfig struct {
	PoolSize   int
	MaxRetries int
}

type LoggingConfig struct {
	Level string
}

type EventBusConfig struct {
	ChannelBufferSize int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using default values")
	}

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Provider: ProviderConfig{
			BaseURL:         getEnv("BANKINPLAY_BASE_URL", "https://app.bankinplay.com/intradia-core"),
			APIKey:          getEnv("BANKINPLAY_API_KEY", ""),
			APISecret:       getEnv("BANKINPLAY_API_SECRET", ""),
			PollInterval:    getDurationEnv("BANKINPLAY_POLL_INTERVAL", 5*time.Second),
			HTTPTimeout:     getDurationEnv("BANKINPLAY_HTTP_TIMEOUT", 60*time.Second),
			DisableCallback: getBoolEnv("BANKINPLAY_DISABLE_CALLBACK", false),
		},
		Sync: SyncConfig{
			ImportType:    getEnv("SYNC_IMPORT_TYPE", "close"),
			IsCard:        getBoolEnv("SYNC_IS_CARD", false),
			CardNumber:    getEnv("SYNC_CARD_NUMBER", ""),
			AccountNumber: getEnv("SYNC_ACCOUNT_NUMBER", ""),
			DateField:     getEnv("SYNC_DATE_FIELD", "execution_date"),
			Timezone:      getEnv("SYNC_TIMEZONE", "Europe/Madrid"),
			Interval:      getDurationEnv("SYNC_INTERVAL", 6*time.Hour),
			LookbackDays:  getIntEnv("SYNC_LOOKBACK_DAYS", 7),
		},
		Database: DatabaseConfig{
			Source: getEnv("DB_SOURCE", ""),
		},
		Worker: WorkerConfig{
			PoolSize:   getIntEnv("WORKER_POOL_SIZE", 4),
			MaxRetries: getIntEnv("MAX_RETRIES", 3),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		EventBus: EventBusConfig{
			ChannelBufferSize: getIntEnv("EVENT_CHANNEL_BUFFER_SIZE", 100),
		},
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid value for %s: %s, using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getBoolEnv(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid value for %s: %s, using default: %t", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration for %s: %s, using default: %s", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}
