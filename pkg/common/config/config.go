package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers    []string
	KafkaGroupID    string
	SyncEventsTopic string

	// Sync behaviour
	SyncBatchSize   int
	RequestTimeout  time.Duration
	FetchPageLimit  int
	CursorCacheTTL  time.Duration
	RunDedupeOnSync bool
	BandPlanFile    string

	// Wavelog
	WavelogBaseURL   string
	WavelogAPIKey    string
	WavelogStation   string
	WavelogOtherOnly bool

	// QRZ logbook
	QRZBaseURL  string
	QRZUsername string
	QRZPassword string

	// POTA
	POTABaseURL           string
	POTAMaintenanceDay    time.Weekday
	POTAMaintenanceStart  string // "15:04" UTC
	POTAMaintenanceLength time.Duration
	POTAMaintenanceBypass bool
	POTATokenRefreshSkew  time.Duration
	POTASessionFile       string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "qsosync"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "qsosync123"),
		PostgresDB:       getEnv("POSTGRES_DB", "qsosync"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "qsosync-platform"),
		SyncEventsTopic: getEnv("SYNC_EVENTS_TOPIC", "sync-events"),

		SyncBatchSize:   getIntEnv("SYNC_BATCH_SIZE", 25),
		RequestTimeout:  getDuration("REQUEST_TIMEOUT", 30*time.Second),
		FetchPageLimit:  getIntEnv("FETCH_PAGE_LIMIT", 250),
		CursorCacheTTL:  getDuration("CURSOR_CACHE_TTL", time.Minute),
		RunDedupeOnSync: getBoolEnv("RUN_DEDUPE_ON_SYNC", true),
		BandPlanFile:    getEnv("BAND_PLAN_FILE", ""),

		WavelogBaseURL:   getEnv("WAVELOG_BASE_URL", ""),
		WavelogAPIKey:    getEnv("WAVELOG_API_KEY", ""),
		WavelogStation:   getEnv("WAVELOG_STATION_ID", ""),
		WavelogOtherOnly: getBoolEnv("WAVELOG_OTHER_CLIENTS_ONLY", true),

		QRZBaseURL:  getEnv("QRZ_BASE_URL", "https://logbook.qrz.com/api"),
		QRZUsername: getEnv("QRZ_USERNAME", ""),
		QRZPassword: getEnv("QRZ_PASSWORD", ""),

		POTABaseURL:           getEnv("POTA_BASE_URL", "https://api.pota.app"),
		POTAMaintenanceDay:    time.Weekday(getIntEnv("POTA_MAINTENANCE_WEEKDAY", int(time.Wednesday))),
		POTAMaintenanceStart:  getEnv("POTA_MAINTENANCE_START_UTC", "00:00"),
		POTAMaintenanceLength: getDuration("POTA_MAINTENANCE_LENGTH", 2*time.Hour),
		POTAMaintenanceBypass: getBoolEnv("POTA_MAINTENANCE_BYPASS", false),
		POTATokenRefreshSkew:  getDuration("POTA_TOKEN_REFRESH_SKEW", 5*time.Minute),
		POTASessionFile:       getEnv("POTA_SESSION_FILE", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
