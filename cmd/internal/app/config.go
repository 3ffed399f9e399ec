package app

import (
	"strings"
	"time"
)

// Store backends selectable via NEARBY_STORE.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	Store string

	RedisURL        string
	RedisAddr       string
	RedisPassword   string
	RedisTLS        bool
	RedisMaxRetries int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	TTL             time.Duration
	RadiusKm        float64
	RoomNameMax     int
	MessageMaxChars int
	HistoryLimit    int
	SendInterval    time.Duration
	SweepInterval   time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	cfg := Config{
		HTTPAddr:  EnvString("NEARBY_HTTP_ADDR", "0.0.0.0:3000"),
		LogLevel:  EnvString("NEARBY_LOG_LEVEL", "info"),
		LogFormat: EnvString("NEARBY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("NEARBY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("NEARBY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("NEARBY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("NEARBY_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("NEARBY_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("NEARBY_SHUTDOWN_TIMEOUT", 10*time.Second),

		Store: strings.ToLower(EnvString("NEARBY_STORE", "")),

		RedisURL:        EnvString("NEARBY_REDIS_URL", ""),
		RedisAddr:       EnvString("NEARBY_REDIS_ADDR", ""),
		RedisPassword:   EnvString("NEARBY_REDIS_PASSWORD", ""),
		RedisTLS:        EnvBool("NEARBY_REDIS_TLS", false),
		RedisMaxRetries: EnvInt("NEARBY_REDIS_MAX_RETRIES", 3),

		DatabaseURL: EnvString("NEARBY_DATABASE_URL", ""),
		DBSchema:    EnvString("NEARBY_DB_SCHEMA", "nearby"),
		DBMaxConns:  EnvInt32("NEARBY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("NEARBY_DB_MIN_CONNS", 0),

		TTL:             EnvDuration("NEARBY_TTL", 2*time.Hour),
		RadiusKm:        EnvFloat("NEARBY_NEARBY_RADIUS_KM", 5),
		RoomNameMax:     EnvInt("NEARBY_ROOM_NAME_MAX", 50),
		MessageMaxChars: EnvInt("NEARBY_MESSAGE_MAX_CHARS", 300),
		HistoryLimit:    EnvInt("NEARBY_HISTORY_LIMIT", 50),
		SendInterval:    EnvDuration("NEARBY_SEND_INTERVAL", time.Second),
		SweepInterval:   EnvDuration("NEARBY_INDEX_SWEEP_INTERVAL", 0),

		CORSAllowedOrigins:   EnvCSV("NEARBY_CORS_ALLOWED_ORIGINS", "http://localhost:*,http://127.0.0.1:*"),
		CORSAllowCredentials: EnvBool("NEARBY_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("NEARBY_CORS_MAX_AGE_SECONDS", 600),
	}
	cfg.Store = resolveStore(cfg)
	return cfg
}

// resolveStore picks the explicit NEARBY_STORE, or infers one from which backend is configured.
func resolveStore(cfg Config) string {
	switch cfg.Store {
	case StoreMemory, StoreRedis, StorePostgres:
		return cfg.Store
	case "":
	default:
		return cfg.Store // rejected later by newStore with a clear error
	}
	switch {
	case cfg.RedisURL != "" || cfg.RedisAddr != "":
		return StoreRedis
	case cfg.DatabaseURL != "":
		return StorePostgres
	default:
		return StoreMemory
	}
}
