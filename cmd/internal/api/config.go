package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls HTTP API behavior and abuse limits.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64
	RadiusKm     float64

	// Per-IP throttle on POST /session and POST /rooms. CreateMax <= 0 disables it.
	CreateMax    int
	CreateWindow time.Duration
}

// DefaultConfig returns the defaults used when no environment is set.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 16 << 10,
		RadiusKm:     5,
		CreateMax:    30,
		CreateWindow: time.Minute,
	}
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:   envBool("NEARBY_API_TRUST_PROXY", false),
		MaxBodyBytes: envInt64("NEARBY_API_MAX_BODY_BYTES", def.MaxBodyBytes),
		RadiusKm:     envFloat("NEARBY_NEARBY_RADIUS_KM", def.RadiusKm),
		CreateMax:    envInt("NEARBY_API_CREATE_MAX", def.CreateMax),
		CreateWindow: envDuration("NEARBY_API_CREATE_WINDOW", def.CreateWindow),
	}
	if strings.TrimSpace(os.Getenv("NEARBY_API_CREATE_MAX")) == "0" {
		cfg.CreateMax = 0
	}
	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
