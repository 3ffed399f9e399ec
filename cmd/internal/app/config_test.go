package app

import (
	"slices"
	"testing"
	"time"
)

func TestResolveStore(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "default memory", cfg: Config{}, want: StoreMemory},
		{name: "redis url", cfg: Config{RedisURL: "redis://localhost:6379/0"}, want: StoreRedis},
		{name: "redis addr", cfg: Config{RedisAddr: "localhost:6379"}, want: StoreRedis},
		{name: "database url", cfg: Config{DatabaseURL: "postgres://x"}, want: StorePostgres},
		{name: "redis wins over postgres", cfg: Config{RedisAddr: "r:6379", DatabaseURL: "postgres://x"}, want: StoreRedis},
		{name: "explicit memory", cfg: Config{Store: StoreMemory, RedisAddr: "r:6379"}, want: StoreMemory},
		{name: "unknown kept for error", cfg: Config{Store: "etcd"}, want: "etcd"},
	}

	for _, tc := range cases {
		if got := resolveStore(tc.cfg); got != tc.want {
			t.Fatalf("%s: resolveStore()=%q want=%q", tc.name, got, tc.want)
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{
		"NEARBY_STORE", "NEARBY_REDIS_URL", "NEARBY_REDIS_ADDR", "NEARBY_DATABASE_URL",
		"NEARBY_TTL", "NEARBY_HTTP_ADDR", "NEARBY_INDEX_SWEEP_INTERVAL", "NEARBY_CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:3000" {
		t.Fatalf("addr=%q", cfg.HTTPAddr)
	}
	if cfg.Store != StoreMemory {
		t.Fatalf("store=%q want memory", cfg.Store)
	}
	if cfg.TTL != 2*time.Hour || cfg.HistoryLimit != 50 || cfg.MessageMaxChars != 300 || cfg.RoomNameMax != 50 {
		t.Fatalf("unexpected domain defaults: %+v", cfg)
	}
	if cfg.SendInterval != time.Second || cfg.RadiusKm != 5 {
		t.Fatalf("unexpected send interval / radius: %v %v", cfg.SendInterval, cfg.RadiusKm)
	}
	if cfg.SweepInterval != 0 {
		t.Fatalf("sweeper should be off by default, got %v", cfg.SweepInterval)
	}
	if !slices.Equal(cfg.CORSAllowedOrigins, []string{"http://localhost:*", "http://127.0.0.1:*"}) {
		t.Fatalf("cors origins=%v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("NEARBY_STORE", "Redis")
	t.Setenv("NEARBY_TTL", "30m")
	t.Setenv("NEARBY_NEARBY_RADIUS_KM", "2.5")
	t.Setenv("NEARBY_INDEX_SWEEP_INTERVAL", "1m")
	t.Setenv("NEARBY_CORS_ALLOWED_ORIGINS", " https://a.example.com , ,https://b.example.com ")

	cfg := LoadConfig()

	if cfg.Store != StoreRedis {
		t.Fatalf("store=%q", cfg.Store)
	}
	if cfg.TTL != 30*time.Minute || cfg.RadiusKm != 2.5 || cfg.SweepInterval != time.Minute {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !slices.Equal(cfg.CORSAllowedOrigins, []string{"https://a.example.com", "https://b.example.com"}) {
		t.Fatalf("cors origins=%v", cfg.CORSAllowedOrigins)
	}
}

func TestEnvHelpers_InvalidFallBack(t *testing.T) {
	t.Setenv("NEARBY_TEST_INT", "-3")
	t.Setenv("NEARBY_TEST_FLOAT", "abc")
	t.Setenv("NEARBY_TEST_DUR", "soon")
	t.Setenv("NEARBY_TEST_BOOL", "maybe")
	t.Setenv("NEARBY_TEST_ZERO", "0")

	if got := EnvInt("NEARBY_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt=%d", got)
	}
	if got := EnvFloat("NEARBY_TEST_FLOAT", 1.5); got != 1.5 {
		t.Fatalf("EnvFloat=%v", got)
	}
	if got := EnvDuration("NEARBY_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("EnvDuration=%v", got)
	}
	if got := EnvBool("NEARBY_TEST_BOOL", true); !got {
		t.Fatalf("EnvBool=%v", got)
	}
	if got := EnvDuration("NEARBY_TEST_ZERO", time.Minute); got != 0 {
		t.Fatalf("explicit zero duration should disable, got %v", got)
	}
}
