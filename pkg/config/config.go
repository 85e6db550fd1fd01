package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
		BaseURL string
	}

	Database struct {
		Driver   string // postgres or sqlite
		Path     string // sqlite file
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	Auth struct {
		Secret string
		Expiry time.Duration
	}

	// Remote is the authoritative message log
	Remote struct {
		BaseURL     string
		Token       string
		TokenSecret string // vault key holding the token
		Timeout     time.Duration
		DeviceID    string
		Platform    string
		AppVersion  string
	}

	Sync struct {
		Enabled         bool
		Interval        time.Duration
		FetchLimit      int
		InitialLookback time.Duration
		Overlap         time.Duration
		PassTimeout     time.Duration
		ReconcileWindow time.Duration
		LocalSources    []string
		PruneEvery      int
		KeepCount       int
		PrunePolicy     string
	}

	Integrity struct {
		Enabled          bool
		Cooldown         time.Duration
		MissingThreshold int
		DataWindow       int
		DisplayWindow    int
		QueueSize        int
		Sinks            []string // log, remote, store
	}

	Retention struct {
		Enabled      bool
		Cron         string
		ReportMaxAge time.Duration
	}

	Redis struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
	}

	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		MaxBodySize    int64
	}

	Logging struct {
		Level  string
		Format string
	}

	Features struct {
		EnableWebSockets  bool
		EnableOpenAPI     bool
		OpenAPISchemaPath string
		EnableTracing     bool
		EnableMetrics     bool
		EnableGRPCHealth  bool
		GRPCPort          string
	}
}

var (
	instance *Config
	once     sync.Once
)

// source resolves a key from the process environment first, then from the
// optional YAML overlay named by CONFIG_FILE
type source struct {
	overlay map[string]string
}

func (s source) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	v, ok := s.overlay[key]
	return v, ok && v != ""
}

func loadOverlay(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config overlay %s: %w", path, err)
	}
	values := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse config overlay %s: %w", path, err)
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		switch t := v.(type) {
		case []interface{}:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				parts = append(parts, fmt.Sprint(p))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(t)
		}
	}
	return out, nil
}

// Load builds a Config from .env, the optional overlay and the environment.
// Unlike New it does not cache the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	overlay, err := loadOverlay(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	s := source{overlay: overlay}
	c := &Config{}

	c.Server.Port = s.str("PORT", "8081")
	c.Server.Env = s.str("APP_ENV", "development")
	c.Server.Timeout = s.duration("SERVER_TIMEOUT", 30*time.Second)
	c.Server.BaseURL = s.str("BASE_URL", "http://localhost:"+c.Server.Port)

	c.Database.Driver = s.str("DB_DRIVER", "sqlite")
	c.Database.Path = s.str("DB_PATH", "timeline.db")
	c.Database.Host = s.str("DB_HOST", "localhost")
	c.Database.Port = s.str("DB_PORT", "5432")
	c.Database.User = s.str("DB_USER", "postgres")
	c.Database.Password = s.str("DB_PASSWORD", "postgres")
	c.Database.Name = s.str("DB_NAME", "claw_companion")
	c.Database.SSLMode = s.str("DB_SSL_MODE", "disable")
	c.Database.MaxConns = s.int("DB_MAX_CONNS", 20)
	c.Database.Timeout = s.duration("DB_TIMEOUT", 5*time.Second)

	c.Auth.Secret = s.str("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	c.Auth.Expiry = s.duration("JWT_EXPIRY", 24*time.Hour)

	c.Remote.BaseURL = s.str("REMOTE_BASE_URL", "http://localhost:3000")
	c.Remote.Token = s.str("REMOTE_TOKEN", "")
	c.Remote.TokenSecret = s.str("REMOTE_TOKEN_SECRET", "remote_api_token")
	c.Remote.Timeout = s.duration("REMOTE_TIMEOUT", 10*time.Second)
	c.Remote.DeviceID = s.str("DEVICE_ID", "local-device")
	c.Remote.Platform = s.str("PLATFORM", "server")
	c.Remote.AppVersion = s.str("APP_VERSION", "dev")

	c.Sync.Enabled = s.bool("SYNC_ENABLED", true)
	c.Sync.Interval = s.duration("SYNC_INTERVAL", 5*time.Second)
	c.Sync.FetchLimit = s.int("SYNC_FETCH_LIMIT", 50)
	c.Sync.InitialLookback = s.duration("SYNC_INITIAL_LOOKBACK", time.Minute)
	c.Sync.Overlap = s.duration("SYNC_OVERLAP", 2*time.Second)
	c.Sync.PassTimeout = s.duration("SYNC_PASS_TIMEOUT", 30*time.Second)
	c.Sync.ReconcileWindow = s.duration("SYNC_RECONCILE_WINDOW", 5*time.Minute)
	c.Sync.LocalSources = s.strings("SYNC_LOCAL_SOURCES", []string{"android_chat", "android_widget", "web"})
	c.Sync.PruneEvery = s.int("SYNC_PRUNE_EVERY", 200)
	c.Sync.KeepCount = s.int("SYNC_KEEP_COUNT", 500)
	c.Sync.PrunePolicy = s.str("SYNC_PRUNE_POLICY", "recency")

	c.Integrity.Enabled = s.bool("INTEGRITY_ENABLED", true)
	c.Integrity.Cooldown = s.duration("INTEGRITY_COOLDOWN", 30*time.Minute)
	c.Integrity.MissingThreshold = s.int("INTEGRITY_MISSING_THRESHOLD", 2)
	c.Integrity.DataWindow = s.int("INTEGRITY_DATA_WINDOW", 50)
	c.Integrity.DisplayWindow = s.int("INTEGRITY_DISPLAY_WINDOW", 100)
	c.Integrity.QueueSize = s.int("INTEGRITY_QUEUE_SIZE", 16)
	c.Integrity.Sinks = s.strings("INTEGRITY_SINKS", []string{"log", "store"})

	c.Retention.Enabled = s.bool("RETENTION_ENABLED", false)
	c.Retention.Cron = s.str("RETENTION_CRON", "0 3 * * *")
	c.Retention.ReportMaxAge = s.duration("RETENTION_REPORT_MAX_AGE", 30*24*time.Hour)

	c.Redis.Enabled = s.bool("REDIS_ENABLED", false)
	c.Redis.Addr = s.str("REDIS_URL", "localhost:6379")
	c.Redis.Password = s.str("REDIS_PASSWORD", "")
	c.Redis.DB = s.int("REDIS_DB", 0)

	c.Security.RateLimit = s.float("RATE_LIMIT", 5)
	c.Security.RateLimitBurst = s.int("RATE_LIMIT_BURST", 10)
	c.Security.AllowedOrigins = s.strings("ALLOWED_ORIGINS", []string{"*"})
	c.Security.MaxBodySize = s.int64("MAX_BODY_SIZE", 1<<20)

	c.Logging.Level = s.str("LOG_LEVEL", "info")
	c.Logging.Format = s.str("LOG_FORMAT", "json")

	c.Features.EnableWebSockets = s.bool("ENABLE_WEBSOCKETS", true)
	c.Features.EnableOpenAPI = s.bool("ENABLE_OPENAPI_VALIDATION", false)
	c.Features.OpenAPISchemaPath = s.str("OPENAPI_SCHEMA_PATH", "")
	c.Features.EnableTracing = s.bool("ENABLE_TRACING", false)
	c.Features.EnableMetrics = s.bool("ENABLE_METRICS", true)
	c.Features.EnableGRPCHealth = s.bool("ENABLE_GRPC_HEALTH", false)
	c.Features.GRPCPort = s.str("GRPC_PORT", "9091")

	return c, nil
}

// New returns the process-wide Config, loading it on first use.
// A broken overlay file is fatal at startup, so it panics.
func New() *Config {
	once.Do(func() {
		c, err := Load()
		if err != nil {
			panic(err)
		}
		instance = c
	})
	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

func (s source) str(key, defaultValue string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return defaultValue
}

func (s source) int(key string, defaultValue int) int {
	if v, ok := s.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func (s source) int64(key string, defaultValue int64) int64 {
	if v, ok := s.lookup(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func (s source) float(key string, defaultValue float64) float64 {
	if v, ok := s.lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func (s source) bool(key string, defaultValue bool) bool {
	if v, ok := s.lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func (s source) duration(key string, defaultValue time.Duration) time.Duration {
	if v, ok := s.lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func (s source) strings(key string, defaultValue []string) []string {
	if v, ok := s.lookup(key); ok {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
