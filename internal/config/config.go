package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	API        APIConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Security   SecurityConfig
	Monitoring MonitoringConfig
	Collector  CollectorConfig
	Detector   DetectorConfig
	Archive    ArchiveConfig
	Geo        GeoConfig
}

type APIConfig struct {
	Port        string
	Host        string
	Environment string
	BodyLimit   int
}

type DatabaseConfig struct {
	URL          string
	MaxConns     int
	MaxIdleConns int
	MaxRetries   int
}

type RedisConfig struct {
	URL          string
	Password     string
	DB           int
	CacheTTL     time.Duration
	AnalyticsTTL time.Duration
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type SecurityConfig struct {
	CORSOrigins    []string
	TrustedProxies []string
	AnonymizeIP    bool
}

type MonitoringConfig struct {
	EnableMetrics bool
	LogLevel      string
	LogPretty     bool
}

// CollectorConfig drives client-side collectors such as cmd/loadgen.
type CollectorConfig struct {
	Endpoint           string
	FlushInterval      time.Duration
	TerminalTimeout    time.Duration
	GeolocationTimeout time.Duration
	ConsentFile        string
}

type DetectorConfig struct {
	RulesPath string
	TrendBand float64
	MaxEvents int
}

type ArchiveConfig struct {
	Enabled       bool
	Bucket        string
	Prefix        string
	Region        string
	Endpoint      string
	UsePathStyle  bool
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	Retries       int
	Timeout       time.Duration
}

type GeoConfig struct {
	ProviderURL        string
	Timeout            time.Duration
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			Port:        getEnv("API_PORT", "6969"),
			Host:        getEnv("API_HOST", "0.0.0.0"),
			Environment: getEnv("ENVIRONMENT", "development"),
			BodyLimit:   getEnvInt("API_BODY_LIMIT", 64*1024),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", "postgresql://pulse:@localhost:5432/pulse?sslmode=disable"),
			MaxConns:     getEnvInt("DB_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			MaxRetries:   getEnvInt("DB_MAX_RETRIES", 3),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			CacheTTL:     getEnvDuration("REDIS_CACHE_TTL", 24*time.Hour),
			AnalyticsTTL: getEnvDuration("REDIS_ANALYTICS_TTL", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 1000),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
		Security: SecurityConfig{
			CORSOrigins:    getEnvSlice("CORS_ORIGINS", []string{"*"}),
			TrustedProxies: getEnvSlice("TRUSTED_PROXIES", []string{}),
			AnonymizeIP:    getEnvBool("ANONYMIZE_IP", true),
		},
		Monitoring: MonitoringConfig{
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			LogLevel:      getEnv("LOG_LEVEL", "info"),
			LogPretty:     getEnvBool("LOG_PRETTY", false),
		},
		Collector: CollectorConfig{
			Endpoint:           getEnv("COLLECTOR_ENDPOINT", "http://localhost:6969"),
			FlushInterval:      getEnvDuration("COLLECTOR_FLUSH_INTERVAL", 30*time.Second),
			TerminalTimeout:    getEnvDuration("COLLECTOR_TERMINAL_TIMEOUT", 2*time.Second),
			GeolocationTimeout: getEnvDuration("COLLECTOR_GEOLOCATION_TIMEOUT", 3*time.Second),
			ConsentFile:        getEnv("COLLECTOR_CONSENT_FILE", ""),
		},
		Detector: DetectorConfig{
			RulesPath: getEnv("DETECTOR_RULES_PATH", ""),
			TrendBand: getEnvFloat("TREND_STABLE_BAND", 10),
			MaxEvents: getEnvInt("DETECTOR_MAX_EVENTS", 50000),
		},
		Archive: ArchiveConfig{
			Enabled:       getEnvBool("ARCHIVE_ENABLED", false),
			Bucket:        getEnv("ARCHIVE_BUCKET", ""),
			Prefix:        getEnv("ARCHIVE_PREFIX", "telemetry"),
			Region:        getEnv("AWS_REGION", "us-east-1"),
			Endpoint:      getEnv("ARCHIVE_ENDPOINT", ""),
			UsePathStyle:  getEnvBool("ARCHIVE_PATH_STYLE", false),
			BatchSize:     getEnvInt("ARCHIVE_BATCH_SIZE", 1000),
			FlushInterval: getEnvDuration("ARCHIVE_FLUSH_INTERVAL", 1*time.Minute),
			QueueSize:     getEnvInt("ARCHIVE_QUEUE_SIZE", 10000),
			Retries:       getEnvInt("ARCHIVE_RETRIES", 3),
			Timeout:       getEnvDuration("ARCHIVE_TIMEOUT", 5*time.Second),
		},
		Geo: GeoConfig{
			ProviderURL:        getEnv("GEO_PROVIDER_URL", "http://ip-api.com/json/{ip}"),
			Timeout:            getEnvDuration("GEO_TIMEOUT", 3*time.Second),
			BreakerMaxFailures: uint32(getEnvInt("GEO_BREAKER_MAX_FAILURES", 5)),
			BreakerOpenTimeout: getEnvDuration("GEO_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Collector.FlushInterval <= 0 {
		return errors.New("COLLECTOR_FLUSH_INTERVAL must be positive")
	}
	if c.Detector.TrendBand <= 0 || c.Detector.TrendBand >= 100 {
		return errors.New("TREND_STABLE_BAND must be between 0 and 100")
	}
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return errors.New("ARCHIVE_BUCKET is required when ARCHIVE_ENABLED is set")
		}
		if c.Archive.BatchSize <= 0 {
			return fmt.Errorf("ARCHIVE_BATCH_SIZE must be positive, got %d", c.Archive.BatchSize)
		}
	}
	if c.Geo.ProviderURL != "" && !strings.Contains(c.Geo.ProviderURL, "{ip}") {
		return errors.New("GEO_PROVIDER_URL must contain an {ip} placeholder")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.API.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				result = append(result, item)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
