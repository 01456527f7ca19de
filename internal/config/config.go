package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in configuration.
const (
	CacheInMemory  = "in_memory"
	CacheMemcached = "memcached"

	StorageMemory    = "memory"
	StorageFile      = "file"
	StorageMemcached = "memcached"

	NotifyLog   = "log"
	NotifyKafka = "kafka"
	NotifyMQTT  = "mqtt"
	NotifyNone  = "none"
)

// CacheTTLs are the freshness periods per cached data kind.
type CacheTTLs struct {
	Current    time.Duration
	Forecast   time.Duration
	Historical time.Duration
	Sensors    time.Duration
	Map        time.Duration
	Explain    time.Duration
}

// Config holds service configuration loaded from YAML, .env and the process environment.
type Config struct {
	ServerPort     string
	RequestTimeout time.Duration
	CORSOrigins    []string

	AirQualityAPIURL     string
	AirQualityAPITimeout time.Duration

	CacheBackend        string
	CacheTTLs           CacheTTLs
	CacheStaleRetention time.Duration
	StaleFallback       bool
	CoalesceTimeout     time.Duration
	WarmInterval        time.Duration // 0 disables background warming

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int
	UpstreamRPS    int // 0 disables the outbound limiter
	UpstreamBurst  int

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	StorageBackend string
	StorageDir     string

	NotifyBackend   string
	KafkaBrokers    []string
	KafkaTopic      string
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	ShutdownTimeout   time.Duration
	HealthWindow      time.Duration
	DegradedErrorPct  int
	HealthMinRequests int
}

type fileConfig struct {
	Server struct {
		Port        string   `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	AirQualityAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"airquality_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend         string `yaml:"backend"`
		StaleRetention  string `yaml:"stale_retention"`
		StaleFallback   *bool  `yaml:"stale_fallback"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		WarmInterval    string `yaml:"warm_interval"`
		TTL             struct {
			Current    string `yaml:"current"`
			Forecast   string `yaml:"forecast"`
			Historical string `yaml:"historical"`
			Sensors    string `yaml:"sensors"`
			Map        string `yaml:"map"`
			Explain    string `yaml:"explain"`
		} `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		UpstreamRPS             int    `yaml:"upstream_rps"`
		UpstreamBurst           int    `yaml:"upstream_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int    `yaml:"breaker_success_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Storage struct {
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
	} `yaml:"storage"`

	Notify struct {
		Backend string `yaml:"backend"`
		Kafka   struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
		MQTT struct {
			Broker      string `yaml:"broker"`
			ClientID    string `yaml:"client_id"`
			TopicPrefix string `yaml:"topic_prefix"`
		} `yaml:"mqtt"`
	} `yaml:"notify"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		Window           string `yaml:"window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
		MinRequests      int    `yaml:"min_requests"`
	} `yaml:"health"`
}

// Load reads configuration relative to the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads dir/.env when present, then dir/config/{ENV_NAME}.yaml (default dev).
// Environment variables override YAML values; .env never overrides variables already set.
func LoadFrom(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")
	cfg.CORSOrigins = fc.Server.CORSOrigins
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	cfg.AirQualityAPIURL = firstNonEmpty(os.Getenv("AIRQUALITY_API_URL"), fc.AirQualityAPI.URL, "http://localhost:8001")
	cfg.AirQualityAPITimeout = parseDurationOrZero(fc.AirQualityAPI.Timeout, 15*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 20*time.Second)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, CacheInMemory))
	cfg.CacheStaleRetention = parseDuration(fc.Cache.StaleRetention, 24*time.Hour)
	cfg.StaleFallback = true
	if fc.Cache.StaleFallback != nil {
		cfg.StaleFallback = *fc.Cache.StaleFallback
	}
	cfg.CoalesceTimeout = parseDuration(fc.Cache.CoalesceTimeout, 30*time.Second)
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)
	cfg.CacheTTLs = CacheTTLs{
		Current:    parseDuration(fc.Cache.TTL.Current, 5*time.Minute),
		Forecast:   parseDuration(fc.Cache.TTL.Forecast, time.Hour),
		Historical: parseDuration(fc.Cache.TTL.Historical, 10*time.Minute),
		Sensors:    parseDuration(fc.Cache.TTL.Sensors, 10*time.Minute),
		Map:        parseDuration(fc.Cache.TTL.Map, 5*time.Minute),
		Explain:    parseDuration(fc.Cache.TTL.Explain, 30*time.Minute),
	}

	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)

	cfg.RetryAttempts = positiveOr(fc.Reliability.RetryMaxAttempts, 3)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, time.Second)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 8*time.Second)
	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 100)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 250)
	cfg.UpstreamRPS = fc.Reliability.UpstreamRPS
	cfg.UpstreamBurst = positiveOr(fc.Reliability.UpstreamBurst, cfg.UpstreamRPS)
	cfg.BreakerFailureThreshold = positiveOr(fc.Reliability.BreakerFailureThreshold, 5)
	cfg.BreakerSuccessThreshold = positiveOr(fc.Reliability.BreakerSuccessThreshold, 2)
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.StorageBackend = strings.ToLower(firstNonEmpty(os.Getenv("STORAGE_BACKEND"), fc.Storage.Backend, StorageFile))
	cfg.StorageDir = firstNonEmpty(os.Getenv("STORAGE_DIR"), fc.Storage.Dir, "data")

	cfg.NotifyBackend = strings.ToLower(firstNonEmpty(os.Getenv("NOTIFY_BACKEND"), fc.Notify.Backend, NotifyLog))
	cfg.KafkaBrokers = fc.Notify.Kafka.Brokers
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	cfg.KafkaTopic = firstNonEmpty(os.Getenv("KAFKA_TOPIC"), fc.Notify.Kafka.Topic)
	cfg.MQTTBroker = firstNonEmpty(os.Getenv("MQTT_BROKER"), fc.Notify.MQTT.Broker)
	cfg.MQTTClientID = firstNonEmpty(os.Getenv("MQTT_CLIENT_ID"), fc.Notify.MQTT.ClientID)
	cfg.MQTTTopicPrefix = fc.Notify.MQTT.TopicPrefix
	// Credentials come from the environment only.
	cfg.MQTTUsername = os.Getenv("MQTT_USERNAME")
	cfg.MQTTPassword = os.Getenv("MQTT_PASSWORD")

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Health.DegradedErrorPct, 5)
	cfg.HealthMinRequests = positiveOr(fc.Health.MinRequests, 10)

	if v := os.Getenv("LOG_LEVEL"); v != "" && !validLogLevel(v) {
		return nil, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", v)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validLogLevel(s string) bool {
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// validate performs post-load validation of configuration values.
// Ensures the API timeout is positive, RequestTimeout exceeds it, backends are known and
// the chosen notification backend has its connection settings. Auto-adjusts RequestTimeout if needed.
func validate(cfg *Config) error {
	if cfg.AirQualityAPITimeout <= 0 {
		return fmt.Errorf("airquality_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.AirQualityAPITimeout {
		cfg.RequestTimeout = cfg.AirQualityAPITimeout + 5*time.Second
	}
	if _, err := strconv.Atoi(cfg.ServerPort); err != nil {
		return fmt.Errorf("server.port must be numeric, got %q", cfg.ServerPort)
	}
	switch cfg.CacheBackend {
	case CacheInMemory, CacheMemcached:
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.StorageBackend {
	case StorageMemory, StorageFile, StorageMemcached:
	default:
		return fmt.Errorf("storage.backend must be memory, file or memcached, got %q", cfg.StorageBackend)
	}
	switch cfg.NotifyBackend {
	case NotifyLog, NotifyNone:
	case NotifyKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return fmt.Errorf("notify.kafka.brokers required for kafka backend")
		}
	case NotifyMQTT:
		if cfg.MQTTBroker == "" {
			return fmt.Errorf("notify.mqtt.broker required for mqtt backend")
		}
	default:
		return fmt.Errorf("notify.backend must be log, kafka, mqtt or none, got %q", cfg.NotifyBackend)
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("health.degraded_error_pct must be at most 100, got %d", cfg.DegradedErrorPct)
	}
	return nil
}
