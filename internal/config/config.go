// Package config provides configuration loading and hot-reload functionality.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvPort     = "PORT"
	EnvRegion   = "FLY_REGION"
	EnvRedisURL = "FLY_REDIS_CACHE_URL"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config represents the complete server configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	Cache     CacheConfig      `yaml:"cache"`
	CORS      CORSConfig       `yaml:"cors"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Tracing   TracingConfig    `yaml:"tracing,omitempty"`
	Upstreams []UpstreamConfig `yaml:"upstreams"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Address         string `yaml:"address"`
	Region          string `yaml:"region"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	IdleTimeout     string `yaml:"idle_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	MaxBodySize     string `yaml:"max_body_size"` // e.g., "1MB"
	Playground      bool   `yaml:"playground"`
	// H2C accepts HTTP/2 cleartext, as sent by proxies that terminate TLS.
	H2C bool `yaml:"h2c"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error; empty keeps the -log-level flag
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", l.Level)
	}
	return level, nil
}

// CacheConfig defines the store shared by the resolver cache and upstream
// response caching.
type CacheConfig struct {
	Backend         string         `yaml:"backend"` // memory or redis
	RedisURL        string         `yaml:"redis_url"`
	DialTimeout     string         `yaml:"dial_timeout"`
	CleanupInterval string         `yaml:"cleanup_interval"` // memory backend sweep interval
	Namespace       string         `yaml:"namespace"`        // resolver cache key prefix
	PurgeEndpoint   bool           `yaml:"purge_endpoint"`   // serve DELETE /cache/resolvers
	Coalesce        CoalesceConfig `yaml:"coalesce"`
}

// CoalesceConfig defines single-flight resolution of concurrent misses.
type CoalesceConfig struct {
	Enabled    bool   `yaml:"enabled"`
	MaxWaiters int    `yaml:"max_waiters"`
	Timeout    string `yaml:"timeout"`
}

// CORSConfig defines response and preflight CORS headers.
type CORSConfig struct {
	AllowOrigin      string   `yaml:"allow_origin"`
	AllowMethods     []string `yaml:"allow_methods"`
	AllowHeaders     []string `yaml:"allow_headers"` // empty echoes the request
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// MetricsConfig defines metrics settings.
type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus,omitempty"`
}

// PrometheusConfig defines Prometheus metrics settings.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig defines distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`     // OTLP endpoint
	Insecure     bool    `yaml:"insecure"`     // plaintext gRPC
	ServiceName  string  `yaml:"service_name"` // Service name in traces
	SampleRate   float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	BatchTimeout string  `yaml:"batch_timeout"`
}

// UpstreamConfig defines an upstream HTTP API.
type UpstreamConfig struct {
	Name            string        `yaml:"name"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         string        `yaml:"timeout"`
	DefaultTTL      string        `yaml:"default_ttl"`       // for cacheable responses without max-age
	MaxResponseSize string        `yaml:"max_response_size"` // e.g. "32MB"
	Circuit         CircuitConfig `yaml:"circuit_breaker"`
}

// CircuitConfig defines circuit breaker settings.
type CircuitConfig struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	SuccessThreshold int    `yaml:"success_threshold"`
	Timeout          string `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			Region:          "local",
			ReadTimeout:     "30s",
			WriteTimeout:    "30s",
			IdleTimeout:     "120s",
			ShutdownTimeout: "10s",
			MaxBodySize:     "1MB",
			Playground:      true,
		},
		Cache: CacheConfig{
			Backend:         BackendMemory,
			CleanupInterval: "1m",
		},
		CORS: CORSConfig{
			AllowOrigin:      "*",
			AllowMethods:     []string{"GET", "POST"},
			AllowCredentials: true,
			MaxAge:           15552000,
		},
		Metrics: MetricsConfig{
			Prometheus: PrometheusConfig{Enabled: true, Path: "/metrics"},
		},
		Tracing: TracingConfig{
			Endpoint:     "localhost:4317",
			Insecure:     true,
			ServiceName:  "trygql",
			SampleRate:   1.0,
			BatchTimeout: "5s",
		},
	}
}

// Upstream returns the upstream named name, or a config carrying only the
// name when none is configured.
func (c *Config) Upstream(name string) UpstreamConfig {
	for _, u := range c.Upstreams {
		if u.Name == name {
			return u
		}
	}
	return UpstreamConfig{Name: name}
}

// Load reads the file at path over the defaults and applies environment
// overrides. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(cfg, os.Getenv)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnv applies the deployment environment. A Redis URL in the
// environment switches the cache to Redis.
func applyEnv(cfg *Config, getenv func(string) string) {
	if port := getenv(EnvPort); port != "" {
		cfg.Server.Address = ":" + port
	}
	if region := getenv(EnvRegion); region != "" {
		cfg.Server.Region = region
	}
	if redisURL := getenv(EnvRedisURL); redisURL != "" {
		cfg.Cache.Backend = BackendRedis
		cfg.Cache.RedisURL = redisURL
	}
}

// Validate checks configuration validity.
func Validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return errors.New("server: address is required")
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	switch cfg.Cache.Backend {
	case "", BackendMemory:
	case BackendRedis:
		if cfg.Cache.RedisURL == "" {
			return errors.New("cache: redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache: unknown backend %q", cfg.Cache.Backend)
	}
	if cfg.Cache.Coalesce.MaxWaiters < 0 {
		return errors.New("cache: coalesce.max_waiters must not be negative")
	}

	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing: sample_rate %v is outside [0, 1]", cfg.Tracing.SampleRate)
	}

	names := make(map[string]bool)
	for i, u := range cfg.Upstreams {
		if u.Name == "" {
			return fmt.Errorf("upstream[%d]: name is required", i)
		}
		if names[u.Name] {
			return fmt.Errorf("upstream[%d]: duplicate name %q", i, u.Name)
		}
		names[u.Name] = true

		if u.BaseURL != "" {
			parsed, err := url.Parse(u.BaseURL)
			if err != nil || parsed.Scheme == "" || parsed.Host == "" {
				return fmt.Errorf("upstream[%d]: invalid base_url %q", i, u.BaseURL)
			}
		}
		if u.Circuit.FailureThreshold < 0 || u.Circuit.SuccessThreshold < 0 {
			return fmt.Errorf("upstream[%d]: circuit breaker thresholds must not be negative", i)
		}
	}

	return nil
}

// Manager handles configuration loading and hot-reload.
type Manager struct {
	configPath string
	config     *Config
	watcher    *fsnotify.Watcher
	callbacks  []func(*Config)
	logger     *slog.Logger
	mu         sync.RWMutex
	stopCh     chan struct{}
	closeOnce  sync.Once
}

// NewManager loads the file at configPath and watches it for changes.
func NewManager(configPath string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	cm := &Manager{
		configPath: filepath.Clean(configPath),
		watcher:    watcher,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}

	if err := cm.load(); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("loading initial config: %w", err)
	}

	// Watch the directory so editors that replace the file are noticed.
	if err := watcher.Add(filepath.Dir(cm.configPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching config directory: %w", err)
	}

	go cm.watchChanges()

	return cm, nil
}

func (m *Manager) load() error {
	cfg, err := Load(m.configPath)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	return nil
}

// watchChanges reloads the config 100ms after the last write to it. A file
// that fails to load leaves the previous config in place.
func (m *Manager) watchChanges() {
	debounce := time.NewTimer(0)
	<-debounce.C

	for {
		select {
		case <-m.stopCh:
			debounce.Stop()
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == m.configPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				debounce.Reset(100 * time.Millisecond)
			}
		case <-debounce.C:
			if err := m.load(); err != nil {
				m.logger.Warn("config reload failed, keeping previous config", "path", m.configPath, "error", err)
				continue
			}
			m.logger.Info("config reloaded", "path", m.configPath)
			m.notifyCallbacks()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (m *Manager) notifyCallbacks() {
	m.mu.RLock()
	config := m.config
	callbacks := m.callbacks
	m.mu.RUnlock()

	for _, cb := range callbacks {
		cb(config)
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers a callback for configuration changes.
func (m *Manager) OnChange(cb func(*Config)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
}

// Close stops the configuration manager.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopCh)
		err = m.watcher.Close()
	})
	return err
}

// ParseDuration parses a duration string with default fallback.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// ParseSize parses a size string like "100MB", "1GB" with default fallback.
func ParseSize(s string, defaultVal int64) int64 {
	if s == "" {
		return defaultVal
	}

	s = strings.TrimSpace(strings.ToUpper(s))

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	s = strings.TrimSpace(s)
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultVal
	}

	return val * multiplier
}
