// Package config loads service settings from config.toml and METER_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. METER_DATABASE_HOST
const EnvPrefix = "METER"

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	APIKey    APIKeyConfig    `mapstructure:"api_key"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Limiter   LimiterConfig   `mapstructure:"limiter"`
	Guard     GuardConfig     `mapstructure:"guard"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

// IsProduction reports whether the stricter production checks apply
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the connection URL with user and password escaped
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// APIKeyConfig holds the signing settings of API keys. Leeway is the clock
// skew tolerated on exp and nbf.
type APIKeyConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	Leeway time.Duration `mapstructure:"leeway"`
}

// LogConfig mirrors logger.Config. Sampling is switched on in production
// unless set explicitly.
type LogConfig struct {
	Level            string `mapstructure:"level"`
	Format           string `mapstructure:"format"`
	Output           string `mapstructure:"output"`
	SampleInitial    int    `mapstructure:"sample_initial"`
	SampleThereafter int    `mapstructure:"sample_thereafter"`
}

// HTTPConfig holds the server timeouts and the per-key rate limit
type HTTPConfig struct {
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst"`
	TrustedProxies    []string      `mapstructure:"trusted_proxies"`
}

// TelemetryConfig holds the OTLP exporter settings. Insecure is for local
// collectors only.
type TelemetryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	CollectorEndpoint string        `mapstructure:"collector_endpoint"`
	SamplingRatio     float64       `mapstructure:"sampling_ratio"`
	ServiceName       string        `mapstructure:"service_name"`
	Insecure          bool          `mapstructure:"insecure"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`
	DBTraceEnabled    bool          `mapstructure:"db_trace_enabled"`
	DBLogFullSQL      bool          `mapstructure:"db_log_full_sql"`
	DBSlowQueryThresh time.Duration `mapstructure:"db_slow_query_threshold"`
}

// CacheConfig holds the entitlement cache policy. L2 is the shared Redis
// tier; purges fan out over InvalidationChannel.
type CacheConfig struct {
	EntitlementFreshTTL time.Duration `mapstructure:"entitlement_fresh_ttl"`
	EntitlementStaleTTL time.Duration `mapstructure:"entitlement_stale_ttl"`
	LoadTimeout         time.Duration `mapstructure:"load_timeout"`
	RefreshTimeout      time.Duration `mapstructure:"refresh_timeout"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	L2Enabled           bool          `mapstructure:"l2_enabled"`
	KeyPrefix           string        `mapstructure:"key_prefix"`
	InvalidationChannel string        `mapstructure:"invalidation_channel"`
}

// LimiterConfig holds the usage limiter settings. Replicas is the number
// of virtual nodes per shard on the hash ring.
type LimiterConfig struct {
	Store            string        `mapstructure:"store"`
	Shards           int           `mapstructure:"shards"`
	Replicas         int           `mapstructure:"replicas"`
	MailboxSize      int           `mapstructure:"mailbox_size"`
	DedupeWindow     time.Duration `mapstructure:"dedupe_window"`
	FlushBatchSize   int           `mapstructure:"flush_batch_size"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	StoreTimeout     time.Duration `mapstructure:"store_timeout"`
	CounterRetention time.Duration `mapstructure:"counter_retention"`
	KeyPrefix        string        `mapstructure:"key_prefix"`
}

type GuardConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	FailOpen bool          `mapstructure:"fail_open"`
}

// AnalyticsConfig holds the read budgets of the usage report tiers
type AnalyticsConfig struct {
	FastTimeout     time.Duration `mapstructure:"fast_timeout"`
	StandardTimeout time.Duration `mapstructure:"standard_timeout"`
	ExtendedTimeout time.Duration `mapstructure:"extended_timeout"`
}

// defaults registers every key with viper. A key viper has never seen is
// not picked up from the environment by Unmarshal, so secrets and flags
// are listed too.
var defaults = map[string]any{
	"app.name": "meter",
	"app.env":  "development",
	"app.port": "8080",

	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.dbname":             "meter",
	"database.sslmode":            "disable",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  time.Hour,
	"database.conn_max_idle_time": 30 * time.Minute,

	"redis.host":     "localhost",
	"redis.port":     6379,
	"redis.password": "",
	"redis.db":       0,

	"api_key.secret": "",
	"api_key.issuer": "meter",
	"api_key.leeway": 30 * time.Second,

	"log.level":             "info",
	"log.format":            "console",
	"log.output":            "stdout",
	"log.sample_initial":    0,
	"log.sample_thereafter": 0,

	"http.read_timeout":        15 * time.Second,
	"http.write_timeout":       35 * time.Second, // longest analytics tier plus slack
	"http.idle_timeout":        60 * time.Second,
	"http.shutdown_timeout":    30 * time.Second,
	"http.max_header_bytes":    1 << 20,
	"http.rate_limit_enabled":  true,
	"http.rate_limit_requests": 1000,
	"http.rate_limit_window":   time.Minute,
	"http.rate_limit_burst":    100,
	"http.trusted_proxies":     []string{},

	"telemetry.enabled":                 false,
	"telemetry.collector_endpoint":      "localhost:4317",
	"telemetry.sampling_ratio":          1.0,
	"telemetry.service_name":            "meter",
	"telemetry.insecure":                false,
	"telemetry.metrics_interval":        15 * time.Second,
	"telemetry.db_trace_enabled":        false,
	"telemetry.db_log_full_sql":         false,
	"telemetry.db_slow_query_threshold": 200 * time.Millisecond,

	"cache.entitlement_fresh_ttl": time.Minute,
	"cache.entitlement_stale_ttl": 5 * time.Minute,
	"cache.load_timeout":          2 * time.Second,
	"cache.refresh_timeout":       5 * time.Second,
	"cache.sweep_interval":        time.Minute,
	"cache.l2_enabled":            true,
	"cache.key_prefix":            "meter:cache",
	"cache.invalidation_channel":  "meter:cache:invalidate",

	"limiter.store":             "redis",
	"limiter.shards":            8,
	"limiter.replicas":          100,
	"limiter.mailbox_size":      1024,
	"limiter.dedupe_window":     5 * time.Minute,
	"limiter.flush_batch_size":  100,
	"limiter.flush_interval":    time.Second,
	"limiter.store_timeout":     2 * time.Second,
	"limiter.counter_retention": 7 * 24 * time.Hour,
	"limiter.key_prefix":        "meter:usage",

	"guard.timeout":   100 * time.Millisecond,
	"guard.fail_open": true,

	"analytics.fast_timeout":     5 * time.Second,
	"analytics.standard_timeout": 10 * time.Second,
	"analytics.extended_timeout": 30 * time.Second,
}

// Load reads ./config.toml (or /app/config.toml) when present, then applies
// METER_* overrides on top of the built-in defaults.
func Load() (*Config, error) {
	return load("", ".", "/app")
}

// LoadFile reads the given TOML file instead of searching for config.toml
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(file string, searchPaths ...string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigType("toml")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	if cfg.App.IsProduction() && cfg.Log.SampleInitial == 0 && cfg.Log.SampleThereafter == 0 {
		cfg.Log.SampleInitial, cfg.Log.SampleThereafter = 100, 100
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate reports every problem at once
func (c *Config) validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Database.MaxOpenConns <= 0 {
		fail("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		fail("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		fail("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Limiter.Store != "redis" && c.Limiter.Store != "memory" {
		fail("limiter.store must be redis or memory, got %q", c.Limiter.Store)
	}
	if c.Limiter.Shards < 1 {
		fail("limiter.shards must be positive")
	}
	if c.Cache.EntitlementStaleTTL < c.Cache.EntitlementFreshTTL {
		fail("cache.entitlement_stale_ttl (%s) cannot be shorter than cache.entitlement_fresh_ttl (%s)",
			c.Cache.EntitlementStaleTTL, c.Cache.EntitlementFreshTTL)
	}
	if c.Guard.Timeout < 0 {
		fail("guard.timeout cannot be negative")
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		fail("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if (c.Log.SampleInitial > 0) != (c.Log.SampleThereafter > 0) {
		fail("log.sample_initial and log.sample_thereafter must be set together")
	}

	if c.App.IsProduction() {
		switch {
		case c.APIKey.Secret == "":
			fail("api_key.secret is required in production")
		case len(c.APIKey.Secret) < 32:
			fail("api_key.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			fail("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			fail("database.sslmode cannot be 'disable' in production")
		}
		if c.Limiter.Store == "memory" {
			fail("limiter.store=memory does not share counters across instances and is not allowed in production")
		}
		if c.Telemetry.DBLogFullSQL {
			fail("telemetry.db_log_full_sql must be false in production")
		}
	}

	return errors.Join(errs...)
}
