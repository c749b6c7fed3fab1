package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Webhook      WebhookConfig
	Sync         SyncConfig
	Pending      PendingConfig
	Kafka        KafkaConfig
	Telemetry    TelemetryConfig
	Marketplaces []MarketplaceConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	SlowThreshold   time.Duration
	// AutoMigrate applies the embedded migrations at server start.
	AutoMigrate bool
}

// RedisConfig holds Redis connection settings. An empty Host disables Redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AuthConfig protects the operator API. An empty JWTSecret disables auth.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
}

// WebhookConfig holds webhook ingestion settings
type WebhookConfig struct {
	MaxBodySize        int64
	DedupTTL           time.Duration
	TimestampTolerance time.Duration
}

// SyncConfig holds orchestrator settings shared by all marketplaces
type SyncConfig struct {
	QueueSize        int
	WebhookDeadline  time.Duration
	ManualRunTimeout time.Duration
	OrderLookback    time.Duration
	OrderOverlap     time.Duration
	MaxOrderPages    int
	PollMinInterval  time.Duration
}

// PendingConfig holds pending sync event replay configuration
type PendingConfig struct {
	ProcessorEnabled bool
	BatchSize        int
	PollInterval     time.Duration
	MaxRetries       int
	CleanupEnabled   bool
	CleanupRetention time.Duration
	// ProcessingLease is how long a claimed row may stay PROCESSING before it is claimed again.
	ProcessingLease time.Duration
}

// KafkaConfig configures the operator alert stream. No brokers means alerts are only logged.
type KafkaConfig struct {
	Brokers    []string
	AlertTopic string
}

// TelemetryConfig holds OpenTelemetry metrics and tracing configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	ExportInterval    time.Duration
	// SamplingRatio is the share of new traces recorded; unset means all.
	SamplingRatio float64
	// DBTraceEnabled adds a span per store query.
	DBTraceEnabled bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SYNC_ prefix (e.g., SYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return NewLoader().Load()
}

// Loader keeps the viper instance so the configuration can be re-read on change.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader searching the default config paths.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/syncengine")
	return &Loader{v: v}
}

// NewLoaderWithViper wraps an existing viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Viper exposes the underlying instance for credential lookups.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads the config file (if any), the environment and applies defaults.
func (l *Loader) Load() (*Config, error) {
	v := l.v

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			SlowThreshold:   v.GetDuration("database.slow_threshold"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Webhook: WebhookConfig{
			MaxBodySize:        v.GetInt64("webhook.max_body_size"),
			DedupTTL:           v.GetDuration("webhook.dedup_ttl"),
			TimestampTolerance: v.GetDuration("webhook.timestamp_tolerance"),
		},
		Sync: SyncConfig{
			QueueSize:        v.GetInt("sync.queue_size"),
			WebhookDeadline:  v.GetDuration("sync.webhook_deadline"),
			ManualRunTimeout: v.GetDuration("sync.manual_run_timeout"),
			OrderLookback:    v.GetDuration("sync.order_lookback"),
			OrderOverlap:     v.GetDuration("sync.order_overlap"),
			MaxOrderPages:    v.GetInt("sync.max_order_pages"),
			PollMinInterval:  v.GetDuration("sync.poll_min_interval"),
		},
		Pending: PendingConfig{
			ProcessorEnabled: v.GetBool("pending.processor_enabled"),
			BatchSize:        v.GetInt("pending.batch_size"),
			PollInterval:     v.GetDuration("pending.poll_interval"),
			MaxRetries:       v.GetInt("pending.max_retries"),
			CleanupEnabled:   v.GetBool("pending.cleanup_enabled"),
			CleanupRetention: v.GetDuration("pending.cleanup_retention"),
			ProcessingLease:  v.GetDuration("pending.processing_lease"),
		},
		Kafka: KafkaConfig{
			Brokers:    v.GetStringSlice("kafka.brokers"),
			AlertTopic: v.GetString("kafka.alert_topic"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			SamplingRatio:     1,
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
		},
	}
	if v.IsSet("telemetry.sampling_ratio") {
		cfg.Telemetry.SamplingRatio = v.GetFloat64("telemetry.sampling_ratio")
	}

	if err := v.UnmarshalKey("marketplaces", &cfg.Marketplaces); err != nil {
		return nil, fmt.Errorf("error decoding marketplaces: %w", err)
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "syncengine"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "syncengine"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.SlowThreshold == 0 {
		cfg.Database.SlowThreshold = 200 * time.Millisecond
	}
	if cfg.Redis.Host != "" && cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "syncengine"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	// An empty origin list means no cross-origin requests until configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	if cfg.Webhook.MaxBodySize == 0 {
		cfg.Webhook.MaxBodySize = 512 << 10 // 512KB
	}
	if cfg.Webhook.DedupTTL == 0 {
		cfg.Webhook.DedupTTL = 24 * time.Hour
	}
	if cfg.Webhook.TimestampTolerance == 0 {
		cfg.Webhook.TimestampTolerance = 5 * time.Minute
	}
	if cfg.Sync.QueueSize == 0 {
		cfg.Sync.QueueSize = 256
	}
	if cfg.Sync.WebhookDeadline == 0 {
		cfg.Sync.WebhookDeadline = 10 * time.Second
	}
	if cfg.Sync.ManualRunTimeout == 0 {
		cfg.Sync.ManualRunTimeout = 5 * time.Minute
	}
	if cfg.Sync.OrderLookback == 0 {
		cfg.Sync.OrderLookback = 72 * time.Hour
	}
	if cfg.Sync.OrderOverlap == 0 {
		cfg.Sync.OrderOverlap = time.Minute
	}
	if cfg.Sync.MaxOrderPages == 0 {
		cfg.Sync.MaxOrderPages = 1000
	}
	if cfg.Sync.PollMinInterval == 0 {
		cfg.Sync.PollMinInterval = 10 * time.Second
	}
	if cfg.Pending.BatchSize == 0 {
		cfg.Pending.BatchSize = 100
	}
	if cfg.Pending.PollInterval == 0 {
		cfg.Pending.PollInterval = 10 * time.Second
	}
	if cfg.Pending.MaxRetries == 0 {
		cfg.Pending.MaxRetries = 8
	}
	if cfg.Pending.CleanupRetention == 0 {
		cfg.Pending.CleanupRetention = 168 * time.Hour
	}
	if cfg.Pending.ProcessingLease == 0 {
		cfg.Pending.ProcessingLease = 10 * time.Minute
	}
	if cfg.Kafka.AlertTopic == "" {
		cfg.Kafka.AlertTopic = "sync.alerts"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "syncengine"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
	for i := range cfg.Marketplaces {
		cfg.Marketplaces[i].applyDefaults(cfg.Sync.QueueSize)
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("%w: database.max_open_conns must be positive", ErrInvalidConfig)
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("%w: database.max_idle_conns cannot be negative", ErrInvalidConfig)
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("%w: database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			ErrInvalidConfig, c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("%w: telemetry.sampling_ratio (%g) must be between 0 and 1",
			ErrInvalidConfig, c.Telemetry.SamplingRatio)
	}
		if c.Sync.OrderOverlap < 0 || c.Sync.OrderOverlap >= c.Sync.OrderLookback {
		return fmt.Errorf("%w: sync.order_overlap (%s) must be below sync.order_lookback (%s)",
			ErrInvalidConfig, c.Sync.OrderOverlap, c.Sync.OrderLookback)
	}
	for i := range c.Marketplaces {
		mc := &c.Marketplaces[i]
		for name, d := range map[string]time.Duration{
			"product":   mc.PollIntervals.Product,
			"inventory": mc.PollIntervals.Inventory,
			"price":     mc.PollIntervals.Price,
			"order":     mc.PollIntervals.Order,
		} {
			if d > 0 && d < c.Sync.PollMinInterval {
				return fmt.Errorf("%w: marketplaces[%d] poll interval %s (%s) is below sync.poll_min_interval (%s)",
					ErrInvalidConfig, i, name, d, c.Sync.PollMinInterval)
			}
		}
	}

	if c.App.Env == "production" {
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("%w: auth.jwt_secret must be at least 32 characters in production", ErrInvalidConfig)
		}
		if c.Database.Password == "" {
			return fmt.Errorf("%w: database.password is required in production", ErrInvalidConfig)
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("%w: cors_allow_origins cannot be '*' in production", ErrInvalidConfig)
			}
		}
	}

	validate := validator.New()
	seen := make(map[string]bool, len(c.Marketplaces))
	for i := range c.Marketplaces {
		mc := &c.Marketplaces[i]
		if err := validate.Struct(mc); err != nil {
			return fmt.Errorf("%w: marketplaces[%d] (%s): %v", ErrInvalidConfig, i, mc.Code, err)
		}
		if seen[mc.Code] {
			return fmt.Errorf("%w: duplicate marketplace %q", ErrInvalidConfig, mc.Code)
		}
		seen[mc.Code] = true
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
