package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App         AppConfig         `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Redis       RedisConfig       `yaml:"redis"`
	Logging     LoggingConfig     `yaml:"logging"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	CRM         CRMConfig         `yaml:"crm"`
	Verifier    VerifierConfig    `yaml:"verifier"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Worker      WorkerConfig      `yaml:"worker"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"DB_HOST"`
	Port            int           `yaml:"port" env:"DB_PORT"`
	User            string        `yaml:"user" env:"DB_USER"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	Database        string        `yaml:"database" env:"DB_NAME"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled" env:"RABBITMQ_ENABLED"`
	Host       string           `yaml:"host" env:"RABBITMQ_HOST"`
	Port       int              `yaml:"port" env:"RABBITMQ_PORT"`
	User       string           `yaml:"user" env:"RABBITMQ_USER"`
	Password   string           `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// RedisConfig holds the Redis connection used for usage counters and run metrics
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr          string `yaml:"addr" env:"REDIS_ADDR"`
	Password      string `yaml:"password" env:"REDIS_PASSWORD"`
	DB            int    `yaml:"db"`
	UsagePrefix   string `yaml:"usage_prefix"`
	MetricsPrefix string `yaml:"metrics_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format" env:"LOG_FORMAT"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
	TimeFormat   string `yaml:"time_format"`
}

// ProcessorConfig holds batch processing limits and the retry policy
type ProcessorConfig struct {
	BatchSize          int           `yaml:"batch_size"`
	Concurrency        int           `yaml:"concurrency"`
	MaxRuntime         time.Duration `yaml:"max_runtime"`
	SafetyMargin       time.Duration `yaml:"safety_margin"`
	ItemTimeoutCeiling time.Duration `yaml:"item_timeout_ceiling"`
	MaxAttempts        int           `yaml:"max_attempts"`
	BaseRetryDelay     time.Duration `yaml:"base_retry_delay"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay"`
	Schedule           string        `yaml:"schedule"`
}

// MaintenanceConfig holds stall, retention and alerting thresholds
type MaintenanceConfig struct {
	StalledThreshold      time.Duration `yaml:"stalled_threshold"`
	CompletedRetention    time.Duration `yaml:"completed_retention"`
	BacklogAlertThreshold int           `yaml:"backlog_alert_threshold"`
	StallAlertThreshold   time.Duration `yaml:"stall_alert_threshold"`
	Schedule              string        `yaml:"schedule"`
}

// CRMConfig holds the CRM API settings
type CRMConfig struct {
	BaseURL  string        `yaml:"base_url" env:"CRM_BASE_URL"`
	APIToken string        `yaml:"api_token" env:"CRM_API_TOKEN"`
	Timeout  time.Duration `yaml:"timeout"`
}

// VerifierConfig holds the verification provider gateway settings
type VerifierConfig struct {
	BaseURL string        `yaml:"base_url" env:"VERIFIER_BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"VERIFIER_API_KEY"`
	Timeout time.Duration `yaml:"timeout"`
}

// AlertsConfig selects where operator alerts go
type AlertsConfig struct {
	PublishToRabbitMQ bool   `yaml:"publish_to_rabbitmq"`
	RoutingPrefix     string `yaml:"routing_prefix"`
}

// WorkerConfig holds worker process settings
type WorkerConfig struct {
	LockFile        string        `yaml:"lock_file" env:"WORKER_LOCK_FILE"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file, applies environment
// overrides and fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	config.Defaults()

	return &config, nil
}

// ApplyEnv overrides tagged fields from environment variables
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// Defaults fills zero values with the standard processing limits
func (c *Config) Defaults() {
	p := &c.Processor
	setInt(&p.BatchSize, 50)
	setInt(&p.Concurrency, 5)
	setDuration(&p.MaxRuntime, 55*time.Second)
	setDuration(&p.SafetyMargin, 5*time.Second)
	setDuration(&p.ItemTimeoutCeiling, 10*time.Second)
	setInt(&p.MaxAttempts, 3)
	setDuration(&p.BaseRetryDelay, time.Minute)
	setDuration(&p.MaxRetryDelay, time.Hour)
	setString(&p.Schedule, "@every 1m")

	m := &c.Maintenance
	setDuration(&m.StalledThreshold, 30*time.Minute)
	setDuration(&m.CompletedRetention, 30*24*time.Hour)
	setInt(&m.BacklogAlertThreshold, 1000)
	setDuration(&m.StallAlertThreshold, 60*time.Minute)
	setString(&m.Schedule, "@every 5m")

	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)
	setDuration(&c.Worker.ShutdownTimeout, 30*time.Second)
	setString(&c.Worker.LockFile, "/tmp/contact-validation/processor.lock")
	setString(&c.RabbitMQ.Consumer.Tag, "contact-validation-processor")
	setString(&c.Alerts.RoutingPrefix, "alerts")
	setString(&c.Redis.UsagePrefix, "usage")
	setString(&c.Redis.MetricsPrefix, "processor")
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Processor.MaxAttempts <= 0 {
		return fmt.Errorf("processor max_attempts must be greater than 0")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the batch processor needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	p := c.Processor
	if p.BatchSize <= 0 {
		return fmt.Errorf("processor batch_size must be greater than 0")
	}

	if p.Concurrency <= 0 {
		return fmt.Errorf("processor concurrency must be greater than 0")
	}

	if p.MaxRuntime <= 0 {
		return fmt.Errorf("processor max_runtime must be greater than 0")
	}

	if p.SafetyMargin < 0 || p.SafetyMargin >= p.MaxRuntime {
		return fmt.Errorf("processor safety_margin must be between 0 and max_runtime")
	}

	if p.ItemTimeoutCeiling <= 0 {
		return fmt.Errorf("processor item_timeout_ceiling must be greater than 0")
	}

	if p.MaxAttempts <= 0 {
		return fmt.Errorf("processor max_attempts must be greater than 0")
	}

	if p.BaseRetryDelay <= 0 || p.MaxRetryDelay < p.BaseRetryDelay {
		return fmt.Errorf("processor retry delays must satisfy 0 < base_retry_delay <= max_retry_delay")
	}

	m := c.Maintenance
	if m.StalledThreshold <= 0 {
		return fmt.Errorf("maintenance stalled_threshold must be greater than 0")
	}

	if m.CompletedRetention <= 0 {
		return fmt.Errorf("maintenance completed_retention must be greater than 0")
	}

	if c.CRM.BaseURL == "" {
		return fmt.Errorf("crm base_url is required")
	}

	if c.Verifier.BaseURL == "" {
		return fmt.Errorf("verifier base_url is required")
	}

	if c.RabbitMQ.Enabled {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
