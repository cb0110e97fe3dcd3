package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var configFile string

// Config holds the service configuration
type Config struct {
	// HTTP Server
	HTTPServerAddress string        `mapstructure:"server.address"`
	HTTPServerTimeout time.Duration `mapstructure:"server.timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"server.shutdown_timeout"`
	GinMode           string        `mapstructure:"server.mode"`
	CorsOrigins       []string      `mapstructure:"server.cors_origins"`

	Database      DatabaseConfig      `mapstructure:",squash"`
	Redis         RedisConfig         `mapstructure:",squash"`
	ServiceBus    ServiceBusConfig    `mapstructure:",squash"`
	Elasticsearch ElasticsearchConfig `mapstructure:",squash"`
	Tracing       TracingConfig       `mapstructure:",squash"`

	// Collaborator endpoints
	FilesBaseURL string `mapstructure:"files.base_url"`
	ERPBaseURL   string `mapstructure:"erp.base_url"`
	ERPQueue     string `mapstructure:"erp.queue"`

	EnableMigrations bool `mapstructure:"enable_migrations"`

	// Logging
	LogLevel  string `mapstructure:"logging.level"`
	LogFormat string `mapstructure:"logging.format"`
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host     string        `mapstructure:"database.host"`
	Port     int           `mapstructure:"database.port"`
	User     string        `mapstructure:"database.user"`
	Password string        `mapstructure:"database.password"`
	Name     string        `mapstructure:"database.name"`
	SSLMode  string        `mapstructure:"database.ssl_mode"`
	Debug    bool          `mapstructure:"database.debug"`
	MaxConn  int           `mapstructure:"database.max_conn"`
	MaxIdle  int           `mapstructure:"database.max_idle"`
	MaxLife  time.Duration `mapstructure:"database.max_life"`
}

// RedisConfig holds the Redis cache configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"redis.enabled"`
	Host     string `mapstructure:"redis.host"`
	Port     int    `mapstructure:"redis.port"`
	Password string `mapstructure:"redis.password"`
	DB       int    `mapstructure:"redis.db"`
}

// ServiceBusConfig holds the Azure Service Bus configuration
type ServiceBusConfig struct {
	ConnectionString string `mapstructure:"servicebus.connection_string"`
	Prefix           string `mapstructure:"servicebus.prefix"`
}

// ElasticsearchConfig holds the Elasticsearch configuration
type ElasticsearchConfig struct {
	URLs     []string `mapstructure:"elasticsearch.urls"`
	Username string   `mapstructure:"elasticsearch.username"`
	Password string   `mapstructure:"elasticsearch.password"`
	Index    string   `mapstructure:"elasticsearch.index"`
}

// TracingConfig holds the New Relic configuration
type TracingConfig struct {
	AppName        string `mapstructure:"newrelic.app_name"`
	LicenseKey     string `mapstructure:"newrelic.license_key"`
	DistribTracing bool   `mapstructure:"newrelic.distributed_tracing"`
	LogEnabled     bool   `mapstructure:"newrelic.log_forwarding"`
}

// SetConfigFile overrides the config file location
func SetConfigFile(file string) {
	configFile = file
}

// Load loads the configuration from file and environment
func Load() (*Config, error) {
	var cfg Config

	viper.SetConfigType("yaml")

	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("BATCH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; defaults plus env cover local runs
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error loading configuration: %w", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling configuration: %w", err)
	}

	return &cfg, nil
}

// Set default configuration values
func setDefaults() {
	// HTTP Server
	viper.SetDefault("server.address", "0.0.0.0:8090")
	viper.SetDefault("server.timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "15s")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.cors_origins", []string{"*"})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.name", "batch_db")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_conn", 20)
	viper.SetDefault("database.max_idle", 5)
	viper.SetDefault("database.max_life", "1h")

	// Redis
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	// Service Bus
	viper.SetDefault("servicebus.prefix", "")

	// Elasticsearch
	viper.SetDefault("elasticsearch.urls", []string{"http://localhost:9200"})
	viper.SetDefault("elasticsearch.index", "archived-batches")

	// Collaborators
	viper.SetDefault("files.base_url", "http://localhost:8070")
	viper.SetDefault("erp.base_url", "http://localhost:8080")
	viper.SetDefault("erp.queue", "erp-batch-events")

	viper.SetDefault("enable_migrations", true)

	// Tracing
	viper.SetDefault("newrelic.app_name", "Batch Service")
	viper.SetDefault("newrelic.distributed_tracing", true)

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
