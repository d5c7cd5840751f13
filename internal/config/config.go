// Package config loads service configuration from file, environment and defaults
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SURVEYSTORE_HTTP_PORT.
const EnvPrefix = "SURVEYSTORE"

// Storage drivers
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

// Config is the complete service configuration
type Config struct {
	HTTP          HTTPConfig    `mapstructure:"http"`
	Grpc          GrpcConfig    `mapstructure:"grpc"`
	Observability PortConfig    `mapstructure:"observability"`
	Storage       StorageConfig `mapstructure:"storage"`
	Logging       LoggingConfig `mapstructure:"logging"`
	Lineage       LineageConfig `mapstructure:"lineage"`
	Writer        WriterConfig  `mapstructure:"writer"`
}

// HTTPConfig configures the REST API
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GrpcConfig configures the gRPC health endpoint
type GrpcConfig struct {
	Port int `mapstructure:"port"`
}

// PortConfig is a server that only needs a port
type PortConfig struct {
	Port int `mapstructure:"port"`
}

// StorageConfig selects the record store backend
type StorageConfig struct {
	Driver     string `mapstructure:"driver"` // memory, badger, sqlite
	Path       string `mapstructure:"path"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

// LoggingConfig mirrors logger.Config
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	Caller bool   `mapstructure:"caller"`
}

// LineageConfig bounds lineage traversal
type LineageConfig struct {
	MaxDepth  int `mapstructure:"max_depth"`
	MaxFamily int `mapstructure:"max_family"`
}

// WriterConfig tunes the compensating writer
type WriterConfig struct {
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
	BranchGuard   bool          `mapstructure:"branch_guard"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("observability.port", 9090)

	v.SetDefault("storage.driver", DriverBadger)
	v.SetDefault("storage.path", "surveystore-data")
	v.SetDefault("storage.sync_writes", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
	v.SetDefault("logging.caller", false)

	v.SetDefault("lineage.max_depth", 100)
	v.SetDefault("lineage.max_family", 10000)

	v.SetDefault("writer.notify_timeout", "5s")
	v.SetDefault("writer.branch_guard", false)
}

// New returns a viper instance with defaults and environment binding.
// Callers may bind command-line flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (explicit path, or surveystore.yaml in the
// working directory or /etc/surveystore) and unmarshals the result. A
// missing default file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("surveystore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/surveystore")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverBadger, DriverSQLite:
	default:
		return &ConfigError{Field: "storage.driver", Message: "must be one of memory, badger, sqlite"}
	}
	if c.Storage.Driver != DriverMemory && c.Storage.Path == "" {
		return &ConfigError{Field: "storage.path", Message: "required for " + c.Storage.Driver}
	}
	for field, port := range map[string]int{
		"http.port":          c.HTTP.Port,
		"grpc.port":          c.Grpc.Port,
		"observability.port": c.Observability.Port,
	} {
		if port < 0 || port > 65535 {
			return &ConfigError{Field: field, Message: "out of range"}
		}
	}
	if c.Lineage.MaxDepth <= 0 {
		return &ConfigError{Field: "lineage.max_depth", Message: "must be positive"}
	}
	if c.Writer.NotifyTimeout <= 0 {
		return &ConfigError{Field: "writer.notify_timeout", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
