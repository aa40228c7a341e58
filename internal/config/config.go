package config

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	ModeBatch = "batch"
	ModeServe = "serve"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Tree     TreeConfig     `mapstructure:"tree"`
	Server   ServerConfig   `mapstructure:"server"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
}

// AppConfig selects the run mode
type AppConfig struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
}

// TreeConfig controls how category lists are found and rendered
type TreeConfig struct {
	Marker          string   `mapstructure:"marker"`
	Selectors       []string `mapstructure:"selectors"`
	SidebarSelector string   `mapstructure:"sidebar_selector"`
	Locale          string   `mapstructure:"locale"`
	Expand          []string `mapstructure:"expand"`
	InjectScript    bool     `mapstructure:"inject_script"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Host     string `mapstructure:"host"`
	Upstream string `mapstructure:"upstream"`
}

// FetchConfig holds upstream HTTP client configuration
type FetchConfig struct {
	Timeout              int `mapstructure:"timeout"`
	MaxRetries           int `mapstructure:"max_retries"`
	MaxRequestsPerSecond int `mapstructure:"max_requests_per_second"`
}

// BatchConfig holds file rewriting configuration
type BatchConfig struct {
	InputDir   string   `mapstructure:"input_dir"`
	OutputDir  string   `mapstructure:"output_dir"`
	Include    []string `mapstructure:"include"`
	MaxWorkers int      `mapstructure:"max_workers"`
}

// RedisConfig holds Redis connection details for the page cache
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
	TTL      int    `mapstructure:"ttl"`
}

// DatabaseConfig holds the category index database configuration
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// Load loads configuration from YAML file with environment variable overrides.
// A missing config.yaml is not an error: defaults and environment apply.
func Load() (*Config, error) {
	return load(viper.New(), ".")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Warn("config.yaml not found, using defaults")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks that the configuration contains usable values
func (c *Config) Validate() error {
	switch c.App.Mode {
	case ModeBatch:
		if c.Batch.InputDir == "" || c.Batch.OutputDir == "" {
			return fmt.Errorf("batch mode requires batch.input_dir and batch.output_dir")
		}
	case ModeServe:
		if c.Server.Upstream == "" {
			return fmt.Errorf("serve mode requires server.upstream")
		}
	default:
		return fmt.Errorf("invalid app.mode %q: must be one of batch, serve", c.App.Mode)
	}

	if c.Batch.MaxWorkers < 1 {
		return fmt.Errorf("batch.max_workers must be positive")
	}
	if c.Fetch.MaxRequestsPerSecond < 1 {
		return fmt.Errorf("fetch.max_requests_per_second must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.mode", ModeBatch)
	v.SetDefault("app.log_level", "info")

	v.SetDefault("tree.marker", "/category/")
	v.SetDefault("tree.selectors", []string{"#categories", ".categories", ".category-list", ".widget-category"})
	v.SetDefault("tree.sidebar_selector", ".sidebar")
	v.SetDefault("tree.locale", "und")
	v.SetDefault("tree.expand", []string{})
	v.SetDefault("tree.inject_script", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.upstream", "")

	v.SetDefault("fetch.timeout", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.max_requests_per_second", 10)

	v.SetDefault("batch.input_dir", "./public")
	v.SetDefault("batch.output_dir", "./public-tree")
	v.SetDefault("batch.include", []string{"**/*.html"})
	v.SetDefault("batch.max_workers", 8)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.ttl", 300)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "categorytree")
	v.SetDefault("database.user", "categorytree")
	v.SetDefault("database.password", "")
}
