package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	GeoIP    GeoIPConfig    `mapstructure:"geoip"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Security SecurityConfig `mapstructure:"security"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// StoreConfig selects the counter-store backend. The in-memory backend is
// an explicit configuration choice for single-process deployments, not a
// silent fallback.
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // "redis" or "memory"
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

type GeoIPConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

type AuditConfig struct {
	Backend  string         `mapstructure:"backend"` // "log" or "postgres"
	Database DatabaseConfig `mapstructure:"database"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// SecurityConfig carries every tunable threshold of the engine.
type SecurityConfig struct {
	CSRFWarningThreshold    int           `mapstructure:"csrf_warning_threshold"`
	CSRFMaxAttempts         int           `mapstructure:"csrf_max_attempts"`
	MaxLoginAttempts        int           `mapstructure:"max_login_attempts"`
	LoginBlockDuration      time.Duration `mapstructure:"login_block_duration"`
	IPBlockDuration         time.Duration `mapstructure:"ip_block_duration"`
	SuspiciousIPThreshold   int           `mapstructure:"suspicious_ip_threshold"`
	UserActionsPer5Min      int           `mapstructure:"user_actions_per_5_min"`
	RepeatedActionThreshold int           `mapstructure:"repeated_action_threshold"`
}

func Load(configPath string) (*Config, error) {
	var cfg Config
	if err := loadConfigFile(configPath, "config", &cfg); err != nil {
		return nil, fmt.Errorf("could not load config file: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadConfigFile(configPath, fileName string, out interface{}) error {
	viper.SetConfigName(fileName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file %s.yaml: %w", fileName, err)
		}
		// No file is fine, environment variables still apply.
	}

	if err := viper.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal %s config: %w", fileName, err)
	}

	return nil
}

func (c *Config) setDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "redis"
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = "log"
	}
	if c.Audit.Database.SSLMode == "" {
		c.Audit.Database.SSLMode = "disable"
	}
	if c.Security.CSRFWarningThreshold == 0 {
		c.Security.CSRFWarningThreshold = 5
	}
	if c.Security.CSRFMaxAttempts == 0 {
		c.Security.CSRFMaxAttempts = 10
	}
	if c.Security.MaxLoginAttempts == 0 {
		c.Security.MaxLoginAttempts = 5
	}
	if c.Security.LoginBlockDuration == 0 {
		c.Security.LoginBlockDuration = 15 * time.Minute
	}
	if c.Security.IPBlockDuration == 0 {
		c.Security.IPBlockDuration = 1 * time.Hour
	}
	if c.Security.SuspiciousIPThreshold == 0 {
		c.Security.SuspiciousIPThreshold = 10
	}
	if c.Security.UserActionsPer5Min == 0 {
		c.Security.UserActionsPer5Min = 100
	}
	if c.Security.RepeatedActionThreshold == 0 {
		c.Security.RepeatedActionThreshold = 20
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid store backend: %q, must be 'redis' or 'memory'", c.Store.Backend)
	}
	switch c.Audit.Backend {
	case "log", "postgres":
	default:
		return fmt.Errorf("invalid audit backend: %q, must be 'log' or 'postgres'", c.Audit.Backend)
	}
	if c.Security.CSRFMaxAttempts <= c.Security.CSRFWarningThreshold {
		return fmt.Errorf(
			"csrf_max_attempts (%d) must be greater than csrf_warning_threshold (%d)",
			c.Security.CSRFMaxAttempts, c.Security.CSRFWarningThreshold,
		)
	}
	return nil
}
