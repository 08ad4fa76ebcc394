package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		// URL, when set, overrides the discrete fields below.
		URL      string `yaml:"url"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"database"`
		SSLMode  string `yaml:"sslmode"`
		// MaxConns bounds the pool. Each open streaming session holds one
		// connection for its whole lifetime, so this is also the ceiling on
		// concurrent streaming clients.
		MaxConns int `yaml:"max_conns"`
	} `yaml:"database"`

	RabbitMQ struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"rabbitmq"`

	Services struct {
		DashboardServicePort int `yaml:"dashboard_service"`
	} `yaml:"services"`

	Stream struct {
		Channel          string `yaml:"channel"`
		SnapshotLimit    int    `yaml:"snapshot_limit"`
		SnapshotLimitMax int    `yaml:"snapshot_limit_max"`
	} `yaml:"stream"`

	JWT struct {
		SecretKey string `yaml:"secret_key"`
	} `yaml:"jwt"`
}

// LoadFromFile loads config from a YAML file, applies env overrides and
// defaults, and validates required fields. The file may be absent when the
// database parameters come entirely from the environment.
func LoadFromFile(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// env-only configuration
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides resolves the database fallback chain: an explicit
// connection string wins, else discrete host/port/db/user/password variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
}

// applyDefaults sets safe defaults for some fields.
func applyDefaults(cfg *Config) {
	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}

	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}

	// Services
	if cfg.Services.DashboardServicePort == 0 {
		cfg.Services.DashboardServicePort = 3000
	}

	// Stream
	if cfg.Stream.Channel == "" {
		cfg.Stream.Channel = "vehicle_updates"
	}
	if cfg.Stream.SnapshotLimit == 0 {
		cfg.Stream.SnapshotLimit = 50
	}
	if cfg.Stream.SnapshotLimitMax == 0 {
		cfg.Stream.SnapshotLimitMax = 500
	}

	if cfg.JWT.SecretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			// fallback: time-based bytes
			key = []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		cfg.JWT.SecretKey = base64.StdEncoding.EncodeToString(key)
	}
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	// DB: a connection URL stands in for all discrete fields
	if c.Database.URL == "" {
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			problems = append(problems, "database.port must be in 1..65535")
		}
		if c.Database.User == "" {
			problems = append(problems, "database.user is required")
		}
		if c.Database.Name == "" {
			problems = append(problems, "database.database is required")
		}
	}
	if c.Database.MaxConns < 1 {
		problems = append(problems, "database.max_conns must be positive")
	}

	// RabbitMQ
	if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
		problems = append(problems, "rabbitmq.port must be in 1..65535")
	}

	// Services
	if c.Services.DashboardServicePort <= 0 || c.Services.DashboardServicePort > 65535 {
		problems = append(problems, "services.dashboard_service must be in 1..65535")
	}

	// Stream
	if c.Stream.SnapshotLimit < 1 || c.Stream.SnapshotLimit > c.Stream.SnapshotLimitMax {
		problems = append(problems, "stream.snapshot_limit must be in 1..snapshot_limit_max")
	}
	if !validChannelName(c.Stream.Channel) {
		problems = append(problems, "stream.channel must be a plain identifier")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// validChannelName accepts identifiers safe to interpolate into LISTEN/UNLISTEN.
func validChannelName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
