package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Mongo      MongoConfig      `json:"mongo"`
	Onboarding OnboardingConfig `json:"onboarding"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "memory"
	Driver         string        `json:"driver"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// MongoConfig configures the analytics store. An empty URI disables it.
type MongoConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

// OnboardingConfig tunes the onboarding engine
type OnboardingConfig struct {
	StaleAfter          time.Duration `json:"stale_after"`
	DedupWindow         time.Duration `json:"dedup_window"`
	DedupCapacity       int           `json:"dedup_capacity"`
	SessionTTL          time.Duration `json:"session_ttl"`
	ReminderSchedule    string        `json:"reminder_schedule"`
	ReminderInactiveFor time.Duration `json:"reminder_inactive_for"`
	ReminderEvery       time.Duration `json:"reminder_every"`
	ReminderBatchSize   int           `json:"reminder_batch_size"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
	// Development switches zap to its console encoder
	Development bool `json:"development"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "inventory_portal",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
		},
		Mongo: MongoConfig{
			Database: "inventory_portal",
		},
		Onboarding: OnboardingConfig{
			StaleAfter:          5 * time.Minute,
			DedupWindow:         30 * time.Second,
			DedupCapacity:       256,
			SessionTTL:          30 * time.Minute,
			ReminderSchedule:    "0 0 * * * *",
			ReminderInactiveFor: 72 * time.Hour,
			ReminderEvery:       24 * time.Hour,
			ReminderBatchSize:   100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from file and environment variables. A .env file in
// the working directory is loaded first when present.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	config := Default()

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) error {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if err := envInt("SERVER_PORT", &config.Server.Port); err != nil {
		return err
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if err := envInt("DATABASE_PORT", &config.Database.Port); err != nil {
		return err
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if sslMode := os.Getenv("DATABASE_SSLMODE"); sslMode != "" {
		config.Database.SSLMode = sslMode
	}

	if uri := os.Getenv("MONGO_URI"); uri != "" {
		config.Mongo.URI = uri
	}
	if db := os.Getenv("MONGO_DATABASE"); db != "" {
		config.Mongo.Database = db
	}

	if err := envDuration("ONBOARDING_STALE_AFTER", &config.Onboarding.StaleAfter); err != nil {
		return err
	}
	if err := envDuration("ONBOARDING_DEDUP_WINDOW", &config.Onboarding.DedupWindow); err != nil {
		return err
	}
	if err := envInt("ONBOARDING_DEDUP_CAPACITY", &config.Onboarding.DedupCapacity); err != nil {
		return err
	}
	if err := envDuration("ONBOARDING_SESSION_TTL", &config.Onboarding.SessionTTL); err != nil {
		return err
	}
	if schedule := os.Getenv("ONBOARDING_REMINDER_SCHEDULE"); schedule != "" {
		config.Onboarding.ReminderSchedule = schedule
	}
	if err := envDuration("ONBOARDING_REMINDER_INACTIVE_FOR", &config.Onboarding.ReminderInactiveFor); err != nil {
		return err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if dev := os.Getenv("LOG_DEVELOPMENT"); dev != "" {
		b, err := strconv.ParseBool(dev)
		if err != nil {
			return fmt.Errorf("invalid LOG_DEVELOPMENT %q: %w", dev, err)
		}
		config.Logging.Development = b
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

// Validate checks values the server cannot start without
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Onboarding.SessionTTL <= 0 {
		return fmt.Errorf("onboarding session_ttl must be positive")
	}
	if c.Onboarding.DedupCapacity < 0 {
		return fmt.Errorf("onboarding dedup_capacity must not be negative")
	}
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
