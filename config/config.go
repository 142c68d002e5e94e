/*
Package config loads server configuration.

LAYERING (later wins):
  1. Defaults()
  2. YAML file (missing file is not an error)
  3. .env file loaded into the process environment (godotenv)
  4. INVENTORY_* environment variables
  5. Command-line flags (applied by cmd/server)
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Messaging MessagingConfig `yaml:"messaging"`
	Log       LogConfig       `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Audit     AuditConfig     `yaml:"audit"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // sqlite or postgres
	SQLitePath   string `yaml:"sqlite_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"pool_size"`
	KeyPrefix string        `yaml:"key_prefix"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
	LockWait  time.Duration `yaml:"lock_wait"`
	SerialTTL time.Duration `yaml:"serial_ttl"` // lifetime of a day's counter key
}

type MessagingConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type EngineConfig struct {
	// TaxRate is the VAT percentage applied to ledger rows.
	TaxRate float64 `yaml:"tax_rate"`
	// Yields maps operation type to theoretical output per unit of input.
	Yields         map[string]float64 `yaml:"yields"`
	AllowSkipStart bool               `yaml:"allow_skip_start"`
	MaxRetries     int                `yaml:"max_retries"`
}

type AuditConfig struct {
	// Schedule is a cron expression; empty disables the scheduled audit.
	Schedule string `yaml:"schedule"`
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "./data/inventory.db",
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			PoolSize:  100,
			KeyPrefix: "inventory",
			LockTTL:   30 * time.Second,
			LockWait:  5 * time.Second,
			SerialTTL: 72 * time.Hour,
		},
		Messaging: MessagingConfig{
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "inventory.events",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			TaxRate:    10,
			MaxRetries: 8,
		},
		Audit: AuditConfig{
			Schedule: "0 3 * * *",
		},
	}
}

// Load applies the YAML file at path (if any) and then the environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overlays INVENTORY_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = b
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			var out []string
			for _, p := range strings.Split(v, ",") {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
	}

	str("INVENTORY_HOST", &c.Server.Host)
	num("INVENTORY_PORT", &c.Server.Port)
	list("INVENTORY_ALLOWED_ORIGINS", &c.Server.AllowedOrigins)

	str("INVENTORY_DB_DRIVER", &c.Database.Driver)
	str("INVENTORY_SQLITE_PATH", &c.Database.SQLitePath)
	str("INVENTORY_POSTGRES_DSN", &c.Database.PostgresDSN)

	flag("INVENTORY_REDIS_ENABLED", &c.Redis.Enabled)
	str("INVENTORY_REDIS_ADDRESS", &c.Redis.Address)
	str("INVENTORY_REDIS_PASSWORD", &c.Redis.Password)
	num("INVENTORY_REDIS_DB", &c.Redis.DB)

	flag("INVENTORY_KAFKA_ENABLED", &c.Messaging.Kafka.Enabled)
	list("INVENTORY_KAFKA_BROKERS", &c.Messaging.Kafka.Brokers)
	str("INVENTORY_KAFKA_TOPIC", &c.Messaging.Kafka.Topic)

	str("INVENTORY_LOG_LEVEL", &c.Log.Level)
	str("INVENTORY_LOG_FORMAT", &c.Log.Format)

	flag("INVENTORY_ALLOW_SKIP_START", &c.Engine.AllowSkipStart)
	if v, ok := lookup("INVENTORY_TAX_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, "INVENTORY_TAX_RATE")
		} else {
			c.Engine.TaxRate = f
		}
	}

	if v, ok := lookup("INVENTORY_AUDIT_SCHEDULE"); ok {
		c.Audit.Schedule = v
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(errs, ", "))
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for sqlite")
		}
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("database.postgres_dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Engine.TaxRate < 0 || c.Engine.TaxRate > 100 {
		return fmt.Errorf("engine.tax_rate must be within 0..100: %v", c.Engine.TaxRate)
	}
	for t, r := range c.Engine.Yields {
		if r <= 0 {
			return fmt.Errorf("engine.yields[%s] must be positive", t)
		}
	}
	if c.Redis.SerialTTL < 0 || c.Redis.LockTTL < 0 || c.Redis.LockWait < 0 {
		return fmt.Errorf("redis durations must not be negative")
	}
	return nil
}

// TaxRateDecimal returns the configured VAT percentage.
func (c *Config) TaxRateDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Engine.TaxRate)
}

// YieldTable returns the yield ratios keyed by upper-case operation type.
func (c *Config) YieldTable() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.Engine.Yields))
	for t, r := range c.Engine.Yields {
		out[strings.ToUpper(t)] = decimal.NewFromFloat(r)
	}
	return out
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
