package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "10", cfg.TaxRateDecimal().String())
	assert.Equal(t, 8, cfg.Engine.MaxRetries)
	assert.Equal(t, "0 3 * * *", cfg.Audit.Schedule)
	assert.Equal(t, 72*time.Hour, cfg.Redis.SerialTTL)
	assert.Equal(t, 100, cfg.Redis.PoolSize)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	// GIVEN: A YAML file overriding part of the defaults
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  read_timeout: 5s
database:
  driver: postgres
  postgres_dsn: postgres://inventory@localhost/inventory
engine:
  tax_rate: 0
  yields:
    blanking: 0.92
    press: 0.97
redis:
  enabled: true
  lock_wait: 2s
  serial_ttl: 48h
  pool_size: 20
`), 0o600))
	t.Setenv("INVENTORY_PORT", "")

	// WHEN: Loading
	cfg, err := Load(path)

	// THEN: File values win, untouched defaults remain
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Redis.LockWait)
	assert.Equal(t, "inventory", cfg.Redis.KeyPrefix)
	assert.Equal(t, 48*time.Hour, cfg.Redis.SerialTTL)
	assert.Equal(t, 20, cfg.Redis.PoolSize)
	assert.Equal(t, 30*time.Second, cfg.Redis.LockTTL)
	assert.True(t, cfg.TaxRateDecimal().IsZero())

	yields := cfg.YieldTable()
	assert.Equal(t, "0.92", yields["BLANKING"].String())
	assert.Equal(t, "0.97", yields["PRESS"].String())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("INVENTORY_PORT", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := Load(path)

	assert.ErrorContains(t, err, "parse")
}

func TestLoad_EnvironmentWins(t *testing.T) {
	t.Setenv("INVENTORY_PORT", "7070")
	t.Setenv("INVENTORY_LOG_LEVEL", "debug")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnv(t *testing.T) {
	cfg := Defaults()

	err := cfg.applyEnv(lookupFrom(map[string]string{
		"INVENTORY_ALLOWED_ORIGINS": " https://a.example , ,https://b.example",
		"INVENTORY_KAFKA_ENABLED":   "true",
		"INVENTORY_KAFKA_BROKERS":   "k1:9092,k2:9092",
		"INVENTORY_REDIS_DB":        "3",
		"INVENTORY_TAX_RATE":        "7.5",
		"INVENTORY_AUDIT_SCHEDULE":  "",
		"INVENTORY_SQLITE_PATH":     "",
	}))

	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Messaging.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Messaging.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "7.5", cfg.TaxRateDecimal().String())
	// An explicitly empty schedule disables the audit; empty strings
	// elsewhere keep the default.
	assert.Empty(t, cfg.Audit.Schedule)
	assert.Equal(t, "./data/inventory.db", cfg.Database.SQLitePath)
}

func TestApplyEnv_ReportsBadValues(t *testing.T) {
	cfg := Defaults()

	err := cfg.applyEnv(lookupFrom(map[string]string{
		"INVENTORY_PORT":          "eighty",
		"INVENTORY_REDIS_ENABLED": "maybe",
		"INVENTORY_TAX_RATE":      "ten",
	}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVENTORY_PORT")
	assert.Contains(t, err.Error(), "INVENTORY_REDIS_ENABLED")
	assert.Contains(t, err.Error(), "INVENTORY_TAX_RATE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "unsupported database driver"},
		{"sqlite without path", func(c *Config) { c.Database.SQLitePath = "" }, "sqlite_path"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "postgres_dsn"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"tax rate over 100", func(c *Config) { c.Engine.TaxRate = 101 }, "tax_rate"},
		{"zero yield", func(c *Config) { c.Engine.Yields = map[string]float64{"press": 0} }, "yields[press]"},
		{"negative serial ttl", func(c *Config) { c.Redis.SerialTTL = -time.Second }, "redis durations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)

			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
