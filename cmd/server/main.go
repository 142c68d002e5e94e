/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the inventory engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (YAML, .env, environment)
  2. Open the SQL store (SQLite or PostgreSQL) and migrate
  3. Optionally connect Redis for serial counters and item locks
  4. Build the event sinks (log, optionally Kafka)
  5. Wire the engine, handler and router
  6. Start the audit scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  YAML config file (default: config.yaml, optional)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, flush Kafka, close Redis and the database
  4. Exit

EXAMPLES:
  ./server -db="./data/inventory.db"
  ./server -db=":memory:" -port=3000
  INVENTORY_DB_DRIVER=postgres INVENTORY_POSTGRES_DSN=postgres://... ./server

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
  - store/sqlstore: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/inventory-engine/api"
	"github.com/warp/inventory-engine/config"
	"github.com/warp/inventory-engine/events"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/logging"
	"github.com/warp/inventory-engine/store/redisstore"
	"github.com/warp/inventory-engine/store/sqlstore"
)

func main() {
	// Flags
	configPath := flag.String("config", "config.yaml", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.SQLitePath = *dbPath
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped with error")
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx := context.Background()

	// Initialize store
	dsn := cfg.Database.SQLitePath
	if cfg.Database.Driver == "postgres" {
		dsn = cfg.Database.PostgresDSN
	}
	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:       cfg.Database.Driver,
		DSN:          dsn,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	log.WithField("driver", store.Driver()).Info("database ready")

	opts := inventory.Options{
		Store:          store,
		Log:            log,
		AllowSkipStart: cfg.Engine.AllowSkipStart,
		MaxRetries:     cfg.Engine.MaxRetries,
		Yields:         yieldTable(cfg),
	}
	rate := cfg.TaxRateDecimal()
	opts.TaxRate = &rate

	// Redis: shared serial counters and item locks across instances
	if cfg.Redis.Enabled {
		rcfg := redisstore.Config{
			Addr:      cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
			SerialTTL: cfg.Redis.SerialTTL,
			LockTTL:   cfg.Redis.LockTTL,
			LockWait:  cfg.Redis.LockWait,
		}
		rdb, err := redisstore.Connect(ctx, rcfg)
		if err != nil {
			return err
		}
		defer closeRedis(rdb, log)
		opts.SerialStore = redisstore.NewSerials(rdb, rcfg)
		opts.Locker = redisstore.NewLocker(rdb, rcfg, log)
		log.WithField("addr", cfg.Redis.Address).Info("redis serials and locks enabled")
	}

	// Events
	sinks := events.Multi{events.NewLogSink(log)}
	if cfg.Messaging.Kafka.Enabled {
		kafka := events.NewKafkaSink(events.KafkaConfig{
			Brokers: cfg.Messaging.Kafka.Brokers,
			Topic:   cfg.Messaging.Kafka.Topic,
		}, log)
		defer kafka.Close()
		sinks = append(sinks, kafka)
		log.WithField("topic", cfg.Messaging.Kafka.Topic).Info("kafka event publishing enabled")
	}
	opts.Events = sinks

	engine, err := inventory.New(opts)
	if err != nil {
		return err
	}

	// Initialize handler and router
	handler := api.NewHandler(engine, log)
	handler.MaxBodyBytes = cfg.Server.MaxBodyBytes
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Log:            log,
	})

	scheduler := api.NewAuditScheduler(engine.Reconciler, cfg.Audit.Schedule, log)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func yieldTable(cfg *config.Config) map[inventory.OperationType]decimal.Decimal {
	out := make(map[inventory.OperationType]decimal.Decimal)
	for k, v := range cfg.YieldTable() {
		out[inventory.OperationType(k)] = v
	}
	return out
}

func closeRedis(rdb *redis.Client, log logrus.FieldLogger) {
	if err := rdb.Close(); err != nil {
		log.WithError(err).Warn("close redis")
	}
}
