/*
Package redisstore provides Redis-backed serial counters and item locks.

PURPOSE:
  Serials:  inventory.SerialStore over INCR. One key per scope, expiring a
            few days after the period so daily keys do not accumulate.
  Locker:   inventory.Locker over bsm/redislock, serialising Mutators on the
            same item across server instances.

NOTE:
  Serials issued from Redis live outside the SQL transaction of a unit of
  work. A rolled-back unit leaves a gap in the sequence; uniqueness still
  holds because INCR never hands out a value twice.
*/
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/inventory-engine/inventory"
)

// Config holds connection and tuning settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	// KeyPrefix namespaces every key, e.g. "inventory".
	KeyPrefix string

	// SerialTTL is how long a scope counter lives after its last increment.
	SerialTTL time.Duration

	// LockTTL bounds how long a crashed holder can block an item.
	LockTTL time.Duration
	// LockWait is how long Lock keeps retrying before giving up.
	LockWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 100
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "inventory"
	}
	if c.SerialTTL == 0 {
		c.SerialTTL = 72 * time.Hour
	}
	if c.LockTTL == 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.LockWait == 0 {
		c.LockWait = 5 * time.Second
	}
	return c
}

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// =============================================================================
// SERIALS
// =============================================================================

type Serials struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ inventory.SerialStore = (*Serials)(nil)

func NewSerials(rdb redis.Cmdable, cfg Config) *Serials {
	cfg = cfg.withDefaults()
	return &Serials{rdb: rdb, prefix: cfg.KeyPrefix, ttl: cfg.SerialTTL}
}

// IncrementSerial runs INCR and refreshes the TTL in one pipeline.
func (s *Serials) IncrementSerial(ctx context.Context, scope string) (int64, error) {
	key := s.prefix + ":serial:" + scope
	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return 0, &inventory.StorageError{Op: "redis incr", Err: err, Retryable: true}
	}
	return incr.Val(), nil
}

// =============================================================================
// LOCKER
// =============================================================================

type Locker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	log    logrus.FieldLogger
}

var _ inventory.Locker = (*Locker)(nil)

func NewLocker(rdb redislock.RedisClient, cfg Config, log logrus.FieldLogger) *Locker {
	cfg = cfg.withDefaults()
	return &Locker{
		client: redislock.New(rdb),
		prefix: cfg.KeyPrefix,
		ttl:    cfg.LockTTL,
		wait:   cfg.LockWait,
		log:    log,
	}
}

// Lock obtains key, retrying with linear backoff for up to LockWait.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	backoff := 25 * time.Millisecond
	retries := int(l.wait / backoff)
	lock, err := l.client.Obtain(ctx, l.prefix+":lock:"+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(backoff), retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, &inventory.StorageError{Op: "lock " + key, Err: inventory.ErrConcurrentModification, Retryable: true}
	}
	if err != nil {
		return nil, &inventory.StorageError{Op: "lock " + key, Err: err, Retryable: true}
	}
	return func() {
		// Release with a fresh context: the caller's may already be done.
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			if l.log != nil {
				l.log.WithError(err).WithField("key", key).Warn("release item lock")
			}
		}
	}, nil
}
