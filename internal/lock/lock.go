// Package lock provides the run guards that keep settlement sweeps from
// overlapping: in-process for a single instance, a database lease row or a
// redis key when several instances share the same database.
package lock

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/blues/greensalary/internal/config"
	"github.com/blues/greensalary/internal/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Locker is a non-blocking mutual exclusion guard.
type Locker interface {
	// TryLock reports whether the lock was acquired.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Renewer is a lock that expires unless its holder extends it.
type Renewer interface {
	// Renew pushes the expiry one TTL ahead. It reports false once the lock
	// is no longer held by the caller.
	Renew(ctx context.Context) (bool, error)
	TTL() time.Duration
}

// KeepAlive renews l every third of its TTL until stop is called. stop waits
// for the renewal goroutine to exit.
func KeepAlive(ctx context.Context, l Renewer) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		every := l.TTL() / 3
		if every <= 0 {
			every = time.Millisecond
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := l.Renew(ctx)
				switch {
				case err != nil:
					logger.Warn("Failed to renew run lock: %v", err)
				case !ok:
					logger.Error("Run lock lost before the sweep finished")
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Local is an in-process compare-and-swap guard.
type Local struct {
	held atomic.Bool
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) TryLock(context.Context) (bool, error) {
	return l.held.CompareAndSwap(false, true), nil
}

func (l *Local) Unlock(context.Context) error {
	l.held.Store(false)
	return nil
}

// Held is true while some caller owns the lock.
func (l *Local) Held() bool {
	return l.held.Load()
}

// HolderId identifies this process in lease rows and keys.
func HolderId() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// New builds the locker selected by lock.mode.
func New(ctx context.Context, cfg config.LockConfig, db *gorm.DB) (Locker, func() error, error) {
	noop := func() error { return nil }
	holder := HolderId()

	switch strings.ToLower(cfg.Mode) {
	case "", "local":
		return NewLocal(), noop, nil
	case "database":
		logger.Info("Using database lease %q for settlement runs (holder %s)", cfg.Name, holder)
		return NewDBLease(db, cfg.Name, holder, cfg.LeaseTTL), noop, nil
	case "redis":
		client, err := Connect(ctx, cfg.RedisUrl)
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Info("Using redis lease %q for settlement runs (holder %s)", cfg.Name, holder)
		return NewRedisLease(client, cfg.Name, holder, cfg.LeaseTTL), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported lock mode %q", cfg.Mode)
	}
}

// Connect accepts either a redis:// URL or host:port.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	if redisURL == "" {
		return nil, fmt.Errorf("lock.redis_url is required for redis lock mode")
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func defaultTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 30 * time.Minute
	}
	return ttl
}
