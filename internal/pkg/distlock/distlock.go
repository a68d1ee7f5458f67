// Package distlock provides cross-process mutual exclusion for scheduler
// passes that must not run twice concurrently (the warmup volume scheduler
// would double-draft messages). The contract is "at most one holder at a
// time"; any backend satisfying it is acceptable.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is the interface for distributed locking. Acquire is non-blocking:
// contention is reported as (false, nil), not an error.
type Lock interface {
	// Acquire tries to take the lock. Returns true if this process now holds it.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if this process still owns it.
	Release(ctx context.Context) error
}

// New creates a lock using the best available backend. A non-nil redis
// client is preferred (TTL-based crash safety across hosts); otherwise a
// PostgreSQL advisory lock is used, which the database releases when the
// session drops.
func New(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// PGAdvisoryLock implements Lock using pg_try_advisory_lock with a
// deterministic 64-bit id derived from the key string.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock for the given key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to take the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
