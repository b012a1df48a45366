// Package distlock provides the single-instance guard for periodic jobs such as the date trigger scan.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is a non-blocking, best-effort mutual exclusion across processes.
// One instance must not be shared by concurrent holders.
type DistLock interface {
	// Acquire returns true when the lock was taken.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if this instance still owns it.
	Release(ctx context.Context) error
}

// ErrLockLost is the cancellation cause KeepAlive reports when a held lock could not be renewed.
var ErrLockLost = errors.New("distlock: lock lost")

// Extender is implemented by locks that expire on their own and must be renewed while held.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
	TTL() time.Duration
}

// KeepAlive renews l every third of its TTL until ctx is done. When a renewal fails or the lock
// is no longer ours, lost is called once with an error wrapping ErrLockLost and KeepAlive returns.
func KeepAlive(ctx context.Context, l Extender, lost func(error)) {
	ttl := l.TTL()
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := l.Extend(ctx, ttl)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				lost(fmt.Errorf("%w: %w", ErrLockLost, err))
				return
			}
			if !ok {
				lost(ErrLockLost)
				return
			}
		}
	}
}

// NewLock prefers Redis and falls back to a Postgres advisory lock. It returns nil when neither
// backend is available, which callers treat as "no locking".
func NewLock(client *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	switch {
	case client != nil:
		return NewRedisLock(client, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	default:
		return nil
	}
}

// PGAdvisoryLock uses pg_try_advisory_lock on a dedicated connection. Advisory locks are
// session scoped, so the connection is pinned between Acquire and Release; a dropped
// connection frees the lock. While the connection is pinned further Acquire calls report
// the lock as busy.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewPGAdvisoryLock derives a stable lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, nil
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return err
	}
	return closeErr
}
