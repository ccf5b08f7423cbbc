package runlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrConcurrentRun means another pipeline run holds the lock. The caller
// exits immediately without side effects.
var ErrConcurrentRun = errors.New("another pipeline run is in progress")

// Locker guards the screening pipeline so that at most one full run executes
// system-wide. A second concurrent run recomputing the same trade date's
// cache rows is a correctness hazard, not just wasted work.
type Locker interface {
	Acquire(ctx context.Context) (Lease, error)
}

// Lease releases a held lock. Release is safe to defer.
type Lease interface {
	Release(ctx context.Context) error
}

// AdvisoryLock implements Locker with a postgres session advisory lock. The
// lock lives and dies with one pinned connection, so a crashed process can
// never leave it held.
type AdvisoryLock struct {
	db  *gorm.DB
	key int64
}

func NewAdvisoryLock(db *gorm.DB, key int64) *AdvisoryLock {
	return &AdvisoryLock{db: db, key: key}
}

func (l *AdvisoryLock) Acquire(ctx context.Context) (Lease, error) {
	sqlDB, err := l.db.DB()
	if err != nil {
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	var got bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&got); err != nil {
		conn.Close()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	if !got {
		conn.Close()
		return nil, ErrConcurrentRun
	}
	return &pgLease{conn: conn, key: l.key}, nil
}

// NoopLocker hands out leases without locking anything. It is for runs that
// execute inside a scope where the pipeline lock is already held, such as
// per-rule screens inside an acquired daily pipeline.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context) (Lease, error) { return noopLease{}, nil }

type noopLease struct{}

func (noopLease) Release(context.Context) error { return nil }

type pgLease struct {
	conn *sql.Conn
	key  int64
}

func (le *pgLease) Release(ctx context.Context) error {
	_, err := le.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", le.key)
	closeErr := le.conn.Close()
	if err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return closeErr
}
