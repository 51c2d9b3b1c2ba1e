package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DomainLocks hands out session-level advisory locks keyed by domain, so
// instances sharing one database never run two attempts for the same domain.
type DomainLocks struct {
	db *pgxpool.Pool
}

// NewDomainLocks creates a new DomainLocks.
func NewDomainLocks(db *pgxpool.Pool) *DomainLocks {
	return &DomainLocks{db: db}
}

// TryLock takes the lock for domain without waiting. When ok is true the
// caller must call unlock; the connection holding the lock is pinned until then.
func (l *DomainLocks) TryLock(ctx context.Context, domain string) (unlock func(), ok bool, err error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, domain).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	return func() {
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(uctx, `SELECT pg_advisory_unlock(hashtext($1))`, domain); err != nil {
			// Ending the session releases the lock; the pool discards closed connections.
			conn.Conn().Close(uctx) //nolint:errcheck
		}
		conn.Release()
	}, true, nil
}
