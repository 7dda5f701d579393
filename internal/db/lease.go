package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseKey is the advisory lock id held by the live worker.
const LeaseKey int64 = 0x656e636f7265

// AdvisoryLease holds a session advisory lock on a dedicated pooled
// connection. The lock lives as long as that connection does, so a lost
// connection is noticed on the next Acquire and the lock re-requested.
type AdvisoryLease struct {
	db  *pgxpool.Pool
	key int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

func NewAdvisoryLease(pool *pgxpool.Pool, key int64) *AdvisoryLease {
	return &AdvisoryLease{db: pool, key: key}
}

func (l *AdvisoryLease) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		l.conn.Release()
		l.conn = nil
	}

	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire lease connection: %w", err)
	}
	var held bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&held); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !held {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release unlocks and returns the connection to the pool.
func (l *AdvisoryLease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()
	_, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	return err
}
