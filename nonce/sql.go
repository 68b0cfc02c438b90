package nonce

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vitwit/a402/storage"
	"github.com/vitwit/a402/types"
)

// SQLLedger stores consumed nonces in SQLite or Postgres. Atomicity comes
// from the primary key: the insert either creates the row or does nothing.
type SQLLedger struct {
	db      *sql.DB
	dialect storage.Dialect
	opts    options
	closed  atomic.Bool
}

// NewSQLLedger wraps an open database. Call Migrate before first use.
func NewSQLLedger(db *sql.DB, dialect storage.Dialect, opts ...Option) *SQLLedger {
	return &SQLLedger{db: db, dialect: dialect, opts: buildOptions(opts)}
}

// NewSQLiteLedger opens a SQLite file and creates the schema.
func NewSQLiteLedger(ctx context.Context, path string, opts ...Option) (*SQLLedger, error) {
	db, err := storage.OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	l := NewSQLLedger(db, storage.DialectSQLite, opts...)
	if err := l.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// NewPostgresLedger connects to Postgres and creates the schema.
func NewPostgresLedger(ctx context.Context, url string, opts ...Option) (*SQLLedger, error) {
	db, err := storage.OpenPostgres(ctx, url)
	if err != nil {
		return nil, err
	}

	l := NewSQLLedger(db, storage.DialectPostgres, opts...)
	if err := l.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Migrate creates the nonce table. Times are Unix milliseconds.
func (l *SQLLedger) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS consumed_nonces (
		nonce TEXT PRIMARY KEY,
		consumed_at BIGINT NOT NULL,
		expiry BIGINT
	)`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating consumed_nonces: %w", err)
	}

	index := `CREATE INDEX IF NOT EXISTS idx_consumed_nonces_expiry ON consumed_nonces (expiry)`
	if _, err := l.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("creating expiry index: %w", err)
	}
	return nil
}

func (l *SQLLedger) Peek(ctx context.Context, nonce string) (*types.NonceRecord, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	var (
		consumedAt int64
		expiry     sql.NullInt64
	)

	query := l.dialect.Rebind("SELECT consumed_at, expiry FROM consumed_nonces WHERE nonce = ?")
	err := l.db.QueryRowContext(ctx, query, nonce).Scan(&consumedAt, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading nonce: %w", err)
	}

	rec := &types.NonceRecord{Nonce: nonce, ConsumedAt: time.UnixMilli(consumedAt)}
	if expiry.Valid {
		e := time.UnixMilli(expiry.Int64)
		rec.Expiry = &e
	}
	return rec, nil
}

func (l *SQLLedger) TryConsume(ctx context.Context, nonce string, expiry *time.Time) (types.ConsumeOutcome, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}

	now := l.opts.now()
	if expired(expiry, now) {
		return types.ConsumeExpired, nil
	}

	var exp sql.NullInt64
	if expiry != nil {
		exp = sql.NullInt64{Int64: expiry.UnixMilli(), Valid: true}
	}

	query := l.dialect.Rebind(
		"INSERT INTO consumed_nonces (nonce, consumed_at, expiry) VALUES (?, ?, ?) ON CONFLICT (nonce) DO NOTHING")
	res, err := l.db.ExecContext(ctx, query, nonce, now.UnixMilli(), exp)
	if err != nil {
		return 0, fmt.Errorf("consuming nonce: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("consuming nonce: %w", err)
	}

	if n == 0 {
		return types.ConsumeAlreadyConsumed, nil
	}
	return types.ConsumeAccepted, nil
}

// Prune deletes records whose expiry plus grace lies before now.
func (l *SQLLedger) Prune(ctx context.Context, now time.Time) (int64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}

	cutoff := now.Add(-l.opts.grace).UnixMilli()
	query := l.dialect.Rebind("DELETE FROM consumed_nonces WHERE expiry IS NOT NULL AND expiry < ?")

	res, err := l.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning nonces: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning nonces: %w", err)
	}

	if n > 0 {
		l.opts.logger.Debug("pruned nonces", map[string]any{"count": n, "dialect": l.dialect.String()})
	}
	return n, nil
}

// DB exposes the underlying handle so a challenge store can share it.
func (l *SQLLedger) DB() *sql.DB {
	return l.db
}

func (l *SQLLedger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.db.Close()
}
