package challenge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vitwit/a402/storage"
	"github.com/vitwit/a402/types"
)

// SQLStore keeps issued challenges in SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect storage.Dialect
}

func NewSQLStore(db *sql.DB, dialect storage.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates the challenges table.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS issued_challenges (
		nonce TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		expiry BIGINT
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating issued_challenges: %w", err)
	}
	return nil
}

func (s *SQLStore) Put(ctx context.Context, c *types.Challenge) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding challenge: %w", err)
	}

	var expiry sql.NullInt64
	if c.Expiry != nil {
		expiry = sql.NullInt64{Int64: *c.Expiry, Valid: true}
	}

	query := s.dialect.Rebind("INSERT INTO issued_challenges (nonce, body, expiry) VALUES (?, ?, ?) ON CONFLICT (nonce) DO NOTHING")
	res, err := s.db.ExecContext(ctx, query, c.Nonce, string(body), expiry)
	if err != nil {
		return fmt.Errorf("storing challenge: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storing challenge: %w", err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, nonce string) (*types.Challenge, error) {
	var body string

	query := s.dialect.Rebind("SELECT body FROM issued_challenges WHERE nonce = ?")
	err := s.db.QueryRowContext(ctx, query, nonce).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading challenge: %w", err)
	}

	var c types.Challenge
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, fmt.Errorf("decoding challenge: %w", err)
	}
	return &c, nil
}
