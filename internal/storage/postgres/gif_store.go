// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gif-crawler/internal/hash/sha256"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "gifs"

// GifStoreConfig controls the Postgres connection pool used for gif rows.
type GifStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Record is one stored gif.
type Record struct {
	Category string
	Src      string
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// GifStore writes gif rows into Postgres. Rows are keyed by a digest of
// category and src, so saving the same gif twice is a no-op.
type GifStore struct {
	pool   execCloser
	table  string
	hasher *sha256.Hasher
}

// NewGifStore creates a Postgres-backed GifStore using the provided config.
func NewGifStore(ctx context.Context, cfg GifStoreConfig) (*GifStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &GifStore{pool: pool, table: table, hasher: sha256.New()}, nil
}

// NewGifStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewGifStoreWithPool(pool execCloser, table string) (*GifStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &GifStore{pool: pool, table: name, hasher: sha256.New()}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *GifStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the gif table when it does not exist.
func (s *GifStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("gif store is not configured")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	src TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// RecordID returns the row key for rec.
func (s *GifStore) RecordID(rec Record) (string, error) {
	return s.hasher.HashFields(rec.Category, rec.Src)
}

// Save inserts rec and reports whether a new row was written.
func (s *GifStore) Save(ctx context.Context, rec Record) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("gif store is not configured")
	}
	if strings.TrimSpace(rec.Src) == "" {
		return false, fmt.Errorf("record src is required")
	}
	id, err := s.RecordID(rec)
	if err != nil {
		return false, fmt.Errorf("derive record id: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, category, src)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query, id, rec.Category, rec.Src)
	if err != nil {
		return false, fmt.Errorf("insert gif: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Count returns the number of stored gifs in category, or in total when
// category is empty.
func (s *GifStore) Count(ctx context.Context, category string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("gif store is not configured")
	}
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE $1 = '' OR category = $1`, s.table)
	var n int64
	if err := s.pool.QueryRow(ctx, query, category).Scan(&n); err != nil {
		return 0, fmt.Errorf("count gifs: %w", err)
	}
	return n, nil
}
