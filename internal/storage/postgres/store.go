// Package postgres provides Postgres-backed document and progress stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kruyneg/information-retrieval/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultDocumentsTable = "documents"
	defaultProgressTable  = "crawl_progress"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	DocumentsTable  string
	ProgressTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store persists documents and resume cursors in Postgres.
type Store struct {
	pool      dbPool
	docsTable string
	progTable string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
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
	store, err := NewWithPool(pool, cfg.DocumentsTable, cfg.ProgressTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool, docsTable, progressTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if docsTable == "" {
		docsTable = defaultDocumentsTable
	}
	if progressTable == "" {
		progressTable = defaultProgressTable
	}
	for _, table := range []string{docsTable, progressTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{pool: pool, docsTable: docsTable, progTable: progressTable}, nil
}

// EnsureSchema creates the document and progress tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	docs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url        TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL,
	host       TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
)`, s.docsTable)
	if _, err := s.pool.Exec(ctx, docs); err != nil {
		return fmt.Errorf("create %s: %w", s.docsTable, err)
	}
	progress := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	host       TEXT PRIMARY KEY,
	last_url   TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.progTable)
	if _, err := s.pool.Exec(ctx, progress); err != nil {
		return fmt.Errorf("create %s: %w", s.progTable, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// UpsertDocument inserts doc or overwrites the row with the same URL.
func (s *Store) UpsertDocument(ctx context.Context, doc crawler.Document) error {
	if doc.URL == "" {
		return fmt.Errorf("document url is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, kind, title, text, host, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (url) DO UPDATE SET
	kind = EXCLUDED.kind,
	title = EXCLUDED.title,
	text = EXCLUDED.text,
	host = EXCLUDED.host,
	fetched_at = EXCLUDED.fetched_at`, s.docsTable)

	args := []any{
		doc.URL,
		string(doc.Kind),
		doc.Title,
		doc.Text,
		doc.Host,
		doc.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// LastURL returns the resume cursor for host.
func (s *Store) LastURL(ctx context.Context, host string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT last_url FROM %s WHERE host = $1`, s.progTable)
	var lastURL string
	err := s.pool.QueryRow(ctx, query, host).Scan(&lastURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select progress: %w", err)
	}
	return lastURL, true, nil
}

// SetLastURL overwrites the resume cursor for host.
func (s *Store) SetLastURL(ctx context.Context, host, url string) error {
	query := fmt.Sprintf(`
INSERT INTO %s (host, last_url, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (host) DO UPDATE SET
	last_url = EXCLUDED.last_url,
	updated_at = EXCLUDED.updated_at`, s.progTable)
	if _, err := s.pool.Exec(ctx, query, host, url); err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}
