// Copyright 2025 Jinn Network
//
// Package database is the local worker-state ledger: claim leases and
// idle/processed-job counters, read by workerctl (SPEC_FULL.md DOMAIN
// STACK). The worker process writes claim leases only; the health endpoint
// and claim loop keep their counts in memory and do not increment these
// counters. Grounded on the teacher's
// pkg/database/client.go connection-pool construction and ClientOption
// pattern, repurposed from proof-artifact storage to claim-lease storage.
// Persistence is optional: an empty DatabaseURL in pkg/config disables it
// and callers fall back to in-memory state.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a connection-pooled *sql.DB.
type Client struct {
	db     *sql.DB
	logger *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithLogger(l *log.Logger) ClientOption { return func(c *Client) { c.logger = l } }

// NewClient opens databaseURL and verifies connectivity.
func NewClient(databaseURL string, opts ...ClientOption) (*Client, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}
	c := &Client{logger: log.New(log.Writer(), "[Database] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(c)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	c.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	c.logger.Printf("connected to database")
	return c, nil
}

// DB returns the underlying *sql.DB.
func (c *Client) DB() *sql.DB { return c.db }

// Close releases the connection pool.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Migrate applies every embedded migration in filename order, the same
// convention as the teacher's migrations/*.sql embed.
func (c *Client) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := c.db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// QueryRowContext proxies to the underlying pool, the shared accessor every
// repository in this package uses.
func (c *Client) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

func (c *Client) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

func (c *Client) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}
