package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteAdapter SQLite adapter（纯 Go 驱动，无须 cgo）
type SQLiteAdapter struct {
	db  *sql.DB
	cfg *Config
}

// NewSQLiteAdapter creates a SQLite adapter. Connect must be called before use.
func NewSQLiteAdapter(cfg *Config) *SQLiteAdapter {
	return &SQLiteAdapter{cfg: cfg}
}

// Connect opens the database file, ":memory:" for an in-memory database.
func (a *SQLiteAdapter) Connect(ctx context.Context) error {
	path := a.cfg.SQLitePath
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	a.db = db
	return nil
}

// Ping 探活
func (a *SQLiteAdapter) Ping(ctx context.Context) error {
	if a.db == nil {
		return fmt.Errorf("sqlite adapter not connected")
	}
	return a.db.PingContext(ctx)
}

// Close closes the database.
func (a *SQLiteAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Query executes a read query and collects the rows.
func (a *SQLiteAdapter) Query(ctx context.Context, query string) (*QueryResult, error) {
	if a.db == nil {
		return nil, fmt.Errorf("sqlite adapter not connected")
	}
	start := time.Now()
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows, start)
}

// DryRun 通过 EXPLAIN QUERY PLAN 验证语法，不取数
func (a *SQLiteAdapter) DryRun(ctx context.Context, sqlText string) error {
	_, err := a.Query(ctx, "EXPLAIN QUERY PLAN "+sqlText)
	return err
}

// DatabaseType gets database type.
func (a *SQLiteAdapter) DatabaseType() string {
	return "SQLite"
}

// Version gets database version.
func (a *SQLiteAdapter) Version(ctx context.Context) (string, error) {
	result, err := a.Query(ctx, "SELECT sqlite_version() as version")
	if err != nil {
		return "", err
	}
	if v, ok := firstString(result, "version"); ok {
		return v, nil
	}
	return "unknown", nil
}
