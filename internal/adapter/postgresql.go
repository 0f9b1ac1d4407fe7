package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresAdapter PostgreSQL adapter
type PostgresAdapter struct {
	db  *sql.DB
	cfg *Config
}

// NewPostgresAdapter creates a PostgreSQL adapter. Connect must be called before use.
func NewPostgresAdapter(cfg *Config) *PostgresAdapter {
	return &PostgresAdapter{cfg: cfg}
}

// Connect opens the pool and verifies the server is reachable.
// A full DSN in cfg.PostgresDSN wins over the individual fields.
func (a *PostgresAdapter) Connect(ctx context.Context) error {
	dsn := a.cfg.PostgresDSN
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			a.cfg.Host,
			a.cfg.Port,
			a.cfg.User,
			a.cfg.Password,
			a.cfg.Database,
		)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if a.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(a.cfg.MaxOpenConns)
	}
	if a.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(a.cfg.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	a.db = db
	return nil
}

// Ping 探活
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	if a.db == nil {
		return fmt.Errorf("postgres adapter not connected")
	}
	return a.db.PingContext(ctx)
}

// Close closes the pool.
func (a *PostgresAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Query executes a read query and collects the rows.
func (a *PostgresAdapter) Query(ctx context.Context, query string) (*QueryResult, error) {
	if a.db == nil {
		return nil, fmt.Errorf("postgres adapter not connected")
	}
	start := time.Now()
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows, start)
}

// DryRun 通过 EXPLAIN 验证语法，不取数
func (a *PostgresAdapter) DryRun(ctx context.Context, sqlText string) error {
	_, err := a.Query(ctx, "EXPLAIN "+sqlText)
	return err
}

// DatabaseType gets database type.
func (a *PostgresAdapter) DatabaseType() string {
	return "PostgreSQL"
}

// Version gets database version.
func (a *PostgresAdapter) Version(ctx context.Context) (string, error) {
	result, err := a.Query(ctx, "SELECT version() as version")
	if err != nil {
		return "", err
	}
	if v, ok := firstString(result, "version"); ok {
		return v, nil
	}
	return "unknown", nil
}
