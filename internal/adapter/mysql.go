package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLAdapter MySQL adapter
type MySQLAdapter struct {
	db  *sql.DB
	cfg *Config
}

// NewMySQLAdapter creates a MySQL adapter. Connect must be called before use.
func NewMySQLAdapter(cfg *Config) *MySQLAdapter {
	return &MySQLAdapter{cfg: cfg}
}

// Connect opens the pool and verifies the server is reachable.
func (a *MySQLAdapter) Connect(ctx context.Context) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		a.cfg.User,
		a.cfg.Password,
		a.cfg.Host,
		a.cfg.Port,
		a.cfg.Database,
		a.dsnParams(),
	)

	db, err := sql.Open("mysql", dsn)
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

func (a *MySQLAdapter) dsnParams() string {
	params := url.Values{}
	params.Set("parseTime", "true")
	if a.cfg.Charset != "" {
		params.Set("charset", a.cfg.Charset)
	}
	if a.cfg.ConnectTimeout > 0 {
		params.Set("timeout", a.cfg.ConnectTimeout.String())
	}
	if a.cfg.ReadTimeout > 0 {
		params.Set("readTimeout", a.cfg.ReadTimeout.String())
	}
	return params.Encode()
}

// Ping 探活
func (a *MySQLAdapter) Ping(ctx context.Context) error {
	if a.db == nil {
		return fmt.Errorf("mysql adapter not connected")
	}
	return a.db.PingContext(ctx)
}

// Close closes the pool.
func (a *MySQLAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Query executes a read query and collects the rows.
func (a *MySQLAdapter) Query(ctx context.Context, query string) (*QueryResult, error) {
	if a.db == nil {
		return nil, fmt.Errorf("mysql adapter not connected")
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
func (a *MySQLAdapter) DryRun(ctx context.Context, sqlText string) error {
	_, err := a.Query(ctx, "EXPLAIN "+sqlText)
	return err
}

// DatabaseType gets database type.
func (a *MySQLAdapter) DatabaseType() string {
	return "MySQL"
}

// Version gets database version.
func (a *MySQLAdapter) Version(ctx context.Context) (string, error) {
	result, err := a.Query(ctx, "SELECT VERSION() as version")
	if err != nil {
		return "", err
	}
	if v, ok := firstString(result, "version"); ok {
		return v, nil
	}
	return "unknown", nil
}
