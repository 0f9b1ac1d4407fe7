// Package adapter 数据库适配器
// 轻量级设计：只负责连接、执行 SQL 和自省表结构，不做 ORM
package adapter

import (
	"context"
	"time"
)

// 支持的驱动名
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgresql"
	DriverSQLite   = "sqlite"
)

// DBAdapter 数据库适配器接口
type DBAdapter interface {
	// Connect 建立连接并验证可达
	Connect(ctx context.Context) error

	// Ping 探活
	Ping(ctx context.Context) error

	// Query 执行只读查询，返回统一的 QueryResult
	Query(ctx context.Context, sql string) (*QueryResult, error)

	// DryRun 只验证 SQL 能被数据库接受，不取数
	DryRun(ctx context.Context, sql string) error

	// Introspect 读取表结构与外键，供知识库生成使用
	Introspect(ctx context.Context) (*Catalog, error)

	// DatabaseType 数据库类型标识，如 "MySQL"
	DatabaseType() string

	// Version 数据库版本号
	Version(ctx context.Context) (string, error)

	// Close 关闭连接
	Close() error
}

// QueryResult 查询结果（统一结构）
type QueryResult struct {
	Columns   []string         // 列名，按 SELECT 顺序
	Rows      []map[string]any // 数据行，[]byte 已转 string
	RowCount  int              // 行数
	ElapsedMS int64            // 执行耗时（毫秒）
}

// Column 自省得到的一列
type Column struct {
	Table      string
	Name       string
	DataType   string
	Comment    string
	PrimaryKey bool
}

// ForeignKey 自省得到的一条外键
type ForeignKey struct {
	Table    string
	Field    string
	RefTable string
	RefField string
}

// Catalog 一次自省的完整结果
type Catalog struct {
	Columns     []Column
	ForeignKeys []ForeignKey
}

// Config 连接配置（通用）
type Config struct {
	Driver   string // mysql / postgresql / sqlite
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Charset  string // MySQL only

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// PostgreSQL：整串 DSN 优先于上面的独立字段
	PostgresDSN string
	// SQLite：数据库文件路径，":memory:" 表示内存库
	SQLitePath string

	// 连接池（零值走驱动默认）
	MaxOpenConns int
	MaxIdleConns int
}

// NewAdapter 工厂函数：根据驱动名创建对应的适配器
func NewAdapter(cfg *Config) (DBAdapter, error) {
	switch cfg.Driver {
	case DriverMySQL:
		return NewMySQLAdapter(cfg), nil
	case DriverPostgres, "postgres":
		return NewPostgresAdapter(cfg), nil
	case DriverSQLite:
		return NewSQLiteAdapter(cfg), nil
	default:
		return nil, &UnsupportedDatabaseError{Driver: cfg.Driver}
	}
}

// UnsupportedDatabaseError 不支持的数据库驱动
type UnsupportedDatabaseError struct {
	Driver string
}

func (e *UnsupportedDatabaseError) Error() string {
	return "unsupported database driver: " + e.Driver
}
