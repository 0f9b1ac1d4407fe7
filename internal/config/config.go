// Package config 加载 .env 与 TEXT2SQL_ 前缀环境变量
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// envPrefix 所有环境变量统一前缀
const envPrefix = "TEXT2SQL_"

// LLM 运行模式
const (
	LLMModeMock  = "mock"
	LLMModeNoLLM = "no_llm"
	LLMModeReal  = "real"
)

// Config holds every runtime setting. Values come from the environment
// (TEXT2SQL_ prefix), optionally seeded from a .env file.
type Config struct {
	// LLM
	LLMMode       string
	ModelName     string
	APIKey        string
	BaseURL       string
	LLMTimeout    time.Duration
	LLMMaxRetries int
	ForceJSON     bool
	ExtractJSON   bool

	// Planner
	TrimTopK               int
	RetryOnTimeout         bool
	BackfillEmptyRetrieval bool
	FixedMetricID          string
	RAGTopK                int
	RAGTopKSecond          int

	// Execution
	UseMockDB   bool
	DryRun      bool
	PreviewRows int

	// Database
	DBDriver            string
	MySQLHost           string
	MySQLPort           int
	MySQLUser           string
	MySQLPassword       string
	MySQLDatabase       string
	MySQLCharset        string
	MySQLConnectTimeout time.Duration
	MySQLReadTimeout    time.Duration
	PostgresDSN         string
	SQLitePath          string

	// Knowledge bases
	SchemaKBPath   string
	JoinKBPath     string
	MetricKBPath   string
	TemplateKBPath string

	// Misc
	AuditLogPath string
	LogLevel     string
}

// Load reads optional .env files (missing files are ignored) and builds the
// configuration from the environment. Later files do not override variables
// already set, matching godotenv semantics.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	// 默认尝试当前目录下的 .env
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	}

	cfg := &Config{
		LLMMode:       getEnv("LLM_MODE", LLMModeMock),
		ModelName:     getEnv("MODEL_NAME", ""),
		APIKey:        getEnv("API_KEY", ""),
		BaseURL:       getEnv("BASE_URL", ""),
		LLMTimeout:    getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		LLMMaxRetries: getEnvInt("LLM_MAX_RETRIES", 2),
		ForceJSON:     getEnvBool("LLM_FORCE_JSON", true),
		ExtractJSON:   getEnvBool("LLM_EXTRACT_JSON", true),

		TrimTopK:               getEnvInt("LLM_PLAN_TRIM_TOP_K", 2),
		RetryOnTimeout:         getEnvBool("LLM_PLAN_RETRY_ON_TIMEOUT", true),
		BackfillEmptyRetrieval: getEnvBool("BACKFILL_EMPTY_RETRIEVAL", false),
		FixedMetricID:          getEnv("FIXED_METRIC_ID", ""),
		RAGTopK:                getEnvInt("RAG_TOP_K", 5),
		RAGTopKSecond:          getEnvInt("RAG_TOP_K_SECOND", 8),

		UseMockDB:   getEnvBool("USE_MOCK_DB", true),
		DryRun:      getEnvBool("DRY_RUN", false),
		PreviewRows: getEnvInt("PREVIEW_ROWS", 20),

		DBDriver:            getEnv("DB_DRIVER", "mysql"),
		MySQLHost:           getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:           getEnvInt("MYSQL_PORT", 3306),
		MySQLUser:           getEnv("MYSQL_USER", "root"),
		MySQLPassword:       getEnv("MYSQL_PASSWORD", "root"),
		MySQLDatabase:       getEnv("MYSQL_DB", "power"),
		MySQLCharset:        getEnv("MYSQL_CHARSET", "utf8mb4"),
		MySQLConnectTimeout: getEnvDuration("MYSQL_CONNECT_TIMEOUT", 5*time.Second),
		MySQLReadTimeout:    getEnvDuration("MYSQL_READ_TIMEOUT", 30*time.Second),
		PostgresDSN:         getEnv("POSTGRES_DSN", ""),
		SQLitePath:          getEnv("SQLITE_PATH", ""),

		SchemaKBPath:   getEnv("SCHEMA_KB_PATH", "data/schema_kb.json"),
		JoinKBPath:     getEnv("JOIN_KB_PATH", "data/join_kb.json"),
		MetricKBPath:   getEnv("METRIC_KB_PATH", "data/metric_kb.json"),
		TemplateKBPath: getEnv("TEMPLATE_KB_PATH", "data/template_kb.json"),

		AuditLogPath: getEnv("AUDIT_LOG_PATH", "data/audit_logs.jsonl"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLMMode {
	case LLMModeMock, LLMModeNoLLM, LLMModeReal:
	default:
		return fmt.Errorf("invalid %sLLM_MODE %q (want mock, no_llm or real)", envPrefix, c.LLMMode)
	}
	if c.LLMMode == LLMModeReal && c.APIKey == "" {
		return fmt.Errorf("%sAPI_KEY required when LLM_MODE=real", envPrefix)
	}
	if c.RAGTopK <= 0 || c.RAGTopKSecond <= 0 {
		return fmt.Errorf("RAG top-k values must be positive (got %d / %d)", c.RAGTopK, c.RAGTopKSecond)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		s := strings.TrimSpace(v)
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
		// 纯数字按秒解释，兼容旧配置
		if n, err := strconv.Atoi(s); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
