// Package audit 请求级审计日志，JSONL 追加写
// 成功失败各记一条；写盘失败只告警，不影响请求
package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Record 一条审计记录，字段名即落盘 JSON 键
type Record struct {
	AuditLogID       string         `json:"audit_log_id"`
	Timestamp        string         `json:"timestamp"`
	Question         string         `json:"question"`
	UserContext      map[string]any `json:"user_context"`
	EvidenceSummary  string         `json:"evidence_summary"`
	PlanInitial      map[string]any `json:"plan_initial"`
	PlanFinal        map[string]any `json:"plan_final"`
	ValidationErrors []string       `json:"validation_errors"`
	SQL              string         `json:"sql"`
	ElapsedMS        int64          `json:"elapsed_ms"`
	Error            string         `json:"error"`
}

// Logger 追加 JSONL 审计记录，互斥锁保证行不交错
type Logger struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
}

// NewLogger ensures the parent directory exists and returns the logger.
func NewLogger(path string, log *zap.Logger) (*Logger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Logger{path: path, log: log}, nil
}

// NewID issues the request-scoped audit id.
func NewID() string {
	return uuid.NewString()
}

// Write stamps and appends one record. Failures are logged and swallowed so
// auditing can never sink the request it describes.
func (l *Logger) Write(rec Record) {
	if rec.AuditLogID == "" {
		rec.AuditLogID = NewID()
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if rec.ValidationErrors == nil {
		rec.ValidationErrors = []string{}
	}

	line, err := encodeLine(rec)
	if err != nil {
		l.log.Warn("audit record not encodable", zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.log.Warn("audit log open failed", zap.String("path", l.path), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		l.log.Warn("audit log write failed", zap.String("path", l.path), zap.Error(err))
	}
}

// encodeLine 一行一条记录，中文不转义
func encodeLine(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
