// Package execute 执行已编译的 SQL 并产出预览
// 真库与 mock 两套执行器共用同一成本守卫和质量检查
package execute

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"plansql/internal/adapter"
	"plansql/internal/model"
)

// defaultPreviewRows caps the preview when the caller does not set one.
const defaultPreviewRows = 20

// Result 一次执行的预览结果
type Result struct {
	Columns   []string
	Rows      []map[string]any
	RowCount  int  // 截断前的行数
	Truncated bool // 预览被截断
	Warnings  []string
	ElapsedMS int64
}

// Executor runs a compiled statement and returns its preview. The plan is
// passed alongside the SQL so cost estimation and mock previews can see the
// declared intent, and the evidence resolves the metric definition for
// quality checks.
type Executor interface {
	Execute(ctx context.Context, sqlText string, plan model.Plan, evidence model.EvidenceBundle) (*Result, error)
}

// estimateCost rejects plans that would be unreasonably expensive before any
// connection is opened.
func estimateCost(plan model.Plan) []string {
	var issues []string
	if plan.TimeRange.Start == "" || plan.TimeRange.End == "" {
		issues = append(issues, "missing time_range, query rejected")
	}
	if plan.Limit > model.MaxLimit {
		issues = append(issues, "limit too large, query rejected")
	}
	return issues
}

// findMetric 从证据包里找指标口径；找不到时给占位口径，质量检查降级为空单位
func findMetric(metricID string, evidence model.EvidenceBundle) model.MetricDef {
	if m, ok := evidence.MetricByID(metricID); ok {
		return m
	}
	return model.MetricDef{
		MetricID:         metricID,
		Name:             metricID,
		DefaultTimeGrain: model.GrainDay,
	}
}

// DBExecutor 把 SQL 交给数据库适配器执行
type DBExecutor struct {
	adapter     adapter.DBAdapter
	previewRows int
	dryRun      bool
	log         *zap.Logger
}

// Options 执行器配置
type Options struct {
	PreviewRows int  // 预览行数上限，<=0 取 20
	DryRun      bool // 只做 EXPLAIN 校验，不取数
	Logger      *zap.Logger
}

// NewDBExecutor wraps a connected adapter.
func NewDBExecutor(a adapter.DBAdapter, opts Options) *DBExecutor {
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = defaultPreviewRows
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &DBExecutor{
		adapter:     a,
		previewRows: opts.PreviewRows,
		dryRun:      opts.DryRun,
		log:         opts.Logger,
	}
}

// Execute applies the cost guard, then either dry-runs or runs the SQL and
// truncates the rows to the preview window.
func (e *DBExecutor) Execute(ctx context.Context, sqlText string, plan model.Plan, evidence model.EvidenceBundle) (*Result, error) {
	if issues := estimateCost(plan); len(issues) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(issues, "; "))
	}

	if e.dryRun {
		if err := e.adapter.DryRun(ctx, sqlText); err != nil {
			return nil, fmt.Errorf("dry run failed: %w", err)
		}
		return &Result{
			Warnings: []string{"dry-run 模式：SQL 仅做语法校验，未执行。"},
		}, nil
	}

	res, err := e.adapter.Query(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("execute sql: %w", err)
	}

	rows := res.Rows
	truncated := false
	if len(rows) > e.previewRows {
		rows = rows[:e.previewRows]
		truncated = true
	}

	metric := findMetric(plan.MetricID, evidence)
	out := &Result{
		Columns:   res.Columns,
		Rows:      rows,
		RowCount:  res.RowCount,
		Truncated: truncated,
		Warnings:  qualityWarnings(metric, res.Columns, rows),
		ElapsedMS: res.ElapsedMS,
	}
	e.log.Debug("sql executed",
		zap.Int("row_count", res.RowCount),
		zap.Bool("truncated", truncated),
		zap.Int64("elapsed_ms", res.ElapsedMS))
	return out, nil
}
