package execute

import (
	"context"
	"fmt"
	"strings"

	"plansql/internal/model"
)

// MockExecutor 不连库，按意图捏造形状正确的预览，供联调与回归
type MockExecutor struct{}

// NewMockExecutor returns an executor that fabricates previews.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// Execute honours the same cost guard as the real executor, then builds a
// small preview shaped by the plan intent: trend gets one row per range
// endpoint, rank gets two ordered rows, anything else a single value.
func (e *MockExecutor) Execute(_ context.Context, _ string, plan model.Plan, evidence model.EvidenceBundle) (*Result, error) {
	if issues := estimateCost(plan); len(issues) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(issues, "; "))
	}

	var columns []string
	if plan.Intent == model.IntentTrend {
		columns = append(columns, "time_bucket")
	}
	for _, dim := range plan.Dimensions {
		columns = append(columns, dim.Field)
	}
	columns = append(columns, plan.MetricID)

	sampleDims := func(row map[string]any) map[string]any {
		for _, dim := range plan.Dimensions {
			row[dim.Field] = "sample"
		}
		return row
	}

	var rows []map[string]any
	switch plan.Intent {
	case model.IntentTrend:
		first := sampleDims(map[string]any{"time_bucket": plan.TimeRange.Start})
		first[plan.MetricID] = 0.05
		second := sampleDims(map[string]any{"time_bucket": plan.TimeRange.End})
		second[plan.MetricID] = 0.06
		rows = []map[string]any{first, second}
	case model.IntentRank:
		top := sampleDims(map[string]any{})
		top[plan.MetricID] = 0.12
		next := sampleDims(map[string]any{})
		next[plan.MetricID] = 0.11
		rows = []map[string]any{top, next}
	default:
		only := sampleDims(map[string]any{})
		only[plan.MetricID] = 0.08
		rows = []map[string]any{only}
	}

	metric := findMetric(plan.MetricID, evidence)
	return &Result{
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
		Warnings: qualityWarnings(metric, columns, rows),
	}, nil
}
