package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PlanVersion is the only accepted Plan DSL version literal.
const PlanVersion = "1.0"

// Query intents.
const (
	IntentTrend     = "trend"
	IntentAggregate = "aggregate"
	IntentRank      = "rank"
	IntentCompare   = "compare"
	IntentDetail    = "detail"
)

// Time grains.
const (
	Grain15m   = "15m"
	GrainHour  = "hour"
	GrainDay   = "day"
	GrainWeek  = "week"
	GrainMonth = "month"
)

// Limit bounds applied by the compiler.
const (
	DefaultLimit = 200
	MaxLimit     = 10000
)

// JoinPathNone marks a single-table plan.
const JoinPathNone = "NONE"

// Dimension 分组维度列
type Dimension struct {
	Table string `json:"table"`
	Field string `json:"field"`
}

// Key returns the fully qualified table.field key.
func (d Dimension) Key() string {
	return d.Table + "." + d.Field
}

// Filter 过滤条件，op 限定在封闭集合内
type Filter struct {
	Table string `json:"table"`
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Key returns the fully qualified table.field key.
func (f Filter) Key() string {
	return f.Table + "." + f.Field
}

// SortSpec 排序说明；by 可取 metric、metric_id、time、time_bucket 或 table.field
type SortSpec struct {
	By    string `json:"by"`
	Order string `json:"order"`
}

// OutputSpec 输出形态建议
type OutputSpec struct {
	Format       string `json:"format"`
	ChartSuggest string `json:"chart_suggest"`
}

// TimeRange ISO 日期闭区间
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Plan is the typed form of the Plan DSL. While a plan is exchanged with the
// LLM or running through validation and repair it stays a free
// map[string]any; it is converted to Plan exactly once, after the final
// validation pass accepted it.
type Plan struct {
	Version          string         `json:"version"`
	Intent           string         `json:"intent"`
	MetricID         string         `json:"metric_id"`
	MetricParams     map[string]any `json:"metric_params,omitempty"`
	Dimensions       []Dimension    `json:"dimensions"`
	TimeRange        TimeRange      `json:"time_range"`
	TimeGrain        string         `json:"time_grain,omitempty"`
	Filters          []Filter       `json:"filters"`
	JoinPathID       string         `json:"join_path_id"`
	Sort             *SortSpec      `json:"sort,omitempty"`
	Limit            int            `json:"limit,omitempty"`
	Output           OutputSpec     `json:"output"`
	Confidence       float64        `json:"confidence"`
	Clarifications   []string       `json:"clarifications"`
	ErrorsUnresolved []string       `json:"errors_unresolved,omitempty"`
}

// EffectiveLimit returns the plan limit or the compiler default.
func (p Plan) EffectiveLimit() int {
	if p.Limit > 0 {
		return p.Limit
	}
	return DefaultLimit
}

// PlanFromMap freezes an accepted plan map into its typed form. Unknown
// fields are rejected, matching the published schema.
func PlanFromMap(m map[string]any) (Plan, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return Plan{}, fmt.Errorf("marshal plan: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var plan Plan
	if err := dec.Decode(&plan); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return plan, nil
}

// Map renders the typed plan back into its wire form.
func (p Plan) Map() map[string]any {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
