package llm

import (
	"context"
	"encoding/json"
	"strings"

	"plansql/internal/model"
)

// MockClient 离线规划桩：从提示词里截出 <INPUTS> 载荷，按关键词拼出确定性计划。
// 用于测试和无外部模型的演示环境。
type MockClient struct {
	ForceInvalid bool // 返回非 JSON 文本
	ForceSQL     bool // 配合 ForceInvalid，返回裸 SQL 文本
}

var _ Client = (*MockClient)(nil)

// GenerateJSON assembles a plan from the payload embedded in the prompt.
func (c *MockClient) GenerateJSON(_ context.Context, prompt string, _ map[string]any) (map[string]any, error) {
	if c.ForceInvalid {
		raw := "mock invalid output"
		if c.ForceSQL {
			raw = "SELECT * FROM t"
		}
		return nil, &NotJSONError{Raw: raw}
	}

	payload := extractPayload(prompt)
	question := strings.ToLower(stringValue(payload, "question"))
	evidence := mapValue(payload, "evidence")
	metrics := listOfMaps(evidence, "metric_candidates")
	schemaRows := listOfMaps(evidence, "schema_candidates")
	joinPaths := listOfMaps(evidence, "join_paths")

	metric := pickMetric(question, metrics)
	metricID := stringValue(metric, "metric_id")
	grain := stringValue(metric, "default_time_grain")
	if grain == "" {
		grain = model.GrainDay
	}
	intent := pickIntent(question)

	dims := []any{}
	if intent == model.IntentRank || (intent == model.IntentTrend && containsAny(question, "按", "各", "分")) {
		if dim := pickDimension(schemaRows); dim != nil {
			dims = append(dims, dim)
		}
	}

	tables := map[string]bool{}
	for _, rf := range stringList(metric, "required_fields") {
		if table, _, ok := strings.Cut(rf, "."); ok {
			tables[table] = true
		}
	}
	for _, d := range dims {
		if dm, ok := d.(map[string]any); ok {
			tables[stringValue(dm, "table")] = true
		}
	}
	joinPathID := model.JoinPathNone
	if len(tables) > 1 {
		joinPathID = pickJoinPath(joinPaths, tables)
	}

	tr := mapValue(payload, "time_range")
	start, end := stringValue(tr, "start"), stringValue(tr, "end")
	if start == "" || end == "" {
		start, end = "2024-01-01", "2024-01-31"
	}

	var sortSpec map[string]any
	limit := model.DefaultLimit
	output := map[string]any{"format": "table", "chart_suggest": "none"}
	switch intent {
	case model.IntentRank:
		sortSpec = map[string]any{"by": "metric", "order": "desc"}
		limit = 10
		output["chart_suggest"] = "bar"
	case model.IntentTrend:
		sortSpec = map[string]any{"by": "time_bucket", "order": "asc"}
		output["chart_suggest"] = "line"
	default:
		sortSpec = map[string]any{"by": "metric", "order": "desc"}
	}

	plan := map[string]any{
		"version":           model.PlanVersion,
		"intent":            intent,
		"metric_id":         metricID,
		"metric_params":     map[string]any{},
		"dimensions":        dims,
		"time_range":        map[string]any{"start": start, "end": end},
		"time_grain":        grain,
		"filters":           []any{},
		"join_path_id":      joinPathID,
		"sort":              sortSpec,
		"limit":             limit,
		"output":            output,
		"confidence":        0.6,
		"clarifications":    []any{},
		"errors_unresolved": []any{},
	}
	// 走一遍 JSON 编解码，让类型与真实模型输出一致
	return roundTripJSON(plan)
}

// GenerateText returns a canned line; the engine only routes answer prompts
// to real clients.
func (c *MockClient) GenerateText(context.Context, string) (string, error) {
	return "样例回答：该指标在所选时间范围内运行平稳。", nil
}

// extractPayload finds the JSON payload after the <INPUTS> or
// <INPUTS_TRIMMED> marker, falling back to the first object in the prompt.
func extractPayload(prompt string) map[string]any {
	for _, marker := range []string{"<INPUTS>", "<INPUTS_TRIMMED>"} {
		if idx := strings.Index(prompt, marker); idx != -1 {
			if span, ok := extractJSONObject(prompt[idx+len(marker):]); ok {
				if obj, ok := decodeJSONObject(span); ok {
					return obj
				}
			}
		}
	}
	if span, ok := extractJSONObject(prompt); ok {
		if obj, ok := decodeJSONObject(span); ok {
			return obj
		}
	}
	return map[string]any{}
}

// pickMetric 先按领域关键词对，再退回首个候选
func pickMetric(question string, metrics []map[string]any) map[string]any {
	families := []struct {
		cue  string
		name string
		id   string
	}{
		{"线损", "线损", "loss"},
		{"负荷", "负荷", "load"},
		{"停电", "停电", "outage"},
		{"跳闸", "跳闸", "trip"},
		{"账单", "账单", "bill"},
	}
	for _, fam := range families {
		if !strings.Contains(question, fam.cue) {
			continue
		}
		for _, m := range metrics {
			name := stringValue(m, "name")
			id := strings.ToLower(stringValue(m, "metric_id"))
			if strings.Contains(name, fam.name) || strings.Contains(id, fam.id) {
				return m
			}
		}
	}
	if len(metrics) > 0 {
		return metrics[0]
	}
	return nil
}

func pickIntent(question string) string {
	switch {
	case containsAny(question, "排名", "排行", "top", "前十", "前10"):
		return model.IntentRank
	case containsAny(question, "对比", "同比", "环比", "比较"):
		return model.IntentCompare
	case containsAny(question, "明细", "清单"):
		return model.IntentDetail
	case containsAny(question, "趋势", "走势", "变化", "每日", "每天", "按天", "按小时"):
		return model.IntentTrend
	default:
		return model.IntentAggregate
	}
}

// pickDimension prefers *_name columns and never picks a time column.
func pickDimension(schemaRows []map[string]any) map[string]any {
	var fallback map[string]any
	for _, row := range schemaRows {
		field := stringValue(row, "field")
		if model.IsTimeFieldName(field) || model.IsTimeDataType(stringValue(row, "data_type")) {
			continue
		}
		dim := map[string]any{"table": stringValue(row, "table"), "field": field}
		if strings.HasSuffix(field, "_name") {
			return dim
		}
		if fallback == nil {
			fallback = dim
		}
	}
	return fallback
}

// pickJoinPath returns the first path covering every table, else the first
// path, else NONE.
func pickJoinPath(joinPaths []map[string]any, tables map[string]bool) string {
	for _, p := range joinPaths {
		covered := true
		pathTables := map[string]bool{}
		for _, t := range anyStringList(p["tables"]) {
			pathTables[t] = true
		}
		for t := range tables {
			if !pathTables[t] {
				covered = false
				break
			}
		}
		if covered {
			return stringValue(p, "join_path_id")
		}
	}
	if len(joinPaths) > 0 {
		return stringValue(joinPaths[0], "join_path_id")
	}
	return model.JoinPathNone
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func mapValue(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func listOfMaps(m map[string]any, key string) []map[string]any {
	if m == nil {
		return nil
	}
	items, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if obj, ok := it.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func stringList(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	return anyStringList(m[key])
}

func anyStringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// roundTripJSON re-encodes the plan so numbers and nested values carry the
// same dynamic types a decoded model reply would.
func roundTripJSON(plan map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
