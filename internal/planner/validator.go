package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"plansql/internal/model"
)

// maxFieldSuggestions 字段类错误最多给出的候选数
const maxFieldSuggestions = 5

// Validate runs the structural layer and, only when it passes, the semantic
// layer. Semantic errors accumulate: one pass reports everything wrong with
// the plan against this evidence bundle.
func (v *Validator) Validate(plan map[string]any, evidence model.EvidenceBundle) []model.ValidationError {
	if plan == nil {
		return []model.ValidationError{notJSONError()}
	}
	if errs := v.ValidateSchema(plan); len(errs) > 0 {
		return errs
	}
	return validateSemantics(plan, evidence)
}

func validateSemantics(plan map[string]any, evidence model.EvidenceBundle) []model.ValidationError {
	var errs []model.ValidationError

	fieldSet := evidence.SchemaFieldSet()

	// 指标必须来自证据
	metricID := stringField(plan, "metric_id")
	metric, metricKnown := evidence.MetricByID(metricID)
	if !metricKnown {
		errs = append(errs, model.ValidationError{
			Code:        model.CodeMetricNotFound,
			Message:     fmt.Sprintf("metric_id %q is not in the evidence bundle", metricID),
			FieldPath:   "metric_id",
			Suggestions: sortedStrings(evidence.MetricIDs()),
		})
	}

	// 维度、过滤字段必须在证据 schema 里
	for i, dim := range planDimensions(plan) {
		if !fieldSet[dim.Key()] {
			errs = append(errs, model.ValidationError{
				Code:        model.CodeDimensionFieldInvalid,
				Message:     fmt.Sprintf("dimension %q is not in the evidence schema", dim.Key()),
				FieldPath:   fmt.Sprintf("dimensions[%d]", i),
				Suggestions: fieldSuggestions(fieldSet),
			})
		}
	}
	for i, f := range planFilters(plan) {
		if !fieldSet[f.Key()] {
			errs = append(errs, model.ValidationError{
				Code:        model.CodeFilterFieldInvalid,
				Message:     fmt.Sprintf("filter field %q is not in the evidence schema", f.Key()),
				FieldPath:   fmt.Sprintf("filters[%d]", i),
				Suggestions: fieldSuggestions(fieldSet),
			})
		}
	}

	// 连接路径必须覆盖所有被引用的表
	tables := referencedTables(plan, metric, metricKnown, evidence)
	joinPathID := stringField(plan, "join_path_id")
	switch {
	case joinPathID == "" || joinPathID == model.JoinPathNone:
		if len(tables) > 1 {
			errs = append(errs, model.ValidationError{
				Code:        model.CodeJoinRequired,
				Message:     fmt.Sprintf("plan touches tables %s but join_path_id is NONE", joinTableList(tables)),
				FieldPath:   "join_path_id",
				Suggestions: joinSuggestions(evidence, tables),
			})
		}
	default:
		path, ok := evidence.JoinPathByID(joinPathID)
		if !ok {
			errs = append(errs, model.ValidationError{
				Code:        model.CodeJoinPathNotFound,
				Message:     fmt.Sprintf("join_path_id %q is not in the evidence bundle", joinPathID),
				FieldPath:   "join_path_id",
				Suggestions: sortedJoinPathIDs(evidence),
			})
		} else if !path.Covers(tables) {
			errs = append(errs, model.ValidationError{
				Code:        model.CodeJoinPathUnreachable,
				Message:     fmt.Sprintf("join path %q does not cover tables %s", joinPathID, joinTableList(tables)),
				FieldPath:   "join_path_id",
				Suggestions: joinSuggestions(evidence, tables),
			})
		}
	}

	// 时间范围
	tr := mapField(plan, "time_range")
	start, end := stringField(tr, "start"), stringField(tr, "end")
	switch {
	case start == "" || end == "":
		errs = append(errs, model.ValidationError{
			Code:      model.CodeTimeRangeMissing,
			Message:   "time_range needs both start and end",
			FieldPath: "time_range",
		})
	default:
		startDay, errStart := time.Parse("2006-01-02", start)
		endDay, errEnd := time.Parse("2006-01-02", end)
		if errStart != nil || errEnd != nil {
			errs = append(errs, model.ValidationError{
				Code:      model.CodeTimeRangeInvalid,
				Message:   "time_range dates must be YYYY-MM-DD",
				FieldPath: "time_range",
			})
		} else if startDay.After(endDay) {
			errs = append(errs, model.ValidationError{
				Code:      model.CodeTimeRangeInvalid,
				Message:   fmt.Sprintf("time_range start %s is after end %s", start, end),
				FieldPath: "time_range",
			})
		}
	}

	// 趋势必须有粒度
	intent := stringField(plan, "intent")
	grain := stringField(plan, "time_grain")
	if intent == model.IntentTrend && grain == "" {
		suggestion := model.GrainDay
		if metricKnown && metric.DefaultTimeGrain != "" {
			suggestion = metric.DefaultTimeGrain
		}
		errs = append(errs, model.ValidationError{
			Code:        model.CodeTimeGrainRequired,
			Message:     "trend plans need a time_grain",
			FieldPath:   "time_grain",
			Suggestions: []string{suggestion},
		})
	}

	// 证据里必须有可用的时间字段
	if !hasTimeField(evidence, metric, metricKnown) {
		errs = append(errs, model.ValidationError{
			Code:      model.CodeTimeFieldMissing,
			Message:   "no time-typed field in evidence schema or metric required fields",
			FieldPath: "time_range",
		})
	}

	// 模板约束：函数、聚合、必备子句
	for _, rule := range evidence.TemplateRules {
		if rule.Intent != intent {
			continue
		}
		if intent == model.IntentTrend && grain != "" {
			for _, fn := range requiredFuncsForGrain(grain) {
				if !containsFold(rule.AllowedFuncs, fn) {
					errs = append(errs, model.ValidationError{
						Code:        model.CodeFunctionNotAllowed,
						Message:     fmt.Sprintf("grain %q needs function %q, not allowed by template %s", grain, fn, rule.TemplateID),
						FieldPath:   "time_grain",
						Suggestions: rule.AllowedFuncs,
					})
				}
			}
		}
		if metricKnown && !containsFold(rule.AllowedAggs, "sum") {
			errs = append(errs, model.ValidationError{
				Code:        model.CodeAggNotAllowed,
				Message:     fmt.Sprintf("metric %q needs aggregate sum, not allowed by template %s", metricID, rule.TemplateID),
				FieldPath:   "metric_id",
				Suggestions: rule.AllowedAggs,
			})
		}
		for _, clause := range rule.RequiredClauses {
			if clauseSatisfied(plan, clause, intent, grain, start, end) {
				continue
			}
			errs = append(errs, model.ValidationError{
				Code:        model.CodeRequiredClauseMissing,
				Message:     fmt.Sprintf("template %s requires clause %q", rule.TemplateID, clause),
				FieldPath:   clauseFieldPath(clause),
				Suggestions: clauseSuggestion(clause),
			})
		}
	}

	return errs
}

// requiredFuncsForGrain maps a grain to the SQL functions its bucket
// expression uses.
func requiredFuncsForGrain(grain string) []string {
	switch grain {
	case model.Grain15m:
		return []string{"from_unixtime", "unix_timestamp"}
	case model.GrainHour, model.GrainDay, model.GrainMonth:
		return []string{"date_format"}
	case model.GrainWeek:
		return []string{"yearweek"}
	default:
		return nil
	}
}

// referencedTables collects every table the plan touches: dimensions,
// filters, metric required fields and the chosen time table.
func referencedTables(plan map[string]any, metric model.MetricDef, metricKnown bool, evidence model.EvidenceBundle) map[string]bool {
	tables := map[string]bool{}
	for _, dim := range planDimensions(plan) {
		if dim.Table != "" {
			tables[dim.Table] = true
		}
	}
	for _, f := range planFilters(plan) {
		if f.Table != "" {
			tables[f.Table] = true
		}
	}
	if metricKnown {
		for _, t := range metric.RequiredTables() {
			tables[t] = true
		}
	}
	if t := chooseTimeTable(evidence, metric, metricKnown); t != "" {
		tables[t] = true
	}
	return tables
}

// chooseTimeTable scans evidence schema rows for a time-typed field,
// preferring rows from the metric's own tables so single-table plans stay
// single-table.
func chooseTimeTable(evidence model.EvidenceBundle, metric model.MetricDef, metricKnown bool) string {
	metricTables := map[string]bool{}
	if metricKnown {
		for _, t := range metric.RequiredTables() {
			metricTables[t] = true
		}
	}
	first := ""
	for _, row := range evidence.SchemaCandidates {
		if !row.IsTimeLike() {
			continue
		}
		if metricTables[row.Table] {
			return row.Table
		}
		if first == "" {
			first = row.Table
		}
	}
	return first
}

func hasTimeField(evidence model.EvidenceBundle, metric model.MetricDef, metricKnown bool) bool {
	for _, row := range evidence.SchemaCandidates {
		if row.IsTimeLike() {
			return true
		}
	}
	if metricKnown {
		for _, rf := range metric.RequiredFields {
			if _, field, ok := strings.Cut(rf, "."); ok && model.IsTimeFieldName(field) {
				return true
			}
		}
	}
	return false
}

func clauseSatisfied(plan map[string]any, clause, intent, grain, start, end string) bool {
	switch clause {
	case "time_range":
		return start != "" && end != ""
	case "time_grain":
		return grain != ""
	case "group_by_time":
		return intent == model.IntentTrend && grain != ""
	case "order_by":
		s := mapField(plan, "sort")
		return stringField(s, "by") != ""
	case "limit":
		return numberField(plan, "limit") > 0
	default:
		return true
	}
}

func clauseFieldPath(clause string) string {
	switch clause {
	case "order_by":
		return "sort"
	case "group_by_time":
		return "time_grain"
	default:
		return clause
	}
}

func clauseSuggestion(clause string) []string {
	switch clause {
	case "time_grain":
		return []string{model.GrainDay}
	case "group_by_time":
		return []string{"time_bucket"}
	case "order_by":
		return []string{"metric desc"}
	case "limit":
		return []string{"10"}
	default:
		return nil
	}
}

func joinSuggestions(evidence model.EvidenceBundle, tables map[string]bool) []string {
	var covering []string
	for _, p := range evidence.JoinPaths {
		if p.Covers(tables) {
			covering = append(covering, p.JoinPathID)
		}
	}
	if len(covering) > 0 {
		return covering
	}
	return sortedJoinPathIDs(evidence)
}

func sortedJoinPathIDs(evidence model.EvidenceBundle) []string {
	ids := make([]string, 0, len(evidence.JoinPaths))
	for _, p := range evidence.JoinPaths {
		ids = append(ids, p.JoinPathID)
	}
	sort.Strings(ids)
	return ids
}

func fieldSuggestions(fieldSet map[string]bool) []string {
	fields := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	if len(fields) > maxFieldSuggestions {
		fields = fields[:maxFieldSuggestions]
	}
	return fields
}

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func joinTableList(tables map[string]bool) string {
	names := make([]string, 0, len(tables))
	for t := range tables {
		names = append(names, t)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func containsFold(list []string, want string) bool {
	for _, item := range list {
		if strings.EqualFold(item, want) {
			return true
		}
	}
	return false
}

// ---- tolerant plan-map readers ----
// 语义层总在结构层之后运行，这里的宽松读取只为防御手写计划。

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func mapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func numberField(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func planDimensions(plan map[string]any) []model.Dimension {
	items, _ := plan["dimensions"].([]any)
	out := make([]model.Dimension, 0, len(items))
	for _, it := range items {
		if obj, ok := it.(map[string]any); ok {
			out = append(out, model.Dimension{
				Table: stringField(obj, "table"),
				Field: stringField(obj, "field"),
			})
		}
	}
	return out
}

func planFilters(plan map[string]any) []model.Filter {
	items, _ := plan["filters"].([]any)
	out := make([]model.Filter, 0, len(items))
	for _, it := range items {
		if obj, ok := it.(map[string]any); ok {
			out = append(out, model.Filter{
				Table: stringField(obj, "table"),
				Field: stringField(obj, "field"),
				Op:    stringField(obj, "op"),
				Value: obj["value"],
			})
		}
	}
	return out
}
