// Package compiler 把通过校验的计划确定性地编译成单条 MySQL 查询。
// 同一份计划加证据永远得到同一条 SQL；白名单在这里再收一遍口。
package compiler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"plansql/internal/model"
)

// Compile renders the plan as one MySQL SELECT. The evidence bundle is the
// allow-list: schema candidate keys, metric required fields and the chosen
// join path's edge fields. Anything outside it aborts compilation.
func Compile(plan model.Plan, evidence model.EvidenceBundle) (string, error) {
	metric, ok := evidence.MetricByID(plan.MetricID)
	if !ok {
		return "", model.E(model.KindCompileMissingMetric,
			"metric %q is not in the evidence bundle", plan.MetricID)
	}

	var joinPath *model.JoinPath
	if plan.JoinPathID != "" && plan.JoinPathID != model.JoinPathNone {
		path, ok := evidence.JoinPathByID(plan.JoinPathID)
		if !ok {
			return "", model.E(model.KindCompileUnauthorizedField,
				"join path %q is not in the evidence bundle", plan.JoinPathID)
		}
		joinPath = &path
	}

	allowed := allowList(evidence, metric, joinPath)

	metricExpr, err := metricExpression(metric)
	if err != nil {
		return "", err
	}
	timeField, err := pickTimeField(evidence, metric)
	if err != nil {
		return "", err
	}
	baseTable := pickBaseTable(plan, metric, joinPath, timeField)

	// SELECT 与 GROUP BY：趋势先放时间桶，再放维度，最后放指标
	var selectCols, groupCols []string
	if plan.Intent == model.IntentTrend {
		bucket, err := bucketExpression(plan.TimeGrain, timeField)
		if err != nil {
			return "", err
		}
		selectCols = append(selectCols, bucket+" AS time_bucket")
		groupCols = append(groupCols, "time_bucket")
	}
	for _, dim := range plan.Dimensions {
		key := dim.Key()
		if !allowed[key] {
			return "", model.E(model.KindCompileUnauthorizedField,
				"dimension %q is not authorized", key)
		}
		selectCols = append(selectCols, key)
		groupCols = append(groupCols, key)
	}
	selectCols = append(selectCols, fmt.Sprintf("%s AS %s", metricExpr, plan.MetricID))

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selectCols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(baseTable)

	if joinPath != nil {
		for _, edge := range joinPath.Edges {
			fmt.Fprintf(&b, " %s JOIN %s ON %s.%s = %s.%s",
				joinKeyword(edge.JoinType), edge.RightTable,
				edge.LeftTable, edge.LeftField, edge.RightTable, edge.RightField)
		}
	}

	conditions := []string{fmt.Sprintf("%s BETWEEN '%s' AND '%s'",
		timeField, plan.TimeRange.Start, plan.TimeRange.End)}
	for _, f := range plan.Filters {
		cond, err := filterCondition(f, allowed)
		if err != nil {
			return "", err
		}
		conditions = append(conditions, cond)
	}
	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(conditions, " AND "))

	if len(groupCols) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groupCols, ", "))
	}

	orderExpr, err := orderExpression(plan, allowed)
	if err != nil {
		return "", err
	}
	if orderExpr != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderExpr)
	}

	fmt.Fprintf(&b, " LIMIT %d", plan.EffectiveLimit())

	return b.String(), nil
}

// allowList merges every field the plan may legally touch.
func allowList(evidence model.EvidenceBundle, metric model.MetricDef, joinPath *model.JoinPath) map[string]bool {
	allowed := evidence.SchemaFieldSet()
	for _, rf := range metric.RequiredFields {
		allowed[rf] = true
	}
	if joinPath != nil {
		for _, edge := range joinPath.Edges {
			allowed[edge.LeftTable+"."+edge.LeftField] = true
			allowed[edge.RightTable+"."+edge.RightField] = true
		}
	}
	return allowed
}

// metricExpression renders the metric formula: one field sums, two fields
// divide with a NULLIF guard.
func metricExpression(metric model.MetricDef) (string, error) {
	switch len(metric.RequiredFields) {
	case 1:
		return fmt.Sprintf("SUM(%s)", metric.RequiredFields[0]), nil
	case 2:
		return fmt.Sprintf("SUM(%s) / NULLIF(SUM(%s), 0)",
			metric.RequiredFields[0], metric.RequiredFields[1]), nil
	default:
		return "", model.E(model.KindCompileMissingMetric,
			"metric %q needs 1 or 2 required fields, got %d",
			metric.MetricID, len(metric.RequiredFields))
	}
}

// pickTimeField scans evidence rows by time-typed name first, data type
// second, then falls back to metric fields ending in .ts or .date.
func pickTimeField(evidence model.EvidenceBundle, metric model.MetricDef) (string, error) {
	for _, row := range evidence.SchemaCandidates {
		if model.IsTimeFieldName(row.Field) {
			return row.Key(), nil
		}
	}
	for _, row := range evidence.SchemaCandidates {
		if model.IsTimeDataType(row.DataType) {
			return row.Key(), nil
		}
	}
	for _, rf := range metric.RequiredFields {
		if strings.HasSuffix(rf, ".ts") || strings.HasSuffix(rf, ".date") {
			return rf, nil
		}
	}
	return "", model.E(model.KindCompileMissingTimeField,
		"no usable time field for metric %q", metric.MetricID)
}

// pickBaseTable: join path's first left table wins, then the first
// dimension's table, then the metric's first table, then the time table.
func pickBaseTable(plan model.Plan, metric model.MetricDef, joinPath *model.JoinPath, timeField string) string {
	if joinPath != nil && len(joinPath.Edges) > 0 {
		return joinPath.Edges[0].LeftTable
	}
	if len(plan.Dimensions) > 0 && plan.Dimensions[0].Table != "" {
		return plan.Dimensions[0].Table
	}
	if tables := metric.RequiredTables(); len(tables) > 0 {
		return tables[0]
	}
	table, _, _ := strings.Cut(timeField, ".")
	return table
}

// bucketExpression renders the fixed per-grain bucket.
func bucketExpression(grain, timeField string) (string, error) {
	switch grain {
	case model.Grain15m:
		return fmt.Sprintf("FROM_UNIXTIME(FLOOR(UNIX_TIMESTAMP(%s)/900)*900)", timeField), nil
	case model.GrainHour:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d %%H:00:00')", timeField), nil
	case model.GrainDay:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d')", timeField), nil
	case model.GrainWeek:
		return fmt.Sprintf("YEARWEEK(%s, 1)", timeField), nil
	case model.GrainMonth:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m')", timeField), nil
	default:
		return "", model.E(model.KindCompileUnsupportedGrain, "unsupported time grain %q", grain)
	}
}

func joinKeyword(joinType string) string {
	switch strings.ToLower(joinType) {
	case "left":
		return "LEFT"
	case "right":
		return "RIGHT"
	default:
		return "INNER"
	}
}

// filterCondition renders one WHERE condition against the allow-list.
func filterCondition(f model.Filter, allowed map[string]bool) (string, error) {
	key := f.Key()
	if !allowed[key] {
		return "", model.E(model.KindCompileUnauthorizedField,
			"filter field %q is not authorized", key)
	}
	switch f.Op {
	case "=", "!=", ">", ">=", "<", "<=":
		return fmt.Sprintf("%s %s %s", key, f.Op, sqlLiteral(f.Value)), nil
	case "like":
		return fmt.Sprintf("%s LIKE %s", key, sqlLiteral(f.Value)), nil
	case "in":
		values, ok := f.Value.([]any)
		if !ok || len(values) == 0 {
			return "", model.E(model.KindCompileUnsupportedOp,
				`op "in" needs a non-empty list value`)
		}
		rendered := make([]string, 0, len(values))
		for _, v := range values {
			rendered = append(rendered, sqlLiteral(v))
		}
		return fmt.Sprintf("%s IN (%s)", key, strings.Join(rendered, ", ")), nil
	case "between":
		values, ok := f.Value.([]any)
		if !ok || len(values) != 2 {
			return "", model.E(model.KindCompileUnsupportedOp,
				`op "between" needs a two-element list value`)
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s",
			key, sqlLiteral(values[0]), sqlLiteral(values[1])), nil
	default:
		return "", model.E(model.KindCompileUnsupportedOp, "unsupported filter op %q", f.Op)
	}
}

// sqlLiteral renders numbers bare and everything else single-quoted, with
// embedded quotes doubled.
func sqlLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", val), "'", "''") + "'"
	}
}

// orderExpression resolves sort.by. Ascending renders the bare column,
// descending appends DESC. Time sorts outside trend plans are dropped:
// there is no time_bucket column to order by.
func orderExpression(plan model.Plan, allowed map[string]bool) (string, error) {
	if plan.Sort == nil {
		if plan.Intent == model.IntentTrend {
			return "time_bucket", nil
		}
		return "", nil
	}

	var by string
	switch plan.Sort.By {
	case "metric", plan.MetricID:
		by = plan.MetricID
	case "time", "time_bucket":
		if plan.Intent != model.IntentTrend {
			return "", nil
		}
		by = "time_bucket"
	default:
		resolved, err := resolveSortField(plan.Sort.By, allowed)
		if err != nil {
			return "", err
		}
		by = resolved
	}

	if strings.EqualFold(plan.Sort.Order, "desc") {
		return by + " DESC", nil
	}
	return by, nil
}

// resolveSortField accepts an allow-listed table.field, or a bare field name
// that suffix-matches exactly one form in the allow-list (first match in
// sorted key order, for determinism).
func resolveSortField(by string, allowed map[string]bool) (string, error) {
	if strings.Contains(by, ".") {
		if allowed[by] {
			return by, nil
		}
		return "", model.E(model.KindCompileUnauthorizedField,
			"sort field %q is not authorized", by)
	}
	suffix := "." + by
	keys := make([]string, 0, len(allowed))
	for key := range allowed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.HasSuffix(key, suffix) {
			return key, nil
		}
	}
	return "", model.E(model.KindCompileUnauthorizedField,
		"sort field %q is not authorized", by)
}
