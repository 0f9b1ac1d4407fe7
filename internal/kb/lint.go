package kb

import (
	"fmt"

	"plansql/internal/model"
)

var (
	lintIntents = map[string]bool{
		model.IntentTrend:     true,
		model.IntentAggregate: true,
		model.IntentRank:      true,
		model.IntentCompare:   true,
		model.IntentDetail:    true,
	}
	lintGrains = map[string]bool{
		model.Grain15m:   true,
		model.GrainHour:  true,
		model.GrainDay:   true,
		model.GrainWeek:  true,
		model.GrainMonth: true,
	}
)

// Lint cross-checks the four catalogues against each other and returns one
// message per problem. 连接图连通性不算错误，由调用方用 Components 自行
// 展示；这里只抓悬空引用和非法取值。
func Lint(schema *SchemaKB, joins *JoinKB, metrics *MetricKB, templates *TemplateKB) []string {
	var problems []string

	fields := make(map[string]bool)
	tables := make(map[string]bool)
	for _, item := range schema.All() {
		key := item.Key()
		if fields[key] {
			problems = append(problems, fmt.Sprintf("schema: duplicate column %s", key))
		}
		fields[key] = true
		tables[item.Table] = true
	}

	seenPaths := make(map[string]bool)
	for _, path := range joins.All() {
		if seenPaths[path.JoinPathID] {
			problems = append(problems, fmt.Sprintf("join %s: duplicate join_path_id", path.JoinPathID))
		}
		seenPaths[path.JoinPathID] = true

		onPath := make(map[string]bool, len(path.Tables))
		for _, t := range path.Tables {
			onPath[t] = true
			if !tables[t] {
				problems = append(problems, fmt.Sprintf("join %s: table %s not in schema", path.JoinPathID, t))
			}
		}
		if len(path.Edges) == 0 {
			problems = append(problems, fmt.Sprintf("join %s: no edges", path.JoinPathID))
		}
		for _, edge := range path.Edges {
			for _, ref := range []string{
				edge.LeftTable + "." + edge.LeftField,
				edge.RightTable + "." + edge.RightField,
			} {
				if !fields[ref] {
					problems = append(problems, fmt.Sprintf("join %s: edge column %s not in schema", path.JoinPathID, ref))
				}
			}
			if !onPath[edge.LeftTable] || !onPath[edge.RightTable] {
				problems = append(problems, fmt.Sprintf("join %s: edge references a table outside tables list", path.JoinPathID))
			}
		}
	}

	seenMetrics := make(map[string]bool)
	for _, metric := range metrics.All() {
		if seenMetrics[metric.MetricID] {
			problems = append(problems, fmt.Sprintf("metric %s: duplicate metric_id", metric.MetricID))
		}
		seenMetrics[metric.MetricID] = true

		if n := len(metric.RequiredFields); n < 1 || n > 2 {
			problems = append(problems, fmt.Sprintf("metric %s: wants 1 or 2 required_fields, has %d", metric.MetricID, n))
		}
		for _, rf := range metric.RequiredFields {
			if !fields[rf] {
				problems = append(problems, fmt.Sprintf("metric %s: required field %s not in schema", metric.MetricID, rf))
			}
		}
		if metric.DefaultTimeGrain != "" && !lintGrains[metric.DefaultTimeGrain] {
			problems = append(problems, fmt.Sprintf("metric %s: unknown default_time_grain %q", metric.MetricID, metric.DefaultTimeGrain))
		}
	}

	seenTemplates := make(map[string]bool)
	for _, rule := range templates.All() {
		if seenTemplates[rule.TemplateID] {
			problems = append(problems, fmt.Sprintf("template %s: duplicate template_id", rule.TemplateID))
		}
		seenTemplates[rule.TemplateID] = true
		if !lintIntents[rule.Intent] {
			problems = append(problems, fmt.Sprintf("template %s: unknown intent %q", rule.TemplateID, rule.Intent))
		}
	}

	return problems
}
