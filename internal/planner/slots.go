package planner

import (
	"strings"

	"plansql/internal/model"
)

// slots 从问题里抽出的检索线索
type slots struct {
	metricTerms []string // 命中的指标 id 与名称
	schemaTerms []string // 命中的 table.field
	objectTerms []string // 命中字段所属的表
	intentTerms []string // 至多一个意图词
}

// intentCues 按优先级排列；first hit wins
var intentCues = []struct {
	intent string
	cues   []string
}{
	{model.IntentRank, []string{"排名", "排行", "top", "前十", "前10"}},
	{model.IntentTrend, []string{"趋势", "走势", "变化"}},
	{model.IntentCompare, []string{"对比", "同比", "环比"}},
	{model.IntentDetail, []string{"明细"}},
}

// parseSlots scans the full catalogues (not retrieval results) for literal
// mentions, so retrieval queries carry exact ids alongside the raw question.
func parseSlots(question string, metrics []model.MetricDef, schema []model.SchemaEntity) slots {
	q := strings.ToLower(question)
	var s slots

	for _, m := range metrics {
		hit := strings.Contains(q, strings.ToLower(m.MetricID))
		if !hit && m.Name != "" {
			hit = strings.Contains(q, strings.ToLower(m.Name))
		}
		if !hit {
			continue
		}
		s.metricTerms = appendUnique(s.metricTerms, m.MetricID)
		if m.Name != "" {
			s.metricTerms = appendUnique(s.metricTerms, m.Name)
		}
	}

	for _, row := range schema {
		hit := strings.Contains(q, strings.ToLower(row.Field)) ||
			strings.Contains(q, strings.ToLower(row.Table)) ||
			(row.FieldDesc != "" && strings.Contains(q, strings.ToLower(row.FieldDesc)))
		if !hit {
			for _, alias := range row.Aliases {
				if alias != "" && strings.Contains(q, strings.ToLower(alias)) {
					hit = true
					break
				}
			}
		}
		if !hit {
			continue
		}
		s.schemaTerms = appendUnique(s.schemaTerms, row.Key())
		s.objectTerms = appendUnique(s.objectTerms, row.Table)
	}

	for _, cue := range intentCues {
		if containsAnyOf(q, cue.cues) {
			s.intentTerms = []string{cue.intent}
			break
		}
	}

	return s
}

// buildQuery joins the extracted terms with the raw question into one
// retrieval query.
func buildQuery(terms []string, question string) string {
	if len(terms) == 0 {
		return question
	}
	return strings.Join(terms, " ") + " " + question
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

func containsAnyOf(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
