// Package answer 把执行结果讲成一段中文结论
// 有真实 LLM 时走摘要提示词，否则走确定性的规则模板；
// 摘要失败永远降级，不会让请求失败
package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"plansql/internal/execute"
	"plansql/internal/llm"
	"plansql/internal/model"
)

const summaryPromptHeader = `你是电力领域的数据分析助手。根据下面的 JSON 输入，用一段简洁的中文总结查询结果。
必须提到：指标口径与单位、时间范围、主要结论（给出代表性数值）、可视化建议。
如有质量警告要在结尾以「注意」开头转述。不要输出 JSON，不要输出 SQL。`

// Generator 结果摘要器。client 为 nil 时只出规则模板
type Generator struct {
	client llm.Client
	log    *zap.Logger
}

// NewGenerator builds a Generator; pass nil client for rule-based summaries.
func NewGenerator(client llm.Client, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{client: client, log: log}
}

// Generate renders the answer text. Errors from the LLM degrade to the
// rule-based summary so the answer stage can never sink a request.
func (g *Generator) Generate(ctx context.Context, question string, plan model.Plan, sqlText string, metric model.MetricDef, result *execute.Result) string {
	if g.client != nil {
		if text, err := g.summarize(ctx, question, plan, sqlText, metric, result); err == nil {
			return text
		} else {
			g.log.Debug("llm summary degraded to rule-based answer", zap.Error(err))
		}
	}
	return g.ruleBased(plan, metric, result)
}

func (g *Generator) summarize(ctx context.Context, question string, plan model.Plan, sqlText string, metric model.MetricDef, result *execute.Result) (string, error) {
	payload := map[string]any{
		"question":          question,
		"plan_dsl":          plan,
		"sql":               sqlText,
		"metric_definition": metric,
		"result_preview": map[string]any{
			"columns": result.Columns,
			"rows":    result.Rows,
		},
		"quality_warnings": result.Warnings,
	}
	encoded, err := encodeJSON(payload)
	if err != nil {
		return "", err
	}

	text, err := g.client.GenerateText(ctx, summaryPromptHeader+"\n\n"+encoded)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty summary")
	}
	return text, nil
}

// ruleBased 固定格式的中文摘要：口径、时间范围、主要结论、可视化建议、注意事项
func (g *Generator) ruleBased(plan model.Plan, metric model.MetricDef, result *execute.Result) string {
	if result == nil || len(result.Rows) == 0 {
		return fmt.Sprintf(
			"结果为空。可能原因：时间范围 %s 至 %s 内无数据，或筛选条件过窄，或存在数据质量问题。建议调整时间范围或减少过滤条件后重试。",
			plan.TimeRange.Start, plan.TimeRange.End)
	}

	conclusion := "暂无"
	if value, ok := averageMetric(plan.MetricID, result.Rows); ok {
		conclusion = "约为 " + formatValue(value)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "指标口径：%s（单位：%s）。", metric.Definition, metric.Unit)
	fmt.Fprintf(&b, "时间范围：%s 至 %s。", plan.TimeRange.Start, plan.TimeRange.End)
	fmt.Fprintf(&b, "主要结论：1) %s %s。", metric.Name, conclusion)
	fmt.Fprintf(&b, "可视化建议：%s。", plan.Output.ChartSuggest)
	if len(result.Warnings) > 0 {
		fmt.Fprintf(&b, "注意：%s", strings.Join(result.Warnings, "；"))
	}
	return b.String()
}

// averageMetric 预览中指标列数值的均值，保留 4 位小数
func averageMetric(metricID string, rows []map[string]any) (float64, bool) {
	var sum float64
	var n int
	for _, row := range rows {
		switch v := row[metricID].(type) {
		case float64:
			sum += v
			n++
		case float32:
			sum += float64(v)
			n++
		case int:
			sum += float64(v)
			n++
		case int64:
			sum += float64(v)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return math.Round(sum/float64(n)*1e4) / 1e4, true
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
