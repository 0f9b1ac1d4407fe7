package planner

import (
	"bytes"
	"encoding/json"
	"strings"

	"plansql/internal/model"
)

// 载荷标记。裁剪重试换用 trimmed 标记，方便在日志里区分两次调用。
const (
	inputsMarker        = "<INPUTS>"
	inputsTrimmedMarker = "<INPUTS_TRIMMED>"
)

const planPromptHeader = `你是电力领域的查询规划器。根据问题和证据（指标、表字段、连接路径、查询模板）生成一个查询计划。

规则：
1. 只能引用证据中出现的指标、表字段和连接路径，禁止虚构。
2. 计划必须符合载荷中的 JSON Schema（schema 字段）。
3. 时间用 ISO 日期（YYYY-MM-DD），time_range.start 不晚于 end。
4. 单表查询 join_path_id 填 "NONE"。
5. 只输出一个 JSON 对象，不要 Markdown 代码块，不要解释文字。
`

const repairPromptHeader = `下面的查询计划未通过校验。请参考错误列表和证据修复它，输出修复后的完整计划。

规则：
1. 逐条消除 validation_errors，不要引入证据之外的指标、字段或连接路径。
2. 修复后的计划必须符合载荷中的 JSON Schema（schema 字段）。
3. 只输出一个 JSON 对象，不要 Markdown 代码块，不要解释文字。
`

// buildPlanPrompt assembles the planning prompt. The payload rides behind a
// fixed marker so offline clients can locate it.
func buildPlanPrompt(question string, userContext map[string]any, timeRange *model.TimeRange, evidence model.EvidenceBundle, schemaDoc map[string]any, trimmed bool) string {
	payload := map[string]any{
		"question":     question,
		"user_context": userContext,
		"time_range":   timeRangeDoc(timeRange),
		"evidence":     evidenceDoc(evidence),
		"schema":       schemaDoc,
	}

	marker := inputsMarker
	if trimmed {
		marker = inputsTrimmedMarker
	}

	var b strings.Builder
	b.WriteString(planPromptHeader)
	b.WriteString("\n")
	b.WriteString(marker)
	b.WriteString("\n")
	b.WriteString(encodeJSON(payload))
	b.WriteString("\n")
	return b.String()
}

// buildRepairPrompt assembles the one-shot repair prompt.
func buildRepairPrompt(plan map[string]any, errs []model.ValidationError, evidence model.EvidenceBundle, schemaDoc map[string]any) string {
	payload := map[string]any{
		"original_plan":     plan,
		"validation_errors": errs,
		"evidence":          evidenceDoc(evidence),
		"schema":            schemaDoc,
	}

	var b strings.Builder
	b.WriteString(repairPromptHeader)
	b.WriteString("\n")
	b.WriteString(inputsMarker)
	b.WriteString("\n")
	b.WriteString(encodeJSON(payload))
	b.WriteString("\n")
	return b.String()
}

func timeRangeDoc(tr *model.TimeRange) any {
	if tr == nil {
		return nil
	}
	return map[string]any{"start": tr.Start, "end": tr.End}
}

// evidenceDoc renders the bundle through its JSON tags so the payload field
// names match the catalogue files.
func evidenceDoc(evidence model.EvidenceBundle) map[string]any {
	raw, err := json.Marshal(evidence)
	if err != nil {
		return map[string]any{}
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return map[string]any{}
	}
	return doc
}

// encodeJSON marshals without HTML escaping so Chinese text and comparison
// operators stay readable in prompts.
func encodeJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "{}"
	}
	return strings.TrimRight(buf.String(), "\n")
}

// normalizeJSON deep-copies a plan map through JSON so every nested value
// carries decoded-JSON types. Also used to snapshot the pre-repair plan.
func normalizeJSON(plan map[string]any) map[string]any {
	raw, err := json.Marshal(plan)
	if err != nil {
		return plan
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return plan
	}
	return out
}
