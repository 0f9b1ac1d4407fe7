// Package planner 把自然语言问题变成通过校验的查询计划：
// 槽位抽取 → 四库检索 → LLM 出计划 → 结构 + 语义校验 → 一轮修复 → 收口。
// 证据包是唯一的白名单，计划里引用不到的东西一律不存在。
package planner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"plansql/internal/kb"
	"plansql/internal/llm"
	"plansql/internal/model"
	"plansql/internal/vector"
)

// ModeNoLLM switches GeneratePlan to the deterministic fixed plan, used to
// exercise the SQL and database path without a model.
const ModeNoLLM = "no_llm"

// maxRefineSuggestions 第二次检索最多携带的建议词数
const maxRefineSuggestions = 8

// sqlKeywordRe flags SQL fragments in model output. Any hit fails the
// request before the compiler ever sees the plan.
var sqlKeywordRe = regexp.MustCompile(`(?i)\b(select|from|where|join|group\s+by|order\s+by|insert|update|delete)\b`)

// Options 规划器行为开关，由 engine 从配置映射而来
type Options struct {
	Mode                   string // ModeNoLLM 走固定计划，其余走 LLM
	FixedMetricID          string // no_llm 模式固定使用的指标
	TopK                   int    // 首轮检索条数
	TopKSecond             int    // 修复前重检索条数
	TrimTopK               int    // 超时重试时每列表保留条数
	RetryOnTimeout         bool   // 首次规划调用超时后是否裁剪重试
	BackfillEmptyRetrieval bool   // LLM 路径是否用全量目录补齐空检索
}

// Planner orchestrates one planning request. KBs and the compiled schema are
// immutable after construction, so a single Planner serves concurrent
// requests without locking.
type Planner struct {
	client     llm.Client
	validator  *Validator
	schemaKB   *kb.SchemaKB
	joinKB     *kb.JoinKB
	metricKB   *kb.MetricKB
	templateKB *kb.TemplateKB
	opts       Options
	log        *zap.Logger
}

// New builds a Planner. A nil logger is replaced with a nop logger.
func New(client llm.Client, schemaKB *kb.SchemaKB, joinKB *kb.JoinKB, metricKB *kb.MetricKB, templateKB *kb.TemplateKB, opts Options, log *zap.Logger) (*Planner, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.TopKSecond <= 0 {
		opts.TopKSecond = 8
	}
	if opts.TrimTopK <= 0 {
		opts.TrimTopK = 2
	}
	return &Planner{
		client:     client,
		validator:  validator,
		schemaKB:   schemaKB,
		joinKB:     joinKB,
		metricKB:   metricKB,
		templateKB: templateKB,
		opts:       opts,
		log:        log,
	}, nil
}

// Result carries everything later stages need. On failure it holds whatever
// was established before the error, so the audit record stays complete.
type Result struct {
	Plan            model.Plan           // 冻结后的计划（成功时有效）
	PlanMap         map[string]any       // 计划的线上形态
	InitialPlan     map[string]any       // 修复前的首个计划
	Evidence        model.EvidenceBundle // 最终使用的证据包
	EvidenceSummary string
	Errors          []model.ValidationError // 残留校验错误，成功时为空
	Metric          model.MetricDef         // 计划选中的指标
}

// GeneratePlan runs the full planning pipeline for one question.
func (p *Planner) GeneratePlan(ctx context.Context, question string, userContext map[string]any, timeRange *model.TimeRange) (*Result, error) {
	res := &Result{}

	sl := parseSlots(question, p.metricKB.All(), p.schemaKB.All())
	evidence := p.retrieve(question, sl, p.opts.TopK)
	if p.opts.Mode == ModeNoLLM || p.opts.BackfillEmptyRetrieval {
		p.backfill(&evidence)
	}
	res.Evidence = evidence
	res.EvidenceSummary = summarizeEvidence(evidence)

	p.log.Debug("evidence retrieved",
		zap.Int("metrics", len(evidence.MetricCandidates)),
		zap.Int("schema_rows", len(evidence.SchemaCandidates)),
		zap.Int("join_paths", len(evidence.JoinPaths)),
		zap.Int("templates", len(evidence.TemplateRules)),
		zap.Strings("intent_terms", sl.intentTerms))

	var planMap map[string]any
	var validationErrors []model.ValidationError

	if p.opts.Mode == ModeNoLLM {
		fixed, err := p.fixedPlan(&evidence, timeRange)
		if err != nil {
			return res, err
		}
		planMap = normalizeJSON(fixed)
		res.Evidence = evidence
		res.EvidenceSummary = summarizeEvidence(evidence)
		res.InitialPlan = normalizeJSON(planMap)
		// 固定计划跳过语义校验，但仍要过结构校验
		validationErrors = p.validator.ValidateSchema(planMap)
	} else {
		acquired, err := p.askForPlan(ctx, question, userContext, timeRange, evidence)
		if err != nil {
			return res, err
		}
		planMap = acquired
		res.InitialPlan = normalizeJSON(planMap)

		validationErrors = p.validator.Validate(planMap, evidence)
		if model.HasCode(validationErrors, model.CodeMetricNotFound) {
			evidence.MetricCandidates = p.metricKB.All()
			p.autoFixMetric(planMap, question, evidence)
			validationErrors = p.validator.Validate(planMap, evidence)
		}

		if len(validationErrors) > 0 {
			p.log.Info("plan failed validation, starting repair round",
				zap.Strings("codes", errorCodes(validationErrors)))

			// 带着建议词重检索，在更宽的证据上修复
			suggestions := collectSuggestions(validationErrors, maxRefineSuggestions)
			refined := strings.TrimSpace(question + " " + strings.Join(suggestions, " "))
			second := p.retrieve(refined, sl, p.opts.TopKSecond)
			if p.opts.BackfillEmptyRetrieval {
				p.backfill(&second)
			}
			p.augmentForErrors(validationErrors, &second)

			repaired, err := p.repairPlan(ctx, planMap, validationErrors, second)
			if err != nil {
				res.Errors = validationErrors
				return res, err
			}
			planMap = repaired
			validationErrors = p.validator.Validate(planMap, second)
			if model.HasCode(validationErrors, model.CodeMetricNotFound) {
				second.MetricCandidates = p.metricKB.All()
				p.autoFixMetric(planMap, question, second)
				validationErrors = p.validator.Validate(planMap, second)
			}
			evidence = second
		}

		res.Evidence = evidence
		res.EvidenceSummary = summarizeEvidence(evidence)
	}

	res.PlanMap = planMap
	res.Errors = validationErrors

	if len(validationErrors) > 0 {
		return res, model.E(model.KindPlanValidationFailed,
			"plan validation failed: %s", strings.Join(model.ErrorMessages(validationErrors), "; "))
	}

	// 收口：进入编译前扫一遍 SQL 关键词
	if sqlKeywordRe.MatchString(encodeJSON(planMap)) {
		return res, model.E(model.KindLLMOutputUnsafe, "plan JSON contains SQL keywords")
	}

	plan, err := model.PlanFromMap(planMap)
	if err != nil {
		return res, fmt.Errorf("freeze plan: %w", err)
	}
	res.Plan = plan
	if metric, ok := evidence.MetricByID(plan.MetricID); ok {
		res.Metric = metric
	}

	p.log.Info("plan accepted",
		zap.String("intent", plan.Intent),
		zap.String("metric_id", plan.MetricID),
		zap.String("join_path_id", plan.JoinPathID),
		zap.Float64("confidence", plan.Confidence))
	return res, nil
}

// askForPlan makes the initial LLM call, with at most one trimmed retry on
// timeout. Validation afterwards always runs against the untrimmed evidence.
func (p *Planner) askForPlan(ctx context.Context, question string, userContext map[string]any, timeRange *model.TimeRange, evidence model.EvidenceBundle) (map[string]any, error) {
	prompt := buildPlanPrompt(question, userContext, timeRange, evidence, p.validator.SchemaDoc(), false)
	planMap, err := p.client.GenerateJSON(ctx, prompt, p.validator.SchemaDoc())
	if err == nil {
		return normalizeJSON(planMap), nil
	}

	if errors.Is(err, llm.ErrTimeout) && p.opts.RetryOnTimeout {
		p.log.Warn("plan call timed out, retrying with trimmed evidence",
			zap.Int("trim_top_k", p.opts.TrimTopK))
		trimmed := trimEvidence(evidence, p.opts.TrimTopK)
		prompt = buildPlanPrompt(question, userContext, timeRange, trimmed, p.validator.SchemaDoc(), true)
		planMap, err = p.client.GenerateJSON(ctx, prompt, p.validator.SchemaDoc())
		if err == nil {
			return normalizeJSON(planMap), nil
		}
	}

	var notJSON *llm.NotJSONError
	if errors.As(err, &notJSON) {
		if sqlKeywordRe.MatchString(notJSON.Raw) {
			return nil, model.E(model.KindLLMOutputUnsafe, "llm output contains SQL keywords")
		}
		return nil, model.E(model.KindLLMOutputNotJSON, "llm output is not a JSON object")
	}
	return nil, fmt.Errorf("plan llm call: %w", err)
}

// retrieve runs the four KB queries and tops the schema rows up with time
// columns when none were retrieved.
func (p *Planner) retrieve(question string, sl slots, topK int) model.EvidenceBundle {
	joinTerms := append(append([]string{}, sl.objectTerms...), sl.schemaTerms...)
	bundle := model.EvidenceBundle{
		MetricCandidates: p.metricKB.Query(buildQuery(sl.metricTerms, question), topK),
		SchemaCandidates: p.schemaKB.Query(buildQuery(sl.schemaTerms, question), topK),
		JoinPaths:        p.joinKB.Query(buildQuery(joinTerms, question), topK),
		TemplateRules:    p.templateKB.Query(buildQuery(sl.intentTerms, question), topK),
	}
	bundle.SchemaCandidates = p.ensureTimeFields(bundle.SchemaCandidates, false)
	return bundle
}

// ensureTimeFields merges the catalogue's time columns into rows, preserving
// retrieval order. With forceAll it merges even when rows already carry one.
func (p *Planner) ensureTimeFields(rows []model.SchemaEntity, forceAll bool) []model.SchemaEntity {
	if !forceAll {
		for _, row := range rows {
			if row.IsTimeLike() {
				return rows
			}
		}
	}
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		seen[row.Key()] = true
	}
	merged := append([]model.SchemaEntity{}, rows...)
	for _, row := range p.schemaKB.TimeFields() {
		if !seen[row.Key()] {
			merged = append(merged, row)
			seen[row.Key()] = true
		}
	}
	return merged
}

// backfill replaces empty retrieval lists with the full catalogues.
func (p *Planner) backfill(evidence *model.EvidenceBundle) {
	if len(evidence.MetricCandidates) == 0 {
		evidence.MetricCandidates = p.metricKB.All()
	}
	if len(evidence.SchemaCandidates) == 0 {
		evidence.SchemaCandidates = p.schemaKB.All()
	}
	if len(evidence.JoinPaths) == 0 {
		evidence.JoinPaths = p.joinKB.All()
	}
	if len(evidence.TemplateRules) == 0 {
		evidence.TemplateRules = p.templateKB.All()
	}
}

// augmentForErrors widens the fresh evidence along the failed dimensions
// before the repair call sees it.
func (p *Planner) augmentForErrors(errs []model.ValidationError, evidence *model.EvidenceBundle) {
	if model.HasCode(errs, model.CodeMetricNotFound) && len(evidence.MetricCandidates) == 0 {
		evidence.MetricCandidates = p.metricKB.All()
	}
	if model.HasCode(errs, model.CodeTimeFieldMissing) {
		evidence.SchemaCandidates = p.ensureTimeFields(evidence.SchemaCandidates, true)
	}
}

// autoFixMetric rescores the metric candidates against the question and
// overwrites metric_id with the winner. Deterministic: ties keep the earlier
// candidate.
func (p *Planner) autoFixMetric(plan map[string]any, question string, evidence model.EvidenceBundle) {
	q := strings.ToLower(question)
	tokens := uniqueStrings(vector.Tokenize(q))
	moneyCue := containsAnyOf(q, []string{"金额", "费用", "cost", "amount"})
	energyCue := containsAnyOf(q, []string{"用电量", "用电", "电量", "consumption", "kwh"})
	billCue := containsAnyOf(q, []string{"账单", "bill"})

	best := ""
	bestScore := -1
	for _, m := range evidence.MetricCandidates {
		parts := append([]string{m.MetricID, m.Name, m.Definition, m.Formula}, m.RequiredFields...)
		text := strings.ToLower(strings.Join(parts, " "))

		score := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				score += 2
			}
		}
		if moneyCue && (strings.Contains(text, "amount") || strings.Contains(text, "total_amount")) {
			score += 5
		}
		if energyCue && strings.Contains(text, "consumption") {
			score += 5
		}
		if billCue && strings.Contains(text, "bills.") {
			score += 3
		}

		if score > bestScore {
			best, bestScore = m.MetricID, score
		}
	}
	if best != "" {
		p.log.Debug("metric_id auto-fixed",
			zap.String("metric_id", best), zap.Int("score", bestScore))
		plan["metric_id"] = best
	}
}

// fixedPlan builds the deterministic no_llm plan. It may inject the fixed
// metric into the evidence bundle so the compiler's allow-list covers it.
func (p *Planner) fixedPlan(evidence *model.EvidenceBundle, timeRange *model.TimeRange) (map[string]any, error) {
	if timeRange == nil || timeRange.Start == "" || timeRange.End == "" {
		return nil, model.E(model.KindNoLLMInfeasible, "no_llm mode requires an explicit time_range")
	}

	metric, err := p.pickFixedMetric(evidence)
	if err != nil {
		return nil, err
	}

	tables := map[string]bool{}
	for _, t := range metric.RequiredTables() {
		tables[t] = true
	}
	if t := chooseTimeTable(*evidence, metric, true); t != "" {
		tables[t] = true
	}

	joinPathID := model.JoinPathNone
	if len(tables) > 1 {
		joinPathID = ""
		for _, path := range evidence.JoinPaths {
			if path.Covers(tables) {
				joinPathID = path.JoinPathID
				break
			}
		}
		if joinPathID == "" {
			return nil, model.E(model.KindNoLLMInfeasible, "no join path covers tables %s", joinTableList(tables))
		}
	}

	grain := metric.DefaultTimeGrain
	if grain == "" {
		grain = model.GrainDay
	}

	return map[string]any{
		"version":           model.PlanVersion,
		"intent":            model.IntentAggregate,
		"metric_id":         metric.MetricID,
		"metric_params":     map[string]any{},
		"dimensions":        []any{},
		"time_range":        map[string]any{"start": timeRange.Start, "end": timeRange.End},
		"time_grain":        grain,
		"filters":           []any{},
		"join_path_id":      joinPathID,
		"sort":              nil,
		"limit":             model.DefaultLimit,
		"output":            map[string]any{"format": "single_value", "chart_suggest": "none"},
		"confidence":        0.1,
		"clarifications":    []any{"no_llm mode: fixed plan for SQL/DB test"},
		"errors_unresolved": []any{},
	}, nil
}

func (p *Planner) pickFixedMetric(evidence *model.EvidenceBundle) (model.MetricDef, error) {
	if p.opts.FixedMetricID != "" {
		if m, ok := evidence.MetricByID(p.opts.FixedMetricID); ok {
			return m, nil
		}
		if m, ok := p.metricKB.ByID(p.opts.FixedMetricID); ok {
			evidence.MetricCandidates = append(append([]model.MetricDef{}, evidence.MetricCandidates...), m)
			return m, nil
		}
		return model.MetricDef{}, model.E(model.KindNoLLMInfeasible,
			"fixed metric %q not found in any catalogue", p.opts.FixedMetricID)
	}
	if len(evidence.MetricCandidates) > 0 {
		return evidence.MetricCandidates[0], nil
	}
	return model.MetricDef{}, model.E(model.KindNoLLMInfeasible, "no metric candidates available")
}

// trimEvidence cuts every list to at most k entries, keeping at least one.
func trimEvidence(e model.EvidenceBundle, k int) model.EvidenceBundle {
	if k < 1 {
		k = 1
	}
	return model.EvidenceBundle{
		MetricCandidates: e.MetricCandidates[:min(k, len(e.MetricCandidates))],
		SchemaCandidates: e.SchemaCandidates[:min(k, len(e.SchemaCandidates))],
		JoinPaths:        e.JoinPaths[:min(k, len(e.JoinPaths))],
		TemplateRules:    e.TemplateRules[:min(k, len(e.TemplateRules))],
	}
}

// summarizeEvidence renders the audit one-liner, ids in retrieval order.
func summarizeEvidence(e model.EvidenceBundle) string {
	fields := make([]string, 0, len(e.SchemaCandidates))
	for _, row := range e.SchemaCandidates {
		fields = append(fields, row.Key())
	}
	joins := make([]string, 0, len(e.JoinPaths))
	for _, path := range e.JoinPaths {
		joins = append(joins, path.JoinPathID)
	}
	templates := make([]string, 0, len(e.TemplateRules))
	for _, rule := range e.TemplateRules {
		templates = append(templates, rule.TemplateID)
	}
	return fmt.Sprintf("metrics=[%s] schema=[%s] joins=[%s] templates=[%s]",
		strings.Join(e.MetricIDs(), ","),
		strings.Join(fields, ","),
		strings.Join(joins, ","),
		strings.Join(templates, ","))
}

// collectSuggestions dedupes suggestion strings across errors, keeping
// error order, up to limit entries.
func collectSuggestions(errs []model.ValidationError, limit int) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range errs {
		for _, s := range e.Suggestions {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

func errorCodes(errs []model.ValidationError) []string {
	codes := make([]string, 0, len(errs))
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	return codes
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
