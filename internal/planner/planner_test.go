package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plansql/internal/kb"
	"plansql/internal/llm"
	"plansql/internal/model"
)

// 规划器测试用的小目录：供电 + 用电两条业务线，连接都挂在 region 上。
const plannerSchemaCatalogue = `[
  {"table":"power_supply","field":"supply_id","field_desc":"供电记录编号","aliases":[],"unit":"","data_type":"bigint","quality_tags":["primary_key"]},
  {"table":"power_supply","field":"region_id","field_desc":"区域编号","aliases":[],"unit":"","data_type":"varchar","quality_tags":["foreign_key"]},
  {"table":"power_supply","field":"supply_kwh","field_desc":"供电量","aliases":[],"unit":"kwh","data_type":"decimal","quality_tags":["metric"]},
  {"table":"power_supply","field":"loss_kwh","field_desc":"线损电量","aliases":["线损"],"unit":"kwh","data_type":"decimal","quality_tags":["metric"]},
  {"table":"power_supply","field":"ts","field_desc":"统计时间","aliases":[],"unit":"","data_type":"datetime","quality_tags":["time"]},
  {"table":"region","field":"region_id","field_desc":"区域编号","aliases":[],"unit":"","data_type":"varchar","quality_tags":["primary_key"]},
  {"table":"region","field":"region_name","field_desc":"区域名称","aliases":["区域"],"unit":"","data_type":"varchar","quality_tags":[]},
  {"table":"meter_reading","field":"reading_id","field_desc":"读数编号","aliases":[],"unit":"","data_type":"bigint","quality_tags":["primary_key"]},
  {"table":"meter_reading","field":"region_id","field_desc":"区域编号","aliases":[],"unit":"","data_type":"varchar","quality_tags":["foreign_key"]},
  {"table":"meter_reading","field":"consumption_kwh","field_desc":"用电量","aliases":["电量"],"unit":"kwh","data_type":"decimal","quality_tags":["metric"]},
  {"table":"meter_reading","field":"ts","field_desc":"采集时间","aliases":[],"unit":"","data_type":"datetime","quality_tags":["time"]}
]`

const plannerJoinCatalogue = `[
  {"join_path_id":"power_supply_region","description":"按区域编号关联供电量与区域","tables":["power_supply","region"],
   "edges":[{"left_table":"power_supply","left_field":"region_id","right_table":"region","right_field":"region_id","join_type":"inner"}]},
  {"join_path_id":"meter_reading_region","description":"按区域编号关联用电明细与区域","tables":["meter_reading","region"],
   "edges":[{"left_table":"meter_reading","left_field":"region_id","right_table":"region","right_field":"region_id","join_type":"inner"}]}
]`

const plannerMetricCatalogue = `[
  {"metric_id":"line_loss_rate","name":"线损率","definition":"line loss as a share of supplied energy",
   "formula":"SUM(loss_kwh) / NULLIF(SUM(supply_kwh), 0)",
   "required_fields":["power_supply.loss_kwh","power_supply.supply_kwh"],"default_time_grain":"day","unit":"ratio"},
  {"metric_id":"total_consumption","name":"总用电量","definition":"SUM of meter_reading.consumption_kwh",
   "formula":"SUM(consumption_kwh)",
   "required_fields":["meter_reading.consumption_kwh"],"default_time_grain":"day","unit":"kwh"},
  {"metric_id":"loss_share","name":"线损占用电比","definition":"line loss as a share of metered consumption",
   "formula":"SUM(loss_kwh) / NULLIF(SUM(consumption_kwh), 0)",
   "required_fields":["power_supply.loss_kwh","meter_reading.consumption_kwh"],"default_time_grain":"day","unit":"ratio"}
]`

const plannerTemplateCatalogue = `[
  {"template_id":"trend_template","intent":"trend","allowed_aggs":["sum"],
   "allowed_funcs":["date_format","yearweek","from_unixtime","unix_timestamp"],
   "required_clauses":["time_range","time_grain","group_by_time"]},
  {"template_id":"aggregate_template","intent":"aggregate","allowed_aggs":["sum","avg","max","min"],
   "allowed_funcs":[],"required_clauses":["time_range"]},
  {"template_id":"rank_template","intent":"rank","allowed_aggs":["sum"],
   "allowed_funcs":[],"required_clauses":["order_by","limit"]}
]`

const plannerTrendQuestion = "2024年1月各区域线损率趋势"

func newTestPlanner(t *testing.T, client llm.Client, opts Options) *Planner {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	schemaKB, err := kb.NewSchemaKB(write("schema_kb.json", plannerSchemaCatalogue))
	require.NoError(t, err)
	joinKB, err := kb.NewJoinKB(write("join_kb.json", plannerJoinCatalogue))
	require.NoError(t, err)
	metricKB, err := kb.NewMetricKB(write("metric_kb.json", plannerMetricCatalogue))
	require.NoError(t, err)
	templateKB, err := kb.NewTemplateKB(write("template_kb.json", plannerTemplateCatalogue))
	require.NoError(t, err)

	p, err := New(client, schemaKB, joinKB, metricKB, templateKB, opts, nil)
	require.NoError(t, err)
	return p
}

func janRange() *model.TimeRange {
	return &model.TimeRange{Start: "2024-01-01", End: "2024-01-31"}
}

// scriptedClient 按脚本逐次回放计划或错误，并记录收到的提示词
type scriptedClient struct {
	replies []map[string]any
	errs    []error
	prompts []string
}

var _ llm.Client = (*scriptedClient)(nil)

func (c *scriptedClient) GenerateJSON(_ context.Context, prompt string, _ map[string]any) (map[string]any, error) {
	i := len(c.prompts)
	c.prompts = append(c.prompts, prompt)
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.replies) {
		return c.replies[i], nil
	}
	return nil, fmt.Errorf("scripted client: unexpected call %d", i)
}

func (c *scriptedClient) GenerateText(context.Context, string) (string, error) {
	return "", nil
}

// plannerTrendPlan passes validation against the evidence retrieved for
// plannerTrendQuestion.
func plannerTrendPlan() map[string]any {
	return map[string]any{
		"version":        "1.0",
		"intent":         "trend",
		"metric_id":      "line_loss_rate",
		"metric_params":  map[string]any{},
		"dimensions":     []any{map[string]any{"table": "region", "field": "region_name"}},
		"time_range":     map[string]any{"start": "2024-01-01", "end": "2024-01-31"},
		"time_grain":     "day",
		"filters":        []any{},
		"join_path_id":   "power_supply_region",
		"sort":           map[string]any{"by": "time_bucket", "order": "asc"},
		"limit":          float64(200),
		"output":         map[string]any{"format": "table", "chart_suggest": "line"},
		"confidence":     0.8,
		"clarifications": []any{},
	}
}

func plannerAggregatePlan(metricID string) map[string]any {
	return map[string]any{
		"version":        "1.0",
		"intent":         "aggregate",
		"metric_id":      metricID,
		"metric_params":  map[string]any{},
		"dimensions":     []any{},
		"time_range":     map[string]any{"start": "2024-01-01", "end": "2024-01-31"},
		"time_grain":     "day",
		"filters":        []any{},
		"join_path_id":   "NONE",
		"sort":           map[string]any{"by": "metric", "order": "desc"},
		"limit":          float64(200),
		"output":         map[string]any{"format": "table", "chart_suggest": "none"},
		"confidence":     0.7,
		"clarifications": []any{},
	}
}

func TestGeneratePlanTrendQuestion(t *testing.T) {
	p := newTestPlanner(t, &llm.MockClient{}, Options{})

	res, err := p.GeneratePlan(context.Background(), plannerTrendQuestion, nil, janRange())
	require.NoError(t, err)

	assert.Equal(t, model.IntentTrend, res.Plan.Intent)
	assert.Equal(t, "line_loss_rate", res.Plan.MetricID)
	assert.Equal(t, "power_supply_region", res.Plan.JoinPathID)
	assert.Equal(t, model.GrainDay, res.Plan.TimeGrain)
	require.Len(t, res.Plan.Dimensions, 1)
	assert.Equal(t, "region.region_name", res.Plan.Dimensions[0].Key())

	assert.Empty(t, res.Errors)
	assert.Equal(t, "line_loss_rate", res.Metric.MetricID)
	assert.NotNil(t, res.InitialPlan)
	assert.Contains(t, res.EvidenceSummary, "line_loss_rate")
	assert.Contains(t, res.EvidenceSummary, "power_supply_region")
}

func TestGeneratePlanRejectsNonJSONOutput(t *testing.T) {
	p := newTestPlanner(t, &llm.MockClient{ForceInvalid: true}, Options{})

	_, err := p.GeneratePlan(context.Background(), plannerTrendQuestion, nil, janRange())
	require.Error(t, err)
	assert.Equal(t, model.KindLLMOutputNotJSON, model.KindOf(err))
}

func TestGeneratePlanRejectsSQLText(t *testing.T) {
	p := newTestPlanner(t, &llm.MockClient{ForceInvalid: true, ForceSQL: true}, Options{})

	_, err := p.GeneratePlan(context.Background(), plannerTrendQuestion, nil, janRange())
	require.Error(t, err)
	assert.Equal(t, model.KindLLMOutputUnsafe, model.KindOf(err))
	assert.Contains(t, err.Error(), "llm output contains SQL keywords")
}

// 通过校验的计划仍要过关键词收口：夹带 SQL 词的澄清文本会被拒掉
func TestGeneratePlanGuardsAcceptedPlanJSON(t *testing.T) {
	plan := plannerTrendPlan()
	plan["clarifications"] = []any{"please select a metric"}
	client := &scriptedClient{replies: []map[string]any{plan}}
	p := newTestPlanner(t, client, Options{})

	res, err := p.GeneratePlan(context.Background(), plannerTrendQuestion, nil, janRange())
	require.Error(t, err)
	assert.Equal(t, model.KindLLMOutputUnsafe, model.KindOf(err))
	assert.Contains(t, err.Error(), "plan JSON contains SQL keywords")
	assert.Empty(t, res.Errors, "validation passed, the keyword guard rejected it")
}

func TestGeneratePlanTimeoutTrimRetry(t *testing.T) {
	client := &scriptedClient{
		replies: []map[string]any{nil, plannerTrendPlan()},
		errs:    []error{llm.ErrTimeout, nil},
	}
	p := newTestPlanner(t, client, Options{RetryOnTimeout: true, TrimTopK: 1})

	res, err := p.GeneratePlan(context.Background(), plannerTrendQuestion, nil, janRange())
	require.NoError(t, err)
	require.Len(t, client.prompts, 2)

	assert.Contains(t, client.prompts[0], inputsMarker)
	assert.Contains(t, client.prompts[1], inputsTrimmedMarker)
	assert.NotContains(t, client.prompts[1], inputsMarker)

	// 裁剪只影响重试载荷，证据包和校验仍用全量检索结果
	assert.Contains(t, client.prompts[0], "loss_share")
	assert.NotContains(t, client.prompts[1], "loss_share")
	assert.Equal(t, "line_loss_rate", res.Plan.MetricID)
	assert.GreaterOrEqual(t, len(res.Evidence.MetricCandidates), 2)
}

func TestGeneratePlanTimeoutWithoutRetry(t *testing.T) {
	client := &scriptedClient{errs: []error{llm.ErrTimeout}}
	p := newTestPlanner(t, client, Options{})

	_, err := p.GeneratePlan(context.Background(), plannerTrendQuestion, nil, janRange())
	require.ErrorIs(t, err, llm.ErrTimeout)
	assert.Len(t, client.prompts, 1)
	assert.Empty(t, model.KindOf(err))
}

func TestGeneratePlanRepairsJoinPath(t *testing.T) {
	broken := plannerTrendPlan()
	broken["join_path_id"] = "ghost_path"
	client := &scriptedClient{replies: []map[string]any{broken, plannerTrendPlan()}}
	p := newTestPlanner(t, client, Options{})

	res, err := p.GeneratePlan(context.Background(), plannerTrendQuestion, nil, janRange())
	require.NoError(t, err)
	require.Len(t, client.prompts, 2)

	assert.Contains(t, client.prompts[1], "original_plan")
	assert.Contains(t, client.prompts[1], model.CodeJoinPathNotFound)

	assert.Equal(t, "ghost_path", res.InitialPlan["join_path_id"], "pre-repair snapshot kept")
	assert.Equal(t, "power_supply_region", res.Plan.JoinPathID)
	assert.Empty(t, res.Errors)
}

// 修复轮也没救回来就拒绝请求，残留错误随结果带出去供审计
func TestGeneratePlanFailsClosedAfterRepair(t *testing.T) {
	broken := plannerTrendPlan()
	broken["join_path_id"] = "ghost_path"
	stillBroken := plannerTrendPlan()
	stillBroken["join_path_id"] = "ghost_path"
	client := &scriptedClient{replies: []map[string]any{broken, stillBroken}}
	p := newTestPlanner(t, client, Options{})

	res, err := p.GeneratePlan(context.Background(), plannerTrendQuestion, nil, janRange())
	require.Error(t, err)
	assert.Equal(t, model.KindPlanValidationFailed, model.KindOf(err))
	assert.Contains(t, err.Error(), "plan validation failed")

	assert.Len(t, client.prompts, 2)
	assert.True(t, model.HasCode(res.Errors, model.CodeJoinPathNotFound))
	assert.Equal(t, "ghost_path", res.PlanMap["join_path_id"])
}

func TestGeneratePlanAutoFixesMetricID(t *testing.T) {
	client := &scriptedClient{replies: []map[string]any{plannerAggregatePlan("made_up_metric")}}
	p := newTestPlanner(t, client, Options{})

	res, err := p.GeneratePlan(context.Background(), "2024年1月用电量合计", nil, janRange())
	require.NoError(t, err)

	assert.Len(t, client.prompts, 1, "auto-fix resolves it without a repair round")
	assert.Equal(t, "made_up_metric", res.InitialPlan["metric_id"])
	assert.Equal(t, "total_consumption", res.Plan.MetricID)
	assert.Equal(t, "total_consumption", res.Metric.MetricID)
	assert.Len(t, res.Evidence.MetricCandidates, 3, "full metric catalogue pulled in for rescoring")
}

// 检索全空时的两种行为：开补齐让模型直接看到全量目录，不开则靠指标自修兜底
func TestGeneratePlanBackfillKnob(t *testing.T) {
	question := "hello backlog review"

	withBackfill := newTestPlanner(t, &llm.MockClient{}, Options{BackfillEmptyRetrieval: true})
	res, err := withBackfill.GeneratePlan(context.Background(), question, nil, janRange())
	require.NoError(t, err)
	assert.Equal(t, "line_loss_rate", res.InitialPlan["metric_id"])
	assert.Equal(t, "line_loss_rate", res.Plan.MetricID)

	withoutBackfill := newTestPlanner(t, &llm.MockClient{}, Options{})
	res, err = withoutBackfill.GeneratePlan(context.Background(), question, nil, janRange())
	require.NoError(t, err)
	assert.Equal(t, "", res.InitialPlan["metric_id"], "mock saw an empty candidate list")
	assert.Equal(t, "line_loss_rate", res.Plan.MetricID, "auto-fix picked the first catalogue metric")
}

func TestGeneratePlanNoLLM(t *testing.T) {
	t.Run("needs explicit time range", func(t *testing.T) {
		client := &scriptedClient{}
		p := newTestPlanner(t, client, Options{Mode: ModeNoLLM})

		_, err := p.GeneratePlan(context.Background(), "用电量", nil, nil)
		require.Error(t, err)
		assert.Equal(t, model.KindNoLLMInfeasible, model.KindOf(err))
		assert.Contains(t, err.Error(), "explicit time_range")
		assert.Empty(t, client.prompts, "no model call in no_llm mode")
	})

	t.Run("fixed metric plan", func(t *testing.T) {
		client := &scriptedClient{}
		p := newTestPlanner(t, client, Options{Mode: ModeNoLLM, FixedMetricID: "total_consumption"})

		res, err := p.GeneratePlan(context.Background(), "用电量", nil, janRange())
		require.NoError(t, err)
		assert.Empty(t, client.prompts)

		assert.Equal(t, model.IntentAggregate, res.Plan.Intent)
		assert.Equal(t, "total_consumption", res.Plan.MetricID)
		assert.Equal(t, model.JoinPathNone, res.Plan.JoinPathID)
		assert.InDelta(t, 0.1, res.Plan.Confidence, 1e-9)
		require.Len(t, res.Plan.Clarifications, 1)
		assert.Contains(t, res.Plan.Clarifications[0], "no_llm mode")
	})

	t.Run("fixed metric injected from catalogue", func(t *testing.T) {
		// 问题检索不到线损率，固定指标仍要能从目录注入证据包
		p := newTestPlanner(t, &scriptedClient{}, Options{Mode: ModeNoLLM, FixedMetricID: "line_loss_rate"})

		res, err := p.GeneratePlan(context.Background(), "用电量", nil, janRange())
		require.NoError(t, err)
		assert.Equal(t, "line_loss_rate", res.Plan.MetricID)

		_, ok := res.Evidence.MetricByID("line_loss_rate")
		assert.True(t, ok, "fixed metric lands in the evidence bundle")
	})

	t.Run("unknown fixed metric", func(t *testing.T) {
		p := newTestPlanner(t, &scriptedClient{}, Options{Mode: ModeNoLLM, FixedMetricID: "ghost_metric"})

		_, err := p.GeneratePlan(context.Background(), "用电量", nil, janRange())
		require.Error(t, err)
		assert.Equal(t, model.KindNoLLMInfeasible, model.KindOf(err))
		assert.Contains(t, err.Error(), "not found in any catalogue")
	})

	t.Run("no covering join path", func(t *testing.T) {
		// loss_share 跨 power_supply 和 meter_reading，目录里没有直连路径
		p := newTestPlanner(t, &scriptedClient{}, Options{Mode: ModeNoLLM, FixedMetricID: "loss_share"})

		_, err := p.GeneratePlan(context.Background(), "用电量", nil, janRange())
		require.Error(t, err)
		assert.Equal(t, model.KindNoLLMInfeasible, model.KindOf(err))
		assert.Contains(t, err.Error(), "no join path covers")
	})
}

func TestTrimEvidence(t *testing.T) {
	bundle := model.EvidenceBundle{
		MetricCandidates: []model.MetricDef{{MetricID: "m1"}, {MetricID: "m2"}, {MetricID: "m3"}},
		SchemaCandidates: []model.SchemaEntity{{Table: "t", Field: "a"}, {Table: "t", Field: "b"}},
		JoinPaths:        []model.JoinPath{{JoinPathID: "j1"}, {JoinPathID: "j2"}},
		TemplateRules:    []model.TemplateRule{{TemplateID: "tpl1"}},
	}

	trimmed := trimEvidence(bundle, 2)
	assert.Equal(t, []string{"m1", "m2"}, trimmed.MetricIDs())
	assert.Len(t, trimmed.SchemaCandidates, 2)
	assert.Len(t, trimmed.JoinPaths, 2)
	assert.Len(t, trimmed.TemplateRules, 1)

	floor := trimEvidence(bundle, 0)
	assert.Len(t, floor.MetricCandidates, 1, "trim keeps at least one entry")
}

func TestSummarizeEvidence(t *testing.T) {
	bundle := model.EvidenceBundle{
		MetricCandidates: []model.MetricDef{{MetricID: "m1"}},
		SchemaCandidates: []model.SchemaEntity{{Table: "t", Field: "f"}},
		JoinPaths:        []model.JoinPath{{JoinPathID: "j1"}},
		TemplateRules:    []model.TemplateRule{{TemplateID: "tpl1"}},
	}
	assert.Equal(t, "metrics=[m1] schema=[t.f] joins=[j1] templates=[tpl1]", summarizeEvidence(bundle))
}

func TestCollectSuggestions(t *testing.T) {
	errs := []model.ValidationError{
		{Suggestions: []string{"a", "b", "a"}},
		{Suggestions: []string{"b", "c", "d"}},
	}
	assert.Equal(t, []string{"a", "b", "c"}, collectSuggestions(errs, 3))
	assert.Equal(t, []string{"a", "b", "c", "d"}, collectSuggestions(errs, 8))
	assert.Empty(t, collectSuggestions(nil, 4))
}
