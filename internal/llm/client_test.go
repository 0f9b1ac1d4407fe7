package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plansql/internal/model"
)

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"leading prose", "当然，这是计划：{\"a\":1} 以上", `{"a":1}`, true},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`, true},
		{"brace inside string", `{"a":"}"}`, `{"a":"}"}`, true},
		{"escaped quote", `{"a":"\"}"}`, `{"a":"\"}"}`, true},
		{"no object", "plain text", "", false},
		{"unbalanced", `{"a":1`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractJSONObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return false }

func TestWrapTimeout(t *testing.T) {
	assert.NoError(t, wrapTimeout(nil))

	err := wrapTimeout(fmt.Errorf("call: %w", context.DeadlineExceeded))
	assert.True(t, errors.Is(err, ErrTimeout), "deadline exceeded maps to ErrTimeout")

	err = wrapTimeout(&fakeNetError{timeout: true})
	assert.True(t, errors.Is(err, ErrTimeout), "net timeout maps to ErrTimeout")

	plain := errors.New("boom")
	assert.Equal(t, plain, wrapTimeout(plain))
	assert.False(t, errors.Is(wrapTimeout(&fakeNetError{}), ErrTimeout))
}

func TestDecodeJSONObject(t *testing.T) {
	obj, ok := decodeJSONObject(` {"a": 1} `)
	require.True(t, ok)
	assert.Equal(t, float64(1), obj["a"])

	_, ok = decodeJSONObject(`[1,2]`)
	assert.False(t, ok)
	_, ok = decodeJSONObject(`null`)
	assert.False(t, ok)
	_, ok = decodeJSONObject(`not json`)
	assert.False(t, ok)
}

func mockPrompt(t *testing.T, question string, payload map[string]any) string {
	t.Helper()
	full := map[string]any{
		"question": question,
		"time_range": map[string]any{
			"start": "2024-05-01",
			"end":   "2024-05-31",
		},
		"evidence": payload,
	}
	raw, err := json.Marshal(full)
	require.NoError(t, err)
	return "请根据以下输入生成查询计划。\n<INPUTS>\n" + string(raw) + "\n</INPUTS>"
}

func powerEvidence() map[string]any {
	return map[string]any{
		"metric_candidates": []any{
			map[string]any{
				"metric_id":          "total_consumption",
				"name":               "总用电量",
				"required_fields":    []any{"meter_reading.consumption_kwh"},
				"default_time_grain": "day",
			},
			map[string]any{
				"metric_id":          "line_loss_rate",
				"name":               "线损率",
				"required_fields":    []any{"power_supply.loss_kwh", "power_supply.supply_kwh"},
				"default_time_grain": "day",
			},
		},
		"schema_candidates": []any{
			map[string]any{"table": "meter_reading", "field": "ts", "data_type": "datetime"},
			map[string]any{"table": "region", "field": "region_name", "data_type": "varchar"},
		},
		"join_paths": []any{
			map[string]any{
				"join_path_id": "meter_region",
				"tables":       []any{"meter_reading", "region"},
			},
		},
	}
}

func TestMockClientTrendPlan(t *testing.T) {
	client := &MockClient{}
	plan, err := client.GenerateJSON(context.Background(), mockPrompt(t, "最近一个月每天的用电量趋势", powerEvidence()), nil)
	require.NoError(t, err)

	assert.Equal(t, model.PlanVersion, plan["version"])
	assert.Equal(t, model.IntentTrend, plan["intent"])
	assert.Equal(t, "total_consumption", plan["metric_id"])
	assert.Equal(t, "day", plan["time_grain"])
	assert.Equal(t, model.JoinPathNone, plan["join_path_id"], "single table needs no join")

	tr, ok := plan["time_range"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2024-05-01", tr["start"])

	sortSpec, ok := plan["sort"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "time_bucket", sortSpec["by"])
	assert.Equal(t, "asc", sortSpec["order"])

	// JSON 往返后数值是 float64
	assert.Equal(t, float64(model.DefaultLimit), plan["limit"])
	assert.Equal(t, 0.6, plan["confidence"])
}

func TestMockClientMetricFamilies(t *testing.T) {
	client := &MockClient{}
	plan, err := client.GenerateJSON(context.Background(), mockPrompt(t, "本月全网线损率是多少", powerEvidence()), nil)
	require.NoError(t, err)
	assert.Equal(t, "line_loss_rate", plan["metric_id"])
	assert.Equal(t, model.IntentAggregate, plan["intent"])
}

func TestMockClientRankPicksDimensionAndJoin(t *testing.T) {
	client := &MockClient{}
	plan, err := client.GenerateJSON(context.Background(), mockPrompt(t, "各区域用电量排名 top 10", powerEvidence()), nil)
	require.NoError(t, err)

	assert.Equal(t, model.IntentRank, plan["intent"])
	assert.Equal(t, float64(10), plan["limit"])

	dims, ok := plan["dimensions"].([]any)
	require.True(t, ok)
	require.Len(t, dims, 1)
	dim := dims[0].(map[string]any)
	assert.Equal(t, "region", dim["table"])
	assert.Equal(t, "region_name", dim["field"], "time columns are never dimensions")

	assert.Equal(t, "meter_region", plan["join_path_id"], "two tables referenced, path required")

	sortSpec := plan["sort"].(map[string]any)
	assert.Equal(t, "metric", sortSpec["by"])
	assert.Equal(t, "desc", sortSpec["order"])
}

func TestMockClientTrimmedMarker(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"question": "用电量趋势",
		"evidence": powerEvidence(),
	})
	require.NoError(t, err)
	prompt := "<INPUTS_TRIMMED>\n" + string(raw)

	client := &MockClient{}
	plan, err := client.GenerateJSON(context.Background(), prompt, nil)
	require.NoError(t, err)
	assert.Equal(t, model.IntentTrend, plan["intent"])

	tr := plan["time_range"].(map[string]any)
	assert.Equal(t, "2024-01-01", tr["start"], "missing range falls back to the fixed window")
}

func TestMockClientForceInvalid(t *testing.T) {
	client := &MockClient{ForceInvalid: true}
	_, err := client.GenerateJSON(context.Background(), "whatever", nil)

	var notJSON *NotJSONError
	require.ErrorAs(t, err, &notJSON)
	assert.Equal(t, "mock invalid output", notJSON.Raw)

	client.ForceSQL = true
	_, err = client.GenerateJSON(context.Background(), "whatever", nil)
	require.ErrorAs(t, err, &notJSON)
	assert.Equal(t, "SELECT * FROM t", notJSON.Raw)
}
