package kb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalogue(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const schemaCatalogue = `[
  {"table":"feeder","field":"feeder_id","field_desc":"馈线编号","aliases":["馈线"],"unit":"","data_type":"varchar","quality_tags":["primary_key"]},
  {"table":"feeder","field":"ts","field_desc":"采集时间","aliases":[],"unit":"","data_type":"datetime","quality_tags":["time"]},
  {"table":"region","field":"region_name","field_desc":"区域名称","aliases":["区域"],"unit":"","data_type":"varchar","quality_tags":[]}
]`

func TestSchemaKBQueryAndTimeFields(t *testing.T) {
	kb, err := NewSchemaKB(writeCatalogue(t, "schema_kb.json", schemaCatalogue))
	require.NoError(t, err)

	hits := kb.Query("feeder 馈线", 2)
	require.NotEmpty(t, hits)
	assert.Equal(t, "feeder", hits[0].Table)

	times := kb.TimeFields()
	require.Len(t, times, 1)
	assert.Equal(t, "feeder.ts", times[0].Key())
	assert.Len(t, kb.All(), 3)
}

func TestSchemaKBRejectsUnknownFields(t *testing.T) {
	path := writeCatalogue(t, "schema_kb.json",
		`[{"table":"t","field":"f","field_desc":"","aliases":[],"unit":"","data_type":"int","quality_tags":[],"bogus":1}]`)
	_, err := NewSchemaKB(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestJoinKBAdjacencyAndLookup(t *testing.T) {
	path := writeCatalogue(t, "join_kb.json", `[
  {"join_path_id":"feeder_region","description":"feeder to region","tables":["feeder","region"],
   "edges":[{"left_table":"feeder","left_field":"region_id","right_table":"region","right_field":"region_id","join_type":"inner"}]},
  {"join_path_id":"bills_region","description":"bills to region","tables":["bills","region"],
   "edges":[{"left_table":"bills","left_field":"region_id","right_table":"region","right_field":"region_id","join_type":"left"}]}
]`)
	kb, err := NewJoinKB(path)
	require.NoError(t, err)

	jp, ok := kb.ByID("feeder_region")
	require.True(t, ok)
	assert.Equal(t, []string{"feeder", "region"}, jp.Tables)

	_, ok = kb.ByID("missing")
	assert.False(t, ok)

	adj := kb.Adjacency()
	assert.Equal(t, []string{"region"}, adj["feeder"])
	assert.Equal(t, []string{"bills", "feeder"}, adj["region"])

	components := kb.Components()
	require.Len(t, components, 1)
	assert.Equal(t, []string{"bills", "feeder", "region"}, components[0])
}

func TestJoinKBQueryRanksByDescription(t *testing.T) {
	path := writeCatalogue(t, "join_kb.json", `[
  {"join_path_id":"p1","description":"meter readings per region","tables":["meter_reading","region"],"edges":[]},
  {"join_path_id":"p2","description":"bills per user","tables":["bills","user"],"edges":[]}
]`)
	kb, err := NewJoinKB(path)
	require.NoError(t, err)

	hits := kb.Query("region meter", 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, "p1", hits[0].JoinPathID)
}

func TestMetricKBLookup(t *testing.T) {
	path := writeCatalogue(t, "metric_kb.json", `[
  {"metric_id":"line_loss_rate","name":"线损率","definition":"line loss ratio","formula":"SUM(loss)/NULLIF(SUM(supply),0)",
   "required_fields":["power_supply.loss_kwh","power_supply.supply_kwh"],"default_time_grain":"day","unit":"ratio"},
  {"metric_id":"total_consumption","name":"总用电量","definition":"total consumption kwh","formula":"SUM(consumption_kwh)",
   "required_fields":["meter_reading.consumption_kwh"],"default_time_grain":"day","unit":"kWh"}
]`)
	kb, err := NewMetricKB(path)
	require.NoError(t, err)

	m, ok := kb.ByID("total_consumption")
	require.True(t, ok)
	assert.Equal(t, []string{"meter_reading.consumption_kwh"}, m.RequiredFields)

	hits := kb.Query("线损", 1)
	require.Len(t, hits, 1)
	assert.Equal(t, "line_loss_rate", hits[0].MetricID)
}

func TestTemplateKBByIntent(t *testing.T) {
	path := writeCatalogue(t, "template_kb.json", `[
  {"template_id":"trend_template","intent":"trend","allowed_aggs":["sum"],
   "allowed_funcs":["date_format","yearweek","from_unixtime","unix_timestamp"],
   "required_clauses":["time_range","time_grain","group_by_time"]},
  {"template_id":"rank_template","intent":"rank","allowed_aggs":["sum"],"allowed_funcs":[],
   "required_clauses":["order_by","limit"]}
]`)
	kb, err := NewTemplateKB(path)
	require.NoError(t, err)

	rules := kb.ByIntent("trend")
	require.Len(t, rules, 1)
	assert.Equal(t, "trend_template", rules[0].TemplateID)
	assert.Empty(t, kb.ByIntent("detail"))
}
