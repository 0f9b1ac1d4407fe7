package kb

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plansql/internal/adapter"
	"plansql/internal/model"
)

const sampleDDL = `
-- 电网示例库
CREATE TABLE region (
    region_id VARCHAR(32) PRIMARY KEY COMMENT '区域编号',
    region_name VARCHAR(64) COMMENT '区域名称'
);

/* 供电量日表 */
CREATE TABLE IF NOT EXISTS ` + "`power_supply`" + ` (
    supply_id BIGINT,
    region_id VARCHAR(32) REFERENCES region(region_id),
    supply_kwh DECIMAL(18,4) COMMENT '供电量',
    ts DATETIME,
    PRIMARY KEY (supply_id),
    KEY idx_ts (ts)
);

CREATE TABLE outage_event (
    event_id VARCHAR(32) PRIMARY KEY,
    region_id VARCHAR(32),
    event_time DATETIME,
    FOREIGN KEY (region_id) REFERENCES region (region_id)
);
`

func TestParseDDLText(t *testing.T) {
	cat, err := ParseDDLText(sampleDDL)
	require.NoError(t, err)

	require.Len(t, cat.Columns, 9)
	assert.Equal(t, adapter.Column{
		Table: "region", Name: "region_id", DataType: "varchar",
		Comment: "区域编号", PrimaryKey: true,
	}, cat.Columns[0])
	assert.Equal(t, "region_name", cat.Columns[1].Name)
	assert.Equal(t, "区域名称", cat.Columns[1].Comment)

	// 表级主键约束回填到列上
	assert.Equal(t, "supply_id", cat.Columns[2].Name)
	assert.True(t, cat.Columns[2].PrimaryKey)
	assert.Equal(t, "bigint", cat.Columns[2].DataType)
	assert.Equal(t, "decimal", cat.Columns[4].DataType)

	require.Len(t, cat.ForeignKeys, 2)
	assert.Equal(t, adapter.ForeignKey{
		Table: "power_supply", Field: "region_id",
		RefTable: "region", RefField: "region_id",
	}, cat.ForeignKeys[0])
	assert.Equal(t, adapter.ForeignKey{
		Table: "outage_event", Field: "region_id",
		RefTable: "region", RefField: "region_id",
	}, cat.ForeignKeys[1])
}

func TestParseDDLTextWithoutCreateTable(t *testing.T) {
	_, err := ParseDDLText("SELECT 1;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CREATE TABLE")
}

func TestBuildSchemaCatalogueTags(t *testing.T) {
	cat := &adapter.Catalog{
		Columns: []adapter.Column{
			{Table: "power_supply", Name: "supply_id", DataType: "BIGINT", PrimaryKey: true},
			{Table: "power_supply", Name: "region_id", DataType: "varchar"},
			{Table: "power_supply", Name: "supply_kwh", DataType: "decimal", Comment: "供电量"},
			{Table: "power_supply", Name: "ts", DataType: "datetime"},
			{Table: "power_supply", Name: "created_at", DataType: "bigint"},
		},
		ForeignKeys: []adapter.ForeignKey{
			{Table: "power_supply", Field: "region_id", RefTable: "region", RefField: "region_id"},
		},
	}

	items := BuildSchemaCatalogue(cat)
	require.Len(t, items, 5)

	byField := make(map[string]model.SchemaEntity)
	for _, item := range items {
		byField[item.Field] = item
	}
	assert.Equal(t, []string{"primary_key", "metric"}, byField["supply_id"].QualityTags)
	assert.Equal(t, []string{"foreign_key"}, byField["region_id"].QualityTags)
	assert.Equal(t, []string{"metric"}, byField["supply_kwh"].QualityTags)
	assert.Equal(t, []string{"time"}, byField["ts"].QualityTags)
	// created_at 按名字识别为时间列，bigint 同时命中数值类型
	assert.Equal(t, []string{"time", "metric"}, byField["created_at"].QualityTags)
	assert.Equal(t, "bigint", byField["supply_id"].DataType)
	assert.Equal(t, "供电量", byField["supply_kwh"].FieldDesc)
}

func TestBuildJoinCatalogueSuffixesDuplicatePairs(t *testing.T) {
	cat := &adapter.Catalog{
		ForeignKeys: []adapter.ForeignKey{
			{Table: "outage_event", Field: "region_id", RefTable: "region", RefField: "region_id"},
			{Table: "outage_event", Field: "repair_region_id", RefTable: "region", RefField: "region_id"},
			{Table: "feeder", Field: "region_id", RefTable: "region", RefField: "region_id"},
		},
	}

	paths := BuildJoinCatalogue(cat)
	require.Len(t, paths, 3)
	assert.Equal(t, "outage_event_region", paths[0].JoinPathID)
	assert.Equal(t, "outage_event_region_2", paths[1].JoinPathID)
	assert.Equal(t, "feeder_region", paths[2].JoinPathID)

	assert.Equal(t, "outage_event to region", paths[0].Description)
	assert.Equal(t, []string{"outage_event", "region"}, paths[0].Tables)
	require.Len(t, paths[1].Edges, 1)
	assert.Equal(t, "repair_region_id", paths[1].Edges[0].LeftField)
	assert.Equal(t, "inner", paths[1].Edges[0].JoinType)
}

func TestBuildMetricCatalogueSkipsKeyColumns(t *testing.T) {
	items := []model.SchemaEntity{
		entity("power_supply", "supply_id", "", "bigint", "", []string{"primary_key", "metric"}),
		entity("power_supply", "region_id", "", "int", "", []string{"foreign_key", "metric"}),
		entity("power_supply", "supply_kwh", "供电量", "decimal", "kwh", []string{"metric"}),
		entity("power_supply", "loss_kwh", "", "decimal", "kwh", []string{"metric"}),
		entity("power_supply", "remark", "备注", "varchar", "", nil),
	}

	metrics := BuildMetricCatalogue(items)
	require.Len(t, metrics, 2)

	assert.Equal(t, "sum_power_supply_supply_kwh", metrics[0].MetricID)
	assert.Equal(t, "sum_供电量", metrics[0].Name)
	assert.Equal(t, "SUM(supply_kwh)", metrics[0].Formula)
	assert.Equal(t, []string{"power_supply.supply_kwh"}, metrics[0].RequiredFields)
	assert.Equal(t, model.GrainDay, metrics[0].DefaultTimeGrain)
	assert.Equal(t, "kwh", metrics[0].Unit)

	// 无注释时名字退回字段名
	assert.Equal(t, "sum_loss_kwh", metrics[1].Name)
}

func writeSeedCatalogues(t *testing.T) (string, string, string, string) {
	t.Helper()
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema_kb.json")
	joinsPath := filepath.Join(dir, "join_kb.json")
	metricPath := filepath.Join(dir, "metric_kb.json")
	templatePath := filepath.Join(dir, "template_kb.json")
	require.NoError(t, WriteCatalogue(schemaPath, SeedSchema()))
	require.NoError(t, WriteCatalogue(joinsPath, SeedJoins()))
	require.NoError(t, WriteCatalogue(metricPath, SeedMetrics()))
	require.NoError(t, WriteCatalogue(templatePath, SeedTemplates()))
	return schemaPath, joinsPath, metricPath, templatePath
}

func TestSeedCataloguesAreConsistent(t *testing.T) {
	schemaPath, joinsPath, metricPath, templatePath := writeSeedCatalogues(t)

	schema, err := NewSchemaKB(schemaPath)
	require.NoError(t, err)
	joins, err := NewJoinKB(joinsPath)
	require.NoError(t, err)
	metrics, err := NewMetricKB(metricPath)
	require.NoError(t, err)
	templates, err := NewTemplateKB(templatePath)
	require.NoError(t, err)

	assert.Empty(t, Lint(schema, joins, metrics, templates))

	// 六张表通过 region 连成一个连通分量
	components := joins.Components()
	require.Len(t, components, 1)
	assert.Len(t, components[0], 6)

	intents := make(map[string]bool)
	for _, rule := range templates.All() {
		intents[rule.Intent] = true
	}
	assert.Len(t, intents, 5)
}

func TestLintFindsDanglingReferences(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema_kb.json")
	joinsPath := filepath.Join(dir, "join_kb.json")
	metricPath := filepath.Join(dir, "metric_kb.json")
	templatePath := filepath.Join(dir, "template_kb.json")

	require.NoError(t, WriteCatalogue(schemaPath, []model.SchemaEntity{
		entity("feeder", "feeder_id", "", "varchar", "", []string{"primary_key"}),
		entity("feeder", "ts", "", "datetime", "", []string{"time"}),
	}))
	require.NoError(t, WriteCatalogue(joinsPath, []model.JoinPath{
		joinPath("feeder_transformer", "feeder to transformer", "feeder", "feeder_id", "transformer", "feeder_id"),
	}))
	require.NoError(t, WriteCatalogue(metricPath, []model.MetricDef{{
		MetricID:         "load_rate",
		Name:             "负载率",
		RequiredFields:   []string{"feeder.load_kw", "feeder.capacity_kw"},
		DefaultTimeGrain: "quarter",
	}}))
	require.NoError(t, WriteCatalogue(templatePath, []model.TemplateRule{{
		TemplateID: "pivot_template",
		Intent:     "pivot",
	}}))

	schema, err := NewSchemaKB(schemaPath)
	require.NoError(t, err)
	joins, err := NewJoinKB(joinsPath)
	require.NoError(t, err)
	metrics, err := NewMetricKB(metricPath)
	require.NoError(t, err)
	templates, err := NewTemplateKB(templatePath)
	require.NoError(t, err)

	problems := Lint(schema, joins, metrics, templates)
	require.NotEmpty(t, problems)

	joined := ""
	for _, p := range problems {
		joined += p + "\n"
	}
	assert.Contains(t, joined, "table transformer not in schema")
	assert.Contains(t, joined, "transformer.feeder_id not in schema")
	assert.Contains(t, joined, "feeder.load_kw not in schema")
	assert.Contains(t, joined, `unknown default_time_grain "quarter"`)
	assert.Contains(t, joined, `unknown intent "pivot"`)
}

func TestMermaidER(t *testing.T) {
	diagram := MermaidER(SeedSchema(), SeedJoins())

	assert.True(t, strings.HasPrefix(diagram, "erDiagram\n"))
	assert.Contains(t, diagram, `REGION ||--o{ POWER_SUPPLY : "region_id"`)
	assert.Contains(t, diagram, `FEEDER ||--o{ OUTAGE_EVENT : "feeder_id"`)
	assert.Contains(t, diagram, "    BILLS {\n")
	assert.Contains(t, diagram, "float total_amount")
	assert.Contains(t, diagram, "string region_id FK")
	assert.Contains(t, diagram, "datetime ts")
	assert.Contains(t, diagram, "int duration_min")

	// 同一条边出现在多条路径里只画一次
	paths := []model.JoinPath{
		joinPath("bills_region", "bills to region", "bills", "region_id", "region", "region_id"),
		joinPath("bills_region_2", "bills to region", "bills", "region_id", "region", "region_id"),
	}
	dedup := MermaidER(nil, paths)
	assert.Equal(t, 1, strings.Count(dedup, `REGION ||--o{ BILLS : "region_id"`))
}
