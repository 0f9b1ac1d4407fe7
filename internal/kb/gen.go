package kb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"plansql/internal/adapter"
	"plansql/internal/model"
)

// 本文件负责由数据库自省结果生成目录底稿。schema 与 join 目录可以全自动
// 生成；metric 目录只生成 SUM 口径的骨架，比率等业务口径仍需人工补充；
// template 目录固定五套意图模板。

// numericDataTypes 视为可聚合数值列的列类型
var numericDataTypes = map[string]bool{
	"int":       true,
	"bigint":    true,
	"smallint":  true,
	"mediumint": true,
	"tinyint":   true,
	"decimal":   true,
	"float":     true,
	"double":    true,
	"numeric":   true,
}

// generatedTimeNames 自省时额外按名字识别的时间列
var generatedTimeNames = map[string]bool{
	"created_at": true,
	"updated_at": true,
}

func isTimeColumn(name, dataType string) bool {
	return model.IsTimeFieldName(name) ||
		generatedTimeNames[strings.ToLower(name)] ||
		model.IsTimeDataType(dataType)
}

// BuildSchemaCatalogue maps introspected columns onto schema entities and
// derives their quality tags (primary_key, foreign_key, time, metric).
// Aliases and units cannot be introspected and are left for hand curation.
func BuildSchemaCatalogue(cat *adapter.Catalog) []model.SchemaEntity {
	fkSet := make(map[string]bool, len(cat.ForeignKeys))
	for _, fk := range cat.ForeignKeys {
		fkSet[fk.Table+"."+fk.Field] = true
	}

	items := make([]model.SchemaEntity, 0, len(cat.Columns))
	for _, col := range cat.Columns {
		dataType := strings.ToLower(col.DataType)
		tags := []string{}
		if col.PrimaryKey {
			tags = append(tags, "primary_key")
		}
		if fkSet[col.Table+"."+col.Name] {
			tags = append(tags, "foreign_key")
		}
		if isTimeColumn(col.Name, dataType) {
			tags = append(tags, "time")
		}
		if numericDataTypes[dataType] {
			tags = append(tags, "metric")
		}
		items = append(items, model.SchemaEntity{
			Table:       col.Table,
			Field:       col.Name,
			FieldDesc:   col.Comment,
			Aliases:     []string{},
			Unit:        "",
			DataType:    dataType,
			QualityTags: tags,
		})
	}
	return items
}

// BuildJoinCatalogue derives one single-edge inner join path per foreign
// key. Repeated table pairs get a numeric suffix so path ids stay unique.
func BuildJoinCatalogue(cat *adapter.Catalog) []model.JoinPath {
	counter := make(map[string]int)
	paths := make([]model.JoinPath, 0, len(cat.ForeignKeys))
	for _, fk := range cat.ForeignKeys {
		key := fk.Table + "_" + fk.RefTable
		counter[key]++
		id := key
		if counter[key] > 1 {
			id = fmt.Sprintf("%s_%d", key, counter[key])
		}
		paths = append(paths, model.JoinPath{
			JoinPathID:  id,
			Description: fmt.Sprintf("%s to %s", fk.Table, fk.RefTable),
			Tables:      []string{fk.Table, fk.RefTable},
			Edges: []model.JoinEdge{{
				LeftTable:  fk.Table,
				LeftField:  fk.Field,
				RightTable: fk.RefTable,
				RightField: fk.RefField,
				JoinType:   "inner",
			}},
		})
	}
	return paths
}

// BuildMetricCatalogue emits a SUM skeleton metric per numeric column.
// 主键、外键列不生成指标；编译器只认 SUM 与两字段比率两种口径，
// 所以骨架不生成 AVG/MAX/MIN 变体。
func BuildMetricCatalogue(items []model.SchemaEntity) []model.MetricDef {
	var metrics []model.MetricDef
	for _, item := range items {
		if !numericDataTypes[strings.ToLower(item.DataType)] || isKeyColumn(item) {
			continue
		}
		label := strings.TrimSpace(item.FieldDesc)
		if label == "" {
			label = item.Field
		}
		metrics = append(metrics, model.MetricDef{
			MetricID:         fmt.Sprintf("sum_%s_%s", item.Table, item.Field),
			Name:             "sum_" + label,
			Definition:       fmt.Sprintf("SUM of %s.%s", item.Table, item.Field),
			Formula:          fmt.Sprintf("SUM(%s)", item.Field),
			RequiredFields:   []string{item.Key()},
			DefaultTimeGrain: model.GrainDay,
			Unit:             item.Unit,
		})
	}
	return metrics
}

func isKeyColumn(item model.SchemaEntity) bool {
	for _, tag := range item.QualityTags {
		if tag == "primary_key" || tag == "foreign_key" {
			return true
		}
	}
	return false
}

var templateAggs = []string{"sum", "avg", "max", "min"}

var templateTimeFuncs = []string{"date_format", "yearweek", "from_unixtime", "unix_timestamp"}

// BuiltinTemplates returns the five intent templates shared by the seed
// catalogue and the generated skeletons.
func BuiltinTemplates() []model.TemplateRule {
	return []model.TemplateRule{
		{
			TemplateID:      "trend_template",
			Intent:          model.IntentTrend,
			AllowedAggs:     templateAggs,
			AllowedFuncs:    templateTimeFuncs,
			RequiredClauses: []string{"time_range", "time_grain", "group_by_time"},
		},
		{
			TemplateID:      "rank_template",
			Intent:          model.IntentRank,
			AllowedAggs:     templateAggs,
			AllowedFuncs:    []string{},
			RequiredClauses: []string{"order_by", "limit"},
		},
		{
			TemplateID:      "aggregate_template",
			Intent:          model.IntentAggregate,
			AllowedAggs:     templateAggs,
			AllowedFuncs:    []string{},
			RequiredClauses: []string{"time_range"},
		},
		{
			TemplateID:      "compare_template",
			Intent:          model.IntentCompare,
			AllowedAggs:     templateAggs,
			AllowedFuncs:    templateTimeFuncs,
			RequiredClauses: []string{"time_range"},
		},
		{
			TemplateID:      "detail_template",
			Intent:          model.IntentDetail,
			AllowedAggs:     templateAggs,
			AllowedFuncs:    []string{},
			RequiredClauses: []string{"time_range", "limit"},
		},
	}
}

// WriteCatalogue writes a catalogue as indented JSON, creating parent
// directories as needed.
func WriteCatalogue(path string, items any) error {
	raw, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalogue: %w", err)
	}
	raw = append(raw, '\n')
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create catalogue dir: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write catalogue: %w", err)
	}
	return nil
}
