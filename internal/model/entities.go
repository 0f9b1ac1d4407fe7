package model

import "strings"

// Time-typed fields are recognised by name or by column type. Both sets are
// shared by retrieval, validation and compilation so they never drift.
var (
	timeFieldNames = map[string]bool{
		"ts":         true,
		"timestamp":  true,
		"event_time": true,
		"date":       true,
		"dt":         true,
	}
	timeDataTypes = map[string]bool{
		"datetime":  true,
		"timestamp": true,
		"date":      true,
	}
)

// IsTimeFieldName reports whether a bare field name is time-typed.
func IsTimeFieldName(name string) bool {
	return timeFieldNames[strings.ToLower(name)]
}

// IsTimeDataType reports whether a column data type is time-typed.
func IsTimeDataType(dataType string) bool {
	return timeDataTypes[strings.ToLower(dataType)]
}

// SchemaEntity 一条列级目录记录，按 table.field 唯一
type SchemaEntity struct {
	Table       string   `json:"table"`
	Field       string   `json:"field"`
	FieldDesc   string   `json:"field_desc"`
	Aliases     []string `json:"aliases"`
	Unit        string   `json:"unit"`
	DataType    string   `json:"data_type"`
	QualityTags []string `json:"quality_tags"`
}

// Key returns the fully qualified table.field key.
func (s SchemaEntity) Key() string {
	return s.Table + "." + s.Field
}

// IsTimeLike reports whether the column can anchor a time range.
func (s SchemaEntity) IsTimeLike() bool {
	return IsTimeFieldName(s.Field) || IsTimeDataType(s.DataType)
}

// JoinEdge 预枚举连接图中的一条边
type JoinEdge struct {
	LeftTable  string `json:"left_table"`
	LeftField  string `json:"left_field"`
	RightTable string `json:"right_table"`
	RightField string `json:"right_field"`
	JoinType   string `json:"join_type"`
}

// JoinPath 一条预枚举的连接路径；第一条边的 left_table 是基表
type JoinPath struct {
	JoinPathID  string     `json:"join_path_id"`
	Description string     `json:"description"`
	Tables      []string   `json:"tables"`
	Edges       []JoinEdge `json:"edges"`
}

// Covers reports whether every referenced table lies on this path.
func (p JoinPath) Covers(tables map[string]bool) bool {
	on := make(map[string]bool, len(p.Tables))
	for _, t := range p.Tables {
		on[t] = true
	}
	for t := range tables {
		if !on[t] {
			return false
		}
	}
	return true
}

// MetricDef 指标口径。required_fields 为 1 时编译为 SUM(f)，
// 为 2 时编译为 SUM(a)/NULLIF(SUM(b),0)，为 0 非法
type MetricDef struct {
	MetricID         string   `json:"metric_id"`
	Name             string   `json:"name"`
	Definition       string   `json:"definition"`
	Formula          string   `json:"formula"`
	RequiredFields   []string `json:"required_fields"`
	DefaultTimeGrain string   `json:"default_time_grain"`
	Unit             string   `json:"unit"`
}

// RequiredTables returns the distinct tables of the metric's required fields.
func (m MetricDef) RequiredTables() []string {
	seen := make(map[string]bool)
	var tables []string
	for _, field := range m.RequiredFields {
		if idx := strings.Index(field, "."); idx > 0 {
			table := field[:idx]
			if !seen[table] {
				seen[table] = true
				tables = append(tables, table)
			}
		}
	}
	return tables
}

// TemplateRule 按意图约束允许的聚合、函数和必需子句
type TemplateRule struct {
	TemplateID      string   `json:"template_id"`
	Intent          string   `json:"intent"`
	AllowedAggs     []string `json:"allowed_aggs"`
	AllowedFuncs    []string `json:"allowed_funcs"`
	RequiredClauses []string `json:"required_clauses"`
}

// EvidenceBundle is the retrieved snapshot of the four knowledge bases for
// one request. Validation and compilation authorise fields against this
// bundle only; anything outside it does not exist for planning.
type EvidenceBundle struct {
	MetricCandidates []MetricDef    `json:"metric_candidates"`
	SchemaCandidates []SchemaEntity `json:"schema_candidates"`
	JoinPaths        []JoinPath     `json:"join_paths"`
	TemplateRules    []TemplateRule `json:"template_rules"`
}

// MetricByID looks up a metric candidate by id.
func (e EvidenceBundle) MetricByID(id string) (MetricDef, bool) {
	for _, m := range e.MetricCandidates {
		if m.MetricID == id {
			return m, true
		}
	}
	return MetricDef{}, false
}

// JoinPathByID looks up a join path candidate by id.
func (e EvidenceBundle) JoinPathByID(id string) (JoinPath, bool) {
	for _, p := range e.JoinPaths {
		if p.JoinPathID == id {
			return p, true
		}
	}
	return JoinPath{}, false
}

// SchemaFieldSet returns the set of table.field keys in the bundle.
func (e EvidenceBundle) SchemaFieldSet() map[string]bool {
	fields := make(map[string]bool, len(e.SchemaCandidates))
	for _, s := range e.SchemaCandidates {
		fields[s.Key()] = true
	}
	return fields
}

// MetricIDs returns the metric candidate ids in bundle order.
func (e EvidenceBundle) MetricIDs() []string {
	ids := make([]string, 0, len(e.MetricCandidates))
	for _, m := range e.MetricCandidates {
		ids = append(ids, m.MetricID)
	}
	return ids
}
