package kb

import "plansql/internal/model"

// 内置电力域示例目录。四份目录互相一致：join 的表和列都在 schema 里，
// metric 的 required_fields 也都在 schema 里。genkb -seed 把它们写进
// data/，仓库自带的样例目录就是这份内容。

func entity(table, field, desc, dataType, unit string, tags []string, aliases ...string) model.SchemaEntity {
	if aliases == nil {
		aliases = []string{}
	}
	if tags == nil {
		tags = []string{}
	}
	return model.SchemaEntity{
		Table:       table,
		Field:       field,
		FieldDesc:   desc,
		Aliases:     aliases,
		Unit:        unit,
		DataType:    dataType,
		QualityTags: tags,
	}
}

func joinPath(id, desc, leftTable, leftField, rightTable, rightField string) model.JoinPath {
	return model.JoinPath{
		JoinPathID:  id,
		Description: desc,
		Tables:      []string{leftTable, rightTable},
		Edges: []model.JoinEdge{{
			LeftTable:  leftTable,
			LeftField:  leftField,
			RightTable: rightTable,
			RightField: rightField,
			JoinType:   "inner",
		}},
	}
}

// SeedSchema returns the built-in power domain column catalogue.
func SeedSchema() []model.SchemaEntity {
	return []model.SchemaEntity{
		entity("region", "region_id", "区域编号", "varchar", "", []string{"primary_key"}),
		entity("region", "region_name", "区域名称", "varchar", "", nil, "区域", "地区"),

		entity("power_supply", "supply_id", "供电记录编号", "bigint", "", []string{"primary_key"}),
		entity("power_supply", "region_id", "区域编号", "varchar", "", []string{"foreign_key"}),
		entity("power_supply", "supply_kwh", "供电量", "decimal", "kwh", []string{"metric"}, "供电量"),
		entity("power_supply", "loss_kwh", "线损电量", "decimal", "kwh", []string{"metric"}, "线损电量", "线损"),
		entity("power_supply", "ts", "统计时间", "datetime", "", []string{"time"}),

		entity("meter_reading", "reading_id", "读数编号", "bigint", "", []string{"primary_key"}),
		entity("meter_reading", "meter_id", "电表编号", "varchar", "", nil, "电表"),
		entity("meter_reading", "region_id", "区域编号", "varchar", "", []string{"foreign_key"}),
		entity("meter_reading", "consumption_kwh", "用电量", "decimal", "kwh", []string{"metric"}, "用电量", "电量"),
		entity("meter_reading", "ts", "抄表时间", "datetime", "", []string{"time"}),

		entity("bills", "bill_id", "账单编号", "varchar", "", []string{"primary_key"}),
		entity("bills", "user_id", "用户编号", "varchar", "", nil, "用户"),
		entity("bills", "region_id", "区域编号", "varchar", "", []string{"foreign_key"}),
		entity("bills", "total_amount", "账单金额", "decimal", "元", []string{"metric"}, "电费", "金额"),
		entity("bills", "date", "账单日期", "date", "", []string{"time"}),

		entity("feeder", "feeder_id", "馈线编号", "varchar", "", []string{"primary_key"}),
		entity("feeder", "feeder_name", "馈线名称", "varchar", "", nil, "馈线"),
		entity("feeder", "region_id", "区域编号", "varchar", "", []string{"foreign_key"}),
		entity("feeder", "load_kw", "实测负荷", "decimal", "kw", []string{"metric"}, "负荷"),
		entity("feeder", "capacity_kw", "额定容量", "decimal", "kw", []string{"metric"}, "容量"),
		entity("feeder", "ts", "采集时间", "datetime", "", []string{"time"}),

		entity("outage_event", "event_id", "事件编号", "varchar", "", []string{"primary_key"}),
		entity("outage_event", "feeder_id", "馈线编号", "varchar", "", []string{"foreign_key"}),
		entity("outage_event", "region_id", "区域编号", "varchar", "", []string{"foreign_key"}),
		entity("outage_event", "event_type", "事件类型", "varchar", "", nil, "停电类型"),
		entity("outage_event", "outage_flag", "停电标记", "tinyint", "次", []string{"metric"}, "停电"),
		entity("outage_event", "trip_flag", "跳闸标记", "tinyint", "次", []string{"metric"}, "跳闸"),
		entity("outage_event", "duration_min", "持续时长", "int", "分钟", []string{"metric"}, "时长"),
		entity("outage_event", "event_time", "发生时间", "datetime", "", []string{"time"}),
	}
}

// SeedJoins returns the built-in join paths, one per foreign key.
func SeedJoins() []model.JoinPath {
	return []model.JoinPath{
		joinPath("power_supply_region", "按区域编号关联供电量与区域", "power_supply", "region_id", "region", "region_id"),
		joinPath("meter_reading_region", "按区域编号关联电表读数与区域", "meter_reading", "region_id", "region", "region_id"),
		joinPath("bills_region", "按区域编号关联电费账单与区域", "bills", "region_id", "region", "region_id"),
		joinPath("feeder_region", "按区域编号关联馈线与区域", "feeder", "region_id", "region", "region_id"),
		joinPath("outage_event_region", "按区域编号关联停电事件与区域", "outage_event", "region_id", "region", "region_id"),
		joinPath("outage_event_feeder", "按馈线编号关联停电事件与馈线", "outage_event", "feeder_id", "feeder", "feeder_id"),
	}
}

// SeedMetrics returns the built-in metric definitions.
func SeedMetrics() []model.MetricDef {
	return []model.MetricDef{
		{
			MetricID:         "total_consumption",
			Name:             "总用电量",
			Definition:       "电表读数中用电量的合计",
			Formula:          "SUM(consumption_kwh)",
			RequiredFields:   []string{"meter_reading.consumption_kwh"},
			DefaultTimeGrain: model.GrainDay,
			Unit:             "kwh",
		},
		{
			MetricID:         "bill_amount",
			Name:             "电费总额",
			Definition:       "账单金额的合计",
			Formula:          "SUM(total_amount)",
			RequiredFields:   []string{"bills.total_amount"},
			DefaultTimeGrain: model.GrainMonth,
			Unit:             "元",
		},
		{
			MetricID:         "line_loss_rate",
			Name:             "线损率",
			Definition:       "线损电量占供电量的比例",
			Formula:          "SUM(loss_kwh) / NULLIF(SUM(supply_kwh), 0)",
			RequiredFields:   []string{"power_supply.loss_kwh", "power_supply.supply_kwh"},
			DefaultTimeGrain: model.GrainDay,
			Unit:             "ratio",
		},
		{
			MetricID:         "load_rate",
			Name:             "负载率",
			Definition:       "实测负荷占额定容量的比例",
			Formula:          "SUM(load_kw) / NULLIF(SUM(capacity_kw), 0)",
			RequiredFields:   []string{"feeder.load_kw", "feeder.capacity_kw"},
			DefaultTimeGrain: model.GrainHour,
			Unit:             "ratio",
		},
		{
			MetricID:         "outage_count",
			Name:             "停电次数",
			Definition:       "停电事件的计数",
			Formula:          "SUM(outage_flag)",
			RequiredFields:   []string{"outage_event.outage_flag"},
			DefaultTimeGrain: model.GrainDay,
			Unit:             "次",
		},
		{
			MetricID:         "trip_count",
			Name:             "跳闸次数",
			Definition:       "跳闸事件的计数",
			Formula:          "SUM(trip_flag)",
			RequiredFields:   []string{"outage_event.trip_flag"},
			DefaultTimeGrain: model.GrainDay,
			Unit:             "次",
		},
	}
}

// SeedTemplates returns the built-in intent templates.
func SeedTemplates() []model.TemplateRule {
	return BuiltinTemplates()
}
