package execute

import "plansql/internal/model"

// qualityWarnings 对预览做轻量口径体检。空结果、比率越界、
// 计数类负值和混合量纲都只告警，不拦截请求。
func qualityWarnings(metric model.MetricDef, columns []string, rows []map[string]any) []string {
	var warnings []string
	if len(rows) == 0 {
		warnings = append(warnings, "结果为空，可能是时间范围或过滤条件过窄，或存在数据质量问题。")
		return warnings
	}

	if containsColumn(columns, metric.MetricID) {
		values := numericValues(rows, metric.MetricID)
		if len(values) > 0 {
			minVal, maxVal := values[0], values[0]
			for _, v := range values[1:] {
				if v < minVal {
					minVal = v
				}
				if v > maxVal {
					maxVal = v
				}
			}
			switch metric.Unit {
			case "%", "ratio":
				if minVal < 0 || maxVal > 1.5 {
					warnings = append(warnings, "指标值超出常见范围，建议检查口径或数据质量。")
				}
			case "count", "min", "次", "分钟":
				if minVal < 0 {
					warnings = append(warnings, "指标值出现负数，建议检查数据质量。")
				}
			}
		}
	}

	if containsColumn(columns, "unit") {
		units := make(map[any]bool)
		for _, row := range rows {
			if u, ok := row["unit"]; ok && u != nil {
				units[u] = true
			}
		}
		if len(units) > 1 {
			warnings = append(warnings, "结果中的单位不一致，请核对量纲。")
		}
	}

	return warnings
}

func containsColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

func numericValues(rows []map[string]any, column string) []float64 {
	var values []float64
	for _, row := range rows {
		switch v := row[column].(type) {
		case float64:
			values = append(values, v)
		case float32:
			values = append(values, float64(v))
		case int:
			values = append(values, float64(v))
		case int64:
			values = append(values, float64(v))
		}
	}
	return values
}
