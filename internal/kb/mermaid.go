package kb

import (
	"fmt"
	"strings"

	"plansql/internal/model"
)

// MermaidER 把 schema 与 join 目录画成 Mermaid ER 图。
// 连接路径的边渲染为一对多关系（父表在左），实体块按目录顺序输出，方便 diff。
func MermaidER(entities []model.SchemaEntity, joins []model.JoinPath) string {
	var sb strings.Builder
	sb.WriteString("erDiagram\n")

	// 多条路径可能共享同一条边，按 父_子_字段 去重
	seen := map[string]bool{}
	for _, path := range joins {
		for _, edge := range path.Edges {
			parent := strings.ToUpper(edge.RightTable)
			child := strings.ToUpper(edge.LeftTable)
			key := fmt.Sprintf("%s_%s_%s", parent, child, edge.LeftField)
			if seen[key] {
				continue
			}
			seen[key] = true
			sb.WriteString(fmt.Sprintf("    %s ||--o{ %s : \"%s\"\n", parent, child, edge.LeftField))
		}
	}
	sb.WriteString("\n")

	var order []string
	byTable := map[string][]model.SchemaEntity{}
	for _, row := range entities {
		if _, ok := byTable[row.Table]; !ok {
			order = append(order, row.Table)
		}
		byTable[row.Table] = append(byTable[row.Table], row)
	}

	for _, table := range order {
		sb.WriteString(fmt.Sprintf("    %s {\n", strings.ToUpper(table)))
		for _, row := range byTable[table] {
			tag := ""
			if tags := keyTags(row); len(tags) > 0 {
				tag = " " + strings.Join(tags, ",")
			}
			sb.WriteString(fmt.Sprintf("        %s %s%s\n", simplifyType(row.DataType), row.Field, tag))
		}
		sb.WriteString("    }\n")
	}

	return sb.String()
}

func keyTags(row model.SchemaEntity) []string {
	var tags []string
	for _, tag := range row.QualityTags {
		switch tag {
		case "primary_key":
			tags = append(tags, "PK")
		case "foreign_key":
			tags = append(tags, "FK")
		}
	}
	return tags
}

// simplifyType 压缩类型名，Mermaid 里不需要长度与精度
func simplifyType(dataType string) string {
	dataType = strings.ToLower(dataType)
	switch {
	case strings.Contains(dataType, "int"):
		return "int"
	case strings.Contains(dataType, "decimal"), strings.Contains(dataType, "numeric"),
		strings.Contains(dataType, "real"), strings.Contains(dataType, "float"),
		strings.Contains(dataType, "double"):
		return "float"
	case strings.Contains(dataType, "char"):
		return "string"
	case strings.Contains(dataType, "text"):
		return "text"
	case strings.Contains(dataType, "date"), strings.Contains(dataType, "time"):
		return "datetime"
	case strings.Contains(dataType, "bool"):
		return "boolean"
	default:
		return "string"
	}
}
