package kb

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"plansql/internal/adapter"
)

// DDL 解析：从 CREATE TABLE 语句还原出列目录与外键，供 genkb 在没有
// 活库的环境下生成目录底稿。只做够用的正则解析，不追求完整 SQL 语法。

var (
	createTableRe   = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?["'\x60]?(\w+)["'\x60]?\s*\(((?:[^()]|\([^)]*\))*)\)`)
	lineCommentRe   = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe  = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	parenListRe     = regexp.MustCompile(`\((.*?)\)`)
	fkColumnRe      = regexp.MustCompile(`(?i)foreign\s+key\s*\(\s*["'\x60]?(\w+)["'\x60]?\s*\)`)
	referencesRe    = regexp.MustCompile(`(?i)references\s+["'\x60]?(\w+)["'\x60]?\s*\(\s*["'\x60]?(\w+)["'\x60]?\s*\)`)
	columnCommentRe = regexp.MustCompile(`(?i)comment\s+'([^']*)'`)
)

// ParseDDL reads a schema.sql file and returns the catalogue it defines.
func ParseDDL(path string) (*adapter.Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ddl file: %w", err)
	}
	return ParseDDLText(string(content))
}

// ParseDDLText parses every CREATE TABLE statement in the given SQL text.
// Table names are lowercased; column order follows the statement.
func ParseDDLText(sqlText string) (*adapter.Catalog, error) {
	sqlText = stripSQLComments(sqlText)

	matches := createTableRe.FindAllStringSubmatch(sqlText, -1)
	if len(matches) == 0 {
		return nil, errors.New("no CREATE TABLE statements found")
	}

	cat := &adapter.Catalog{}
	for _, match := range matches {
		parseCreateBody(cat, strings.ToLower(match[1]), match[2])
	}
	return cat, nil
}

func stripSQLComments(sqlText string) string {
	sqlText = lineCommentRe.ReplaceAllString(sqlText, "")
	return blockCommentRe.ReplaceAllString(sqlText, "")
}

func parseCreateBody(cat *adapter.Catalog, table, body string) {
	start := len(cat.Columns)
	var primary []string

	for _, item := range splitDefItems(body) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		lower := strings.ToLower(item)
		switch {
		case strings.HasPrefix(lower, "primary key"):
			primary = append(primary, parenList(item)...)
		case strings.HasPrefix(lower, "foreign key"),
			strings.HasPrefix(lower, "constraint ") && strings.Contains(lower, "foreign key"):
			if fk, ok := parseForeignKeyClause(table, item); ok {
				cat.ForeignKeys = append(cat.ForeignKeys, fk)
			}
		case strings.HasPrefix(lower, "unique "),
			strings.HasPrefix(lower, "unique("),
			strings.HasPrefix(lower, "key "),
			strings.HasPrefix(lower, "index "),
			strings.HasPrefix(lower, "check "),
			strings.HasPrefix(lower, "check("),
			strings.HasPrefix(lower, "constraint "):
			// 索引与检查约束不进目录
		default:
			col, fk, ok := parseColumnClause(table, item)
			if !ok {
				continue
			}
			cat.Columns = append(cat.Columns, col)
			if fk != nil {
				cat.ForeignKeys = append(cat.ForeignKeys, *fk)
			}
		}
	}

	// 表级主键约束出现在列定义之后，回头补标记
	for i := start; i < len(cat.Columns); i++ {
		for _, pk := range primary {
			if strings.EqualFold(cat.Columns[i].Name, pk) {
				cat.Columns[i].PrimaryKey = true
			}
		}
	}
}

// splitDefItems splits a table body on top-level commas, keeping
// parenthesised type arguments and key lists intact.
func splitDefItems(body string) []string {
	var items []string
	var current strings.Builder
	depth := 0

	for _, ch := range body {
		switch ch {
		case '(':
			depth++
			current.WriteRune(ch)
		case ')':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				items = append(items, current.String())
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}
	if current.Len() > 0 {
		items = append(items, current.String())
	}
	return items
}

func parseColumnClause(table, def string) (adapter.Column, *adapter.ForeignKey, bool) {
	parts := strings.Fields(def)
	if len(parts) < 2 {
		return adapter.Column{}, nil, false
	}

	name := trimSQLQuotes(parts[0])
	dataType := strings.ToLower(parts[1])
	if idx := strings.Index(dataType, "("); idx > 0 {
		dataType = dataType[:idx]
	}

	col := adapter.Column{Table: table, Name: name, DataType: dataType}

	lower := strings.ToLower(def)
	if strings.Contains(lower, "primary key") {
		col.PrimaryKey = true
	}
	if m := columnCommentRe.FindStringSubmatch(def); len(m) == 2 {
		col.Comment = m[1]
	}

	var fk *adapter.ForeignKey
	if strings.Contains(lower, "references") {
		if m := referencesRe.FindStringSubmatch(def); len(m) == 3 {
			fk = &adapter.ForeignKey{
				Table:    table,
				Field:    name,
				RefTable: strings.ToLower(m[1]),
				RefField: m[2],
			}
		}
	}
	return col, fk, true
}

func parseForeignKeyClause(table, clause string) (adapter.ForeignKey, bool) {
	colMatch := fkColumnRe.FindStringSubmatch(clause)
	refMatch := referencesRe.FindStringSubmatch(clause)
	if len(colMatch) < 2 || len(refMatch) < 3 {
		return adapter.ForeignKey{}, false
	}
	return adapter.ForeignKey{
		Table:    table,
		Field:    colMatch[1],
		RefTable: strings.ToLower(refMatch[1]),
		RefField: refMatch[2],
	}, true
}

func parenList(clause string) []string {
	m := parenListRe.FindStringSubmatch(clause)
	if len(m) < 2 {
		return nil
	}
	var cols []string
	for _, col := range strings.Split(m[1], ",") {
		col = trimSQLQuotes(strings.TrimSpace(col))
		if col != "" {
			cols = append(cols, col)
		}
	}
	return cols
}

func trimSQLQuotes(s string) string {
	return strings.Trim(s, "\"'`")
}
