package adapter

import (
	"database/sql"
	"time"
)

// collectRows drains a result set into the unified QueryResult shape.
// Driver []byte values are normalised to string so previews and JSON
// encoding see plain text instead of base64.
func collectRows(rows *sql.Rows, start time.Time) (*QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			val := values[i]
			if b, ok := val.([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = val
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryResult{
		Columns:   columns,
		Rows:      result,
		RowCount:  len(result),
		ElapsedMS: time.Since(start).Milliseconds(),
	}, nil
}

// firstString 取第一行某列的字符串值，自省和版本查询共用
func firstString(res *QueryResult, column string) (string, bool) {
	if len(res.Rows) == 0 {
		return "", false
	}
	v, ok := res.Rows[0][column].(string)
	return v, ok
}
