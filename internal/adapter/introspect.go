package adapter

import (
	"context"
	"fmt"
)

// 自省：读出列清单和外键清单，genkb 用它生成 schema_kb / join_kb 底稿。
// 每种方言走各自的系统目录。

const mysqlColumnsSQL = `SELECT TABLE_NAME AS table_name, COLUMN_NAME AS column_name,
       DATA_TYPE AS data_type, COLUMN_COMMENT AS column_comment, COLUMN_KEY AS column_key
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = DATABASE()
ORDER BY TABLE_NAME, ORDINAL_POSITION`

const mysqlForeignKeysSQL = `SELECT TABLE_NAME AS table_name, COLUMN_NAME AS column_name,
       REFERENCED_TABLE_NAME AS ref_table, REFERENCED_COLUMN_NAME AS ref_column
FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = DATABASE() AND REFERENCED_TABLE_NAME IS NOT NULL
ORDER BY TABLE_NAME, COLUMN_NAME`

// Introspect 读取当前库的列与外键
func (a *MySQLAdapter) Introspect(ctx context.Context) (*Catalog, error) {
	cols, err := a.Query(ctx, mysqlColumnsSQL)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}
	fks, err := a.Query(ctx, mysqlForeignKeysSQL)
	if err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}

	cat := &Catalog{}
	for _, row := range cols.Rows {
		cat.Columns = append(cat.Columns, Column{
			Table:      rowString(row, "table_name"),
			Name:       rowString(row, "column_name"),
			DataType:   rowString(row, "data_type"),
			Comment:    rowString(row, "column_comment"),
			PrimaryKey: rowString(row, "column_key") == "PRI",
		})
	}
	for _, row := range fks.Rows {
		cat.ForeignKeys = append(cat.ForeignKeys, ForeignKey{
			Table:    rowString(row, "table_name"),
			Field:    rowString(row, "column_name"),
			RefTable: rowString(row, "ref_table"),
			RefField: rowString(row, "ref_column"),
		})
	}
	return cat, nil
}

const postgresColumnsSQL = `SELECT c.table_name, c.column_name, c.data_type,
       COALESCE(pgd.description, '') AS column_comment
FROM information_schema.columns c
LEFT JOIN pg_catalog.pg_statio_all_tables st ON st.relname = c.table_name
LEFT JOIN pg_catalog.pg_description pgd
       ON pgd.objoid = st.relid AND pgd.objsubid = c.ordinal_position
WHERE c.table_schema = 'public'
ORDER BY c.table_name, c.ordinal_position`

const postgresPrimaryKeysSQL = `SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.table_schema = 'public' AND tc.constraint_type = 'PRIMARY KEY'`

const postgresForeignKeysSQL = `SELECT tc.table_name, kcu.column_name,
       ccu.table_name AS ref_table, ccu.column_name AS ref_column
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.table_schema = 'public' AND tc.constraint_type = 'FOREIGN KEY'
ORDER BY tc.table_name, kcu.column_name`

// Introspect 读取 public schema 的列与外键
func (a *PostgresAdapter) Introspect(ctx context.Context) (*Catalog, error) {
	cols, err := a.Query(ctx, postgresColumnsSQL)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}
	pks, err := a.Query(ctx, postgresPrimaryKeysSQL)
	if err != nil {
		return nil, fmt.Errorf("introspect primary keys: %w", err)
	}
	fks, err := a.Query(ctx, postgresForeignKeysSQL)
	if err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}

	primary := make(map[string]bool, len(pks.Rows))
	for _, row := range pks.Rows {
		primary[rowString(row, "table_name")+"."+rowString(row, "column_name")] = true
	}

	cat := &Catalog{}
	for _, row := range cols.Rows {
		table := rowString(row, "table_name")
		name := rowString(row, "column_name")
		cat.Columns = append(cat.Columns, Column{
			Table:      table,
			Name:       name,
			DataType:   rowString(row, "data_type"),
			Comment:    rowString(row, "column_comment"),
			PrimaryKey: primary[table+"."+name],
		})
	}
	for _, row := range fks.Rows {
		cat.ForeignKeys = append(cat.ForeignKeys, ForeignKey{
			Table:    rowString(row, "table_name"),
			Field:    rowString(row, "column_name"),
			RefTable: rowString(row, "ref_table"),
			RefField: rowString(row, "ref_column"),
		})
	}
	return cat, nil
}

// Introspect 逐表走 PRAGMA table_info / foreign_key_list
func (a *SQLiteAdapter) Introspect(ctx context.Context) (*Catalog, error) {
	tables, err := a.Query(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	cat := &Catalog{}
	for _, row := range tables.Rows {
		table := rowString(row, "name")
		if table == "" {
			continue
		}

		info, err := a.Query(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
		if err != nil {
			return nil, fmt.Errorf("introspect %s: %w", table, err)
		}
		for _, col := range info.Rows {
			cat.Columns = append(cat.Columns, Column{
				Table:      table,
				Name:       rowString(col, "name"),
				DataType:   rowString(col, "type"),
				PrimaryKey: rowInt(col, "pk") > 0,
			})
		}

		fks, err := a.Query(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", table))
		if err != nil {
			return nil, fmt.Errorf("introspect %s foreign keys: %w", table, err)
		}
		for _, fk := range fks.Rows {
			cat.ForeignKeys = append(cat.ForeignKeys, ForeignKey{
				Table:    table,
				Field:    rowString(fk, "from"),
				RefTable: rowString(fk, "table"),
				RefField: rowString(fk, "to"),
			})
		}
	}
	return cat, nil
}

func rowString(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func rowInt(row map[string]any, key string) int64 {
	switch v := row[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
