package sqlutil

import (
	"database/sql"
	"sort"
	"strings"

	"go.ytsaurus.tech/library/go/core/xerrors"
)

// RowsToMaps drains a result set into column-name keyed maps. []byte values
// are copied to strings: drivers reuse scan buffers between rows.
func RowsToMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, xerrors.Errorf("unable to read columns: %w", err)
	}
	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		pointers := make([]any, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, xerrors.Errorf("unable to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if raw, ok := values[i].([]byte); ok {
				row[col] = string(raw)
				continue
			}
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("row iteration failed: %w", err)
	}
	return result, nil
}

// SortedCols gives a deterministic column order for generated statements.
func SortedCols(row map[string]any) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Placeholders renders `?, ?, ?` n times.
func Placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
