package checker

import (
	"fmt"
	"time"
)

// RowsEqual compares two row images column by column. Values cross driver
// boundaries here (sqlite int64 vs mysql string vs mongo int32), so equality
// is on normalized textual form, not on Go types.
func RowsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for col, av := range a {
		bv, ok := b[col]
		if !ok {
			return false
		}
		if NormalizeValue(av) != NormalizeValue(bv) {
			return false
		}
	}
	return true
}

func NormalizeValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "\x00nil"
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case float32:
		return fmt.Sprintf("%g", float64(v))
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}

// NormalizeRow renders every column of a row image to its comparable form,
// used before persisting rows into check logs so that a later review compares
// like with like.
func NormalizeRow(row map[string]any) map[string]any {
	if row == nil {
		return nil
	}
	result := make(map[string]any, len(row))
	for col, value := range row {
		if value == nil {
			result[col] = nil
			continue
		}
		result[col] = NormalizeValue(value)
	}
	return result
}
