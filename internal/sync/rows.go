package sync

import (
	"fmt"

	"github.com/goccy/go-json"
)

const missingRootID = "__missing__"

// rowRootID returns the trace a row belongs to: root_span_id, else span_id,
// else id. Numeric ids are rendered in their JSON form.
func rowRootID(row map[string]any) string {
	for _, key := range []string{"root_span_id", "span_id", "id"} {
		if v, ok := valueAsString(row[key]); ok {
			return v
		}
	}
	return ""
}

func valueAsString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return fmt.Sprint(t), true
	case int:
		return fmt.Sprint(t), true
	case int64:
		return fmt.Sprint(t), true
	}
	return "", false
}

// encodeRows renders rows as JSON lines and returns the on-disk byte count
// including the trailing newline of each line.
func encodeRows(rows []map[string]any) ([][]byte, int64, error) {
	lines := make([][]byte, 0, len(rows))
	var total int64
	for _, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			return nil, 0, fmt.Errorf("serialize row: %w", err)
		}
		lines = append(lines, line)
		total += int64(len(line)) + 1
	}
	return lines, total, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
