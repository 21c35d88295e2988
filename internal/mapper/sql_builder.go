package mapper

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SQLBuilder translates column maps into parameterized Postgres statements.
// Only tables and columns present in the allow-list can be written.
type SQLBuilder struct {
	allowed map[string]map[string]bool
}

// NewSQLBuilder initializes a builder restricted to the given table -> columns allow-list
func NewSQLBuilder(allowList map[string][]string) *SQLBuilder {
	allowed := make(map[string]map[string]bool, len(allowList))
	for table, cols := range allowList {
		set := make(map[string]bool, len(cols))
		for _, c := range cols {
			set[strings.ToLower(c)] = true
		}
		allowed[strings.ToLower(table)] = set
	}
	return &SQLBuilder{allowed: allowed}
}

// BuildInsert generates an INSERT ... RETURNING statement
func (b *SQLBuilder) BuildInsert(tableName string, data map[string]any, returning ...string) (string, []any, error) {
	if len(data) == 0 {
		return "", nil, fmt.Errorf("no data provided for insert on table %s", tableName)
	}

	keys, err := b.columns(tableName, data, "")
	if err != nil {
		return "", nil, err
	}

	columns := make([]string, 0, len(keys))
	placeholders := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		columns = append(columns, k)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, b.formatValue(data[k]))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		strings.ToLower(tableName),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)
	if len(returning) > 0 {
		query += " RETURNING " + strings.Join(returning, ", ")
	}

	return query, args, nil
}

// BuildUpdate generates an UPDATE statement based on a primary key
func (b *SQLBuilder) BuildUpdate(tableName string, pkColumn string, pkValue any, data map[string]any) (string, []any, error) {
	keys, err := b.columns(tableName, data, pkColumn)
	if err != nil {
		return "", nil, err
	}
	if len(keys) == 0 {
		return "", nil, fmt.Errorf("no data provided for update on table %s", tableName)
	}

	setClauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, k := range keys {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", k, i+1))
		args = append(args, b.formatValue(data[k]))
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = $%d",
		strings.ToLower(tableName),
		strings.Join(setClauses, ", "),
		strings.ToLower(pkColumn),
		len(keys)+1,
	)
	args = append(args, b.formatValue(pkValue))

	return query, args, nil
}

// columns returns the sorted, allow-listed keys of data without the primary key
func (b *SQLBuilder) columns(tableName string, data map[string]any, pkColumn string) ([]string, error) {
	allowed, ok := b.allowed[strings.ToLower(tableName)]
	if !ok {
		return nil, fmt.Errorf("table %s is not whitelisted", tableName)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		// skip PK in the SET clause
		if pkColumn != "" && strings.EqualFold(k, pkColumn) {
			continue
		}
		if !allowed[strings.ToLower(k)] {
			return nil, fmt.Errorf("column %s.%s is not whitelisted", tableName, k)
		}
		keys = append(keys, strings.ToLower(k))
	}
	// Sort keys for deterministic SQL generation.
	sort.Strings(keys)
	return keys, nil
}

// formatValue converts payload values into driver-friendly arguments
func (b *SQLBuilder) formatValue(v any) any {
	switch val := v.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return val
		}
		return raw
	case string:
		// ISO8601/RFC3339 timestamps become time.Time
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t
		}
		return val
	default:
		return val
	}
}
