package mapper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builder() *SQLBuilder {
	return NewSQLBuilder(map[string][]string{
		"cards":    {"id", "title", "stage_id", "fields", "updated_at"},
		"contacts": {"name", "phone"},
	})
}

func TestBuildUpdate(t *testing.T) {
	q, args, err := builder().BuildUpdate("cards", "id", "c1", map[string]any{
		"stage_id": "B",
		"title":    "Trip",
		"id":       "ignored",
		"fields":   map[string]any{"value": 10.0},
	})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE cards SET fields = $1, stage_id = $2, title = $3 WHERE id = $4", q)
	require.Len(t, args, 4)
	assert.JSONEq(t, `{"value":10}`, string(args[0].([]byte)))
	assert.Equal(t, "c1", args[3])
}

func TestBuildUpdate_RejectsUnknownColumns(t *testing.T) {
	_, _, err := builder().BuildUpdate("cards", "id", "c1", map[string]any{"status; DROP TABLE cards": "x"})
	require.Error(t, err)

	_, _, err = builder().BuildUpdate("users", "id", "1", map[string]any{"name": "x"})
	require.Error(t, err)

	_, _, err = builder().BuildUpdate("cards", "id", "1", map[string]any{"id": "x"})
	require.Error(t, err)
}

func TestBuildInsert(t *testing.T) {
	q, args, err := builder().BuildInsert("contacts", map[string]any{"phone": "5511999990000", "name": "Ana"}, "id::text")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO contacts (name, phone) VALUES ($1, $2) RETURNING id::text", q)
	assert.Equal(t, []any{"Ana", "5511999990000"}, args)

	_, _, err = builder().BuildInsert("contacts", nil)
	require.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	b := builder()
	ts := b.formatValue("2026-01-02T03:04:05Z")
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), ts)
	assert.Equal(t, "plain", b.formatValue("plain"))
	assert.Equal(t, 3, b.formatValue(3))
}
