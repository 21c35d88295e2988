package infra

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_GrowsWithinJitterAndCaps(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second, 2)

	expected := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for i, base := range expected {
		base *= time.Millisecond
		got := b.Next()
		assert.GreaterOrEqual(t, got, max(base*8/10, 100*time.Millisecond), "attempt %d", i+1)
		assert.LessOrEqual(t, got, base*12/10, "attempt %d", i+1)
	}
	assert.Equal(t, len(expected), b.Attempts())

	b.Reset()
	assert.Zero(t, b.Attempts())
	assert.LessOrEqual(t, b.Next(), 120*time.Millisecond)
}

func TestBackoff_WaitHonoursContext(t *testing.T) {
	b := NewBackoff(time.Hour, time.Hour, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, b.Wait(ctx), context.Canceled)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "warn", "json")

	l.Info("hidden")
	l.Warn("shown", "id", "e1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"id":"e1"`)
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
