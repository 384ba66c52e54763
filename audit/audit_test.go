package audit

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestOpen_MigratesSchema(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.db")

	l, err := Open(path)
	require.NoError(t, err)
	v, dirty, err := l.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)
	require.NoError(t, l.Close())

	// 重新打开已迁移的库不报错
	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	v, _, err = l.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestLog_RecordAndRecent(t *testing.T) {
	t.Parallel()
	l := openTest(t)
	ctx := context.Background()

	pred := 21984.47
	entries := []Entry{
		{
			RequestID:  "req-1",
			Record:     map[string]any{"age": 30, "sex": "male", "bmi": 28.5, "children": 1, "smoker": "yes", "region": "southeast"},
			Prediction: &pred,
			Status:     "success",
			Version:    "2024-06-01",
			Latency:    1500 * time.Microsecond,
			Cached:     true,
		},
		{
			RequestID: "req-2",
			Record:    map[string]any{"age": 30, "sex": "male"},
			Status:    "error",
			Code:      "MISSING_FEATURE",
			Message:   `missing required feature "bmi"`,
			Latency:   200 * time.Microsecond,
		},
	}
	for _, e := range entries {
		require.NoError(t, l.Record(ctx, e))
	}

	got, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// 倒序
	assert.Equal(t, "req-2", got[0].RequestID)
	assert.Equal(t, "req-1", got[1].RequestID)

	failed := got[0]
	assert.Nil(t, failed.Prediction)
	assert.Equal(t, "MISSING_FEATURE", failed.Code)
	assert.False(t, failed.Cached)

	ok := got[1]
	require.NotNil(t, ok.Prediction)
	assert.Equal(t, pred, *ok.Prediction)
	assert.Equal(t, "southeast", ok.Record["region"])
	assert.Equal(t, float64(30), ok.Record["age"])
	assert.Equal(t, 1500*time.Microsecond, ok.Latency)
	assert.True(t, ok.Cached)
	assert.False(t, ok.CreatedAt.IsZero())
}

func TestLog_RecentLimit(t *testing.T) {
	t.Parallel()
	l := openTest(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.Record(ctx, Entry{RequestID: id, Record: map[string]any{}, Status: "success"}))
	}
	got, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].RequestID)
}

func TestLog_Count(t *testing.T) {
	t.Parallel()
	l := openTest(t)
	ctx := context.Background()
	for _, status := range []string{"success", "success", "error"} {
		require.NoError(t, l.Record(ctx, Entry{RequestID: "r", Record: map[string]any{}, Status: status}))
	}

	tests := []struct {
		status string
		want   int64
	}{
		{"", 3},
		{"success", 2},
		{"error", 1},
		{"other", 0},
	}
	for _, tt := range tests {
		n, err := l.Count(ctx, tt.status)
		require.NoError(t, err)
		assert.Equal(t, tt.want, n, "Count(%q)", tt.status)
	}
}

func TestLog_ConcurrentRecord(t *testing.T) {
	t.Parallel()
	l := openTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Record(ctx, Entry{RequestID: "c", Record: map[string]any{"i": i}, Status: "success"}))
		}()
	}
	wg.Wait()

	n, err := l.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}

func TestOpen_BadPath(t *testing.T) {
	t.Parallel()
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "audit.db"))
	assert.Error(t, err)
}
