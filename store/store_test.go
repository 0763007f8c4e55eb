package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/allocbench/aggregate"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func sampleResults() map[string]aggregate.Sweep {
	return map[string]aggregate.Sweep{
		"cfrac": {
			"mimalloc": {
				Target:     "mimalloc",
				Workload:   "cfrac",
				Attributes: []string{"mem_peak", "time_elapsed", "page_fault"},
				Values: map[string][]float64{
					"mem_peak":     {2097152, 2101248},
					"time_elapsed": {0.25, 0.5},
					"page_fault":   {12, 14},
				},
				Average: true,
			},
			"jemalloc": nil,
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	run := NewRun("bench-host", 2, true)
	require.NoError(t, s.Save(ctx, run, sampleResults()))

	got, results, err := s.Load(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "bench-host", got.Host)
	assert.Equal(t, 2, got.Trials)
	assert.True(t, got.Average)
	assert.WithinDuration(t, run.StartedAt, got.StartedAt, time.Microsecond)

	require.Contains(t, results, "cfrac")
	assert.Contains(t, results["cfrac"], "jemalloc")
	assert.Nil(t, results["cfrac"]["jemalloc"])

	series := results["cfrac"]["mimalloc"]
	require.NotNil(t, series)
	assert.Equal(t, []string{"mem_peak", "time_elapsed", "page_fault"}, series.Attributes)
	assert.Equal(t, []float64{0.25, 0.5}, series.Values["time_elapsed"])

	m, err := series.Mean("time_elapsed")
	require.NoError(t, err)
	assert.Equal(t, 0.375, m)
}

func TestListNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	older := NewRun("h", 1, true)
	older.StartedAt = time.Now().Add(-time.Hour)
	newer := NewRun("h", 3, false)

	require.NoError(t, s.Save(ctx, older, sampleResults()))
	require.NoError(t, s.Save(ctx, newer, nil))

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Zero(t, runs[0].Pairs)

	assert.Equal(t, older.ID, runs[1].ID)
	assert.Equal(t, 2, runs[1].Pairs)
	assert.Equal(t, 1, runs[1].Failed)

	limited, err := s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLoadUnknownRun(t *testing.T) {
	s := openStore(t)

	_, _, err := s.Load(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveDuplicateRunFails(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	run := NewRun("h", 1, true)
	require.NoError(t, s.Save(ctx, run, nil))
	require.Error(t, s.Save(ctx, run, sampleResults()))

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Zero(t, runs[0].Pairs)
}
