package core

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	s := Summarize(mergedSample(t))

	assert.Equal(t, 4, s.OriginalCount)
	assert.Equal(t, 2, s.DeduplicatedCount)
	assert.Equal(t, 50.0, s.ReductionPercent)
}

func TestSummarize_RoundsToOneDecimal(t *testing.T) {
	records := []Record{
		NewRecord("a", Fields{}), NewRecord("b", Fields{}), NewRecord("c", Fields{}),
	}
	h, err := Merge(records, &DedupeResult{Groups: []GroupResult{{
		GroupID: "g", RecordIDs: []string{"a", "b"}, MergedData: Fields{},
	}}})
	require.NoError(t, err)

	assert.Equal(t, 33.3, Summarize(h).ReductionPercent)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestWriteCSV(t *testing.T) {
	ds := &Dataset{
		ID:        "ds",
		Status:    DatasetDone,
		Columns:   []string{"name", "email"},
		Hierarchy: mergedSample(t),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, ds))

	want := "name,email\n" +
		"Jon Smith,john@example.com\n" +
		"Alice Jones,alice@example.com\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteCSV_NotReady(t *testing.T) {
	ds := &Dataset{ID: "ds", Status: DatasetProcessing}
	err := WriteCSV(&bytes.Buffer{}, ds)
	assert.ErrorIs(t, err, ErrDatasetNotReady)
	assert.Equal(t, "DDP011", MapError(err).Code)
}

func TestEstimateProgress(t *testing.T) {
	assert.Equal(t, 0.0, EstimateProgress(10, 0))
	assert.Equal(t, 2200*time.Millisecond, ExpectedDuration(10))

	// At exactly the expected duration: 100 * (1 - 1/5) = 80.
	assert.Equal(t, 80.0, EstimateProgress(10, ExpectedDuration(10)))

	prev := 0.0
	for _, elapsed := range []time.Duration{time.Second, 5 * time.Second, time.Minute, time.Hour} {
		p := EstimateProgress(10, elapsed)
		assert.Greater(t, p, prev)
		assert.Less(t, p, 100.0)
		prev = p
	}
}

func TestDatasetProgress(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := &Dataset{Status: DatasetProcessing, SubmittedAt: start, Hierarchy: flatHierarchy(sampleRecords(), StatusProcessing)}

	// 4 records: expected 1.48s.
	assert.Equal(t, 80.0, ds.Progress(start.Add(1480*time.Millisecond)))

	done := ds.withDone(ds.Hierarchy, 0, start.Add(time.Second))
	assert.Equal(t, 100.0, done.Progress(start.Add(time.Hour)))
}

func TestMemoryHistory(t *testing.T) {
	h := NewMemoryHistory(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.RecordRun(ctx, RunRecord{DatasetID: id}))
	}

	runs, err := h.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].DatasetID)
	assert.Equal(t, "b", runs[1].DatasetID)

	runs, _ = h.RecentRuns(ctx, 1)
	assert.Len(t, runs, 1)
}

func TestNewRunRecord_Error(t *testing.T) {
	ds := &Dataset{ID: "x", Status: DatasetProcessing, Hierarchy: flatHierarchy(sampleRecords(), StatusProcessing)}
	failed := ds.withError(sampleRecords(), ErrTimeout, time.Now())

	rec := NewRunRecord(failed)
	assert.Equal(t, DatasetError, rec.Status)
	assert.Equal(t, 4, rec.Records)
	assert.Equal(t, 0, rec.Absorbed)
	assert.Equal(t, "DDP001", rec.ErrorCode)
}
