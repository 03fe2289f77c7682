package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDeduplicator returns canned results and counts calls.
type fakeDeduplicator struct {
	calls  atomic.Int32
	fn     func(ctx context.Context, records []Record) (*DedupeResult, error)
	called chan struct{}
}

func newFake(fn func(ctx context.Context, records []Record) (*DedupeResult, error)) *fakeDeduplicator {
	return &fakeDeduplicator{fn: fn, called: make(chan struct{}, 8)}
}

func (f *fakeDeduplicator) Deduplicate(ctx context.Context, records []Record) (*DedupeResult, error) {
	f.calls.Add(1)
	f.called <- struct{}{}
	return f.fn(ctx, records)
}

func mustSubmit(t *testing.T, o *Orchestrator, records []Record, columns []string) *Dataset {
	t.Helper()
	ds, err := o.Submit(records, columns)
	require.NoError(t, err)
	return ds
}

func waitDone(t *testing.T, o *Orchestrator) *Dataset {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ds, err := o.Wait(ctx)
	require.NoError(t, err)
	return ds
}

func TestOrchestrator_NoDataset(t *testing.T) {
	o := NewOrchestrator(newFake(nil))
	assert.Nil(t, o.Current())

	_, err := o.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNoDataset)
}

func TestOrchestrator_Success(t *testing.T) {
	fake := newFake(func(context.Context, []Record) (*DedupeResult, error) {
		return sampleResult(), nil
	})
	history := NewMemoryHistory(10)
	o := NewOrchestrator(fake, WithRunRecorder(history))

	initial := mustSubmit(t, o, sampleRecords(), []string{"name", "email"})
	assert.Equal(t, DatasetProcessing, initial.Status)
	for _, r := range initial.Hierarchy.Records() {
		assert.Equal(t, StatusProcessing, r.Status)
	}

	ds := waitDone(t, o)
	assert.Equal(t, DatasetDone, ds.Status)
	assert.Equal(t, initial.ID, ds.ID)
	assert.Equal(t, 1, ds.Groups)
	assert.Len(t, ds.Hierarchy.TopLevel(), 2)
	assert.Equal(t, int32(1), fake.calls.Load())
	assert.Equal(t, float64(100), ds.Progress(time.Now()))

	// The initial snapshot is untouched by the transition.
	assert.Equal(t, DatasetProcessing, initial.Status)

	runs, err := history.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ds.ID, runs[0].DatasetID)
	assert.Equal(t, 2, runs[0].Absorbed)
}

func TestOrchestrator_FailureMarksEveryRecordFailed(t *testing.T) {
	fake := newFake(func(context.Context, []Record) (*DedupeResult, error) {
		return nil, &ServiceError{StatusCode: 502, Body: "bad gateway"}
	})
	o := NewOrchestrator(fake)
	o.Submit(sampleRecords(), []string{"name"})

	ds := waitDone(t, o)
	assert.Equal(t, DatasetError, ds.Status)
	assert.Equal(t, 4, ds.RecordCount())
	assert.Len(t, ds.Hierarchy.TopLevel(), 4)
	for _, r := range ds.Hierarchy.Records() {
		assert.Equal(t, StatusFailed, r.Status)
		assert.Nil(t, r.MergedData)
	}

	var se *ServiceError
	assert.ErrorAs(t, ds.Err, &se)
}

func TestOrchestrator_MergeViolationIsError(t *testing.T) {
	fake := newFake(func(context.Context, []Record) (*DedupeResult, error) {
		return &DedupeResult{Groups: []GroupResult{{GroupID: "g", RecordIDs: []string{"ghost"}, MergedData: Fields{}}}}, nil
	})
	o := NewOrchestrator(fake)
	o.Submit(sampleRecords(), nil)

	ds := waitDone(t, o)
	assert.Equal(t, DatasetError, ds.Status)
	assert.ErrorIs(t, ds.Err, ErrMergeContract)
}

func TestOrchestrator_DispatchOnce(t *testing.T) {
	release := make(chan struct{})
	fake := newFake(func(context.Context, []Record) (*DedupeResult, error) {
		<-release
		return &DedupeResult{Groups: []GroupResult{}}, nil
	})
	o := NewOrchestrator(fake)
	o.Submit(sampleRecords(), nil)
	<-fake.called

	o.mu.RLock()
	run := o.run
	o.mu.RUnlock()
	assert.False(t, o.dispatch(run))
	assert.False(t, o.dispatch(run))

	close(release)
	waitDone(t, o)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestOrchestrator_SupersededResultDiscarded(t *testing.T) {
	firstRelease := make(chan struct{})
	fake := newFake(func(ctx context.Context, records []Record) (*DedupeResult, error) {
		if len(records) == 4 {
			// The first run ignores cancellation and returns late.
			<-firstRelease
			return sampleResult(), nil
		}
		return &DedupeResult{Groups: []GroupResult{}}, nil
	})
	o := NewOrchestrator(fake)
	first := mustSubmit(t, o, sampleRecords(), nil)
	<-fake.called

	second := mustSubmit(t, o, []Record{NewRecord("x", Fields{"name": "X"})}, nil)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Greater(t, second.Generation, first.Generation)

	ds := waitDone(t, o)
	assert.Equal(t, second.ID, ds.ID)
	assert.Equal(t, DatasetDone, ds.Status)

	close(firstRelease)
	require.NoError(t, o.Shutdown(context.Background()))

	cur := o.Current()
	assert.Equal(t, second.ID, cur.ID)
	assert.Equal(t, 1, cur.RecordCount())
}

func TestOrchestrator_SubmitCancelsPreviousRun(t *testing.T) {
	cancelled := make(chan struct{})
	fake := newFake(func(ctx context.Context, records []Record) (*DedupeResult, error) {
		if len(records) == 4 {
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		}
		return &DedupeResult{Groups: []GroupResult{}}, nil
	})
	o := NewOrchestrator(fake)
	o.Submit(sampleRecords(), nil)
	<-fake.called
	o.Submit([]Record{NewRecord("x", Fields{})}, nil)

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("previous run was not cancelled")
	}
	assert.Equal(t, DatasetDone, waitDone(t, o).Status)
}

func TestOrchestrator_SubmitCopiesInput(t *testing.T) {
	fake := newFake(func(context.Context, []Record) (*DedupeResult, error) {
		return &DedupeResult{Groups: []GroupResult{}}, nil
	})
	o := NewOrchestrator(fake)

	records := sampleRecords()
	o.Submit(records, nil)
	records[0].OriginalData["name"] = "mutated"

	ds := waitDone(t, o)
	n, err := ds.Record("p")
	require.NoError(t, err)
	assert.Equal(t, "John Smith", n.OriginalData["name"])

	_, err = ds.Record("missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestOrchestrator_Subscribe(t *testing.T) {
	fake := newFake(func(context.Context, []Record) (*DedupeResult, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	o := NewOrchestrator(fake)
	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	o.Submit(sampleRecords(), nil)

	first := <-events
	assert.Equal(t, DatasetProcessing, first.Status)
	assert.Equal(t, 4, first.Records)

	second := <-events
	assert.Equal(t, DatasetError, second.Status)
	assert.Equal(t, first.DatasetID, second.DatasetID)
	assert.Equal(t, "DDP005", second.Code)
	assert.NotEmpty(t, second.Error)

	unsubscribe()
	_, open := <-events
	assert.False(t, open)
}

func TestOrchestrator_ShutdownCancelsInFlight(t *testing.T) {
	fake := newFake(func(ctx context.Context, _ []Record) (*DedupeResult, error) {
		<-ctx.Done()
		return nil, &TransportError{Err: ctx.Err()}
	})
	history := NewMemoryHistory(10)
	o := NewOrchestrator(fake, WithRunRecorder(history))
	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	submitted := mustSubmit(t, o, sampleRecords(), nil)
	<-fake.called
	assert.Equal(t, DatasetProcessing, (<-events).Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	// The cancelled run never reaches a terminal state.
	cur := o.Current()
	assert.Equal(t, submitted.ID, cur.ID)
	assert.Equal(t, DatasetProcessing, cur.Status)
	for _, r := range cur.Hierarchy.Records() {
		assert.Equal(t, StatusProcessing, r.Status)
	}

	runs, err := history.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event after shutdown: %+v", ev)
	default:
	}

	_, err = o.Wait(ctx)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestOrchestrator_SubmitAfterShutdown(t *testing.T) {
	fake := newFake(func(context.Context, []Record) (*DedupeResult, error) {
		return &DedupeResult{Groups: []GroupResult{}}, nil
	})
	o := NewOrchestrator(fake)
	first := mustSubmit(t, o, sampleRecords(), nil)
	waitDone(t, o)
	require.NoError(t, o.Shutdown(context.Background()))

	ds, err := o.Submit([]Record{NewRecord("x", Fields{})}, nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Nil(t, ds)
	assert.Equal(t, int32(1), fake.calls.Load())

	cur := o.Current()
	assert.Equal(t, first.ID, cur.ID)
	assert.Equal(t, DatasetDone, cur.Status)
}

func TestOrchestrator_TimeoutStillFailsDuringShutdown(t *testing.T) {
	fake := newFake(func(ctx context.Context, _ []Record) (*DedupeResult, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w after 100s", ErrTimeout)
	})
	history := NewMemoryHistory(10)
	o := NewOrchestrator(fake, WithRunRecorder(history))
	mustSubmit(t, o, sampleRecords(), nil)
	<-fake.called

	require.NoError(t, o.Shutdown(context.Background()))
	ds := o.Current()
	assert.Equal(t, DatasetError, ds.Status)
	assert.ErrorIs(t, ds.Err, ErrTimeout)

	assert.Eventually(t, func() bool {
		runs, _ := history.RecentRuns(context.Background(), 10)
		return len(runs) == 1 && runs[0].ErrorCode == "DDP001"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestOrchestrator_EventsFollowSwapOrder(t *testing.T) {
	fake := newFake(func(context.Context, []Record) (*DedupeResult, error) {
		return &DedupeResult{Groups: []GroupResult{}}, nil
	})
	o := NewOrchestrator(fake)
	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	const submits = 6
	for i := 0; i < submits; i++ {
		mustSubmit(t, o, []Record{NewRecord(fmt.Sprintf("r%d", i), Fields{})}, nil)
		<-fake.called
	}
	last := waitDone(t, o)
	require.NoError(t, o.Shutdown(context.Background()))
	unsubscribe()

	// A newer generation's event is never followed by an older one.
	var got []DatasetEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].Generation, got[i-1].Generation, "event %d", i)
	}
	assert.Equal(t, last.ID, got[len(got)-1].DatasetID)
	assert.Equal(t, DatasetDone, got[len(got)-1].Status)
}
