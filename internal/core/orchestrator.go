package core

// orchestrator.go owns the "current dataset" and its state machine.
//
//	processing -> done   (dedupe call succeeded and merge applied)
//	processing -> error  (any client error or merge contract violation)
//
// Submit is the only way into processing. It replaces the dataset wholesale
// and dispatches exactly one dedupe call for the new generation; a
// per-run CAS flag makes repeated dispatch a no-op. Results that come back
// for a superseded generation are dropped.
//
// Cancellation from supersede or Shutdown is internal: the cancelled run is
// abandoned without a terminal transition or a history row. Only the client
// timeout reaches the error state.

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// historyTimeout bounds how long a terminal transition waits on the run recorder.
const historyTimeout = 5 * time.Second

// Orchestrator is the single writer of the current dataset.
type Orchestrator struct {
	client   Deduplicator
	recorder RunRecorder
	now      func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.RWMutex
	current    *Dataset
	run        *datasetRun
	generation uint64

	listenerMu sync.Mutex
	listeners  map[chan DatasetEvent]struct{}
}

// datasetRun is the in-flight state for one generation.
type datasetRun struct {
	initial   *Dataset
	records   []Record
	ctx       context.Context
	cancel    context.CancelFunc
	submitted atomic.Bool
	done      chan struct{}
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithRunRecorder records every terminal transition.
func WithRunRecorder(r RunRecorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator with no dataset loaded.
func NewOrchestrator(client Deduplicator, opts ...OrchestratorOption) *Orchestrator {
	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		client:    client,
		recorder:  NopRunRecorder{},
		now:       time.Now,
		baseCtx:   ctx,
		stop:      stop,
		listeners: make(map[chan DatasetEvent]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit replaces the current dataset with a new one built from records
// and columns, enters processing and dispatches the dedupe call.
// The returned snapshot is the processing state. After Shutdown it
// returns ErrShuttingDown and leaves the current dataset alone.
func (o *Orchestrator) Submit(records []Record, columns []string) (*Dataset, error) {
	owned := make([]Record, len(records))
	for i, r := range records {
		owned[i] = Record{
			ID:           r.ID,
			Status:       StatusProcessing,
			OriginalData: r.OriginalData.Clone(),
		}
	}

	o.mu.Lock()
	if o.baseCtx.Err() != nil {
		o.mu.Unlock()
		slog.Warn("dataset rejected, orchestrator is shutting down", "records", len(owned))
		return nil, ErrShuttingDown
	}
	runCtx, cancel := context.WithCancel(o.baseCtx)
	if o.run != nil {
		o.run.cancel()
	}
	o.generation++
	ds := &Dataset{
		ID:          uuid.New().String(),
		Generation:  o.generation,
		Status:      DatasetProcessing,
		Columns:     append([]string(nil), columns...),
		Hierarchy:   flatHierarchy(owned, StatusProcessing),
		SubmittedAt: o.now(),
	}
	run := &datasetRun{
		initial: ds,
		records: owned,
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	o.current = ds
	o.run = run
	// Shutdown takes o.mu, so no Add can follow its Wait.
	o.wg.Add(1)
	o.publishLocked(NewDatasetEvent(ds, ds.SubmittedAt))

	slog.Info("dataset submitted",
		"dataset_id", ds.ID,
		"generation", ds.Generation,
		"records", len(owned),
		"columns", len(ds.Columns),
	)

	o.dispatch(run)
	return ds, nil
}

// dispatch starts the dedupe call for a run at most once. The wait group
// slot was reserved by Submit.
func (o *Orchestrator) dispatch(run *datasetRun) bool {
	if !run.submitted.CompareAndSwap(false, true) {
		slog.Debug("dedupe already dispatched", "dataset_id", run.initial.ID)
		return false
	}
	go o.execute(run)
	return true
}

func (o *Orchestrator) execute(run *datasetRun) {
	defer o.wg.Done()
	defer close(run.done)
	defer run.cancel()

	ds := run.initial
	logger := slog.With("dataset_id", ds.ID, "generation", ds.Generation)

	result, err := o.client.Deduplicate(run.ctx, run.records)
	if err != nil && run.ctx.Err() != nil && !errors.Is(err, ErrTimeout) {
		logger.Info("dedupe run abandoned after cancellation", "error", err)
		return
	}

	var next *Dataset
	if err == nil {
		var h *Hierarchy
		h, err = Merge(run.records, result)
		if err == nil {
			next = ds.withDone(h, len(result.Groups), o.now())
		}
	}
	if err != nil {
		next = ds.withError(run.records, err, o.now())
	}

	if !o.commit(run, next) {
		logger.Info("dedupe result discarded for superseded dataset", "status", next.Status)
		return
	}

	if next.Status == DatasetDone {
		logger.Info("dataset deduplicated",
			"records", next.RecordCount(),
			"groups", next.Groups,
			"top_level", len(next.Hierarchy.topLevel),
			"duration_ms", next.Duration(o.now()).Milliseconds(),
		)
	} else {
		logger.Error("dataset failed",
			"records", next.RecordCount(),
			"error", next.Err,
			"code", MapError(next.Err).Code,
		)
	}

	o.recordRun(next)
}

// commit swaps in the terminal snapshot if the run is still current.
func (o *Orchestrator) commit(run *datasetRun, next *Dataset) bool {
	o.mu.Lock()
	if o.run != run {
		o.mu.Unlock()
		return false
	}
	o.current = next
	o.publishLocked(NewDatasetEvent(next, next.FinishedAt))
	return true
}

// publishLocked releases o.mu and broadcasts ev. Subscribers see events in
// the order the swaps happened because listenerMu is taken before o.mu is
// released.
func (o *Orchestrator) publishLocked(ev DatasetEvent) {
	o.listenerMu.Lock()
	o.mu.Unlock()
	defer o.listenerMu.Unlock()
	o.sendLocked(ev)
}

func (o *Orchestrator) recordRun(ds *Dataset) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := o.recorder.RecordRun(ctx, NewRunRecord(ds)); err != nil {
		slog.Warn("failed to record dedupe run", "dataset_id", ds.ID, "error", err)
	}
}

// Current returns the latest committed snapshot, or nil before the first Submit.
func (o *Orchestrator) Current() *Dataset {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// Wait blocks until the current dataset reaches a terminal state.
// If a newer dataset is submitted meanwhile, Wait follows it.
func (o *Orchestrator) Wait(ctx context.Context) (*Dataset, error) {
	for {
		o.mu.RLock()
		ds, run := o.current, o.run
		o.mu.RUnlock()

		if ds == nil {
			return nil, ErrNoDataset
		}
		if ds.IsTerminal() {
			return ds, nil
		}
		select {
		case <-run.done:
			if o.abandoned(run) {
				return nil, ErrShuttingDown
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// abandoned reports whether a finished run is still current but never
// reached a terminal state.
func (o *Orchestrator) abandoned(run *datasetRun) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.run == run && !o.current.IsTerminal()
}

// Subscribe registers for dataset events. The returned function
// unsubscribes and closes the channel. Slow subscribers miss events
// rather than block the orchestrator.
func (o *Orchestrator) Subscribe() (<-chan DatasetEvent, func()) {
	ch := make(chan DatasetEvent, 16)

	o.listenerMu.Lock()
	o.listeners[ch] = struct{}{}
	o.listenerMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.listenerMu.Lock()
			delete(o.listeners, ch)
			o.listenerMu.Unlock()
			close(ch)
		})
	}
}

// sendLocked fans ev out to subscribers. Callers hold listenerMu.
func (o *Orchestrator) sendLocked(ev DatasetEvent) {
	for ch := range o.listeners {
		select {
		case ch <- ev:
		default:
			slog.Debug("dropping dataset event for slow subscriber", "dataset_id", ev.DatasetID)
		}
	}
}

// Shutdown cancels in-flight work and waits for it to finish. Later
// Submit calls fail with ErrShuttingDown.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.stop()
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
