package core

import "time"

// DatasetStatus is the state of a dataset run as a whole.
type DatasetStatus string

const (
	DatasetProcessing DatasetStatus = "processing"
	DatasetDone       DatasetStatus = "done"
	DatasetError      DatasetStatus = "error"
)

// Dataset is an immutable snapshot of the current dataset. Every state
// transition produces a new value; readers never observe a partial merge.
type Dataset struct {
	ID          string
	Generation  uint64
	Status      DatasetStatus
	Columns     []string
	Hierarchy   *Hierarchy
	Groups      int   // Groups reported by the service (0 until done)
	Err         error // Set only when Status is DatasetError
	SubmittedAt time.Time
	FinishedAt  time.Time // Zero while processing
}

// IsTerminal reports whether the run has finished, successfully or not.
func (d *Dataset) IsTerminal() bool {
	return d.Status == DatasetDone || d.Status == DatasetError
}

// RecordCount returns the number of records, children included.
func (d *Dataset) RecordCount() int {
	return d.Hierarchy.Len()
}

// Duration returns how long the run took, or has taken so far.
func (d *Dataset) Duration(now time.Time) time.Duration {
	if !d.FinishedAt.IsZero() {
		return d.FinishedAt.Sub(d.SubmittedAt)
	}
	return now.Sub(d.SubmittedAt)
}

// Record looks up a record node by id.
func (d *Dataset) Record(id string) (Node, error) {
	n, ok := d.Hierarchy.Node(id)
	if !ok {
		return Node{}, ErrRecordNotFound
	}
	return n, nil
}

// withDone returns the successful terminal snapshot.
func (d *Dataset) withDone(h *Hierarchy, groups int, at time.Time) *Dataset {
	next := *d
	next.Status = DatasetDone
	next.Hierarchy = h
	next.Groups = groups
	next.FinishedAt = at
	return &next
}

// withError returns the failed terminal snapshot: every record failed.
func (d *Dataset) withError(records []Record, err error, at time.Time) *Dataset {
	next := *d
	next.Status = DatasetError
	next.Hierarchy = flatHierarchy(records, StatusFailed)
	next.Err = err
	next.FinishedAt = at
	return &next
}

// DatasetEvent is broadcast to subscribers on every committed transition.
type DatasetEvent struct {
	DatasetID  string        `json:"dataset_id"`
	Generation uint64        `json:"generation"`
	Status     DatasetStatus `json:"status"`
	Records    int           `json:"records"`
	Error      string        `json:"error,omitempty"`
	Code       string        `json:"code,omitempty"`
	At         time.Time     `json:"at"`
}

// NewDatasetEvent describes a snapshot as a status event.
func NewDatasetEvent(d *Dataset, at time.Time) DatasetEvent {
	ev := DatasetEvent{
		DatasetID:  d.ID,
		Generation: d.Generation,
		Status:     d.Status,
		Records:    d.RecordCount(),
		At:         at,
	}
	if d.Err != nil {
		msg := MapError(d.Err)
		ev.Error = msg.Message
		ev.Code = msg.Code
	}
	return ev
}
