package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Dedup client and merge failures. Every one of them collapses the current
// dataset to the error state; none is retried.
var (
	// ErrTimeout is returned when the dedupe request exceeds its time budget.
	ErrTimeout = errors.New("dedupe request timed out")

	// ErrMalformedResponse is returned when the service response does not
	// match the DedupeResult contract.
	ErrMalformedResponse = errors.New("malformed dedupe response")

	// ErrMergeContract is matched by every *MergeContractViolation.
	ErrMergeContract = errors.New("merge contract violation")

	// ErrNoDataset is returned by readers when nothing has been submitted yet.
	ErrNoDataset = errors.New("no dataset loaded")

	// ErrDatasetNotReady is returned for operations that need a completed dataset.
	ErrDatasetNotReady = errors.New("dataset not ready")

	// ErrRecordNotFound is returned when a record id is not part of the dataset.
	ErrRecordNotFound = errors.New("record not found")

	// ErrGroupNotFound is returned when a group id names no parent in the dataset.
	ErrGroupNotFound = errors.New("group not found")

	// ErrColumnNotFound is returned for a column outside the dataset header.
	ErrColumnNotFound = errors.New("column not found")

	// ErrShuttingDown is returned by Submit and Wait once Shutdown has started.
	ErrShuttingDown = errors.New("orchestrator shutting down")
)

// ServiceError reports a non-success HTTP status from the dedupe service.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return fmt.Sprintf("dedupe service error: status=%d message=%s", e.StatusCode, msg)
}

// TransportError wraps a failure to reach the dedupe service at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "dedupe transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedError carries the reason a response failed validation.
// It matches ErrMalformedResponse via errors.Is.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrMalformedResponse, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrMalformedResponse, e.Reason)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedResponse
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// MergeContractViolation reports a group that references a record id the
// client never submitted, or an id claimed more than once.
type MergeContractViolation struct {
	GroupID  string
	RecordID string
	Reason   string
}

func (e *MergeContractViolation) Error() string {
	return fmt.Sprintf("%s: group %q record %q: %s", ErrMergeContract, e.GroupID, e.RecordID, e.Reason)
}

func (e *MergeContractViolation) Is(target error) bool {
	return target == ErrMergeContract
}
