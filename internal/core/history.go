package core

// history.go keeps an audit trail of dedupe runs. The Postgres store is
// optional: without DATABASE_URL the server keeps recent runs in memory and
// the CLI records nothing.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrHistoryDisabled is returned when no history store is configured.
var ErrHistoryDisabled = errors.New("run history disabled")

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// RunRecord summarises one finished dataset run.
type RunRecord struct {
	DatasetID   string        `json:"dataset_id"`
	Status      DatasetStatus `json:"status"`
	Records     int           `json:"records"`
	Groups      int           `json:"groups"`
	Absorbed    int           `json:"absorbed"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Error       string        `json:"error,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// NewRunRecord builds the history entry for a terminal dataset.
func NewRunRecord(ds *Dataset) RunRecord {
	rec := RunRecord{
		DatasetID:   ds.ID,
		Status:      ds.Status,
		Records:     ds.RecordCount(),
		Groups:      ds.Groups,
		SubmittedAt: ds.SubmittedAt,
		FinishedAt:  ds.FinishedAt,
	}
	if ds.Status == DatasetDone {
		rec.Absorbed = ds.RecordCount() - len(ds.Hierarchy.topLevel)
	}
	if ds.Err != nil {
		rec.ErrorCode = MapError(ds.Err).Code
		rec.Error = ds.Err.Error()
	}
	return rec
}

// RunRecorder persists run records.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

// RunLister returns recent runs, newest first.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// NopRunRecorder discards run records.
type NopRunRecorder struct{}

func (NopRunRecorder) RecordRun(context.Context, RunRecord) error { return nil }

// MemoryHistory keeps the most recent runs in memory.
type MemoryHistory struct {
	mu   sync.Mutex
	max  int
	runs []RunRecord
}

// NewMemoryHistory keeps at most max runs.
func NewMemoryHistory(max int) *MemoryHistory {
	if max <= 0 {
		max = 100
	}
	return &MemoryHistory{max: max}
}

func (m *MemoryHistory) RecordRun(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, rec)
	if len(m.runs) > m.max {
		m.runs = m.runs[len(m.runs)-m.max:]
	}
	return nil
}

func (m *MemoryHistory) RecentRuns(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}
	out := make([]RunRecord, 0, limit)
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

// PostgresHistory stores runs in the dedupe_runs table.
type PostgresHistory struct {
	db DBTX
}

// NewPostgresHistory wraps a pool or transaction.
func NewPostgresHistory(db DBTX) *PostgresHistory {
	return &PostgresHistory{db: db}
}

const createRunsTable = `
CREATE TABLE IF NOT EXISTS dedupe_runs (
	dataset_id   UUID PRIMARY KEY,
	status       TEXT NOT NULL,
	records      INTEGER NOT NULL,
	groups_found INTEGER NOT NULL,
	absorbed     INTEGER NOT NULL,
	error_code   TEXT,
	error        TEXT,
	submitted_at TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL
)`

// EnsureSchema creates the history table if it does not exist.
func (p *PostgresHistory) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, createRunsTable); err != nil {
		return fmt.Errorf("create dedupe_runs: %w", err)
	}
	return nil
}

func (p *PostgresHistory) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO dedupe_runs
			(dataset_id, status, records, groups_found, absorbed, error_code, error, submitted_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (dataset_id) DO NOTHING`,
		ToPgUUID(rec.DatasetID), string(rec.Status), rec.Records, rec.Groups, rec.Absorbed,
		ToPgText(rec.ErrorCode), ToPgText(rec.Error), rec.SubmittedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dedupe run: %w", err)
	}
	return nil
}

func (p *PostgresHistory) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.Query(ctx, `
		SELECT dataset_id, status, records, groups_found, absorbed,
		       error_code, error, submitted_at, finished_at
		FROM dedupe_runs
		ORDER BY finished_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dedupe runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			rec             RunRecord
			id              pgtype.UUID
			status          string
			errCode, errMsg pgtype.Text
		)
		if err := rows.Scan(&id, &status, &rec.Records, &rec.Groups, &rec.Absorbed,
			&errCode, &errMsg, &rec.SubmittedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan dedupe run: %w", err)
		}
		rec.DatasetID = PgUUIDToString(id)
		rec.Status = DatasetStatus(status)
		rec.ErrorCode = PgTextToString(errCode)
		rec.Error = PgTextToString(errMsg)
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}
