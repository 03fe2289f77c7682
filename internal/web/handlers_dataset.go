package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/dedupeit/internal/core"
	"github.com/JonMunkholm/dedupeit/internal/logging"
)

// multipartOverhead leaves room for boundaries and part headers on top of
// the file size limit.
const multipartOverhead = 64 << 10

// sseKeepAlive is how often an idle event stream sends a comment line.
const sseKeepAlive = 15 * time.Second

// datasetResponse is the JSON view of the current dataset snapshot.
type datasetResponse struct {
	DatasetID   string             `json:"dataset_id"`
	Generation  uint64             `json:"generation"`
	Status      core.DatasetStatus `json:"status"`
	Columns     []string           `json:"columns"`
	Records     int                `json:"records"`
	Groups      int                `json:"groups"`
	Progress    float64            `json:"progress"`
	SubmittedAt time.Time          `json:"submitted_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	Error       *ErrorResponse     `json:"error,omitempty"`
}

func newDatasetResponse(ds *core.Dataset, now time.Time) datasetResponse {
	resp := datasetResponse{
		DatasetID:   ds.ID,
		Generation:  ds.Generation,
		Status:      ds.Status,
		Columns:     ds.Columns,
		Records:     ds.RecordCount(),
		Groups:      ds.Groups,
		Progress:    ds.Progress(now),
		SubmittedAt: ds.SubmittedAt,
	}
	if !ds.FinishedAt.IsZero() {
		finished := ds.FinishedAt
		resp.FinishedAt = &finished
	}
	if ds.Err != nil {
		msg := core.MapError(ds.Err)
		resp.Error = &ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		}
	}
	if resp.Columns == nil {
		resp.Columns = []string{}
	}
	return resp
}

// currentDataset returns the current snapshot or responds with DDP010.
func (s *Server) currentDataset(w http.ResponseWriter, r *http.Request) (*core.Dataset, bool) {
	ds := s.orch.Current()
	if ds == nil {
		respondError(w, r, core.ErrNoDataset)
		return nil, false
	}
	return ds, true
}

// doneDataset additionally requires the dataset to have finished successfully.
func (s *Server) doneDataset(w http.ResponseWriter, r *http.Request) (*core.Dataset, bool) {
	ds, ok := s.currentDataset(w, r)
	if !ok {
		return nil, false
	}
	if ds.Status != core.DatasetDone {
		respondError(w, r, fmt.Errorf("dataset %s is %s: %w", ds.ID, ds.Status, core.ErrDatasetNotReady))
		return nil, false
	}
	return ds, true
}

// handleSubmitDataset parses an uploaded CSV and replaces the current dataset.
func (s *Server) handleSubmitDataset(w http.ResponseWriter, r *http.Request) {
	// Cap the body before multipart parsing touches it
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxSize + multipartOverhead); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			respondError(w, r, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxSize))
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", errNoFile, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoFile)
		return
	}
	defer file.Close()

	// Part header may report the size before any parsing happens
	if header.Size > maxSize {
		respondError(w, r, fmt.Errorf("%w: %d bytes exceeds %d", core.ErrFileTooLarge, header.Size, maxSize))
		return
	}

	// Parse in memory - uploads are small and never stored
	records, columns, err := core.ParseCSV(file, core.IngestLimits{
		MaxBytes: maxSize,
		MaxRows:  s.cfg.Upload.MaxRows,
	})
	if err != nil {
		respondError(w, r, fmt.Errorf("parse %s: %w", header.Filename, err))
		return
	}

	// Replace the current dataset and dispatch the dedupe call
	ds, err := s.orch.Submit(records, columns)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := logging.WithDatasetID(r.Context(), ds.ID)
	logging.FromContext(ctx).Info("dataset uploaded",
		"file", header.Filename,
		"bytes", header.Size,
		"records", len(records),
		"columns", len(columns),
	)

	writeJSON(w, http.StatusAccepted, newDatasetResponse(ds, time.Now()))
}

// handleGetDataset returns the current snapshot with a progress estimate.
func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.currentDataset(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDatasetResponse(ds, time.Now()))
}

// handleDatasetEvents streams dataset transitions via Server-Sent Events.
// The current state is sent first so a late subscriber is never stale.
func (s *Server) handleDatasetEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, unsubscribe := s.orch.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(ev core.DatasetEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			logging.FromContext(r.Context()).Error("encode dataset event", "error", err)
			return
		}
		fmt.Fprintf(w, "id: %d-%s\nevent: status\ndata: %s\n\n", ev.Generation, ev.Status, data)
		flusher.Flush()
	}

	if ds := s.orch.Current(); ds != nil {
		send(core.NewDatasetEvent(ds, time.Now()))
	} else {
		fmt.Fprint(w, ": no dataset\n\n")
		flusher.Flush()
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			send(ev)
		case <-keepAlive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleSummary returns the before/after counts of a finished dataset.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.doneDataset(w, r)
	if !ok {
		return
	}

	summary := core.Summarize(ds.Hierarchy)
	writeJSON(w, http.StatusOK, struct {
		DatasetID string `json:"dataset_id"`
		core.Summary
		Groups int `json:"groups"`
	}{ds.ID, summary, ds.Groups})
}

// handleExport downloads the surviving records as deduped_data.csv.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.doneDataset(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := core.WriteCSV(&buf, ds); err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="deduped_data.csv"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logging.FromContext(r.Context()).Warn("export write failed", "error", err)
	}
}

// handleRuns lists recent runs from the history store.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, r, core.ErrHistoryDisabled)
		return
	}

	limit := queryInt(r, "limit", 20, 1, 100)
	runs, err := s.history.RecentRuns(r.Context(), limit)
	if err != nil {
		respondError(w, r, fmt.Errorf("list runs: %w", err))
		return
	}
	if runs == nil {
		runs = []core.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
