package web

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/dedupeit/internal/core"
)

// rowResponse is one display line of the flattened table.
type rowResponse struct {
	ID         string      `json:"id"`
	Status     core.Status `json:"status"`
	Depth      int         `json:"depth"`
	GroupID    string      `json:"group_id,omitempty"`
	ParentID   string      `json:"parent_id,omitempty"`
	IsParent   bool        `json:"is_parent"`
	Expandable bool        `json:"expandable"`
	Expanded   bool        `json:"expanded"`
	DupeCount  int         `json:"dupe_count"`
	Cells      []core.Cell `json:"cells"`
}

type rowsResponse struct {
	DatasetID string             `json:"dataset_id"`
	Status    core.DatasetStatus `json:"status"`
	Columns   []string           `json:"columns"`
	Expanded  []string           `json:"expanded"`
	Rows      []rowResponse      `json:"rows"`
}

// handleRows returns the flattened table for the caller's expansion state.
// An explicit ?expand= overrides the stored state without changing it.
func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.currentDataset(w, r)
	if !ok {
		return
	}

	var expanded core.ExpansionSet
	if raw, set := r.URL.Query()["expand"]; set {
		expanded = core.ParseExpansion(ds.Hierarchy, strings.Join(raw, ","))
	} else {
		expanded = s.expansions.Get(ds.ID, viewerID(w, r))
	}

	flat := core.Flatten(ds.Hierarchy, expanded)
	rows := make([]rowResponse, len(flat))
	for i, row := range flat {
		rows[i] = rowResponse{
			ID:         row.ID,
			Status:     row.Status,
			Depth:      row.Depth,
			GroupID:    row.GroupID,
			ParentID:   row.ParentID,
			IsParent:   row.IsParent,
			Expandable: row.Expandable,
			Expanded:   row.Expanded,
			DupeCount:  row.DupeCount,
			Cells:      core.RenderRow(row.Node, ds.Columns),
		}
	}

	columns := ds.Columns
	if columns == nil {
		columns = []string{}
	}
	writeJSON(w, http.StatusOK, rowsResponse{
		DatasetID: ds.ID,
		Status:    ds.Status,
		Columns:   columns,
		Expanded:  expanded.IDs(),
		Rows:      rows,
	})
}

// handleToggleGroup flips one group's expansion for the caller.
func (s *Server) handleToggleGroup(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.currentDataset(w, r)
	if !ok {
		return
	}

	groupID := chi.URLParam(r, "groupID")
	if _, found := ds.Hierarchy.Group(groupID); !found {
		respondError(w, r, fmt.Errorf("group %q: %w", groupID, core.ErrGroupNotFound))
		return
	}

	open := s.expansions.Toggle(ds.ID, viewerID(w, r), groupID)
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": groupID,
		"expanded": open,
	})
}

// cellResponse is the detail view of a single cell, including the raw
// original value alongside any word diff.
type cellResponse struct {
	RecordID string      `json:"record_id"`
	Status   core.Status `json:"status"`
	core.Cell
	Original string `json:"original"`
	Changed  bool   `json:"changed"`
}

// handleCell renders one record's cell with its diff, if any.
func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.currentDataset(w, r)
	if !ok {
		return
	}

	recordID := chi.URLParam(r, "recordID")
	node, err := ds.Record(recordID)
	if err != nil {
		respondError(w, r, fmt.Errorf("record %q: %w", recordID, err))
		return
	}

	column := chi.URLParam(r, "column")
	if !slices.Contains(ds.Columns, column) {
		respondError(w, r, fmt.Errorf("column %q: %w", column, core.ErrColumnNotFound))
		return
	}

	cell := core.RenderCell(node, column)
	writeJSON(w, http.StatusOK, cellResponse{
		RecordID: node.ID,
		Status:   node.Status,
		Cell:     cell,
		Original: core.FormatValue(node.OriginalData[column]),
		Changed:  core.HasChanges(cell.Diff),
	})
}

// queryInt parses an integer query parameter, falling back to def when it
// is missing or malformed and clamping to [lo, hi].
func queryInt(r *http.Request, name string, def, lo, hi int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return max(lo, min(n, hi))
}
