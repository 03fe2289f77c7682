package core

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
)

// Summary is the before/after headline for a finished dataset.
type Summary struct {
	OriginalCount     int     `json:"original_count"`
	DeduplicatedCount int     `json:"deduplicated_count"`
	ReductionPercent  float64 `json:"reduction_percent"` // One decimal place
}

// Summarize counts every record (children included) against the records
// that survive deduplication.
func Summarize(h *Hierarchy) Summary {
	var s Summary
	for _, n := range h.TopLevel() {
		s.OriginalCount += 1 + len(n.ChildIDs)
		if n.Status != StatusRemoved {
			s.DeduplicatedCount++
		}
	}
	if s.OriginalCount > 0 {
		pct := float64(s.OriginalCount-s.DeduplicatedCount) / float64(s.OriginalCount) * 100
		s.ReductionPercent = math.Round(pct*10) / 10
	}
	return s
}

// ExportRows returns the surviving rows in column order: merged values for
// deduped records, original values for everything else that is not removed.
func ExportRows(h *Hierarchy, columns []string) [][]string {
	top := h.TopLevel()
	rows := make([][]string, 0, len(top))
	for _, n := range top {
		if n.Status == StatusRemoved {
			continue
		}
		data := n.OriginalData
		if n.Status == StatusDeduped {
			data = n.MergedData
		}
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = FormatValue(data[col])
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteCSV writes the header and exported rows of a finished dataset.
func WriteCSV(w io.Writer, ds *Dataset) error {
	if ds.Status != DatasetDone {
		return fmt.Errorf("export dataset %s: %w", ds.ID, ErrDatasetNotReady)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ds.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range ExportRows(ds.Hierarchy, ds.Columns) {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
