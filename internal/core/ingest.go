package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// Upload limits shared with the dedupe service.
const (
	DefaultMaxFileSize int64 = 100 * 1024
	DefaultMaxRows           = 100
)

var (
	ErrFileTooLarge = errors.New("file too large")
	ErrTooManyRows  = errors.New("too many rows")
	ErrEmptyFile    = errors.New("empty file")
	ErrInvalidCSV   = errors.New("invalid csv")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// IngestLimits bounds what ParseCSV accepts. Zero values use the defaults.
type IngestLimits struct {
	MaxBytes int64
	MaxRows  int
}

func (l IngestLimits) withDefaults() IngestLimits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxFileSize
	}
	if l.MaxRows <= 0 {
		l.MaxRows = DefaultMaxRows
	}
	return l
}

// ParseCSV reads a header-first CSV into processing records with fresh ids.
// Blank lines and rows with only blank fields are skipped. Short rows leave
// the missing columns absent; extra fields are dropped.
func ParseCSV(r io.Reader, limits IngestLimits) ([]Record, []string, error) {
	limits = limits.withDefaults()

	data, err := io.ReadAll(io.LimitReader(r, limits.MaxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if int64(len(data)) > limits.MaxBytes {
		return nil, nil, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, limits.MaxBytes)
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.ToValidUTF8(data, []byte("\uFFFD"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyFile
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}
	columns := normalizeHeader(header)

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
		}
		if blankRow(row) {
			continue
		}
		if len(records) == limits.MaxRows {
			return nil, nil, fmt.Errorf("%w: limit is %d", ErrTooManyRows, limits.MaxRows)
		}

		fields := make(Fields, len(columns))
		for i, col := range columns {
			if i < len(row) {
				fields[col] = row[i]
			}
		}
		records = append(records, NewRecord(uuid.New().String(), fields))
	}

	if len(records) == 0 {
		return nil, nil, ErrEmptyFile
	}
	return records, columns, nil
}

// normalizeHeader trims names, fills blanks and suffixes repeats so every
// column key is unique.
func normalizeHeader(header []string) []string {
	seen := make(map[string]int, len(header))
	columns := make([]string, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		base := name
		for seen[name] > 0 {
			name = fmt.Sprintf("%s_%d", base, seen[base])
			seen[base]++
		}
		seen[name]++
		columns[i] = name
	}
	return columns
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
