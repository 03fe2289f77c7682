package core

import (
	"encoding/json"
	"strconv"
)

// Status is the lifecycle state of a single record within a dataset run.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusUnique     Status = "unique"
	StatusDeduped    Status = "deduped"
	StatusRemoved    Status = "removed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the status is final for the dataset's lifetime.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusUnique, StatusDeduped, StatusRemoved, StatusFailed:
		return true
	default:
		return false
	}
}

// Fields maps column names to scalar or string values.
// Column order lives on the dataset, not here.
type Fields map[string]any

// Clone returns a shallow copy. Values are scalars so a shallow copy is complete.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Record is an uploaded row and its lifecycle status.
type Record struct {
	ID           string `json:"id"`
	Status       Status `json:"status"`
	OriginalData Fields `json:"original_data"`
	MergedData   Fields `json:"merged_data,omitempty"` // Set only once the record is deduped
}

// NewRecord creates a record in the processing state.
func NewRecord(id string, data Fields) Record {
	return Record{
		ID:           id,
		Status:       StatusProcessing,
		OriginalData: data,
	}
}

// FormatValue renders a field value the way it is displayed and exported.
// A missing value renders as the empty string.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
