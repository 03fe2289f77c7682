package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// GroupResult is one duplicate cluster reported by the dedupe service.
// RecordIDs[0] is the representative; the rest are absorbed into it.
type GroupResult struct {
	GroupID    string   `json:"group_id"`
	RecordIDs  []string `json:"record_ids"`
	MergedData Fields   `json:"merged_data"`
}

// DedupeResult is the validated service response.
type DedupeResult struct {
	Groups []GroupResult `json:"groups"`
}

// AbsorbedCount returns how many records the result folds into a parent.
func (r *DedupeResult) AbsorbedCount() int {
	n := 0
	for _, g := range r.Groups {
		if len(g.RecordIDs) > 1 {
			n += len(g.RecordIDs) - 1
		}
	}
	return n
}

// wireResult mirrors the response body with pointer fields so that missing
// and null members can be told apart from empty ones.
type wireResult struct {
	Groups *[]wireGroup `json:"groups"`
}

type wireGroup struct {
	GroupID    *string   `json:"group_id"`
	RecordIDs  *[]string `json:"record_ids"`
	MergedData *Fields   `json:"merged_data"`
}

// ParseDedupeResult decodes and validates a response body.
// Every failure is a *MalformedError; nothing is coerced.
func ParseDedupeResult(body []byte) (*DedupeResult, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var wire wireResult
	if err := dec.Decode(&wire); err != nil {
		return nil, &MalformedError{Reason: "invalid JSON", Err: err}
	}
	if dec.More() {
		return nil, &MalformedError{Reason: "trailing data after JSON document"}
	}
	if wire.Groups == nil {
		return nil, &MalformedError{Reason: `missing "groups"`}
	}

	result := &DedupeResult{Groups: make([]GroupResult, 0, len(*wire.Groups))}
	for i, g := range *wire.Groups {
		switch {
		case g.GroupID == nil:
			return nil, &MalformedError{Reason: fmt.Sprintf(`groups[%d]: missing "group_id"`, i)}
		case g.RecordIDs == nil:
			return nil, &MalformedError{Reason: fmt.Sprintf(`groups[%d]: missing "record_ids"`, i)}
		case len(*g.RecordIDs) == 0:
			return nil, &MalformedError{Reason: fmt.Sprintf(`groups[%d]: empty "record_ids"`, i)}
		case g.MergedData == nil:
			return nil, &MalformedError{Reason: fmt.Sprintf(`groups[%d]: missing "merged_data"`, i)}
		}
		result.Groups = append(result.Groups, GroupResult{
			GroupID:    *g.GroupID,
			RecordIDs:  *g.RecordIDs,
			MergedData: *g.MergedData,
		})
	}
	return result, nil
}
