package core

import "fmt"

// Merge applies a dedupe result to the submitted records and builds the
// parent/child hierarchy. It does not modify its inputs and returns the same
// structure for the same inputs.
//
// For each group the first id becomes the deduped parent carrying the
// group's merged data; remaining ids become removed children in the order
// listed. Records touched by no group become unique.
//
// A group referencing an unknown id, or an id claimed twice, yields a
// *MergeContractViolation. Nothing is partially applied.
func Merge(records []Record, result *DedupeResult) (*Hierarchy, error) {
	h := &Hierarchy{
		nodes:    make(map[string]*Node, len(records)),
		topLevel: make([]string, 0, len(records)),
		all:      make([]string, 0, len(records)),
	}

	for _, r := range records {
		if _, dup := h.nodes[r.ID]; dup {
			return nil, fmt.Errorf("merge: duplicate record id %q in input", r.ID)
		}
		rec := Record{
			ID:           r.ID,
			Status:       StatusProcessing,
			OriginalData: r.OriginalData.Clone(),
		}
		h.nodes[r.ID] = &Node{Record: rec}
		h.all = append(h.all, r.ID)
	}

	var groups []GroupResult
	if result != nil {
		groups = result.Groups
	}

	claimed := make(map[string]string, len(records))
	claim := func(groupID, id string) (*Node, error) {
		n, ok := h.nodes[id]
		if !ok {
			return nil, &MergeContractViolation{GroupID: groupID, RecordID: id, Reason: "unknown record id"}
		}
		if prev, taken := claimed[id]; taken {
			return nil, &MergeContractViolation{
				GroupID:  groupID,
				RecordID: id,
				Reason:   fmt.Sprintf("already assigned to group %q", prev),
			}
		}
		claimed[id] = groupID
		return n, nil
	}

	for _, g := range groups {
		if len(g.RecordIDs) == 0 {
			return nil, &MergeContractViolation{GroupID: g.GroupID, Reason: "group has no records"}
		}

		parent, err := claim(g.GroupID, g.RecordIDs[0])
		if err != nil {
			return nil, err
		}
		parent.Status = StatusDeduped
		parent.MergedData = g.MergedData.Clone()
		if parent.MergedData == nil {
			parent.MergedData = Fields{}
		}
		parent.GroupID = g.GroupID
		parent.ChildIDs = make([]string, 0, len(g.RecordIDs)-1)

		for _, childID := range g.RecordIDs[1:] {
			child, err := claim(g.GroupID, childID)
			if err != nil {
				return nil, err
			}
			child.Status = StatusRemoved
			child.ParentID = parent.ID
			child.GroupID = g.GroupID
			parent.ChildIDs = append(parent.ChildIDs, childID)
		}
		parent.IsParent = len(parent.ChildIDs) > 0
	}

	for _, id := range h.all {
		n := h.nodes[id]
		if n.Status == StatusProcessing {
			n.Status = StatusUnique
		}
		if n.ParentID == "" {
			h.topLevel = append(h.topLevel, id)
		}
	}

	return h, nil
}
