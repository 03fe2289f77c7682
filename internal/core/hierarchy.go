package core

// Node is a record placed in the hierarchy. Parents reference children by
// id; a child is owned by exactly one parent and never appears top-level.
type Node struct {
	Record
	IsParent bool     // Representative of a group with at least one absorbed duplicate
	ParentID string   // Set on absorbed duplicates only
	GroupID  string   // Shared by a parent and its children
	ChildIDs []string // Ordered as the group listed them
}

// HierarchicalRecord is the nested form used for JSON output.
type HierarchicalRecord struct {
	Record
	IsParent bool                 `json:"isParent"`
	ParentID string               `json:"parentId,omitempty"`
	GroupID  string               `json:"groupId,omitempty"`
	Children []HierarchicalRecord `json:"children,omitempty"`
}

// Hierarchy is an arena of nodes indexed by id plus the top-level order.
// It is immutable once built.
type Hierarchy struct {
	nodes    map[string]*Node
	topLevel []string
	all      []string // every id in submission order
}

// Len returns the total number of records, children included.
func (h *Hierarchy) Len() int {
	if h == nil {
		return 0
	}
	return len(h.all)
}

// Node returns a copy of the node with the given id.
func (h *Hierarchy) Node(id string) (Node, bool) {
	if h == nil {
		return Node{}, false
	}
	n, ok := h.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.copy(), true
}

// IsChild reports whether id is currently owned by a parent.
func (h *Hierarchy) IsChild(id string) bool {
	if h == nil {
		return false
	}
	n, ok := h.nodes[id]
	return ok && n.ParentID != ""
}

// TopLevel returns parents and unique records in their original order.
func (h *Hierarchy) TopLevel() []Node {
	if h == nil {
		return nil
	}
	out := make([]Node, len(h.topLevel))
	for i, id := range h.topLevel {
		out[i] = h.nodes[id].copy()
	}
	return out
}

// Group returns the parent of a group that absorbed at least one record.
func (h *Hierarchy) Group(groupID string) (Node, bool) {
	if h == nil || groupID == "" {
		return Node{}, false
	}
	for _, id := range h.topLevel {
		if n := h.nodes[id]; n.IsParent && n.GroupID == groupID {
			return n.copy(), true
		}
	}
	return Node{}, false
}

// Children returns the absorbed records of a parent in group order.
func (h *Hierarchy) Children(parentID string) []Node {
	if h == nil {
		return nil
	}
	p, ok := h.nodes[parentID]
	if !ok || len(p.ChildIDs) == 0 {
		return nil
	}
	out := make([]Node, len(p.ChildIDs))
	for i, id := range p.ChildIDs {
		out[i] = h.nodes[id].copy()
	}
	return out
}

// Records returns every record, children included, in submission order.
func (h *Hierarchy) Records() []Record {
	if h == nil {
		return nil
	}
	out := make([]Record, len(h.all))
	for i, id := range h.all {
		out[i] = h.nodes[id].Record
	}
	return out
}

// Tree materialises the nested form of the top-level list.
func (h *Hierarchy) Tree() []HierarchicalRecord {
	if h == nil {
		return nil
	}
	out := make([]HierarchicalRecord, 0, len(h.topLevel))
	for _, id := range h.topLevel {
		out = append(out, h.nested(id))
	}
	return out
}

func (h *Hierarchy) nested(id string) HierarchicalRecord {
	n := h.nodes[id]
	hr := HierarchicalRecord{
		Record:   n.Record,
		IsParent: n.IsParent,
		ParentID: n.ParentID,
		GroupID:  n.GroupID,
	}
	if n.ChildIDs != nil {
		hr.Children = make([]HierarchicalRecord, 0, len(n.ChildIDs))
		for _, cid := range n.ChildIDs {
			hr.Children = append(hr.Children, h.nested(cid))
		}
	}
	return hr
}

// flatHierarchy places every record top-level with the given status and no
// grouping. Used for dataset-wide transitions (processing, failed).
func flatHierarchy(records []Record, status Status) *Hierarchy {
	h := &Hierarchy{
		nodes:    make(map[string]*Node, len(records)),
		topLevel: make([]string, 0, len(records)),
		all:      make([]string, 0, len(records)),
	}
	for _, r := range records {
		rec := r
		rec.OriginalData = r.OriginalData.Clone()
		rec.MergedData = nil
		rec.Status = status
		h.nodes[rec.ID] = &Node{Record: rec}
		h.topLevel = append(h.topLevel, rec.ID)
		h.all = append(h.all, rec.ID)
	}
	return h
}

func (n *Node) copy() Node {
	c := *n
	if n.ChildIDs != nil {
		c.ChildIDs = append([]string(nil), n.ChildIDs...)
	}
	return c
}
