// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layout

import "sort"

// SelectionKind is the selection state.
type SelectionKind string

const (
	SelectNone SelectionKind = "none"
	SelectNode SelectionKind = "node"
	SelectEdge SelectionKind = "edge"
)

// Selection is the interactive selection state machine.
//
// # Description
//
// Three states: nothing selected, one node selected, or one drawn edge
// selected. Selecting a self-loop group additionally tracks which of its
// records are expanded, keyed by record uuid. Every transition clears the
// expansion set; only ToggleExpanded adds to it.
//
// The zero value is a valid empty selection.
type Selection struct {
	Kind   SelectionKind `json:"kind"`
	NodeID string        `json:"node_id,omitempty"`
	EdgeID string        `json:"edge_id,omitempty"`

	expanded map[string]bool
}

// State returns the kind, treating the zero value as SelectNone.
func (s *Selection) State() SelectionKind {
	if s.Kind == "" {
		return SelectNone
	}
	return s.Kind
}

// SelectNode selects a node. Unknown ids clear the selection.
func (s *Selection) SelectNode(m *Model, id string) bool {
	if _, ok := m.Node(id); !ok {
		s.Clear()
		return false
	}
	*s = Selection{Kind: SelectNode, NodeID: id}
	return true
}

// SelectEdge selects a drawn edge. A raw record uuid that belongs to a
// merged self-loop selects its group. Unknown ids clear the selection.
func (s *Selection) SelectEdge(m *Model, id string) bool {
	if _, ok := m.Edge(id); !ok {
		group, found := selfLoopGroupOf(m, id)
		if !found {
			s.Clear()
			return false
		}
		id = group
	}
	*s = Selection{Kind: SelectEdge, EdgeID: id}
	return true
}

// Clear returns to SelectNone.
func (s *Selection) Clear() {
	*s = Selection{Kind: SelectNone}
}

// ToggleExpanded flips one record of the selected self-loop group and
// returns its new state. It is a no-op unless a self-loop group holding
// recordID is selected.
func (s *Selection) ToggleExpanded(m *Model, recordID string) bool {
	if s.State() != SelectEdge {
		return false
	}
	e, ok := m.Edge(s.EdgeID)
	if !ok || !e.SelfLoop || !hasRecord(e, recordID) {
		return false
	}
	if s.expanded == nil {
		s.expanded = make(map[string]bool)
	}
	if s.expanded[recordID] {
		delete(s.expanded, recordID)
		return false
	}
	s.expanded[recordID] = true
	return true
}

// Expanded reports whether a self-loop record is expanded.
func (s *Selection) Expanded(recordID string) bool {
	return s.expanded[recordID]
}

// ExpandedIDs returns the expanded record ids, sorted.
func (s *Selection) ExpandedIDs() []string {
	out := make([]string, 0, len(s.expanded))
	for id := range s.expanded {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reconcile keeps the selection valid after the model was rebuilt.
//
// A selected node or edge that disappeared clears the selection.
// Expansions whose record left the group are dropped. Returns true when
// the selection changed.
func (s *Selection) Reconcile(m *Model) bool {
	switch s.State() {
	case SelectNode:
		if _, ok := m.Node(s.NodeID); !ok {
			s.Clear()
			return true
		}
	case SelectEdge:
		e, ok := m.Edge(s.EdgeID)
		if !ok {
			s.Clear()
			return true
		}
		changed := false
		for id := range s.expanded {
			if !hasRecord(e, id) {
				delete(s.expanded, id)
				changed = true
			}
		}
		return changed
	}
	return false
}

// Highlight is the set of elements drawn emphasized for a selection.
type Highlight struct {
	Nodes map[string]bool
	Edges map[string]bool
}

// Highlights derives emphasized elements: a selected node with its
// neighbors and incident edges, or a selected edge with its endpoints.
func (s *Selection) Highlights(m *Model) Highlight {
	h := Highlight{Nodes: map[string]bool{}, Edges: map[string]bool{}}
	switch s.State() {
	case SelectNode:
		h.Nodes[s.NodeID] = true
		for _, e := range m.Edges {
			if e.Source == s.NodeID || e.Target == s.NodeID {
				h.Edges[e.ID] = true
				h.Nodes[e.Source] = true
				h.Nodes[e.Target] = true
			}
		}
	case SelectEdge:
		if e, ok := m.Edge(s.EdgeID); ok {
			h.Edges[e.ID] = true
			h.Nodes[e.Source] = true
			h.Nodes[e.Target] = true
		}
	}
	return h
}

func hasRecord(e Edge, recordID string) bool {
	for _, r := range e.Records {
		if r.UUID == recordID {
			return true
		}
	}
	return false
}

func selfLoopGroupOf(m *Model, recordID string) (string, bool) {
	for _, e := range m.Edges {
		if e.SelfLoop && hasRecord(e, recordID) {
			return e.ID, true
		}
	}
	return "", false
}
