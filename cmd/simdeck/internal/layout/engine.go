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

import (
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
)

// =============================================================================
// View Types
// =============================================================================

// PlacedNode is a node with its position and highlight state.
type PlacedNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Label       string `json:"label"`
	Color       string `json:"color"`
	Pos         Point  `json:"pos"`
	Degree      int    `json:"degree"`
	Pinned      bool   `json:"pinned"`
	Highlighted bool   `json:"highlighted"`
}

// PlacedEdge is an edge with its drawing geometry.
type PlacedEdge struct {
	ID        string  `json:"id"`
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Name      string  `json:"name"`
	Curvature float64 `json:"curvature"`
	SelfLoop  bool    `json:"self_loop"`
	Count     int     `json:"count"`

	From    Point             `json:"from"`
	To      Point             `json:"to"`
	Control Point             `json:"control"`
	LabelAt Point             `json:"label_at"`
	Loop    *SelfLoopGeometry `json:"loop,omitempty"`

	RecordIDs   []string `json:"record_ids,omitempty"`
	Highlighted bool     `json:"highlighted"`
}

// SelectionView is the serializable selection.
type SelectionView struct {
	Kind     SelectionKind `json:"kind"`
	NodeID   string        `json:"node_id,omitempty"`
	EdgeID   string        `json:"edge_id,omitempty"`
	Expanded []string      `json:"expanded,omitempty"`
}

// View is everything needed to draw the current graph.
type View struct {
	Version        uint64        `json:"version"`
	Width          float64       `json:"width"`
	Height         float64       `json:"height"`
	NodeRadius     float64       `json:"node_radius"`
	ShowEdgeLabels bool          `json:"show_edge_labels"`
	Nodes          []PlacedNode  `json:"nodes"`
	Edges          []PlacedEdge  `json:"edges"`
	Selection      SelectionView `json:"selection"`
	Settled        bool          `json:"settled"`
	Dropped        int           `json:"dropped"`
}

// =============================================================================
// Engine
// =============================================================================

// Reheat temperatures.
const (
	reheatOnChange = 0.3
	reheatOnDrag   = 0.3
)

// ErrUnknownNode is returned by drag operations on a node not in the model.
var ErrUnknownNode = errors.New("unknown node")

// Engine owns the current model, simulation and selection.
//
// # Description
//
// Update swaps in a new snapshot while keeping existing nodes where they
// were, re-applying pins and reconciling the selection. Version increases
// on every visible change so observers can skip redundant redraws.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	params  Params
	labels  bool
	snap    *api.GraphSnapshot
	model   *Model
	sim     *Sim
	sel     Selection
	version uint64
}

// NewEngine creates an empty engine.
func NewEngine(p Params) *Engine {
	m := Build(api.GraphSnapshot{})
	return &Engine{
		params: p,
		labels: true,
		model:  m,
		sim:    NewSim(m, p, nil),
	}
}

// SetEdgeLabels toggles edge labels in views and SVG output.
func (e *Engine) SetEdgeLabels(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.labels != on {
		e.labels = on
		e.version++
	}
}

// SetParams swaps the force settings. Node positions and pins carry over
// and the simulation is reheated so the new forces take effect.
func (e *Engine) SetParams(p Params) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.params == p {
		return
	}
	e.params = p
	seed := e.sim.Positions()
	pins := e.sim.PinnedIDs()
	sim := NewSim(e.model, p, seed)
	for id := range pins {
		if i, ok := e.model.NodeIndex(id); ok {
			sim.Pin(i, seed[id])
		}
	}
	sim.alpha = reheatOnChange
	e.sim = sim
	e.version++
}

// Update replaces the graph and returns what changed.
//
// An unchanged snapshot leaves the simulation untouched.
func (e *Engine) Update(snap api.GraphSnapshot) Delta {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := Diff(e.snap, snap)
	first := e.snap == nil
	cp := snap
	e.snap = &cp
	if d.Empty() && !first {
		return d
	}

	seed := e.sim.Positions()
	pins := e.sim.PinnedIDs()
	m := Build(snap)
	sim := NewSim(m, e.params, seed)
	for id := range pins {
		if i, ok := m.NodeIndex(id); ok {
			sim.Pin(i, seed[id])
		}
	}
	if !first {
		sim.alpha = reheatOnChange
	}
	e.model = m
	e.sim = sim
	e.sel.Reconcile(m)
	e.version++
	return d
}

// Step advances the simulation by up to n ticks and reports whether
// anything moved.
func (e *Engine) Step(n int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sim.Run(n) == 0 {
		return false
	}
	e.version++
	return true
}

// Settle runs the simulation until it cools or maxSteps pass.
func (e *Engine) Settle(maxSteps int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	steps := e.sim.Run(maxSteps)
	if steps > 0 {
		e.version++
	}
	return steps
}

// Drag pins a node at pt and reheats the simulation.
func (e *Engine) Drag(id string, pt Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.model.NodeIndex(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	e.sim.Pin(i, pt)
	e.sim.Reheat(reheatOnDrag)
	e.version++
	return nil
}

// Release unpins a node.
func (e *Engine) Release(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.model.NodeIndex(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	e.sim.Unpin(i)
	e.sim.Reheat(reheatOnDrag)
	e.version++
	return nil
}

// SelectNode selects a node by id.
func (e *Engine) SelectNode(id string) bool {
	return e.selecting(func(s *Selection, m *Model) bool { return s.SelectNode(m, id) })
}

// SelectEdge selects an edge or self-loop group by id.
func (e *Engine) SelectEdge(id string) bool {
	return e.selecting(func(s *Selection, m *Model) bool { return s.SelectEdge(m, id) })
}

// ClearSelection deselects everything.
func (e *Engine) ClearSelection() {
	e.selecting(func(s *Selection, _ *Model) bool { s.Clear(); return true })
}

// ToggleExpanded flips a record of the selected self-loop group.
func (e *Engine) ToggleExpanded(recordID string) bool {
	return e.selecting(func(s *Selection, m *Model) bool { return s.ToggleExpanded(m, recordID) })
}

func (e *Engine) selecting(fn func(*Selection, *Model) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ok := fn(&e.sel, e.model)
	e.version++
	return ok
}

// Model returns the current model. Callers must not modify it.
func (e *Engine) Model() *Model {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

// Version returns the change counter.
func (e *Engine) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// View returns the drawable state.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.sel.Highlights(e.model)
	v := View{
		Version:        e.version,
		Width:          e.params.Width,
		Height:         e.params.Height,
		NodeRadius:     e.params.NodeRadius,
		ShowEdgeLabels: e.labels,
		Nodes:          make([]PlacedNode, 0, len(e.model.Nodes)),
		Edges:          make([]PlacedEdge, 0, len(e.model.Edges)),
		Selection: SelectionView{
			Kind:     e.sel.State(),
			NodeID:   e.sel.NodeID,
			EdgeID:   e.sel.EdgeID,
			Expanded: e.sel.ExpandedIDs(),
		},
		Settled: e.sim.Settled(),
		Dropped: e.model.Dropped,
	}
	for _, n := range e.model.Nodes {
		v.Nodes = append(v.Nodes, PlacedNode{
			ID:          n.ID,
			Name:        n.Name,
			Label:       n.Label,
			Color:       LabelColor(n.Label),
			Pos:         e.sim.Position(n.Index),
			Degree:      n.Degree,
			Pinned:      e.sim.Pinned(n.Index),
			Highlighted: h.Nodes[n.ID],
		})
	}
	for _, ed := range e.model.Edges {
		from := e.sim.Position(ed.SourceIndex)
		to := e.sim.Position(ed.TargetIndex)
		pe := PlacedEdge{
			ID:          ed.ID,
			Source:      ed.Source,
			Target:      ed.Target,
			Name:        ed.Name,
			Curvature:   ed.Curvature,
			SelfLoop:    ed.SelfLoop,
			Count:       ed.Count,
			From:        from,
			To:          to,
			Highlighted: h.Edges[ed.ID],
		}
		if ed.SelfLoop {
			loop := SelfLoop(from, e.params.NodeRadius, e.params.NodeRadius*1.5)
			pe.Loop = &loop
			pe.Control = pe.Loop.Center
			pe.LabelAt = pe.Loop.Label
			for _, r := range ed.Records {
				pe.RecordIDs = append(pe.RecordIDs, r.UUID)
			}
		} else {
			pe.Control = ControlPoint(from, to, ed.Curvature)
			pe.LabelAt = LabelPoint(from, to, ed.Curvature)
		}
		v.Edges = append(v.Edges, pe)
	}
	return v
}

// SVG renders the current view.
func (e *Engine) SVG() string {
	return RenderSVG(e.View())
}
