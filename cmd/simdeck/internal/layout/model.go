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
	"math"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
)

// SelfLoopPrefix prefixes the id of a merged self-loop edge.
const SelfLoopPrefix = "self:"

// =============================================================================
// Model Types
// =============================================================================

// Node is one graph node in the arena.
type Node struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`

	// Index is the node's slot in the position arena.
	Index int `json:"index"`

	// Degree counts drawn edges touching the node, self-loops once.
	Degree int `json:"degree"`
}

// Edge is one drawn edge.
//
// A self-loop edge stands for every self-referencing record on its node:
// Count is how many there are and Records holds them in arrival order.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Name   string `json:"name"`

	SourceIndex int `json:"source_index"`
	TargetIndex int `json:"target_index"`

	// Curvature is the signed bend relative to the chord length.
	Curvature float64 `json:"curvature"`

	// PairIndex and PairCount place the edge among all edges joining the
	// same unordered node pair.
	PairIndex int `json:"pair_index"`
	PairCount int `json:"pair_count"`

	SelfLoop bool            `json:"self_loop"`
	Count    int             `json:"count"`
	Records  []api.GraphEdge `json:"records,omitempty"`
}

// Model is a snapshot reduced to what can be drawn.
type Model struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	// Dropped counts edges whose endpoints were missing.
	Dropped int `json:"dropped"`

	// DuplicateNodes counts repeated node uuids, of which only the first
	// is kept.
	DuplicateNodes int `json:"duplicate_nodes"`

	nodeIndex map[string]int
	edgeIndex map[string]int
}

// NodeIndex returns the arena slot of a node.
func (m *Model) NodeIndex(id string) (int, bool) {
	i, ok := m.nodeIndex[id]
	return i, ok
}

// Node returns a node by id.
func (m *Model) Node(id string) (Node, bool) {
	i, ok := m.nodeIndex[id]
	if !ok {
		return Node{}, false
	}
	return m.Nodes[i], true
}

// Edge returns a drawn edge by id. Self-loop groups are addressed by
// SelfLoopPrefix + node id.
func (m *Model) Edge(id string) (Edge, bool) {
	i, ok := m.edgeIndex[id]
	if !ok {
		return Edge{}, false
	}
	return m.Edges[i], true
}

// Neighbors returns the ids of nodes sharing an edge with id.
func (m *Model) Neighbors(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	for _, e := range m.Edges {
		var other string
		switch id {
		case e.Source:
			other = e.Target
		case e.Target:
			other = e.Source
		default:
			continue
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out
}

// =============================================================================
// Building
// =============================================================================

// Build reduces a snapshot to a drawable model.
//
// # Description
//
// Steps:
//
//  1. Index nodes by uuid, keeping the first of any duplicates
//  2. Drop edges whose source or target is not a known node
//  3. Merge every self-loop on a node into one synthetic edge
//  4. Group remaining edges by unordered node pair and assign each a
//     curvature with Curvature
//
// Edge order follows the snapshot: a pair group appears where its first
// edge did, self-loop groups where their first record did.
//
// # Outputs
//
//   - *Model: Never nil; empty for an empty snapshot
func Build(snap api.GraphSnapshot) *Model {
	m := &Model{
		Nodes:     make([]Node, 0, len(snap.Nodes)),
		nodeIndex: make(map[string]int, len(snap.Nodes)),
		edgeIndex: make(map[string]int, len(snap.Edges)),
	}
	for _, n := range snap.Nodes {
		if _, dup := m.nodeIndex[n.UUID]; dup {
			m.DuplicateNodes++
			continue
		}
		m.nodeIndex[n.UUID] = len(m.Nodes)
		m.Nodes = append(m.Nodes, Node{
			ID:    n.UUID,
			Name:  n.Name,
			Label: n.PrimaryLabel(),
			Index: len(m.Nodes),
		})
	}

	type group struct {
		key   pairKey
		edges []api.GraphEdge
	}
	var groups []*group
	byKey := make(map[pairKey]*group)

	for _, e := range snap.Edges {
		if _, ok := m.nodeIndex[e.SourceNodeUUID]; !ok {
			m.Dropped++
			continue
		}
		if _, ok := m.nodeIndex[e.TargetNodeUUID]; !ok {
			m.Dropped++
			continue
		}
		k := makePairKey(e.SourceNodeUUID, e.TargetNodeUUID)
		g, ok := byKey[k]
		if !ok {
			g = &group{key: k}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.edges = append(g.edges, e)
	}

	for _, g := range groups {
		if g.key.a == g.key.b {
			m.addSelfLoop(g.key.a, g.edges)
			continue
		}
		k := len(g.edges)
		for i, e := range g.edges {
			m.addEdge(Edge{
				ID:        e.UUID,
				Source:    e.SourceNodeUUID,
				Target:    e.TargetNodeUUID,
				Name:      e.Name,
				Curvature: Curvature(i, k, e.SourceNodeUUID, e.TargetNodeUUID),
				PairIndex: i,
				PairCount: k,
				Count:     1,
				Records:   []api.GraphEdge{e},
			})
		}
	}
	return m
}

func (m *Model) addSelfLoop(nodeID string, records []api.GraphEdge) {
	name := records[0].Name
	if len(records) > 1 {
		name = ""
	}
	m.addEdge(Edge{
		ID:        SelfLoopPrefix + nodeID,
		Source:    nodeID,
		Target:    nodeID,
		Name:      name,
		PairCount: 1,
		SelfLoop:  true,
		Count:     len(records),
		Records:   records,
	})
}

func (m *Model) addEdge(e Edge) {
	e.SourceIndex = m.nodeIndex[e.Source]
	e.TargetIndex = m.nodeIndex[e.Target]
	m.edgeIndex[e.ID] = len(m.Edges)
	m.Edges = append(m.Edges, e)
	m.Nodes[e.SourceIndex].Degree++
	if !e.SelfLoop {
		m.Nodes[e.TargetIndex].Degree++
	}
}

type pairKey struct{ a, b string }

func makePairKey(source, target string) pairKey {
	if source > target {
		return pairKey{target, source}
	}
	return pairKey{source, target}
}

// =============================================================================
// Curvature
// =============================================================================

// Curvature spreads k parallel edges between one node pair.
//
// # Description
//
// A lone edge is straight. Otherwise edge i of k gets
//
//	((i / (k-1)) - 0.5) * min(1.2, 0.6 + 0.15k)
//
// so the bundle fans out symmetrically around the straight chord and widens
// with k up to a cap. The sign is flipped when source > target: curvature is
// applied relative to the direction of travel, so flipping it for reversed
// edges keeps every edge of the bundle on its own side in the canonical
// (smaller id first) frame.
func Curvature(i, k int, source, target string) float64 {
	if k <= 1 {
		return 0
	}
	spread := math.Min(1.2, 0.6+0.15*float64(k))
	c := (float64(i)/float64(k-1) - 0.5) * spread
	if source > target {
		c = -c
	}
	return c
}
