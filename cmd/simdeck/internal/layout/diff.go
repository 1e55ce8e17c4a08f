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
	"fmt"
	"strings"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
)

// Delta lists what changed between two snapshots, by uuid, in the order
// the elements appear in their snapshot.
type Delta struct {
	AddedNodes   []string `json:"added_nodes,omitempty"`
	RemovedNodes []string `json:"removed_nodes,omitempty"`
	AddedEdges   []string `json:"added_edges,omitempty"`
	RemovedEdges []string `json:"removed_edges,omitempty"`
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.AddedNodes)+len(d.RemovedNodes)+len(d.AddedEdges)+len(d.RemovedEdges) == 0
}

// String summarizes the delta, e.g. "+2 nodes, -1 edge".
func (d Delta) String() string {
	if d.Empty() {
		return "no changes"
	}
	var parts []string
	add := func(sign string, n int, noun string) {
		if n == 0 {
			return
		}
		if n != 1 {
			noun += "s"
		}
		parts = append(parts, fmt.Sprintf("%s%d %s", sign, n, noun))
	}
	add("+", len(d.AddedNodes), "node")
	add("-", len(d.RemovedNodes), "node")
	add("+", len(d.AddedEdges), "edge")
	add("-", len(d.RemovedEdges), "edge")
	return strings.Join(parts, ", ")
}

// Diff compares two snapshots. A nil prev treats everything in next as
// added.
func Diff(prev *api.GraphSnapshot, next api.GraphSnapshot) Delta {
	var d Delta
	oldNodes := map[string]bool{}
	oldEdges := map[string]bool{}
	if prev != nil {
		for _, n := range prev.Nodes {
			oldNodes[n.UUID] = true
		}
		for _, e := range prev.Edges {
			oldEdges[e.UUID] = true
		}
	}
	newNodes := make(map[string]bool, len(next.Nodes))
	for _, n := range next.Nodes {
		if newNodes[n.UUID] {
			continue
		}
		newNodes[n.UUID] = true
		if !oldNodes[n.UUID] {
			d.AddedNodes = append(d.AddedNodes, n.UUID)
		}
	}
	newEdges := make(map[string]bool, len(next.Edges))
	for _, e := range next.Edges {
		if newEdges[e.UUID] {
			continue
		}
		newEdges[e.UUID] = true
		if !oldEdges[e.UUID] {
			d.AddedEdges = append(d.AddedEdges, e.UUID)
		}
	}
	if prev != nil {
		for _, n := range prev.Nodes {
			if !newNodes[n.UUID] {
				d.RemovedNodes = append(d.RemovedNodes, n.UUID)
			}
		}
		for _, e := range prev.Edges {
			if !newEdges[e.UUID] {
				d.RemovedEdges = append(d.RemovedEdges, e.UUID)
			}
		}
	}
	return d
}
