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
)

// =============================================================================
// Parameters
// =============================================================================

// Params tunes the force simulation.
type Params struct {
	Width  float64 `yaml:"width" json:"width" validate:"gt=0"`
	Height float64 `yaml:"height" json:"height" validate:"gt=0"`

	// Repulsion is the all-pairs charge strength. The push between two
	// nodes is Repulsion/distance.
	Repulsion float64 `yaml:"repulsion" json:"repulsion" validate:"gte=0"`

	// SpringStrength pulls linked nodes toward their rest length.
	SpringStrength float64 `yaml:"spring_strength" json:"spring_strength" validate:"gte=0,lte=1"`

	// RestLength is the spring length for a single edge. Each extra
	// parallel edge on the pair adds RestLengthPerEdge so fanned bundles
	// have room to separate.
	RestLength        float64 `yaml:"rest_length" json:"rest_length" validate:"gt=0"`
	RestLengthPerEdge float64 `yaml:"rest_length_per_edge" json:"rest_length_per_edge" validate:"gte=0"`

	// Gravity pulls every node weakly toward the center.
	Gravity float64 `yaml:"gravity" json:"gravity" validate:"gte=0,lte=1"`

	// NodeRadius is the collision radius.
	NodeRadius float64 `yaml:"node_radius" json:"node_radius" validate:"gt=0"`

	// VelocityDecay is the fraction of velocity lost each tick.
	VelocityDecay float64 `yaml:"velocity_decay" json:"velocity_decay" validate:"gte=0,lte=1"`

	// AlphaDecay and AlphaMin control cooling. The simulation is settled
	// once alpha drops below AlphaMin.
	AlphaDecay float64 `yaml:"alpha_decay" json:"alpha_decay" validate:"gt=0,lt=1"`
	AlphaMin   float64 `yaml:"alpha_min" json:"alpha_min" validate:"gt=0,lt=1"`
}

// DefaultParams returns the settings used by the viewer.
func DefaultParams() Params {
	return Params{
		Width:             960,
		Height:            640,
		Repulsion:         400,
		SpringStrength:    0.1,
		RestLength:        150,
		RestLengthPerEdge: 30,
		Gravity:           0.03,
		NodeRadius:        12,
		VelocityDecay:     0.4,
		AlphaDecay:        0.0228,
		AlphaMin:          0.001,
	}
}

// Center is the middle of the canvas.
func (p Params) Center() Point { return Point{p.Width / 2, p.Height / 2} }

// =============================================================================
// Simulation
// =============================================================================

type spring struct {
	a, b int
	rest float64
}

// Sim is a force simulation over an index arena.
//
// # Description
//
// Positions, velocities and pin flags live in parallel slices addressed by
// Node.Index; springs refer to nodes by index. Each Step applies, scaled by
// alpha:
//
//   - all-pairs repulsion falling off with distance (floored at 1)
//   - springs per node pair, rest length growing with pair multiplicity
//   - weak centering gravity
//   - collision separation at twice NodeRadius
//
// then decays velocity and moves unpinned nodes.
//
// # Thread Safety
//
// Not safe for concurrent use; Engine serializes access.
type Sim struct {
	p      Params
	ids    []string
	pos    []Point
	vel    []Point
	pinned []bool
	spr    []spring
	alpha  float64
}

// NewSim creates a simulation for a model.
//
// # Inputs
//
//   - m: The model; node order defines the arena
//   - p: Force parameters
//   - seed: Known positions by node id, e.g. from a previous layout. Nodes
//     without a seed start on a phyllotaxis spiral around the center, so
//     the initial layout is deterministic.
func NewSim(m *Model, p Params, seed map[string]Point) *Sim {
	n := len(m.Nodes)
	s := &Sim{
		p:      p,
		ids:    make([]string, n),
		pos:    make([]Point, n),
		vel:    make([]Point, n),
		pinned: make([]bool, n),
		alpha:  1,
	}
	center := p.Center()
	golden := math.Pi * (3 - math.Sqrt(5))
	for i, node := range m.Nodes {
		s.ids[i] = node.ID
		if pt, ok := seed[node.ID]; ok {
			s.pos[i] = pt
			continue
		}
		r := p.NodeRadius * math.Sqrt(0.5+float64(i)) * 2
		a := float64(i) * golden
		s.pos[i] = Point{center.X + r*math.Cos(a), center.Y + r*math.Sin(a)}
	}

	pairs := make(map[pairKey]int)
	for _, e := range m.Edges {
		if e.SelfLoop {
			continue
		}
		k := makePairKey(e.Source, e.Target)
		if _, ok := pairs[k]; ok {
			continue
		}
		pairs[k] = len(s.spr)
		s.spr = append(s.spr, spring{
			a:    e.SourceIndex,
			b:    e.TargetIndex,
			rest: RestLength(p, e.PairCount),
		})
	}
	return s
}

// RestLength is the spring length for a pair joined by k edges.
func RestLength(p Params, k int) float64 {
	if k < 1 {
		k = 1
	}
	return p.RestLength + p.RestLengthPerEdge*float64(k-1)
}

// Alpha returns the current temperature.
func (s *Sim) Alpha() float64 { return s.alpha }

// Settled reports whether alpha dropped below AlphaMin.
func (s *Sim) Settled() bool { return s.alpha < s.p.AlphaMin }

// Reheat raises alpha so the layout moves again, e.g. after a drag.
func (s *Sim) Reheat(alpha float64) {
	if alpha > s.alpha {
		s.alpha = alpha
	}
}

// Run steps until settled or maxSteps is reached and returns the steps
// taken.
func (s *Sim) Run(maxSteps int) int {
	steps := 0
	for steps < maxSteps && !s.Settled() {
		s.Step()
		steps++
	}
	return steps
}

// Step advances the simulation by one tick.
func (s *Sim) Step() {
	n := len(s.pos)
	a := s.alpha

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := s.pos[j].sub(s.pos[i])
			dist2 := d.X*d.X + d.Y*d.Y
			if dist2 < 1 {
				// Coincident nodes: nudge apart along a fixed direction
				// derived from their indices.
				d = Point{float64(j-i) * 0.1, float64(i+1) * 0.07}
				dist2 = 1
			}
			push := d.scale(s.p.Repulsion * a / dist2)
			s.vel[i] = s.vel[i].sub(push)
			s.vel[j] = s.vel[j].add(push)
		}
	}

	for _, sp := range s.spr {
		d := s.pos[sp.b].sub(s.pos[sp.a])
		dist := d.length()
		if dist == 0 {
			continue
		}
		f := (dist - sp.rest) / dist * s.p.SpringStrength * a
		pull := d.scale(f * 0.5)
		s.vel[sp.a] = s.vel[sp.a].add(pull)
		s.vel[sp.b] = s.vel[sp.b].sub(pull)
	}

	center := s.p.Center()
	for i := range s.pos {
		s.vel[i] = s.vel[i].sub(s.pos[i].sub(center).scale(s.p.Gravity * a))
	}

	minDist := 2 * s.p.NodeRadius
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := s.pos[j].add(s.vel[j]).sub(s.pos[i].add(s.vel[i]))
			dist := d.length()
			if dist >= minDist || dist == 0 {
				continue
			}
			shift := d.scale((minDist - dist) / dist * 0.5)
			s.vel[i] = s.vel[i].sub(shift)
			s.vel[j] = s.vel[j].add(shift)
		}
	}

	keep := 1 - s.p.VelocityDecay
	for i := range s.pos {
		if s.pinned[i] {
			s.vel[i] = Point{}
			continue
		}
		s.vel[i] = s.vel[i].scale(keep)
		s.pos[i] = s.pos[i].add(s.vel[i])
	}

	s.alpha += (0 - s.alpha) * s.p.AlphaDecay
}

// Pin fixes node i at pt until Unpin. Dragging calls Pin on every move.
func (s *Sim) Pin(i int, pt Point) bool {
	if i < 0 || i >= len(s.pos) {
		return false
	}
	s.pos[i] = pt
	s.vel[i] = Point{}
	s.pinned[i] = true
	return true
}

// Unpin releases node i back to the forces.
func (s *Sim) Unpin(i int) bool {
	if i < 0 || i >= len(s.pos) {
		return false
	}
	s.pinned[i] = false
	return true
}

// Pinned reports whether node i is pinned.
func (s *Sim) Pinned(i int) bool {
	return i >= 0 && i < len(s.pinned) && s.pinned[i]
}

// Position returns node i's position.
func (s *Sim) Position(i int) Point {
	if i < 0 || i >= len(s.pos) {
		return Point{}
	}
	return s.pos[i]
}

// Positions returns every position keyed by node id.
func (s *Sim) Positions() map[string]Point {
	out := make(map[string]Point, len(s.pos))
	for i, id := range s.ids {
		out[id] = s.pos[i]
	}
	return out
}

// PinnedIDs returns the ids of pinned nodes.
func (s *Sim) PinnedIDs() map[string]bool {
	out := make(map[string]bool)
	for i, id := range s.ids {
		if s.pinned[i] {
			out[id] = true
		}
	}
	return out
}
