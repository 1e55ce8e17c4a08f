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

import "math"

// Point is a 2D position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) add(q Point) Point      { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) sub(q Point) Point      { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) scale(f float64) Point  { return Point{p.X * f, p.Y * f} }
func (p Point) length() float64        { return math.Hypot(p.X, p.Y) }
func midpoint(p, q Point) Point        { return Point{(p.X + q.X) / 2, (p.Y + q.Y) / 2} }
func lerp(p, q Point, t float64) Point { return Point{p.X + (q.X-p.X)*t, p.Y + (q.Y-p.Y)*t} }

// ControlPoint is the quadratic Bezier control point of a curved edge.
//
// The control point sits on the chord's perpendicular bisector, offset by
// curvature times the chord length. Zero curvature, or coincident
// endpoints, returns the chord midpoint.
func ControlPoint(from, to Point, curvature float64) Point {
	mid := midpoint(from, to)
	d := to.sub(from)
	l := d.length()
	if l == 0 || curvature == 0 {
		return mid
	}
	normal := Point{-d.Y / l, d.X / l}
	return mid.add(normal.scale(curvature * l))
}

// QuadraticAt evaluates a quadratic Bezier at t.
func QuadraticAt(p0, c, p2 Point, t float64) Point {
	return lerp(lerp(p0, c, t), lerp(c, p2, t), t)
}

// LabelPoint is where an edge label goes: the curve midpoint at t=0.5,
// computed from the same control point used to draw the edge.
func LabelPoint(from, to Point, curvature float64) Point {
	return QuadraticAt(from, ControlPoint(from, to, curvature), to, 0.5)
}

// SelfLoopGeometry describes the circle drawn for a self-loop group.
type SelfLoopGeometry struct {
	Center Point   `json:"center"`
	Radius float64 `json:"radius"`
	Label  Point   `json:"label"`
}

// SelfLoop places a loop of the given radius above a node of nodeRadius,
// overlapping the node's top edge. The label sits at the loop's apex.
func SelfLoop(node Point, nodeRadius, loopRadius float64) SelfLoopGeometry {
	center := Point{node.X, node.Y - nodeRadius - loopRadius*0.6}
	return SelfLoopGeometry{
		Center: center,
		Radius: loopRadius,
		Label:  Point{center.X, center.Y - loopRadius},
	}
}
