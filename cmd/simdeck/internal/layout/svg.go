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
	"hash/fnv"
	"html"
	"strings"
)

// palette colors node labels. Entity types hash onto it so a type keeps
// its color across snapshots.
var palette = []string{
	"#FF6B35", "#004E89", "#7B2D8E", "#1A936F", "#C5283D",
	"#E9724C", "#3498db", "#9b59b6", "#27ae60", "#f39c12",
}

// LabelColor returns the color for an entity type.
func LabelColor(label string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(label))
	return palette[h.Sum32()%uint32(len(palette))]
}

// RenderSVG draws a laid-out view as a standalone SVG document.
//
// # Description
//
// Curved edges are quadratic paths through ControlPoint; labels sit at
// LabelPoint. Self-loop groups are circles above their node with a
// "×N" badge when they merge several records. Highlighted elements get
// the "hl" class.
func RenderSVG(v View) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.0f %.0f">`, v.Width, v.Height))
	sb.WriteString("\n")
	sb.WriteString(`<style>
    .edge { stroke: #C0C0C0; stroke-width: 1.5px; fill: none; }
    .edge.hl { stroke: #3498db; stroke-width: 2.5px; }
    .node { stroke: #fff; stroke-width: 2px; }
    .node.hl { stroke: #E91E63; stroke-width: 3px; }
    .label { font-family: Arial, sans-serif; font-size: 11px; fill: #333; }
    .edge-label { font-family: Arial, sans-serif; font-size: 9px; fill: #666; }
  </style>
`)

	sb.WriteString(`  <g class="edges">` + "\n")
	for _, e := range v.Edges {
		class := "edge"
		if e.Highlighted {
			class += " hl"
		}
		if e.SelfLoop && e.Loop != nil {
			sb.WriteString(fmt.Sprintf(`    <circle class="%s" data-id="%s" cx="%.1f" cy="%.1f" r="%.1f"/>`,
				class, html.EscapeString(e.ID), e.Loop.Center.X, e.Loop.Center.Y, e.Loop.Radius))
		} else {
			sb.WriteString(fmt.Sprintf(`    <path class="%s" data-id="%s" d="M%.1f,%.1f Q%.1f,%.1f %.1f,%.1f"/>`,
				class, html.EscapeString(e.ID), e.From.X, e.From.Y, e.Control.X, e.Control.Y, e.To.X, e.To.Y))
		}
		sb.WriteString("\n")

		label := e.Name
		if e.SelfLoop && e.Count > 1 {
			label = fmt.Sprintf("×%d", e.Count)
		}
		if label != "" && v.ShowEdgeLabels {
			sb.WriteString(fmt.Sprintf(`    <text class="edge-label" x="%.1f" y="%.1f" text-anchor="middle">%s</text>`,
				e.LabelAt.X, e.LabelAt.Y, html.EscapeString(truncateLabel(label, 24))))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("  </g>\n")

	sb.WriteString(`  <g class="nodes">` + "\n")
	for _, n := range v.Nodes {
		class := "node"
		if n.Highlighted {
			class += " hl"
		}
		sb.WriteString(fmt.Sprintf(`    <circle class="%s" data-id="%s" cx="%.1f" cy="%.1f" r="%.1f" fill="%s"/>`,
			class, html.EscapeString(n.ID), n.Pos.X, n.Pos.Y, v.NodeRadius, LabelColor(n.Label)))
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf(`    <text class="label" x="%.1f" y="%.1f" text-anchor="middle">%s</text>`,
			n.Pos.X, n.Pos.Y+v.NodeRadius+12, html.EscapeString(truncateLabel(n.Name, 20))))
		sb.WriteString("\n")
	}
	sb.WriteString("  </g>\n")

	sb.WriteString("</svg>")
	return sb.String()
}

// truncateLabel shortens s to max runes with an ellipsis.
func truncateLabel(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
