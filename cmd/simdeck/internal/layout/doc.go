// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layout turns graph snapshots into positioned, selectable drawings.
//
// # Overview
//
//   - Model: nodes plus edges with dangling edges dropped, self-loops merged
//     into one synthetic edge per node, and parallel edges given distinct
//     curvatures so they never draw on top of each other
//   - Sim: a force simulation over an index arena ([]Point addressed by node
//     index), with drag pinning
//   - Geometry: analytic control points and label midpoints for curved edges
//   - Selection: none / node-selected / edge-selected, plus self-loop group
//     expansion, reconciled as the graph changes underneath it
//   - SVG: a static rendering of a laid-out model
//   - Diff: added and removed nodes and edges between two snapshots
//
// Engine ties these together behind a mutex for the live viewer.
package layout
