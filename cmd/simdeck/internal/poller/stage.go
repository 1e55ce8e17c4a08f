// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package poller

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
)

// Stage is the fine-grained position of a multi-stage task.
type Stage struct {
	// Name is the machine name, e.g. "generating_profiles".
	Name string

	// Label is the human name, e.g. "Generating agent profiles".
	Label string

	// Index and Total locate the stage, 1-based.
	Index int
	Total int

	// Item and Items locate the current item inside the stage.
	Item  int
	Items int

	// Description describes the current item.
	Description string
}

// StageFromDetail converts the server's progress_detail.
func StageFromDetail(d api.ProgressDetail) Stage {
	return Stage{
		Name:        d.CurrentStage,
		Label:       d.CurrentStageName,
		Index:       d.StageIndex,
		Total:       d.TotalStages,
		Item:        d.CurrentItem,
		Items:       d.TotalItems,
		Description: d.ItemDescription,
	}
}

// IsZero reports whether no stage information was reported.
func (s Stage) IsZero() bool {
	return s == Stage{}
}

// Key identifies the stage position for log deduplication: stage index,
// item index and item total.
func (s Stage) Key() string {
	return fmt.Sprintf("%d:%d:%d", s.Index, s.Item, s.Items)
}

// String renders the stage as a log line, e.g.
// "[2/4] Generating agent profiles (3/10) alice".
func (s Stage) String() string {
	var b strings.Builder
	if s.Total > 0 {
		fmt.Fprintf(&b, "[%d/%d] ", s.Index, s.Total)
	}
	switch {
	case s.Label != "":
		b.WriteString(s.Label)
	case s.Name != "":
		b.WriteString(s.Name)
	default:
		b.WriteString("working")
	}
	if s.Items > 0 {
		fmt.Fprintf(&b, " (%d/%d)", s.Item, s.Items)
	}
	if s.Description != "" {
		b.WriteString(" ")
		b.WriteString(s.Description)
	}
	return b.String()
}
