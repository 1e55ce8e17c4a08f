// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid ids
		{"project", "proj_ab12cd", false},
		{"hyphenated", "sim-0001", false},
		{"uuid", "3f2a9c1e-6d2b-4c1a-9c55-1b2e3f4a5b6c", false},
		{"single char", "a", false},
		{"max length", strings.Repeat("a", MaxIDLength), false},

		// Invalid ids - path tricks
		{"empty", "", true},
		{"dot dot", "..", true},
		{"slash", "proj/../admin", true},
		{"query", "proj?x=1", true},
		{"newline", "proj\nx", true},
		{"spaces", "proj 1", true},
		{"starts with hyphen", "-proj", true},
		{"starts with underscore", "_proj", true},
		{"too long", strings.Repeat("a", MaxIDLength+1), true},
		{"unicode", "projé", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID("project", tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateID_ErrorNamesKind(t *testing.T) {
	err := ValidateID("simulation", "a/b")
	if err == nil || !strings.Contains(err.Error(), "simulation") {
		t.Errorf("error = %v, want it to name the kind", err)
	}
}

func TestValidateIDs(t *testing.T) {
	tests := []struct {
		name    string
		ids     map[string]string
		wantErr bool
	}{
		{"all valid", map[string]string{"project": "proj_1", "graph": "g-2"}, false},
		{"empty values skipped", map[string]string{"project": "", "graph": "g-2"}, false},
		{"one invalid", map[string]string{"project": "proj_1", "graph": "../g"}, true},
		{"nil map", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIDs(tt.ids)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIDs(%v) error = %v, wantErr %v", tt.ids, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean", "proj_1", "proj_1"},
		{"trimmed", "  proj_1 ", "proj_1"},
		{"control chars", "a\nb\x7fc", "a?b?c"},
		{"capped", strings.Repeat("x", MaxIDLength+10), strings.Repeat("x", MaxIDLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeID(tt.in); got != tt.want {
				t.Errorf("SanitizeID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
