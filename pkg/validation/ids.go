// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks identifiers before they are placed into
// backend URL paths.
//
// Backend ids (project, graph, simulation, task) are opaque strings minted
// by the backend, typically "proj_ab12cd" style. They are escaped when put
// into a path, but an escaped ".." still walks up the path, so ids are
// checked against a strict pattern first.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIDLength is the longest id accepted.
const MaxIDLength = 128

// idPattern matches letters, digits, underscore and hyphen.
// It must start with a letter or digit.
//
// Examples of valid ids:
//   - proj_ab12cd
//   - sim-0001
//   - 3f2a9c1e-6d2b-4c1a-9c55-1b2e3f4a5b6c
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]*$`)

// ValidateID checks that id is safe to place into a URL path.
//
// # Description
//
// Accepts 1 to MaxIDLength characters matching idPattern. kind names the
// id in the error, e.g. "project" or "simulation".
//
// # Outputs
//
//   - error: Non-nil if id is empty, too long, or has other characters
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s id is empty", kind)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s id is longer than %d characters", kind, MaxIDLength)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid %s id %q: only letters, digits, '_' and '-' are allowed", kind, SanitizeID(id))
	}
	return nil
}

// ValidateIDs validates each non-empty value of ids, keyed by kind.
// Empty values are skipped so optional flags can be passed straight in.
func ValidateIDs(ids map[string]string) error {
	for kind, id := range ids {
		if id == "" {
			continue
		}
		if err := ValidateID(kind, id); err != nil {
			return err
		}
	}
	return nil
}

// SanitizeID trims the id and replaces unprintable runes so it can be
// echoed in an error or log line. The result is capped at MaxIDLength.
func SanitizeID(id string) string {
	id = strings.TrimSpace(id)
	var b strings.Builder
	for _, r := range id {
		if b.Len() >= MaxIDLength {
			break
		}
		if r < 0x20 || r == 0x7f {
			b.WriteRune('?')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
