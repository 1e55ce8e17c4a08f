// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconcile

import "sync"

// Watermark records the highest count observed so far.
//
// Advance returns true only when count is strictly above the previous
// mark, so a "loaded N profiles" line fires on growth and never on a
// repeated or shrinking poll.
type Watermark struct {
	mu    sync.Mutex
	value int
}

// Advance raises the mark to count if count exceeds it.
func (w *Watermark) Advance(count int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if count <= w.value {
		return false
	}
	w.value = count
	return true
}

// Value returns the current mark.
func (w *Watermark) Value() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Reset sets the mark back to zero.
func (w *Watermark) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.value = 0
}
