// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reconcile turns repeated full-snapshot polls into an append-only,
// deduplicated stream.
//
// The backend answers every "give me the actions so far" request with the
// whole list. [Log] remembers which keys it has already accepted so a record
// is surfaced exactly once, in first-seen order, no matter how many polls
// include it. [Watermark] gates "N new items" log lines so they fire only on
// growth. [BoundedLog] is the user-facing diagnostic log, capped FIFO.
package reconcile
