// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package util provides foundational utilities for the simdeck CLI.
//
// This package contains low-level utilities that have no dependencies on
// other internal packages. All utilities depend only on the Go standard
// library, making this a leaf package in the dependency graph.
//
// # Overview
//
//   - Timeout Management: request, probe and graceful-close timeouts with
//     enforced minimums so a misconfigured value can never hang the CLI
//   - Ring Buffer: thread-safe bounded FIFO used by the diagnostic logs
//   - Goroutine Safety: panic recovery for poller goroutines
//
// # Thread Safety
//
//   - [RingBuffer] is fully thread-safe (protected by mutex)
//   - [TimeoutConfig] is a value type; copy it freely
//
// # Key Types
//
// Ring buffer:
//
//	buffer := util.NewRingBuffer[string](100)
//	buffer.Push("log line")
//	lines := buffer.Snapshot()
//
// Safe goroutines:
//
//	util.SafeGo(func() {
//	    poll()
//	}, func(r util.SafeGoResult) {
//	    logger.Error("poller panicked", "panic", r.PanicValue)
//	})
package util
