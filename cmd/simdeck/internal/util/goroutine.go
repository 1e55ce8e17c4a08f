// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"runtime/debug"
)

// SafeGoResult contains information about a recovered panic.
type SafeGoResult struct {
	// PanicValue is the value passed to panic().
	PanicValue interface{}

	// Stack is the full stack trace at panic time.
	Stack string
}

// SafeGo runs fn in a goroutine and recovers any panic.
//
// # Description
//
// Pollers run user-supplied callbacks on their own goroutines. A panic in
// one callback must not take the whole CLI down with it; SafeGo captures
// the panic and hands it to onPanic instead.
//
// # Inputs
//
//   - fn: Function to run
//   - onPanic: Called with panic details; may be nil
//
// # Example
//
//	util.SafeGo(p.loop, func(r util.SafeGoResult) {
//	    logger.Error("poller panicked", "panic", r.PanicValue, "stack", r.Stack)
//	})
func SafeGo(fn func(), onPanic func(SafeGoResult)) {
	go func() {
		defer RecoverPanic(onPanic)()
		fn()
	}()
}

// RecoverPanic returns a function suitable for defer that recovers panics.
//
// # Example
//
//	defer util.RecoverPanic(func(r util.SafeGoResult) {
//	    logger.Error("recovered", "panic", r.PanicValue)
//	})()
func RecoverPanic(onPanic func(SafeGoResult)) func() {
	return func() {
		if r := recover(); r != nil {
			result := SafeGoResult{
				PanicValue: r,
				Stack:      string(debug.Stack()),
			}
			if onPanic != nil {
				onPanic(result)
			}
		}
	}
}
