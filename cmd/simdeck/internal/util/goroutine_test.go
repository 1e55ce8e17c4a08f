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
	"strings"
	"testing"
	"time"
)

func TestSafeGo_RecoversPanic(t *testing.T) {
	results := make(chan SafeGoResult, 1)
	SafeGo(func() {
		panic("boom")
	}, func(r SafeGoResult) {
		results <- r
	})

	select {
	case r := <-results:
		if r.PanicValue != "boom" {
			t.Errorf("PanicValue = %v, want boom", r.PanicValue)
		}
		if !strings.Contains(r.Stack, "goroutine") {
			t.Error("Stack should contain a goroutine trace")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic handler was not called")
	}
}

func TestSafeGo_NoPanic(t *testing.T) {
	done := make(chan struct{})
	called := false
	SafeGo(func() {
		close(done)
	}, func(SafeGoResult) {
		called = true
	})
	<-done
	time.Sleep(10 * time.Millisecond)
	if called {
		t.Error("onPanic should not be called without a panic")
	}
}

func TestRecoverPanic_NilHandler(t *testing.T) {
	func() {
		defer RecoverPanic(nil)()
		panic("ignored")
	}()
}
