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
	"fmt"
	"sync"
	"testing"
)

// TestNewRingBuffer verifies initial state of new buffer.
func TestNewRingBuffer(t *testing.T) {
	buffer := NewRingBuffer[int](10)

	if buffer.Capacity() != 10 {
		t.Errorf("Capacity() = %d, want 10", buffer.Capacity())
	}
	if buffer.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buffer.Len())
	}
	if buffer.Evicted() != 0 {
		t.Errorf("Evicted() = %d, want 0", buffer.Evicted())
	}
	if snap := buffer.Snapshot(); snap == nil || len(snap) != 0 {
		t.Errorf("Snapshot() = %v, want empty non-nil slice", snap)
	}
}

// TestNewRingBuffer_PanicsOnZeroCapacity verifies panic on zero capacity.
func TestNewRingBuffer_PanicsOnZeroCapacity(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRingBuffer(0) should panic")
		}
	}()
	NewRingBuffer[int](0)
}

// TestRingBuffer_Push verifies push behavior and eviction reporting.
func TestRingBuffer_Push(t *testing.T) {
	buffer := NewRingBuffer[int](3)

	for i := 1; i <= 3; i++ {
		if buffer.Push(i) {
			t.Errorf("Push(%d) should not have evicted", i)
		}
	}
	if !buffer.Push(4) {
		t.Error("Push(4) should have evicted")
	}

	got := buffer.Snapshot()
	want := []int{2, 3, 4}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Snapshot() = %v, want %v", got, want)
	}
	if buffer.Evicted() != 1 {
		t.Errorf("Evicted() = %d, want 1", buffer.Evicted())
	}
}

// TestRingBuffer_HundredAndFiveIntoHundred pushes 105 lines into a buffer
// of 100 and expects lines 6..105 in order.
func TestRingBuffer_HundredAndFiveIntoHundred(t *testing.T) {
	buffer := NewRingBuffer[int](100)
	for i := 1; i <= 105; i++ {
		buffer.Push(i)
	}

	got := buffer.Snapshot()
	if len(got) != 100 {
		t.Fatalf("len = %d, want 100", len(got))
	}
	for i, v := range got {
		if v != i+6 {
			t.Fatalf("item %d = %d, want %d", i, v, i+6)
		}
	}
	if buffer.Evicted() != 5 {
		t.Errorf("Evicted() = %d, want 5", buffer.Evicted())
	}
}

// TestRingBuffer_Last verifies the most recent item is returned.
func TestRingBuffer_Last(t *testing.T) {
	buffer := NewRingBuffer[string](2)
	if _, ok := buffer.Last(); ok {
		t.Error("Last() on empty buffer should report false")
	}
	buffer.Push("a")
	buffer.Push("b")
	buffer.Push("c")
	if v, ok := buffer.Last(); !ok || v != "c" {
		t.Errorf("Last() = %q, %v; want c, true", v, ok)
	}
}

// TestRingBuffer_Clear verifies clear resets everything.
func TestRingBuffer_Clear(t *testing.T) {
	buffer := NewRingBuffer[int](2)
	buffer.Push(1)
	buffer.Push(2)
	buffer.Push(3)
	buffer.Clear()

	if buffer.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", buffer.Len())
	}
	if buffer.Evicted() != 0 {
		t.Errorf("Evicted() = %d after Clear, want 0", buffer.Evicted())
	}
	buffer.Push(9)
	if got := buffer.Snapshot(); len(got) != 1 || got[0] != 9 {
		t.Errorf("Snapshot() = %v after Clear+Push, want [9]", got)
	}
}

// TestRingBuffer_Concurrent verifies the buffer under concurrent pushes.
func TestRingBuffer_Concurrent(t *testing.T) {
	buffer := NewRingBuffer[int](50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				buffer.Push(base*1000 + i)
				_ = buffer.Snapshot()
			}
		}(g)
	}
	wg.Wait()

	if buffer.Len() != 50 {
		t.Errorf("Len() = %d, want 50", buffer.Len())
	}
	if buffer.Evicted() != 750 {
		t.Errorf("Evicted() = %d, want 750", buffer.Evicted())
	}
}
