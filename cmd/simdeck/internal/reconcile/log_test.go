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

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	ID   string
	Body string
}

func recKey(r rec) string { return r.ID }

func TestLog_IngestIsIdempotent(t *testing.T) {
	log := NewLog(recKey)
	batch := []rec{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	added := log.Ingest(batch)
	require.Len(t, added, 3)

	added = log.Ingest(batch)
	assert.Empty(t, added)
	assert.Equal(t, 3, log.Len())
	assert.Equal(t, int64(3), log.Duplicates())
}

func TestLog_PreservesFirstSeenOrder(t *testing.T) {
	log := NewLog(recKey)
	log.Ingest([]rec{{ID: "b"}, {ID: "a"}})
	added := log.Ingest([]rec{{ID: "c"}, {ID: "a"}, {ID: "b"}, {ID: "d"}})

	assert.Equal(t, []rec{{ID: "c"}, {ID: "d"}}, added)

	var ids []string
	for _, r := range log.Items() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"b", "a", "c", "d"}, ids)
}

func TestLog_FirstVersionWins(t *testing.T) {
	log := NewLog(recKey)
	log.Ingest([]rec{{ID: "a", Body: "first"}})
	log.Ingest([]rec{{ID: "a", Body: "second"}})

	items := log.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "first", items[0].Body)
}

func TestLog_DuplicatesWithinBatch(t *testing.T) {
	log := NewLog(recKey)
	added := log.Ingest([]rec{{ID: "x"}, {ID: "x"}})
	assert.Len(t, added, 1)
	assert.True(t, log.Seen("x"))
	assert.False(t, log.Seen("y"))
}

func TestLog_Tail(t *testing.T) {
	log := NewLog(recKey)
	for i := 0; i < 5; i++ {
		log.Ingest([]rec{{ID: fmt.Sprint(i)}})
	}
	tail := log.Tail(2)
	require.Len(t, tail, 2)
	assert.Equal(t, "3", tail[0].ID)
	assert.Equal(t, "4", tail[1].ID)
	assert.Len(t, log.Tail(10), 5)
	assert.Empty(t, log.Tail(0))
}

func TestLog_Reset(t *testing.T) {
	log := NewLog(recKey)
	log.Ingest([]rec{{ID: "a"}})
	log.Reset()

	assert.Equal(t, 0, log.Len())
	assert.False(t, log.Seen("a"))
	assert.Len(t, log.Ingest([]rec{{ID: "a"}}), 1)
}

func TestLog_NilKeyPanics(t *testing.T) {
	assert.Panics(t, func() { NewLog[rec](nil) })
}

func TestLog_ConcurrentIngest(t *testing.T) {
	log := NewLog(recKey)
	batch := make([]rec, 100)
	for i := range batch {
		batch[i] = rec{ID: fmt.Sprint(i)}
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Ingest(batch)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, log.Len())
	assert.Equal(t, int64(700), log.Duplicates())
}

func TestWatermark(t *testing.T) {
	var w Watermark
	assert.True(t, w.Advance(3))
	assert.False(t, w.Advance(3))
	assert.False(t, w.Advance(2))
	assert.True(t, w.Advance(5))
	assert.Equal(t, 5, w.Value())

	w.Reset()
	assert.Equal(t, 0, w.Value())
	assert.False(t, w.Advance(0))
}

func TestBoundedLog_EvictsOldest(t *testing.T) {
	log := NewBoundedLog(DefaultLogCapacity)
	for i := 1; i <= 105; i++ {
		log.Appendf("line %d", i)
	}

	entries := log.Entries()
	require.Len(t, entries, 100)
	assert.Equal(t, "line 6", entries[0].Message)
	assert.Equal(t, "line 105", entries[99].Message)
}

func TestBoundedLog_Levels(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	log := NewBoundedLog(0).WithClock(func() time.Time { return fixed })

	log.Append("hello")
	log.Warnf("slow %d", 1)
	log.Errorf("broken")

	entries := log.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, LevelWarn, entries[1].Level)
	assert.Equal(t, LevelError, entries[2].Level)
	assert.Equal(t, "03:04:05 hello", entries[0].String())
	assert.Equal(t, DefaultLogCapacity, log.Capacity())

	log.Clear()
	assert.Equal(t, 0, log.Len())
}
