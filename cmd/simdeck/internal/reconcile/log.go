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

// KeyFunc derives the identity of a record.
type KeyFunc[T any] func(T) string

// =============================================================================
// Log
// =============================================================================

// Log is an append-only, key-deduplicated accumulation of records.
//
// # Description
//
// Ingest accepts an arbitrary batch (usually the full server snapshot) and
// appends only records whose key has never been seen before. Records are
// kept in the order they were first ingested. Once a key is seen it stays
// seen until Reset, even if later snapshots stop including it.
//
// # Thread Safety
//
// Log is safe for concurrent use.
//
// # Example
//
//	log := reconcile.NewLog(func(a api.ActionRecord) string { return a.DedupKey() })
//	fresh := log.Ingest(detail.AllActions)
//	for _, a := range fresh {
//	    render(a)
//	}
type Log[T any] struct {
	mu         sync.Mutex
	key        KeyFunc[T]
	items      []T
	seen       map[string]struct{}
	duplicates int64
}

// NewLog creates an empty log keyed by key.
//
// # Panics
//
// Panics if key is nil.
func NewLog[T any](key KeyFunc[T]) *Log[T] {
	if key == nil {
		panic("reconcile: nil key function")
	}
	return &Log[T]{
		key:  key,
		seen: make(map[string]struct{}),
	}
}

// Ingest appends every record whose key is unseen and returns just those
// records, in batch order. Duplicates inside one batch are collapsed too.
func (l *Log[T]) Ingest(batch []T) []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	var added []T
	for _, rec := range batch {
		k := l.key(rec)
		if _, ok := l.seen[k]; ok {
			l.duplicates++
			continue
		}
		l.seen[k] = struct{}{}
		l.items = append(l.items, rec)
		added = append(added, rec)
	}
	return added
}

// Items returns a copy of all accepted records in arrival order.
func (l *Log[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Tail returns up to n of the most recent records, oldest first.
func (l *Log[T]) Tail(n int) []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 {
		return []T{}
	}
	start := len(l.items) - n
	if start < 0 {
		start = 0
	}
	out := make([]T, len(l.items)-start)
	copy(out, l.items[start:])
	return out
}

// Len returns the number of accepted records.
func (l *Log[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Seen reports whether key has been accepted.
func (l *Log[T]) Seen(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[key]
	return ok
}

// Duplicates returns how many records have been dropped as already seen.
func (l *Log[T]) Duplicates() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.duplicates
}

// Reset forgets every record and key. Used on restart.
func (l *Log[T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = nil
	l.seen = make(map[string]struct{})
	l.duplicates = 0
}
