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
	"time"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/util"
)

const (
	// DefaultLogCapacity is the cap for per-phase diagnostic logs.
	DefaultLogCapacity = 100

	// RunLogCapacity is the cap for the simulation run log, which is chattier.
	RunLogCapacity = 200
)

// Level is the severity shown next to a diagnostic line.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogEntry is one line of the user-facing diagnostic log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

// String formats the entry the way the dashboard prints it.
func (e LogEntry) String() string {
	return fmt.Sprintf("%s %s", e.Time.Format("15:04:05"), e.Message)
}

// BoundedLog is a capped, FIFO-evicting diagnostic log.
//
// # Description
//
// Thin wrapper over util.RingBuffer that stamps each line with the time it
// was appended. The clock is injectable for tests.
//
// # Thread Safety
//
// Safe for concurrent use.
type BoundedLog struct {
	buf *util.RingBuffer[LogEntry]
	now func() time.Time
}

// NewBoundedLog creates a log holding at most capacity entries.
// Non-positive capacity falls back to DefaultLogCapacity.
func NewBoundedLog(capacity int) *BoundedLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &BoundedLog{
		buf: util.NewRingBuffer[LogEntry](capacity),
		now: time.Now,
	}
}

// WithClock replaces the time source. Returns the receiver for chaining.
func (b *BoundedLog) WithClock(now func() time.Time) *BoundedLog {
	b.now = now
	return b
}

// Append adds an info line.
func (b *BoundedLog) Append(msg string) {
	b.AppendLevel(LevelInfo, msg)
}

// Appendf adds a formatted info line.
func (b *BoundedLog) Appendf(format string, args ...any) {
	b.AppendLevel(LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf adds a formatted warning line.
func (b *BoundedLog) Warnf(format string, args ...any) {
	b.AppendLevel(LevelWarn, fmt.Sprintf(format, args...))
}

// Errorf adds a formatted error line.
func (b *BoundedLog) Errorf(format string, args ...any) {
	b.AppendLevel(LevelError, fmt.Sprintf(format, args...))
}

// AppendLevel adds a line with an explicit level.
func (b *BoundedLog) AppendLevel(level Level, msg string) {
	b.buf.Push(LogEntry{Time: b.now(), Level: level, Message: msg})
}

// Entries returns the retained entries, oldest first.
func (b *BoundedLog) Entries() []LogEntry {
	return b.buf.Snapshot()
}

// Len returns the number of retained entries.
func (b *BoundedLog) Len() int {
	return b.buf.Len()
}

// Capacity returns the cap.
func (b *BoundedLog) Capacity() int {
	return b.buf.Capacity()
}

// Clear drops every entry.
func (b *BoundedLog) Clear() {
	b.buf.Clear()
}
