// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrRequest is the root of every *APIError.
	ErrRequest = errors.New("backend request failed")

	// ErrTransientPoll marks a probe failure the poller should shrug off.
	ErrTransientPoll = errors.New("transient poll failure")

	// ErrTaskFailed marks a server-side task that reported status=failed.
	ErrTaskFailed = errors.New("task failed")

	// ErrMutationFailed marks a mutating call whose retry budget ran out.
	ErrMutationFailed = errors.New("mutation failed")

	// ErrLifecycleCleanup marks a graceful environment close that failed.
	ErrLifecycleCleanup = errors.New("environment cleanup failed")

	// ErrNotFound is returned for 404 answers.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest is returned when a request fails local validation
	// before it is sent.
	ErrInvalidRequest = errors.New("invalid request")
)

// =============================================================================
// APIError
// =============================================================================

// APIError describes one failed backend request.
type APIError struct {
	// Method and Endpoint identify the request, e.g. "POST /simulation/start".
	Method   string
	Endpoint string

	// Status is the HTTP status code, or 0 when the request never got an
	// answer (DNS, refused connection, timeout).
	Status int

	// Message is the envelope "error" field or the transport error text.
	Message string

	// Err is the underlying transport or decode error, if any.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Endpoint, e.Status, e.Message)
}

// Unwrap exposes the sentinel and the underlying cause.
func (e *APIError) Unwrap() []error {
	errs := []error{ErrRequest}
	if e.Status == http.StatusNotFound {
		errs = append(errs, ErrNotFound)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether repeating the same request might succeed.
//
// Transport failures, 5xx and 429 are retryable. Every other 4xx means the
// request itself is wrong and will fail again.
func (e *APIError) Retryable() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is an *APIError worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// =============================================================================
// Pipeline Errors
// =============================================================================

// TransientPollError wraps a failed status probe.
type TransientPollError struct {
	// Poller names the poller that failed, e.g. "run-status".
	Poller string
	Err    error
}

func (e *TransientPollError) Error() string {
	return fmt.Sprintf("poll %s: %v", e.Poller, e.Err)
}

func (e *TransientPollError) Unwrap() []error { return []error{ErrTransientPoll, e.Err} }

// TaskFailure reports a server task that finished with status=failed.
type TaskFailure struct {
	TaskID  string
	Kind    TaskKind
	Message string
}

func (e *TaskFailure) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("%s failed: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s task %s failed: %s", e.Kind, e.TaskID, e.Message)
}

func (e *TaskFailure) Unwrap() error { return ErrTaskFailed }

// MutationFailure reports a mutating call that failed after every attempt.
type MutationFailure struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *MutationFailure) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
}

func (e *MutationFailure) Unwrap() []error { return []error{ErrMutationFailed, e.Err} }

// LifecycleCleanupFailure reports a graceful close that did not succeed.
type LifecycleCleanupFailure struct {
	SimulationID string
	Err          error
}

func (e *LifecycleCleanupFailure) Error() string {
	return fmt.Sprintf("close environment for %s: %v", e.SimulationID, e.Err)
}

func (e *LifecycleCleanupFailure) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrLifecycleCleanup}
	}
	return []error{ErrLifecycleCleanup, e.Err}
}
