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

import "time"

// =============================================================================
// Constants
// =============================================================================

// Timeout constants define minimum and default values for backend calls.
const (
	// MinRequestTimeout is the absolute minimum for any backend request.
	MinRequestTimeout = 1 * time.Second

	// MinPollInterval keeps a misconfigured poller from hammering the backend.
	MinPollInterval = 100 * time.Millisecond

	// DefaultRequestTimeout accommodates long LLM-backed operations such as
	// ontology generation, which routinely take minutes.
	DefaultRequestTimeout = 300 * time.Second

	// DefaultProbeTimeout bounds a single status probe so a stuck request
	// cannot stall a poller past several of its own ticks.
	DefaultProbeTimeout = 30 * time.Second

	// DefaultGracefulCloseTimeout bounds the close-env call before the
	// lifecycle manager escalates to a forced stop.
	DefaultGracefulCloseTimeout = 10 * time.Second
)

// =============================================================================
// TimeoutConfig Struct
// =============================================================================

// TimeoutConfig holds timeout settings with validation.
//
// # Description
//
// Groups the three timeouts the CLI cares about. Use NewTimeoutConfig for
// defaults and Validated before handing values to an http.Client.
//
// # Example
//
//	cfg := util.NewTimeoutConfig()
//	cfg.GracefulClose = 0        // misconfigured
//	valid := cfg.Validated()     // GracefulClose == MinRequestTimeout
type TimeoutConfig struct {
	// Request is the end-to-end timeout for one backend request.
	Request time.Duration

	// Probe is the timeout for one poll probe.
	Probe time.Duration

	// GracefulClose bounds the close-env call.
	GracefulClose time.Duration
}

// NewTimeoutConfig creates a TimeoutConfig with the default values.
func NewTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Request:       DefaultRequestTimeout,
		Probe:         DefaultProbeTimeout,
		GracefulClose: DefaultGracefulCloseTimeout,
	}
}

// Validated returns a copy with every timeout at least at its minimum.
//
// # Description
//
// The receiver is not modified. A zero Probe falls back to the Request
// timeout rather than the minimum, since "no probe timeout" most likely
// means "use the request timeout".
func (c TimeoutConfig) Validated() TimeoutConfig {
	request := EnforceMinTimeout(c.Request, MinRequestTimeout)
	return TimeoutConfig{
		Request:       request,
		Probe:         EnforceMinTimeout(EnforceDefaultTimeout(c.Probe, request), MinRequestTimeout),
		GracefulClose: EnforceMinTimeout(c.GracefulClose, MinRequestTimeout),
	}
}

// =============================================================================
// Utility Functions
// =============================================================================

// EnforceMinTimeout returns at least the minimum timeout.
//
// # Description
//
// If the requested timeout is zero, negative, or below the minimum, returns
// the minimum instead. This prevents misconfiguration from causing hangs.
//
// # Assumptions
//
//   - minimum is a positive duration
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefaultTimeout returns the default if requested is zero or negative.
func EnforceDefaultTimeout(requested, defaultVal time.Duration) time.Duration {
	if requested <= 0 {
		return defaultVal
	}
	return requested
}
