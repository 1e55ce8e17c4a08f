// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package api is the typed client for the simulation backend.

# Envelope

Every endpoint answers with the same JSON envelope:

	{"success": true, "data": {...}}
	{"success": false, "error": "human readable"}

The client unwraps it and returns either the decoded data or an *APIError.
A non-2xx status or success=false both yield an *APIError.

# Retries

Read endpoints are never retried here; the pollers that call them already
probe again on their next tick. Mutating endpoints (create, prepare, start,
stop, generate) go through mutate, which retries retryable failures up to
Config.MaxAttempts times with a doubling delay starting at
Config.BaseDelay. When the budget runs out the caller receives a
*MutationFailure.

	┌──────────┐  attempt 1  ┌─────────┐
	│  mutate  │────────────▶│ backend │  5xx / 429 / transport error
	│          │◀────────────│         │
	│  sleep 1s│  attempt 2  │         │
	│          │────────────▶│         │  5xx again
	│  sleep 2s│  attempt 3  │         │
	│          │────────────▶│         │  200 OK
	└──────────┘             └─────────┘

4xx answers are not retried: the request itself is wrong.

# Error Taxonomy

  - [APIError]: one failed request (status, endpoint, message)
  - [TransientPollError]: a probe failed; pollers warn and keep going
  - [TaskFailure]: a server task reported failed; terminal for the phase
  - [MutationFailure]: retries exhausted on a mutating call
  - [LifecycleCleanupFailure]: graceful close-env failed; escalate to stop

All of them unwrap to a sentinel so callers can match with errors.Is.

# Thread Safety

Client is safe for concurrent use by multiple pollers.
*/
package api
