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
Package poller runs a recurring status probe until the probed job ends.

# Lifecycle

	Start ──▶ probe ──▶ onUpdate ──┬─ running ──▶ wait interval ──▶ probe ...
	                               ├─ completed ─▶ onTerminal(success) ─▶ stop
	                               └─ failed ────▶ onTerminal(failure) ─▶ stop

	probe error ──▶ warn + onError ──▶ wait interval ──▶ probe ...

The first probe is issued immediately. Stop may be called at any time, any
number of times, including from inside a callback and after the poller
ended on its own.

# Serialization

Each poller owns a goroutine, but callbacks never run concurrently with
each other: every callback runs while holding the Locker given with
WithLocker (the session mutex). The probe itself, which does network I/O,
runs outside the lock. After acquiring the lock the poller re-checks
whether it was stopped in the meantime and, if so, discards the result.
Stopping a poller while holding the lock therefore guarantees that none of
its callbacks run afterwards.

Stop never blocks on the goroutine, so it is safe to call with the lock
held. Use Wait (without the lock) to block until the goroutine exited.
*/
package poller
