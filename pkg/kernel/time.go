// Copyright 2025 The Nucleus Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import "sync"

// TimeStats accounts a task's time split between user and kernel mode. The
// trap hooks call EnterKernel on every trap entry and EnterUser on every
// return, so at any instant the task is "in" exactly one of the two modes
// and the uncredited remainder belongs to that mode.
type TimeStats struct {
	// mu protects all fields below.
	mu sync.Mutex

	// utime and stime are cumulative user and kernel ticks.
	utime uint64
	stime uint64

	// lastUser and lastKernel are the ticks at which the task last
	// entered user and kernel mode respectively.
	lastUser   uint64
	lastKernel uint64

	// cutime and cstime accumulate the user and kernel ticks of reaped
	// children, folded in by wait.
	cutime uint64
	cstime uint64
}

// NewTimeStats returns a TimeStats with both crossing timestamps at now.
func NewTimeStats(now uint64) *TimeStats {
	return &TimeStats{lastUser: now, lastKernel: now}
}

// delta clamps now-last to zero if the tick source ran backwards.
func delta(now, last uint64) uint64 {
	if now < last {
		return 0
	}
	return now - last
}

// EnterKernel credits the interval since the task last entered user mode to
// the user counter and marks now as the kernel entry time.
func (ts *TimeStats) EnterKernel(now uint64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.utime += delta(now, ts.lastUser)
	ts.lastKernel = now
}

// EnterUser credits the interval since the task last entered kernel mode to
// the kernel counter and marks now as the user entry time.
func (ts *TimeStats) EnterUser(now uint64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.stime += delta(now, ts.lastKernel)
	ts.lastUser = now
}

// Snapshot returns the cumulative (user, kernel) ticks without mutating
// anything.
func (ts *TimeStats) Snapshot() (utime, stime uint64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.utime, ts.stime
}

// ChildSnapshot returns the cumulative (user, kernel) ticks of reaped
// children.
func (ts *TimeStats) ChildSnapshot() (cutime, cstime uint64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.cutime, ts.cstime
}

// FoldChild accumulates a reaped child's own and descendant times, making
// them visible to subsequent aggregate-time queries on the parent.
func (ts *TimeStats) FoldChild(child *TimeStats) {
	cu, cs := child.Snapshot()
	ccu, ccs := child.ChildSnapshot()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.cutime += cu + ccu
	ts.cstime += cs + ccs
}
