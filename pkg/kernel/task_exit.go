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

import (
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/log"
	"nucleus.dev/nucleus/pkg/mm"
)

// Exit terminates the calling task immediately with the given status.
// There is no unwind phase beyond the exit bookkeeping; the call does not
// return.
//
// Preconditions: must be called from the task's own goroutine.
func (t *Task) Exit(status int32) {
	panic(&exitControl{status: status})
}

// ExitGroup is Exit; with one task per process the two are the same
// operation.
func (t *Task) ExitGroup(status int32) {
	t.Exit(status)
}

// finishExit runs the exit bookkeeping on the task's goroutine, just
// before the goroutine publishes the exit status: the clear-child-tid
// write and orphan reparenting. The address-space reference is dropped at
// reap time, not here, since an unreaped task's accounting is still
// reachable through wait and aggregate-time queries.
func (t *Task) finishExit(status int32) {
	if addr := hostarch.Addr(t.clearChildTID.Load()); addr != 0 {
		if err := t.AddressSpace().CopyOutUint32(addr, 0, mm.IOOpts{}); err != nil {
			log.Infof("exit: clear-child-tid write at %#x failed: %v", uint64(addr), err)
		}
	}
	t.reparentChildren()
	log.Debugf("Task %d exiting with status %d", t.id, status)
}

// reparentChildren hands any unreaped children to the initial task so they
// can still be reaped. If the exiting task is itself the initial task, the
// children stay orphaned and are dropped from the table directly.
func (t *Task) reparentChildren() {
	t.childrenMu.Lock()
	orphans := t.children
	t.children = nil
	t.childrenMu.Unlock()
	if len(orphans) == 0 {
		return
	}

	adopter := t.k.TaskWithID(initTID)
	if adopter == t || adopter == nil {
		// The initial task itself is going away; its orphans stay in the
		// table unparented until the kernel is torn down.
		for _, c := range orphans {
			c.parentID.Store(0)
		}
		return
	}
	for _, c := range orphans {
		c.parentID.Store(int32(adopter.id))
	}
	adopter.childrenMu.Lock()
	adopter.children = append(adopter.children, orphans...)
	adopter.childrenMu.Unlock()
}
