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
	"nucleus.dev/nucleus/pkg/abi/linux"
	"nucleus.dev/nucleus/pkg/errors/linuxerr"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/log"
	"nucleus.dev/nucleus/pkg/mm"
	"nucleus.dev/nucleus/pkg/sched"
)

// Wait waits for a child to exit and reaps it. pid > 0 selects that exact
// child; pid <= 0 means any child (process groups are not supported, only
// logged). The reaped child's wait status is written to statusAddr when
// non-zero, encoded as exit status shifted left eight bits.
//
// Returns the reaped child's ID; 0 if WNOHANG was set and a matching child
// is still running; ECHILD if no child matches at all.
//
// This is a polling design: the caller cooperatively yields and rechecks
// rather than sleeping on a wakeup queue, and the children lock is never
// held across the yield.
func (t *Task) Wait(pid int32, statusAddr hostarch.Addr, options int32) (ThreadID, error) {
	if pid == 0 {
		log.Warningf("wait: process group selection is not supported, treating pid 0 as any child")
	}
	for {
		t.childrenMu.Lock()
		var exited *Task
		anyMatch := false
		for _, c := range t.children {
			if pid > 0 && c.id != ThreadID(pid) {
				continue
			}
			anyMatch = true
			if c.tg.State() == sched.Exited {
				exited = c
				break
			}
		}
		if exited != nil {
			t.removeChildLocked(exited)
			t.childrenMu.Unlock()
			return t.reap(exited, statusAddr)
		}
		t.childrenMu.Unlock()

		if !anyMatch {
			return 0, linuxerr.ECHILD
		}
		if options&linux.WNOHANG != 0 {
			return 0, nil
		}
		sched.Yield()
	}
}

// removeChildLocked drops c from the children list.
//
// Preconditions: t.childrenMu is locked. c is in t.children.
func (t *Task) removeChildLocked(c *Task) {
	for i, e := range t.children {
		if e == c {
			t.children = append(t.children[:i], t.children[i+1:]...)
			return
		}
	}
}

// reap finalizes an exited child already removed from the children list:
// folds its accumulated times into the caller, writes the wait status,
// unpublishes the task record and drops its address-space reference. The
// child is reaped even when the status write faults; only the error is
// reported.
func (t *Task) reap(c *Task, statusAddr hostarch.Addr) (ThreadID, error) {
	t.tstats.FoldChild(c.tstats)
	status := linux.WaitStatusExit(c.tg.ExitCode())
	var statusErr error
	if statusAddr != 0 {
		statusErr = t.AddressSpace().CopyOutUint32(statusAddr, status, mm.IOOpts{})
	}
	t.k.removeTask(c.id)
	c.AddressSpace().DecRef()
	if statusErr != nil {
		return 0, statusErr
	}
	log.Debugf("Task %d reaped child %d with status %#x", t.id, c.id, status)
	return c.id, nil
}
