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
	"fmt"

	"nucleus.dev/nucleus/pkg/log"
	"nucleus.dev/nucleus/pkg/sched"
)

// Program is the user-mode body of a task. It runs on the task's goroutine
// and interacts with the kernel through the task's methods; its return
// value is the task's exit status if it returns instead of calling Exit.
type Program func(t *Task) int32

// exitProgram is the body of tasks with no registered program, including
// raw-trap clone children that have no continuation to resume.
func exitProgram(*Task) int32 {
	return 0
}

// exitControl unwinds a task goroutine out of an Exit call.
type exitControl struct {
	status int32
}

// execControl unwinds a task goroutine out of a successful exec; the run
// loop continues in body.
type execControl struct {
	body Program
}

// run is the task goroutine's main loop: execute the current body, and
// each successful exec starts the next one.
func (t *Task) run() int32 {
	body := t.body()
	for {
		status, next := t.call(body)
		if next == nil {
			t.finishExit(status)
			return status
		}
		body = next
	}
}

// call invokes body, converting the control panics thrown by Exit and exec
// into returns.
func (t *Task) call(body Program) (status int32, next Program) {
	defer func() {
		switch c := recover().(type) {
		case nil:
		case *exitControl:
			status = c.status
		case *execControl:
			next = c.body
		default:
			panic(c)
		}
	}()
	return body(t), nil
}

// body returns the program the task should currently run.
func (t *Task) body() Program {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.programBody
}

// setBody records the program the run loop is about to execute.
func (t *Task) setBody(p Program) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.programBody = p
}

// start spawns the task goroutine. The task must already be published in
// the kernel task table and, when applicable, its parent's children list.
func (t *Task) start() {
	t.tg = sched.Spawn(fmt.Sprintf("task %d [%s]", t.id, t.Image()), t.run)
}

// SpawnInitial creates and starts the first user task, executing the image
// at path. It has no parent; later orphans are reparented to it.
func (k *Kernel) SpawnInitial(path string) *Task {
	as, heap := k.newUserAddressSpace()
	t := &Task{
		k:      k,
		id:     k.allocID(),
		image:  path,
		aspace: as,
		heap:   heap,
		tstats: NewTimeStats(k.now()),
		ns:     k.globalNS.Fork(),
	}
	t.setBody(func(t *Task) int32 {
		if err := t.Execve(path); err != nil {
			log.Warningf("Failed to exec initial task %q: %v", path, err)
			return 127
		}
		panic("unreachable: exec does not return on success")
	})
	k.addTask(t)
	t.start()
	return t
}

// Join blocks until the task's goroutine finishes and returns its exit
// status. Intended for the boot path waiting on the initial task; regular
// parents use Wait.
func (t *Task) Join() int32 {
	return t.tg.Join()
}

// Exited reports whether the task has finished running.
func (t *Task) Exited() bool {
	return t.tg.State() == sched.Exited
}
