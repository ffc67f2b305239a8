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
	"sync"
	"sync/atomic"

	"nucleus.dev/nucleus/pkg/arch"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/mm"
	"nucleus.dev/nucleus/pkg/sched"
)

// Task is one schedulable user execution context and its extended state:
// identity, the process-graph edges, the address space handle, heap, time
// accounting and namespace.
type Task struct {
	// k is the owning kernel. Immutable.
	k *Kernel

	// id is the task's thread and process identifier. Immutable.
	id ThreadID

	// parentID identifies the parent, 0 for the initial task. It is a
	// weak edge: resolution goes through the kernel task table and may
	// find the parent already gone. Mutated only by reparenting.
	parentID atomic.Int32

	// clearChildTID is the address zeroed on exit, or 0. Atomic per the
	// set_tid_address contract.
	clearChildTID atomic.Uint64

	// mu protects uctx, image, aspace and heap. The pointer fields are
	// replaced only by the task itself (exec), but other tasks read
	// them (clone, reap).
	mu sync.Mutex

	// uctx is the saved user register state. Replaced wholesale on exec.
	uctx arch.UserContext

	// image is the path of the loaded program.
	image string

	// programBody is the body the run loop executes. Replaced on exec.
	programBody Program

	// aspace is the task's address space. The reference count is the
	// sole lifetime authority; this task's reference is dropped when
	// the task is reaped, not when it exits.
	aspace *mm.AddressSpace

	// heap is the task's brk window over aspace.
	heap *HeapManager

	// tstats accounts user/kernel time. Immutable pointer.
	tstats *TimeStats

	// ns is the task's namespace. Immutable pointer; inner state has
	// its own locks.
	ns *Namespace

	// childrenMu protects children. Never held across a yield.
	childrenMu sync.Mutex

	// children holds the strong references to unreaped child tasks.
	children []*Task

	// tg is the goroutine running the task. Set once at spawn.
	tg *sched.TaskGoroutine
}

// Children returns a snapshot of the task's unreaped children.
func (t *Task) Children() []*Task {
	t.childrenMu.Lock()
	defer t.childrenMu.Unlock()
	return append([]*Task(nil), t.children...)
}

// ID returns the task's thread ID.
func (t *Task) ID() ThreadID {
	return t.id
}

// ParentID returns the parent's thread ID, 0 if the task has no parent.
func (t *Task) ParentID() ThreadID {
	return ThreadID(t.parentID.Load())
}

// Parent resolves the weak parent edge, returning nil if the parent has
// been reaped.
func (t *Task) Parent() *Task {
	id := t.ParentID()
	if id == 0 {
		return nil
	}
	return t.k.TaskWithID(id)
}

// Kernel returns the owning kernel.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Image returns the path of the program the task is executing.
func (t *Task) Image() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.image
}

// AddressSpace returns the task's current address space.
func (t *Task) AddressSpace() *mm.AddressSpace {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aspace
}

// Heap returns the task's heap manager.
func (t *Task) Heap() *HeapManager {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heap
}

// TimeStats returns the task's time accounting.
func (t *Task) TimeStats() *TimeStats {
	return t.tstats
}

// Namespace returns the task's namespace.
func (t *Task) Namespace() *Namespace {
	return t.ns
}

// UserContext returns a copy of the saved user register state.
func (t *Task) UserContext() arch.UserContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uctx
}

// SetClearTID records addr as the address to zero at exit and returns the
// task's ID, per set_tid_address.
func (t *Task) SetClearTID(addr hostarch.Addr) ThreadID {
	t.clearChildTID.Store(uint64(addr))
	return t.id
}

// trapFrame materializes a trap frame for a syscall raised from the task's
// current user context.
func (t *Task) trapFrame(sysno uintptr, args arch.SyscallArguments) arch.TrapFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return arch.TrapFrame{
		PC:    t.uctx.Entry,
		SP:    t.uctx.StackTop,
		TLS:   t.uctx.TLS,
		Sysno: sysno,
		Args:  args,
	}
}

// Syscall raises a syscall trap from this task, running it through the trap
// registry so the time-accounting hooks bracket it. Task bodies use this as
// their entry into the kernel.
func (t *Task) Syscall(sysno uintptr, args arch.SyscallArguments) uintptr {
	tf := t.trapFrame(sysno, args)
	return t.k.registry.HandleSyscall(t.AsyncContext(), &tf, sysno)
}

// CopyOut writes src to the task's memory at addr.
func (t *Task) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	return t.AddressSpace().CopyOut(addr, src, mm.IOOpts{})
}

// CopyIn reads len(dst) bytes of the task's memory at addr.
func (t *Task) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	return t.AddressSpace().CopyIn(addr, dst, mm.IOOpts{})
}

// CopyInString reads a NUL-terminated string of at most maxlen bytes from
// the task's memory at addr.
func (t *Task) CopyInString(addr hostarch.Addr, maxlen int) (string, error) {
	buf := make([]byte, maxlen)
	n, err := t.AddressSpace().CopyIn(addr, buf, mm.IOOpts{})
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return string(buf[:i]), nil
		}
	}
	if err != nil {
		return "", err
	}
	// No terminator within maxlen.
	return string(buf[:n]), nil
}
