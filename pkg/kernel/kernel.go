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

// Package kernel owns user task lifecycle: creation, address-space
// duplication, program loading, trap-boundary time accounting and
// termination.
package kernel

import (
	"context"
	"sync"
	"time"

	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/log"
	"nucleus.dev/nucleus/pkg/mm"
	"nucleus.dev/nucleus/pkg/trap"
	"nucleus.dev/nucleus/pkg/vfs"
)

// ThreadID is a kernel thread and process identifier.
type ThreadID int32

// initTID is the identifier of the first spawned task, which adopts orphans.
const initTID ThreadID = 1

// MemoryLayout fixes the user address-space geometry.
type MemoryLayout struct {
	// UserBase is the lowest mappable user address, also the load-base
	// hint for position-independent images.
	UserBase hostarch.Addr

	// UserCeiling is one past the highest mappable user address. The
	// user stack grows down from here.
	UserCeiling hostarch.Addr

	// HeapBottom is the lower bound of every task's heap window.
	HeapBottom hostarch.Addr

	// HeapMax is the maximum heap size in bytes.
	HeapMax uint64

	// StackSize is the user stack size established by exec.
	StackSize uint64
}

// Options configures a Kernel.
type Options struct {
	// Layout is the user memory geometry.
	Layout MemoryLayout

	// FS is the filesystem exec images and directory operations resolve
	// against.
	FS vfs.Filesystem

	// TickSource returns the current tick for time accounting. Defaults
	// to the monotonic wall clock in nanoseconds.
	TickSource func() uint64
}

// Kernel is the process-tree root object: the task table, the trap
// registry wiring and the global namespace fallback.
type Kernel struct {
	layout   MemoryLayout
	fs       vfs.Filesystem
	registry *trap.Registry
	now      func() uint64

	// globalNS is the namespace used when no task is attached to a
	// context. Set once at boot via SetGlobalNamespace, read thereafter.
	globalNS *Namespace

	// mu protects tasks and nextID.
	mu sync.Mutex

	// tasks maps live thread IDs to tasks. Entries are removed at reap
	// time, not at exit time.
	tasks map[ThreadID]*Task

	// nextID is the next thread ID to hand out.
	nextID ThreadID

	// programs maps image paths to registered bodies. Written only
	// before Start.
	programs map[string]Program

	// started flips once Start freezes the trap registry.
	started bool
}

// New returns a Kernel with the trap registry hooks and fault handler
// installed. The syscall handler is registered separately by the syscall
// table, then Start freezes the registry.
func New(opts Options) *Kernel {
	now := opts.TickSource
	if now == nil {
		start := time.Now()
		now = func() uint64 { return uint64(time.Since(start).Nanoseconds()) }
	}
	k := &Kernel{
		layout:   opts.Layout,
		fs:       opts.FS,
		registry: trap.NewRegistry(),
		now:      now,
		globalNS: NewNamespace(),
		tasks:    make(map[ThreadID]*Task),
		nextID:   initTID,
		programs: make(map[string]Program),
	}
	k.registry.RegisterPreTrap(func(ctx context.Context) {
		if t := TaskFromContext(ctx); t != nil {
			t.tstats.EnterKernel(k.now())
		}
	})
	k.registry.RegisterPostTrap(func(ctx context.Context) {
		if t := TaskFromContext(ctx); t != nil {
			t.tstats.EnterUser(k.now())
		}
	})
	k.registry.RegisterPageFault(func(ctx context.Context, addr hostarch.Addr, access hostarch.AccessType, fromUser bool) bool {
		t := TaskFromContext(ctx)
		if t == nil {
			return false
		}
		if err := t.AddressSpace().HandleFault(addr, access); err != nil {
			log.Warningf("Unhandled %v page fault at %#x: %v", access, uint64(addr), err)
			return false
		}
		return true
	})
	return k
}

// TrapRegistry returns the kernel's trap registry. Registration is only
// legal before Start.
func (k *Kernel) TrapRegistry() *trap.Registry {
	return k.registry
}

// Filesystem returns the kernel's filesystem.
func (k *Kernel) Filesystem() vfs.Filesystem {
	return k.fs
}

// Layout returns the user memory geometry.
func (k *Kernel) Layout() MemoryLayout {
	return k.layout
}

// Now returns the current tick.
func (k *Kernel) Now() uint64 {
	return k.now()
}

// SetGlobalNamespace replaces the boot-time namespace fallback. It may be
// called at most once, before Start.
func (k *Kernel) SetGlobalNamespace(ns *Namespace) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		panic("SetGlobalNamespace called after Start")
	}
	k.globalNS = ns
}

// RegisterProgram binds a body to an image path. When exec loads that path,
// the task continues in body. Registration after Start panics.
func (k *Kernel) RegisterProgram(path string, body Program) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		panic("RegisterProgram called after Start")
	}
	k.programs[path] = body
}

// program returns the body registered for path, or nil.
func (k *Kernel) program(path string) Program {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.programs[path]
}

// Start freezes the trap registry. Handlers and programs are fixed from
// here on; tasks may be spawned.
func (k *Kernel) Start() {
	k.mu.Lock()
	k.started = true
	k.mu.Unlock()
	k.registry.Freeze()
}

// newUserAddressSpace builds an empty address space spanning the user
// region, with a fresh heap window over it.
func (k *Kernel) newUserAddressSpace() (*mm.AddressSpace, *HeapManager) {
	as := mm.NewAddressSpace(k.layout.UserBase, k.layout.UserCeiling, mm.NewPageTable())
	return as, NewHeapManager(as, k.layout.HeapBottom, k.layout.HeapMax)
}

// TaskWithID returns the task with the given ID, or nil. This is the weak
// edge of the process graph: holding the result does not keep the task in
// the table.
func (k *Kernel) TaskWithID(id ThreadID) *Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tasks[id]
}

// allocID hands out the next thread ID.
func (k *Kernel) allocID() ThreadID {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := k.nextID
	k.nextID++
	return id
}

// addTask publishes t in the task table.
func (k *Kernel) addTask(t *Task) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tasks[t.id] = t
}

// removeTask drops id from the task table at reap time.
func (k *Kernel) removeTask(id ThreadID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.tasks, id)
}
