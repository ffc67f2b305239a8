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

// Package trap routes hardware and software traps to their handlers.
//
// The registry is the single dispatch point for IRQs, page faults and
// syscalls. Handlers are registered during initialization; once the registry
// is frozen, the handler tables are read-only and dispatch takes no locks.
// Pre- and post-trap hooks bracket every dispatch and are used for
// user/kernel time accounting; they run in contexts that may have no task
// attached (early boot, the idle loop) and must tolerate that.
package trap

import (
	"context"

	"nucleus.dev/nucleus/pkg/arch"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/log"
)

// IRQHandler handles a hardware interrupt. It returns true if the interrupt
// was handled.
type IRQHandler func(ctx context.Context, irq int) bool

// PageFaultHandler handles a page fault at addr with the given access type.
// fromUser indicates whether the fault was taken in user mode. It returns
// true if the fault was resolved.
type PageFaultHandler func(ctx context.Context, addr hostarch.Addr, access hostarch.AccessType, fromUser bool) bool

// SyscallHandler handles a syscall trap and returns the raw return value to
// place in the return register.
type SyscallHandler func(ctx context.Context, tf *arch.TrapFrame, sysno uintptr) uintptr

// Hook is invoked unconditionally around every trap dispatch.
type Hook func(ctx context.Context)

// Registry holds the handler tables for every trap kind.
//
// Registration is only legal before Freeze; dispatch is only legal after.
// This replaces the link-time distributed-slice collection of the usual
// kernel build with an explicit object built once at startup.
type Registry struct {
	frozen bool

	irq       []IRQHandler
	pageFault []PageFaultHandler
	syscall   []SyscallHandler
	preTrap   []Hook
	postTrap  []Hook
}

// NewRegistry returns an empty, unfrozen Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) checkMutable() {
	if r.frozen {
		panic("trap handler registered after registry was frozen")
	}
}

// RegisterIRQ registers an IRQ handler.
func (r *Registry) RegisterIRQ(h IRQHandler) {
	r.checkMutable()
	r.irq = append(r.irq, h)
}

// RegisterPageFault registers a page fault handler.
func (r *Registry) RegisterPageFault(h PageFaultHandler) {
	r.checkMutable()
	r.pageFault = append(r.pageFault, h)
}

// RegisterSyscall registers a syscall handler.
func (r *Registry) RegisterSyscall(h SyscallHandler) {
	r.checkMutable()
	r.syscall = append(r.syscall, h)
}

// RegisterPreTrap registers a hook invoked on entry to every trap.
func (r *Registry) RegisterPreTrap(h Hook) {
	r.checkMutable()
	r.preTrap = append(r.preTrap, h)
}

// RegisterPostTrap registers a hook invoked on exit from every trap.
func (r *Registry) RegisterPostTrap(h Hook) {
	r.checkMutable()
	r.postTrap = append(r.postTrap, h)
}

// Freeze makes the registry read-only. Dispatch before Freeze is legal but
// registration afterward panics; handler sets are fixed at boot.
func (r *Registry) Freeze() {
	r.frozen = true
}

func (r *Registry) enter(ctx context.Context) {
	if len(r.preTrap) > 0 {
		r.preTrap[0](ctx)
	}
}

func (r *Registry) leave(ctx context.Context) {
	if len(r.postTrap) > 0 {
		r.postTrap[0](ctx)
	}
}

// HandleIRQ dispatches a hardware interrupt. With no registered handler the
// interrupt is reported unhandled. With more than one handler only the first
// is invoked; multiple handlers are unsupported by policy, not an error.
func (r *Registry) HandleIRQ(ctx context.Context, irq int) bool {
	r.enter(ctx)
	defer r.leave(ctx)

	if len(r.irq) == 0 {
		log.Warningf("No registered handler for IRQ %d", irq)
		return false
	}
	if len(r.irq) > 1 {
		log.Warningf("Multiple IRQ handlers are not currently supported")
	}
	return r.irq[0](ctx, irq)
}

// HandlePageFault dispatches a page fault. With no registered handler the
// fault is reported unhandled (false).
func (r *Registry) HandlePageFault(ctx context.Context, addr hostarch.Addr, access hostarch.AccessType, fromUser bool) bool {
	r.enter(ctx)
	defer r.leave(ctx)

	if len(r.pageFault) == 0 {
		log.Warningf("No registered handler for page fault at %#x", uint64(addr))
		return false
	}
	if len(r.pageFault) > 1 {
		log.Warningf("Multiple page fault handlers are not currently supported")
	}
	return r.pageFault[0](ctx, addr, access, fromUser)
}

// HandleSyscall dispatches a syscall trap. With no registered handler the
// syscall is a no-op returning 0, which only happens before boot completes.
func (r *Registry) HandleSyscall(ctx context.Context, tf *arch.TrapFrame, sysno uintptr) uintptr {
	r.enter(ctx)
	defer r.leave(ctx)

	if len(r.syscall) == 0 {
		log.Warningf("No registered handler for syscall %d", sysno)
		return 0
	}
	if len(r.syscall) > 1 {
		log.Warningf("Multiple syscall handlers are not currently supported")
	}
	return r.syscall[0](ctx, tf, sysno)
}
