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

// Package syscalls is the thin syscall surface: argument marshaling shims
// that translate trap-frame arguments into kernel operations, plus the
// conversion of typed failures into negative errno returns.
package syscalls

import (
	"context"

	"nucleus.dev/nucleus/pkg/abi/linux"
	"nucleus.dev/nucleus/pkg/arch"
	"nucleus.dev/nucleus/pkg/errors/linuxerr"
	"nucleus.dev/nucleus/pkg/kernel"
	"nucleus.dev/nucleus/pkg/log"
)

// Handler implements one syscall for a task.
type Handler func(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error)

// Table routes syscall numbers to handlers. It is built once and
// registered as the trap registry's syscall handler before the registry
// freezes.
type Table struct {
	handlers map[uintptr]Handler
}

// Register builds the syscall table and installs it in k's trap registry.
func Register(k *kernel.Kernel) *Table {
	tbl := &Table{handlers: map[uintptr]Handler{
		linux.SYS_BRK:             brk,
		linux.SYS_DUP:             dup,
		linux.SYS_GETPID:          getpid,
		linux.SYS_CLONE:           clone,
		linux.SYS_FORK:            fork,
		linux.SYS_EXECVE:          execve,
		linux.SYS_EXIT:            exit,
		linux.SYS_WAIT4:           wait4,
		linux.SYS_GETCWD:          getcwd,
		linux.SYS_CHDIR:           chdir,
		linux.SYS_TIMES:           times,
		linux.SYS_GETPPID:         getppid,
		linux.SYS_GETTID:          gettid,
		linux.SYS_GETDENTS64:      getdents64,
		linux.SYS_SET_TID_ADDRESS: setTidAddress,
		linux.SYS_EXIT_GROUP:      exitGroup,
		linux.SYS_OPENAT:          openat,
		linux.SYS_MKDIRAT:         mkdirat,
		linux.SYS_DUP3:            dup3,
	}}
	k.TrapRegistry().RegisterSyscall(tbl.dispatch)
	return tbl
}

// errorReturn encodes err as a negative errno in the return register.
func errorReturn(err error) uintptr {
	return uintptr(-int64(linuxerr.ErrnoOf(err)))
}

// dispatch implements trap.SyscallHandler.
func (tbl *Table) dispatch(ctx context.Context, tf *arch.TrapFrame, sysno uintptr) uintptr {
	t := kernel.TaskFromContext(ctx)
	if t == nil {
		log.Warningf("Syscall %d raised with no current task", sysno)
		return errorReturn(linuxerr.ENOSYS)
	}
	h, ok := tbl.handlers[sysno]
	if !ok {
		log.Warningf("Task %d: unimplemented syscall %d", t.ID(), sysno)
		tf.Ret = uint64(errorReturn(linuxerr.ENOSYS))
		return uintptr(tf.Ret)
	}
	r, err := h(t, tf, tf.Args)
	if err != nil {
		log.Debugf("Task %d: syscall %d failed: %v", t.ID(), sysno, err)
		r = errorReturn(err)
	}
	tf.Ret = uint64(r)
	return r
}
