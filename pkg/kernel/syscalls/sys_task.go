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

package syscalls

import (
	"nucleus.dev/nucleus/pkg/arch"
	"nucleus.dev/nucleus/pkg/kernel"
)

// clone implements SYS_CLONE for the amd64 argument order: flags, stack,
// ptid, ctid, tls.
func clone(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	pid, err := t.Clone(tf, &kernel.CloneArgs{
		Flags:     args[0].Uint64(),
		Stack:     args[1].Pointer(),
		ParentTID: args[2].Pointer(),
		ChildTID:  args[3].Pointer(),
		TLS:       args[4].Pointer(),
	})
	return uintptr(pid), err
}

// fork implements SYS_FORK as clone with no flags or pointers.
func fork(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	pid, err := t.Clone(tf, &kernel.CloneArgs{})
	return uintptr(pid), err
}

// execve implements SYS_EXECVE. argv and envp are accepted but not
// consumed; the initial stack carries empty vectors.
func execve(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	path, err := t.CopyInString(args[0].Pointer(), maxPathLen)
	if err != nil {
		return 0, err
	}
	// Does not return on success.
	return 0, t.Execve(path)
}

// wait4 implements SYS_WAIT4. The rusage argument is ignored.
func wait4(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	pid, err := t.Wait(args[0].Int(), args[1].Pointer(), args[2].Int())
	return uintptr(pid), err
}

func exit(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	t.Exit(args[0].Int())
	panic("unreachable")
}

func exitGroup(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	t.ExitGroup(args[0].Int())
	panic("unreachable")
}

func getpid(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	return uintptr(t.ID()), nil
}

// gettid is getpid: every task is a single-threaded process.
func gettid(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	return uintptr(t.ID()), nil
}

// getppid returns 0 when the parent is already gone; the weak parent edge
// resolves through the task table.
func getppid(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	if t.Parent() == nil {
		return 0, nil
	}
	return uintptr(t.ParentID()), nil
}

func setTidAddress(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	return uintptr(t.SetClearTID(args[0].Pointer())), nil
}
