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

// Package arch provides abstractions around architecture-dependent details,
// such as the saved register state crossing the user/kernel privilege
// boundary.
package arch

import (
	"fmt"

	"nucleus.dev/nucleus/pkg/hostarch"
)

// SyscallWidth is the width of a syscall instruction, used to advance the
// saved program counter past the trap instruction when a trap frame is
// duplicated for a new task.
const SyscallWidth = 2

// TrapFrame is the register state saved on every trap from user mode. It is
// the architecture-neutral subset the task execution core consumes; full
// register files stay with the context-switch collaborator.
type TrapFrame struct {
	// PC is the saved program counter.
	PC hostarch.Addr

	// SP is the saved stack pointer.
	SP hostarch.Addr

	// TLS is the saved thread-local storage pointer.
	TLS hostarch.Addr

	// Ret is the register holding the syscall return value.
	Ret uint64

	// Sysno is the syscall number for syscall traps.
	Sysno uintptr

	// Args are the syscall argument registers.
	Args SyscallArguments
}

// UserContext is the state needed to enter (or resume) user mode: the entry
// point, the user stack pointer, the TLS pointer and the value materialized
// in the return-value register on first entry. It is exclusively owned by
// its task and replaced wholesale on exec.
type UserContext struct {
	// Entry is the user-mode instruction pointer.
	Entry hostarch.Addr

	// StackTop is the user-mode stack pointer.
	StackTop hostarch.Addr

	// TLS is the thread-local storage pointer.
	TLS hostarch.Addr

	// Ret is the value of the return register on entry.
	Ret uint64
}

// NewUserContext returns a UserContext that begins execution at entry with
// the given stack, the convention used for a task's first entry into user
// mode.
func NewUserContext(entry, stackTop hostarch.Addr, arg0 uint64) UserContext {
	return UserContext{
		Entry:    entry,
		StackTop: stackTop,
		Ret:      arg0,
	}
}

// UserContextFromTrapFrame builds the context that resumes execution after
// tf's trap: the program counter is advanced past the trap instruction. This
// is the duplication path used by clone.
func UserContextFromTrapFrame(tf *TrapFrame) UserContext {
	return UserContext{
		Entry:    tf.PC + SyscallWidth,
		StackTop: tf.SP,
		TLS:      tf.TLS,
		Ret:      tf.Ret,
	}
}

// SetRet sets the return register value.
func (uc *UserContext) SetRet(v uint64) {
	uc.Ret = v
}

// SetStack sets the stack pointer.
func (uc *UserContext) SetStack(sp hostarch.Addr) {
	uc.StackTop = sp
}

// SetTLS sets the TLS pointer.
func (uc *UserContext) SetTLS(tls hostarch.Addr) {
	uc.TLS = tls
}

// String implements fmt.Stringer.String.
func (uc UserContext) String() string {
	return fmt.Sprintf("{entry=%#x sp=%#x tls=%#x ret=%#x}", uint64(uc.Entry), uint64(uc.StackTop), uint64(uc.TLS), uc.Ret)
}

// SyscallArgument is an argument supplied to a syscall implementation.
type SyscallArgument struct {
	// Value is the untyped syscall argument.
	Value uintptr
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [6]SyscallArgument

// Pointer returns the hostarch.Addr representation of a pointer argument.
func (a SyscallArgument) Pointer() hostarch.Addr {
	return hostarch.Addr(a.Value)
}

// Int returns the int32 representation of a 32-bit signed argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint returns the uint32 representation of a 32-bit unsigned argument.
func (a SyscallArgument) Uint() uint32 {
	return uint32(a.Value)
}

// Int64 returns the int64 representation of a 64-bit signed argument.
func (a SyscallArgument) Int64() int64 {
	return int64(a.Value)
}

// Uint64 returns the uint64 representation of a 64-bit unsigned argument.
func (a SyscallArgument) Uint64() uint64 {
	return uint64(a.Value)
}
