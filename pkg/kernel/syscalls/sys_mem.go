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
	"nucleus.dev/nucleus/pkg/log"
)

// brk implements SYS_BRK. Like Linux, a rejected move is not an error
// return: the current heap top comes back and the caller compares.
func brk(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	top, err := t.Heap().SetTop(args[0].Pointer())
	if err != nil {
		log.Debugf("Task %d: brk(%#x) rejected: %v", t.ID(), uint64(args[0].Pointer()), err)
	}
	return uintptr(top), nil
}
