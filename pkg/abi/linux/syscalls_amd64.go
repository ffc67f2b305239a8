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

package linux

// Syscall numbers for amd64, from arch/x86/entry/syscalls/syscall_64.tbl.
// Only the numbers the task execution core dispatches are listed.
const (
	SYS_BRK             = 12
	SYS_DUP             = 32
	SYS_GETPID          = 39
	SYS_CLONE           = 56
	SYS_FORK            = 57
	SYS_EXECVE          = 59
	SYS_EXIT            = 60
	SYS_WAIT4           = 61
	SYS_GETCWD          = 79
	SYS_CHDIR           = 80
	SYS_TIMES           = 100
	SYS_GETPPID         = 110
	SYS_GETTID          = 186
	SYS_GETDENTS64      = 217
	SYS_SET_TID_ADDRESS = 218
	SYS_EXIT_GROUP      = 231
	SYS_OPENAT          = 257
	SYS_MKDIRAT         = 258
	SYS_DUP3            = 292
)
