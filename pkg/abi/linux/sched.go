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

// Clone flags, from include/uapi/linux/sched.h. Only the arguments modeled
// by the clone path are interpreted; the rest are accepted and logged as
// unsupported.
const (
	CSIGNAL       = 0x000000ff
	CLONE_VM      = 0x00000100
	CLONE_FS      = 0x00000200
	CLONE_FILES   = 0x00000400
	CLONE_SIGHAND = 0x00000800
	CLONE_PTRACE  = 0x00002000
	CLONE_VFORK   = 0x00004000
	CLONE_PARENT  = 0x00008000
	CLONE_THREAD  = 0x00010000
	CLONE_SETTLS  = 0x00080000

	CLONE_PARENT_SETTID  = 0x00100000
	CLONE_CHILD_CLEARTID = 0x00200000
	CLONE_CHILD_SETTID   = 0x01000000
)
