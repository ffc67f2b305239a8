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

// Constants from asm-generic/fcntl.h and fcntl.h.
const (
	O_RDONLY    = 0o0
	O_CLOEXEC   = 0o2000000
	O_DIRECTORY = 0o200000
)

// AT_FDCWD refers to the current working directory in *at syscalls.
const AT_FDCWD = -100
