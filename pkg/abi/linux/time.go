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

// ClockTick is the length of time represented by a single clock tick, as
// used by times(2) and /proc/[pid]/stat.
const ClockTick = 10000000 // 10ms in nanoseconds (USER_HZ = 100).

// Tms represents struct tms, used by times(2).
type Tms struct {
	// UTime is time spent executing user instructions.
	UTime int64

	// STime is time spent executing kernel code.
	STime int64

	// CUTime is the user time of reaped children.
	CUTime int64

	// CSTime is the kernel time of reaped children.
	CSTime int64
}
