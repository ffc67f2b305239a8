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
	"encoding/binary"

	"nucleus.dev/nucleus/pkg/abi/linux"
	"nucleus.dev/nucleus/pkg/arch"
	"nucleus.dev/nucleus/pkg/kernel"
)

// toClockTicks converts accounted nanoseconds to times(2) clock ticks.
func toClockTicks(ns uint64) int64 {
	return int64(ns / linux.ClockTick)
}

// times implements SYS_TIMES, reporting the caller's own accounted time
// plus the folded-in time of reaped children.
func times(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	utime, stime := t.TimeStats().Snapshot()
	cutime, cstime := t.TimeStats().ChildSnapshot()
	tms := linux.Tms{
		UTime:  toClockTicks(utime),
		STime:  toClockTicks(stime),
		CUTime: toClockTicks(cutime),
		CSTime: toClockTicks(cstime),
	}
	if addr := args[0].Pointer(); addr != 0 {
		buf := make([]byte, 32)
		binary.LittleEndian.PutUint64(buf[0:], uint64(tms.UTime))
		binary.LittleEndian.PutUint64(buf[8:], uint64(tms.STime))
		binary.LittleEndian.PutUint64(buf[16:], uint64(tms.CUTime))
		binary.LittleEndian.PutUint64(buf[24:], uint64(tms.CSTime))
		if _, err := t.CopyOut(addr, buf); err != nil {
			return 0, err
		}
	}
	return uintptr(toClockTicks(t.Kernel().Now())), nil
}
