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

package trap

import (
	"context"
	"testing"

	"nucleus.dev/nucleus/pkg/arch"
	"nucleus.dev/nucleus/pkg/hostarch"
)

func TestDispatchNoHandlers(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	if r.HandleIRQ(ctx, 7) {
		t.Error("IRQ dispatch with no handlers reported handled")
	}
	if r.HandlePageFault(ctx, 0x1000, hostarch.Read, true) {
		t.Error("page fault dispatch with no handlers reported handled")
	}
	var tf arch.TrapFrame
	if got := r.HandleSyscall(ctx, &tf, 1); got != 0 {
		t.Errorf("syscall dispatch with no handlers returned %d, want 0", got)
	}
}

func TestDispatchSingleHandler(t *testing.T) {
	r := NewRegistry()
	r.RegisterPageFault(func(ctx context.Context, addr hostarch.Addr, access hostarch.AccessType, fromUser bool) bool {
		return addr == 0x2000
	})
	r.Freeze()

	ctx := context.Background()
	if !r.HandlePageFault(ctx, 0x2000, hostarch.Write, true) {
		t.Error("fault at 0x2000 not handled")
	}
	if r.HandlePageFault(ctx, 0x3000, hostarch.Write, true) {
		t.Error("fault at 0x3000 unexpectedly handled")
	}
}

func TestDispatchFirstHandlerWins(t *testing.T) {
	r := NewRegistry()
	var first, second int
	r.RegisterIRQ(func(context.Context, int) bool {
		first++
		return true
	})
	r.RegisterIRQ(func(context.Context, int) bool {
		second++
		return false
	})
	r.Freeze()

	if !r.HandleIRQ(context.Background(), 3) {
		t.Error("dispatch did not return the first handler's result")
	}
	if first != 1 {
		t.Errorf("first handler ran %d times, want 1", first)
	}
	if second != 0 {
		t.Errorf("second handler ran %d times, want 0", second)
	}
}

func TestHooksBracketDispatch(t *testing.T) {
	r := NewRegistry()
	var order []string
	r.RegisterPreTrap(func(context.Context) { order = append(order, "pre") })
	r.RegisterPostTrap(func(context.Context) { order = append(order, "post") })
	r.RegisterSyscall(func(ctx context.Context, tf *arch.TrapFrame, sysno uintptr) uintptr {
		order = append(order, "syscall")
		return 42
	})
	r.Freeze()

	var tf arch.TrapFrame
	if got := r.HandleSyscall(context.Background(), &tf, 9); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	want := []string{"pre", "syscall", "post"}
	if len(order) != len(want) {
		t.Fatalf("got order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	defer func() {
		if recover() == nil {
			t.Error("registration after Freeze did not panic")
		}
	}()
	r.RegisterIRQ(func(context.Context, int) bool { return false })
}
