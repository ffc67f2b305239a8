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

package kernel

import (
	"testing"

	"nucleus.dev/nucleus/pkg/errors/linuxerr"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/mm"
)

const (
	heapBottom = hostarch.Addr(0x4000_0000)
	heapMax    = uint64(1 << 20)
)

func newTestHeap(t *testing.T) (*HeapManager, *mm.AddressSpace) {
	t.Helper()
	as := mm.NewAddressSpace(0x1000, 0x8000_0000, mm.NewPageTable())
	return NewHeapManager(as, heapBottom, heapMax), as
}

// mappedHeapEnd returns the end of the contiguous mapped region starting at
// the heap bottom, or the bottom if nothing is mapped there.
func mappedHeapEnd(as *mm.AddressSpace) hostarch.Addr {
	end := heapBottom
	for _, mv := range as.Mappings() {
		if mv.Range.Start == end {
			end = mv.Range.End
		}
	}
	return end
}

func TestHeapQueryIsPure(t *testing.T) {
	h, as := newTestHeap(t)
	for i := 0; i < 3; i++ {
		top, err := h.SetTop(0)
		if err != nil {
			t.Fatalf("SetTop(0) failed: %v", err)
		}
		if top != heapBottom {
			t.Errorf("got top %#x, want the bottom %#x", uint64(top), uint64(heapBottom))
		}
	}
	if len(as.Mappings()) != 0 {
		t.Error("SetTop(0) mapped memory")
	}
}

func TestHeapGrowthSequence(t *testing.T) {
	h, as := newTestHeap(t)
	for _, delta := range []uint64{1, 100, 4096, 12345, 1} {
		want := h.Top() + hostarch.Addr(delta)
		top, err := h.SetTop(want)
		if err != nil {
			t.Fatalf("SetTop(%#x) failed: %v", uint64(want), err)
		}
		if top != want {
			t.Errorf("got top %#x, want the last accepted value %#x", uint64(top), uint64(want))
		}
		if got, wantEnd := mappedHeapEnd(as), want.MustRoundUp(); got != wantEnd {
			t.Errorf("mapped end %#x, want align_up(top) %#x", uint64(got), uint64(wantEnd))
		}
	}
}

func TestHeapGrowthIsLazy(t *testing.T) {
	h, as := newTestHeap(t)
	if _, err := h.SetTop(heapBottom + 4*hostarch.PageSize); err != nil {
		t.Fatalf("grow failed: %v", err)
	}
	committed := 0
	for _, mv := range as.Mappings() {
		committed += mv.Committed
	}
	if committed != 0 {
		t.Errorf("%d pages committed at brk time, want 0 (lazy)", committed)
	}
	// First touch commits exactly the faulted page.
	if err := as.HandleFault(heapBottom+hostarch.PageSize+8, hostarch.Write); err != nil {
		t.Fatalf("heap fault failed: %v", err)
	}
	committed = 0
	for _, mv := range as.Mappings() {
		committed += mv.Committed
	}
	if committed != 1 {
		t.Errorf("%d pages committed after one fault, want 1", committed)
	}
}

// brokenUnmapTable fails every Unmap, for exercising shrink error paths.
type brokenUnmapTable struct {
	mm.PageTable
}

func (brokenUnmapTable) Unmap(ar hostarch.AddrRange) error {
	return linuxerr.ENOMEM
}

func TestHeapShrinkLowersTopOnUnmapFailure(t *testing.T) {
	as := mm.NewAddressSpace(0x1000, 0x8000_0000, brokenUnmapTable{mm.NewPageTable()})
	h := NewHeapManager(as, heapBottom, heapMax)
	if _, err := h.SetTop(heapBottom + 2*hostarch.PageSize); err != nil {
		t.Fatalf("grow failed: %v", err)
	}
	want := heapBottom + 8
	top, err := h.SetTop(want)
	if err == nil {
		t.Fatal("shrink with a failing unmap reported success")
	}
	if top != want {
		t.Errorf("got top %#x, want %#x; the logical top moves down unconditionally", uint64(top), uint64(want))
	}
	if got := h.Top(); got != want {
		t.Errorf("Top() = %#x after failed shrink, want %#x", uint64(got), uint64(want))
	}
}

func TestHeapGrowWithinMappedRegion(t *testing.T) {
	h, as := newTestHeap(t)
	if _, err := h.SetTop(heapBottom + 100); err != nil {
		t.Fatalf("initial grow failed: %v", err)
	}
	before := len(as.Mappings())
	// Still inside the already-mapped page: only the logical top moves.
	if _, err := h.SetTop(heapBottom + 200); err != nil {
		t.Fatalf("grow within the mapped page failed: %v", err)
	}
	if got := len(as.Mappings()); got != before {
		t.Errorf("mapping count changed %d -> %d growing within the mapped page", before, got)
	}
}

func TestHeapGrowBeyondMaxFails(t *testing.T) {
	h, _ := newTestHeap(t)
	if _, err := h.SetTop(heapBottom + 10); err != nil {
		t.Fatalf("grow failed: %v", err)
	}
	top, err := h.SetTop(heapBottom + hostarch.Addr(heapMax) + 1)
	if err == nil {
		t.Fatal("grow beyond the configured max succeeded")
	}
	if top != heapBottom+10 {
		t.Errorf("failed grow moved the top to %#x", uint64(top))
	}
}

func TestHeapShrink(t *testing.T) {
	h, as := newTestHeap(t)
	if _, err := h.SetTop(heapBottom + 3*hostarch.PageSize); err != nil {
		t.Fatalf("grow failed: %v", err)
	}
	top, err := h.SetTop(heapBottom + hostarch.PageSize + 8)
	if err != nil {
		t.Fatalf("shrink failed: %v", err)
	}
	if top != heapBottom+hostarch.PageSize+8 {
		t.Errorf("got top %#x after shrink", uint64(top))
	}
	// Two pages stay mapped: the aligned new top is bottom+2 pages.
	if got, want := mappedHeapEnd(as), heapBottom+2*hostarch.PageSize; got != want {
		t.Errorf("mapped end %#x after shrink, want %#x", uint64(got), uint64(want))
	}
}

func TestHeapShrinkBelowBottomFails(t *testing.T) {
	h, _ := newTestHeap(t)
	if _, err := h.SetTop(heapBottom + 100); err != nil {
		t.Fatalf("grow failed: %v", err)
	}
	if _, err := h.SetTop(heapBottom - 1); err == nil {
		t.Error("shrink below the bottom succeeded")
	}
	if got := h.Top(); got != heapBottom+100 {
		t.Errorf("failed shrink moved the top to %#x", uint64(got))
	}
}

func TestHeapSubPageShrinkIsLazy(t *testing.T) {
	h, as := newTestHeap(t)
	if _, err := h.SetTop(heapBottom + 100); err != nil {
		t.Fatalf("grow failed: %v", err)
	}
	before := mappedHeapEnd(as)
	if _, err := h.SetTop(heapBottom + 50); err != nil {
		t.Fatalf("shrink failed: %v", err)
	}
	if got := mappedHeapEnd(as); got != before {
		t.Errorf("sub-page shrink unmapped memory: %#x -> %#x", uint64(before), uint64(got))
	}
	if got := h.Top(); got != heapBottom+50 {
		t.Errorf("got top %#x, want %#x", uint64(got), uint64(heapBottom+50))
	}
}
