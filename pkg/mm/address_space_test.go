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

package mm

import (
	"bytes"
	"testing"

	"nucleus.dev/nucleus/pkg/errors/linuxerr"
	"nucleus.dev/nucleus/pkg/hostarch"
)

const (
	testBase = hostarch.Addr(0x1000)
	testCeil = hostarch.Addr(0x100000)
)

func newTestSpace() *AddressSpace {
	return NewAddressSpace(testBase, testCeil, NewPageTable())
}

func TestMapAllocUnaligned(t *testing.T) {
	as := newTestSpace()
	if err := as.MapAlloc(0x2001, hostarch.PageSize, hostarch.UserReadWrite, false); err != linuxerr.EINVAL {
		t.Errorf("MapAlloc at unaligned address returned %v, want EINVAL", err)
	}
}

func TestMapAllocOutOfBounds(t *testing.T) {
	as := newTestSpace()
	if err := as.MapAlloc(testCeil, hostarch.PageSize, hostarch.UserReadWrite, false); err != linuxerr.ENOMEM {
		t.Errorf("MapAlloc past the ceiling returned %v, want ENOMEM", err)
	}
	if err := as.MapAlloc(testCeil-hostarch.PageSize, 2*hostarch.PageSize, hostarch.UserReadWrite, false); err != linuxerr.ENOMEM {
		t.Errorf("MapAlloc straddling the ceiling returned %v, want ENOMEM", err)
	}
}

func TestMapAllocOverlapFails(t *testing.T) {
	as := newTestSpace()
	if err := as.MapAlloc(0x2000, 2*hostarch.PageSize, hostarch.UserReadWrite, false); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	if err := as.MapAlloc(0x3000, hostarch.PageSize, hostarch.UserReadWrite, false); err != linuxerr.EEXIST {
		t.Errorf("overlapping MapAlloc returned %v, want EEXIST", err)
	}
	// Failure must not leave a partial mapping behind.
	if got := len(as.Mappings()); got != 1 {
		t.Errorf("space has %d mappings after a rejected overlap, want 1", got)
	}
}

func TestEagerMappingIsCommitted(t *testing.T) {
	as := newTestSpace()
	if err := as.MapAlloc(0x2000, 2*hostarch.PageSize, hostarch.UserReadWrite, true); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	mv := as.Mappings()[0]
	if mv.Committed != 2 {
		t.Errorf("eager mapping has %d committed pages, want 2", mv.Committed)
	}
}

func TestLazyMappingCommitsOnFault(t *testing.T) {
	as := newTestSpace()
	if err := as.MapAlloc(0x2000, 2*hostarch.PageSize, hostarch.UserReadWrite, false); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	if mv := as.Mappings()[0]; mv.Committed != 0 {
		t.Fatalf("lazy mapping has %d committed pages before any fault", mv.Committed)
	}
	if err := as.HandleFault(0x3123, hostarch.Write); err != nil {
		t.Fatalf("HandleFault failed: %v", err)
	}
	if mv := as.Mappings()[0]; mv.Committed != 1 {
		t.Errorf("mapping has %d committed pages after one fault, want 1", mv.Committed)
	}
}

func TestHandleFaultUnmapped(t *testing.T) {
	as := newTestSpace()
	if err := as.HandleFault(0x2000, hostarch.Read); err != linuxerr.EFAULT {
		t.Errorf("fault on unmapped page returned %v, want EFAULT", err)
	}
}

func TestHandleFaultPermission(t *testing.T) {
	as := newTestSpace()
	if err := as.MapAlloc(0x2000, hostarch.PageSize, hostarch.AccessType{Read: true, User: true}, false); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	if err := as.HandleFault(0x2000, hostarch.Write); err != linuxerr.EACCES {
		t.Errorf("write fault on read-only page returned %v, want EACCES", err)
	}
}

func TestUnmapSplitsMapping(t *testing.T) {
	as := newTestSpace()
	if err := as.MapAlloc(0x2000, 3*hostarch.PageSize, hostarch.UserReadWrite, true); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	as.CopyOut(0x2000, []byte{1}, IOOpts{})
	as.CopyOut(0x4000, []byte{3}, IOOpts{})

	if err := as.Unmap(0x3000, hostarch.PageSize); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	mvs := as.Mappings()
	if len(mvs) != 2 {
		t.Fatalf("space has %d mappings after a middle unmap, want 2", len(mvs))
	}
	want := []hostarch.AddrRange{
		{Start: 0x2000, End: 0x3000},
		{Start: 0x4000, End: 0x5000},
	}
	for i, mv := range mvs {
		if mv.Range != want[i] {
			t.Errorf("mapping %d covers %v, want %v", i, mv.Range, want[i])
		}
	}

	// Data outside the hole survives the split.
	var b [1]byte
	if _, err := as.CopyIn(0x2000, b[:], IOOpts{}); err != nil || b[0] != 1 {
		t.Errorf("read below the hole = %d, %v; want 1, nil", b[0], err)
	}
	if _, err := as.CopyIn(0x4000, b[:], IOOpts{}); err != nil || b[0] != 3 {
		t.Errorf("read above the hole = %d, %v; want 3, nil", b[0], err)
	}
	if _, err := as.CopyIn(0x3000, b[:], IOOpts{}); err != linuxerr.EFAULT {
		t.Errorf("read in the hole returned %v, want EFAULT", err)
	}
}

func TestFindFreeRegion(t *testing.T) {
	as := newTestSpace()
	if err := as.MapAlloc(0x2000, hostarch.PageSize, hostarch.UserReadWrite, false); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	if err := as.MapAlloc(0x4000, hostarch.PageSize, hostarch.UserReadWrite, false); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}

	// A one-page hole exists at 0x3000; two pages only fit above 0x4000.
	if got, err := as.FindFreeRegion(0x2000, hostarch.PageSize); err != nil || got != 0x3000 {
		t.Errorf("FindFreeRegion(1 page) = %#x, %v; want 0x3000, nil", uintptr(got), err)
	}
	if got, err := as.FindFreeRegion(0x2000, 2*hostarch.PageSize); err != nil || got != 0x5000 {
		t.Errorf("FindFreeRegion(2 pages) = %#x, %v; want 0x5000, nil", uintptr(got), err)
	}
	if _, err := as.FindFreeRegion(0x2000, uint64(testCeil)); err != linuxerr.ENOMEM {
		t.Errorf("oversized FindFreeRegion returned %v, want ENOMEM", err)
	}
}

func TestCopyIgnorePermissions(t *testing.T) {
	as := newTestSpace()
	if err := as.MapAlloc(0x2000, hostarch.PageSize, hostarch.AccessType{Read: true, User: true}, true); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	if _, err := as.CopyOut(0x2000, []byte{1}, IOOpts{}); err != linuxerr.EACCES {
		t.Errorf("write to read-only mapping returned %v, want EACCES", err)
	}
	if _, err := as.CopyOut(0x2000, []byte{1}, IOOpts{IgnorePermissions: true}); err != nil {
		t.Errorf("privileged write to read-only mapping failed: %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	as := newTestSpace()
	if err := as.MapAlloc(0x2000, hostarch.PageSize, hostarch.UserReadWrite, true); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	src := []byte("before clone")
	as.CopyOut(0x2000, src, IOOpts{})

	cl, err := as.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	got := make([]byte, len(src))
	if _, err := cl.CopyIn(0x2000, got, IOOpts{}); err != nil || !bytes.Equal(got, src) {
		t.Fatalf("clone read %q, %v; want %q", got, err, src)
	}

	// Writes on either side stay private.
	as.CopyOut(0x2000, []byte("X"), IOOpts{})
	cl.CopyIn(0x2000, got[:1], IOOpts{})
	if got[0] != 'b' {
		t.Error("write in the original leaked into the clone")
	}
	cl.CopyOut(0x2001, []byte("Y"), IOOpts{})
	as.CopyIn(0x2001, got[:1], IOOpts{})
	if got[0] != 'e' {
		t.Error("write in the clone leaked into the original")
	}
}

func TestUnmapUserRegions(t *testing.T) {
	as := newTestSpace()
	if err := as.MapAlloc(0x2000, hostarch.PageSize, hostarch.UserReadWrite, true); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	if err := as.MapAlloc(0x4000, hostarch.PageSize, hostarch.ReadWrite, true); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	if err := as.UnmapUserRegions(); err != nil {
		t.Fatalf("UnmapUserRegions failed: %v", err)
	}
	mvs := as.Mappings()
	if len(mvs) != 1 || mvs[0].Range.Start != 0x4000 {
		t.Errorf("mappings after clearing user regions = %v, want only the kernel one at 0x4000", mvs)
	}
}

func TestRefCountDestroy(t *testing.T) {
	as := newTestSpace()
	if err := as.MapAlloc(0x2000, hostarch.PageSize, hostarch.UserReadWrite, true); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	as.IncRef()
	as.DecRef()
	if got := len(as.Mappings()); got != 1 {
		t.Fatalf("space lost its mappings while still referenced (have %d)", got)
	}
	as.DecRef()
	if got := len(as.Mappings()); got != 0 {
		t.Errorf("destroyed space still has %d mappings", got)
	}
}
