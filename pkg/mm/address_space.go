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

// Package mm provides the virtual address space owned by user tasks.
//
// An AddressSpace is a shared-ownership wrapper around a page-table-backed
// set of mappings. Tasks share a space only by explicit request; process
// creation duplicates the space instead, and the duplicate is fully
// independent of the original. The reference count is the sole lifetime
// authority for the underlying page tables.
package mm

import (
	"sync"

	"github.com/google/btree"

	"nucleus.dev/nucleus/pkg/errors/linuxerr"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/log"
	"nucleus.dev/nucleus/pkg/refs"
)

// mapping is a single contiguous virtual region. Backing frames are
// allocated per page, lazily unless the mapping was created eager.
type mapping struct {
	// ar is the page-aligned extent of the mapping.
	ar hostarch.AddrRange

	// access is the permission set of every page in the mapping.
	access hostarch.AccessType

	// frames holds the backing page frames, keyed by page-aligned virtual
	// address. A missing entry is a not-yet-faulted lazy page.
	frames map[hostarch.Addr][]byte
}

func mappingLess(a, b *mapping) bool {
	return a.ar.Start < b.ar.Start
}

// AddressSpace is the set of virtual-to-physical mappings of one process.
type AddressSpace struct {
	refs.AtomicRefCount

	// mu protects maps and the frames of every mapping. The clone lock
	// order is "current space before new space"; no two tasks ever take
	// each other's space locks in opposite orders.
	mu sync.Mutex

	// ar is the bounds of the space. Immutable.
	ar hostarch.AddrRange

	// pt is the page-table collaborator. Immutable pointer.
	pt PageTable

	// maps is the mapping set, ordered by start address.
	maps *btree.BTreeG[*mapping]
}

// NewAddressSpace returns an empty address space covering [base, ceil),
// holding one reference for the caller.
func NewAddressSpace(base, ceil hostarch.Addr, pt PageTable) *AddressSpace {
	return &AddressSpace{
		ar:   hostarch.AddrRange{Start: base, End: ceil},
		pt:   pt,
		maps: btree.NewG(16, mappingLess),
	}
}

// Bounds returns the extent of the space.
func (as *AddressSpace) Bounds() hostarch.AddrRange {
	return as.ar
}

// PageTableRoot returns the root of the backing page table, for installing
// in the context-switch collaborator.
func (as *AddressSpace) PageTableRoot() uint64 {
	return as.pt.Root()
}

// InvalidateTLB discards cached translations for the whole space.
func (as *AddressSpace) InvalidateTLB() {
	as.pt.Invalidate()
}

// DecRef drops a reference, destroying the space when the last owner is
// gone.
func (as *AddressSpace) DecRef() {
	as.DecRefWithDestructor(as.destroy)
}

func (as *AddressSpace) destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.maps.Ascend(func(m *mapping) bool {
		as.pt.Unmap(m.ar)
		return true
	})
	as.maps.Clear(false)
}

// overlappingLocked returns the mappings intersecting ar, in order.
//
// Preconditions: as.mu must be locked.
func (as *AddressSpace) overlappingLocked(ar hostarch.AddrRange) []*mapping {
	var ms []*mapping
	as.maps.Ascend(func(m *mapping) bool {
		if m.ar.Start >= ar.End {
			return false
		}
		if m.ar.Overlaps(ar) {
			ms = append(ms, m)
		}
		return true
	})
	return ms
}

// findLocked returns the mapping containing addr, or nil.
//
// Preconditions: as.mu must be locked.
func (as *AddressSpace) findLocked(addr hostarch.Addr) *mapping {
	var found *mapping
	as.maps.DescendLessOrEqual(&mapping{ar: hostarch.AddrRange{Start: addr}}, func(m *mapping) bool {
		if m.ar.Contains(addr) {
			found = m
		}
		return false
	})
	return found
}

// MapAlloc creates a mapping of length bytes at addr with the given access.
// addr must be page-aligned; length is rounded up to whole pages. If eager
// is true every page is committed immediately, otherwise pages are backed on
// first fault. The range must lie within the space's bounds and must not
// overlap an existing mapping; on any failure no state changes.
func (as *AddressSpace) MapAlloc(addr hostarch.Addr, length uint64, access hostarch.AccessType, eager bool) error {
	if length == 0 {
		return nil
	}
	if !addr.IsPageAligned() {
		return linuxerr.EINVAL
	}
	end, ok := addr.AddLength(length)
	if !ok {
		return linuxerr.EINVAL
	}
	end, ok = end.RoundUp()
	if !ok {
		return linuxerr.EINVAL
	}
	ar := hostarch.AddrRange{Start: addr, End: end}
	if !as.ar.IsSupersetOf(ar) {
		return linuxerr.ENOMEM
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	if len(as.overlappingLocked(ar)) > 0 {
		return linuxerr.EEXIST
	}
	m := &mapping{
		ar:     ar,
		access: access,
		frames: make(map[hostarch.Addr][]byte),
	}
	if eager {
		for a := ar.Start; a < ar.End; a += hostarch.PageSize {
			m.frames[a] = make([]byte, hostarch.PageSize)
		}
		if err := as.pt.Map(ar, access); err != nil {
			return err
		}
	}
	as.maps.ReplaceOrInsert(m)
	return nil
}

// Unmap removes all mappings in [addr, addr+length). addr must be
// page-aligned; length is rounded up to whole pages. Mappings partially
// covered by the range are split.
func (as *AddressSpace) Unmap(addr hostarch.Addr, length uint64) error {
	if length == 0 {
		return nil
	}
	if !addr.IsPageAligned() {
		return linuxerr.EINVAL
	}
	end, ok := addr.AddLength(length)
	if !ok {
		return linuxerr.EINVAL
	}
	end, ok = end.RoundUp()
	if !ok {
		return linuxerr.EINVAL
	}
	ar := hostarch.AddrRange{Start: addr, End: end}

	as.mu.Lock()
	defer as.mu.Unlock()
	return as.unmapLocked(ar)
}

// Preconditions: as.mu must be locked. ar must be page-aligned.
func (as *AddressSpace) unmapLocked(ar hostarch.AddrRange) error {
	for _, m := range as.overlappingLocked(ar) {
		as.maps.Delete(m)

		// Reinsert whatever sticks out on either side.
		if m.ar.Start < ar.Start {
			as.maps.ReplaceOrInsert(as.sliceLocked(m, hostarch.AddrRange{Start: m.ar.Start, End: ar.Start}))
		}
		if m.ar.End > ar.End {
			as.maps.ReplaceOrInsert(as.sliceLocked(m, hostarch.AddrRange{Start: ar.End, End: m.ar.End}))
		}
	}
	return as.pt.Unmap(ar)
}

// sliceLocked returns a new mapping covering the sub-range keep of m,
// stealing m's frames for those pages.
//
// Preconditions: as.mu must be locked. m.ar.IsSupersetOf(keep).
func (as *AddressSpace) sliceLocked(m *mapping, keep hostarch.AddrRange) *mapping {
	n := &mapping{
		ar:     keep,
		access: m.access,
		frames: make(map[hostarch.Addr][]byte),
	}
	for a := keep.Start; a < keep.End; a += hostarch.PageSize {
		if f, ok := m.frames[a]; ok {
			n.frames[a] = f
		}
	}
	return n
}

// FindFreeRegion returns the lowest page-aligned address >= hint at which a
// mapping of length bytes would fit within the space's bounds without
// overlapping an existing mapping.
func (as *AddressSpace) FindFreeRegion(hint hostarch.Addr, length uint64) (hostarch.Addr, error) {
	if length == 0 {
		return 0, linuxerr.EINVAL
	}
	length, ok := hostarch.PageRoundUp(length)
	if !ok {
		return 0, linuxerr.ENOMEM
	}
	start := hint.MustRoundUp()
	if start < as.ar.Start {
		start = as.ar.Start
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	as.maps.Ascend(func(m *mapping) bool {
		if m.ar.End <= start {
			return true
		}
		gap := hostarch.AddrRange{Start: start, End: m.ar.Start}
		if gap.WellFormed() && gap.Length() >= length {
			return false
		}
		start = m.ar.End
		return true
	})
	if end, ok := start.AddLength(length); !ok || end > as.ar.End {
		return 0, linuxerr.ENOMEM
	}
	return start, nil
}

// UnmapUserRegions discards every user-accessible mapping, preserving
// kernel-reserved regions. Used by exec to empty the space before loading a
// new image.
func (as *AddressSpace) UnmapUserRegions() error {
	as.mu.Lock()
	defer as.mu.Unlock()

	var user []*mapping
	as.maps.Ascend(func(m *mapping) bool {
		if m.access.User {
			user = append(user, m)
		}
		return true
	})
	for _, m := range user {
		as.maps.Delete(m)
		if err := as.pt.Unmap(m.ar); err != nil {
			return err
		}
	}
	return nil
}

// HandleFault resolves a page fault at addr with the given access type,
// backing the faulted page if its mapping is lazy. An error means the fault
// cannot be resolved and should be reported unhandled.
func (as *AddressSpace) HandleFault(addr hostarch.Addr, access hostarch.AccessType) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	m := as.findLocked(addr)
	if m == nil {
		return linuxerr.EFAULT
	}
	if !m.access.SupersetOf(access) {
		return linuxerr.EACCES
	}
	_, err := as.frameLocked(m, addr.RoundDown())
	return err
}

// frameLocked returns the frame backing page, materializing it if the
// mapping is lazy there.
//
// Preconditions: as.mu must be locked. m.ar.Contains(page). page must be
// page-aligned.
func (as *AddressSpace) frameLocked(m *mapping, page hostarch.Addr) ([]byte, error) {
	if f, ok := m.frames[page]; ok {
		return f, nil
	}
	f := make([]byte, hostarch.PageSize)
	if err := as.pt.Map(hostarch.AddrRange{Start: page, End: page + hostarch.PageSize}, m.access); err != nil {
		return nil, err
	}
	m.frames[page] = f
	return f, nil
}

// Clone deep-duplicates the space: every mapping and every committed frame
// is copied into a new space with a fresh page table. Subsequent mutation of
// either space is never visible in the other.
//
// The caller is expected to hold no other address-space locks; clone
// acquires the current space's lock and only then touches the (unpublished)
// new space.
func (as *AddressSpace) Clone() (*AddressSpace, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	ns := NewAddressSpace(as.ar.Start, as.ar.End, as.pt.Clone())
	ok := true
	as.maps.Ascend(func(m *mapping) bool {
		nm := &mapping{
			ar:     m.ar,
			access: m.access,
			frames: make(map[hostarch.Addr][]byte, len(m.frames)),
		}
		for page, f := range m.frames {
			nf := make([]byte, hostarch.PageSize)
			copy(nf, f)
			nm.frames[page] = nf
			if err := ns.pt.Map(hostarch.AddrRange{Start: page, End: page + hostarch.PageSize}, m.access); err != nil {
				ok = false
				return false
			}
		}
		ns.maps.ReplaceOrInsert(nm)
		return true
	})
	if !ok {
		log.Warningf("Address space clone failed to populate page table")
		return nil, linuxerr.ENOMEM
	}
	return ns, nil
}

// MappingView is a read-only description of one mapping, for inspection.
type MappingView struct {
	// Range is the extent of the mapping.
	Range hostarch.AddrRange

	// Access is the mapping's permission set.
	Access hostarch.AccessType

	// Committed is the number of pages with backing frames.
	Committed int
}

// Mappings returns a snapshot of the mapping set in address order.
func (as *AddressSpace) Mappings() []MappingView {
	as.mu.Lock()
	defer as.mu.Unlock()

	var vs []MappingView
	as.maps.Ascend(func(m *mapping) bool {
		vs = append(vs, MappingView{
			Range:     m.ar,
			Access:    m.access,
			Committed: len(m.frames),
		})
		return true
	})
	return vs
}
