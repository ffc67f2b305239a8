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
	"sync"

	"nucleus.dev/nucleus/pkg/errors/linuxerr"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/mm"
)

// HeapManager tracks one task's brk-style heap window and translates moves
// of the heap top into map and unmap calls on the task's address space.
//
// The mapped region is always a page-aligned superset of [bottom, top):
// growth maps lazily at page granularity, with pages committed on first
// fault; shrinking unmaps only once the aligned top actually drops below
// the mapped top.
type HeapManager struct {
	// mu protects top and mappedTop.
	mu sync.Mutex

	// as is the address space backing the heap.
	as *mm.AddressSpace

	// bottom is the configured lower bound. Immutable.
	bottom hostarch.Addr

	// limit is the configured upper bound, bottom + max size. Immutable.
	limit hostarch.Addr

	// top is the logical heap top, in [bottom, limit].
	top hostarch.Addr

	// mappedTop is the page-aligned end of the mapped heap region,
	// always >= top rounded up.
	mappedTop hostarch.Addr
}

// NewHeapManager returns a HeapManager for an empty heap window over as.
func NewHeapManager(as *mm.AddressSpace, bottom hostarch.Addr, maxSize uint64) *HeapManager {
	return &HeapManager{
		as:        as,
		bottom:    bottom,
		limit:     bottom + hostarch.Addr(maxSize),
		top:       bottom,
		mappedTop: bottom,
	}
}

// Fork returns a copy of h operating on as, which must already contain the
// same heap mappings (it was cloned from h's space).
func (h *HeapManager) Fork(as *mm.AddressSpace) *HeapManager {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &HeapManager{
		as:        as,
		bottom:    h.bottom,
		limit:     h.limit,
		top:       h.top,
		mappedTop: h.mappedTop,
	}
}

// Top returns the current logical heap top.
func (h *HeapManager) Top() hostarch.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.top
}

// Bottom returns the configured lower bound.
func (h *HeapManager) Bottom() hostarch.Addr {
	return h.bottom
}

// SetTop moves the logical heap top to requested and returns the resulting
// top. requested == 0 is a pure query. Out-of-window requests and failed
// growth change nothing and return the previous top alongside the error;
// a shrink lowers the logical top even if unmapping the freed pages fails.
func (h *HeapManager) SetTop(requested hostarch.Addr) (hostarch.Addr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case requested == 0:
		return h.top, nil

	case requested > h.top:
		if requested > h.limit {
			return h.top, linuxerr.ENOMEM
		}
		newMapped := requested.MustRoundUp()
		if newMapped > h.mappedTop {
			if err := h.as.MapAlloc(h.mappedTop, uint64(newMapped-h.mappedTop), hostarch.UserReadWrite, false); err != nil {
				return h.top, err
			}
			h.mappedTop = newMapped
		}
		h.top = requested
		return h.top, nil

	default:
		if requested < h.bottom {
			return h.top, linuxerr.ENOMEM
		}
		// The logical top moves down unconditionally; the unmap of the
		// freed pages is best effort.
		h.top = requested
		newMapped := requested.MustRoundUp()
		if newMapped < h.mappedTop {
			if err := h.as.Unmap(newMapped, uint64(h.mappedTop-newMapped)); err != nil {
				return h.top, err
			}
			h.mappedTop = newMapped
		}
		return h.top, nil
	}
}
