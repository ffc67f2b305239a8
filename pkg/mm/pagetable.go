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
	"sync/atomic"

	"nucleus.dev/nucleus/pkg/hostarch"
)

// PageTable is the contract the address space consumes from the page-table
// collaborator. The concrete MMU structure (radix levels, entry encodings,
// shootdown strategy) belongs to that collaborator; the address space only
// needs the mapping operations below.
type PageTable interface {
	// Map establishes translations for the given page-aligned range.
	Map(ar hostarch.AddrRange, access hostarch.AccessType) error

	// Unmap removes translations for the given page-aligned range. Pages in
	// the range that are not mapped are ignored.
	Unmap(ar hostarch.AddrRange) error

	// Clone returns a new, empty table of the same kind with a fresh root.
	// Translations are not carried over; the address space re-establishes
	// them while duplicating its mappings.
	Clone() PageTable

	// Root returns the physical root of the table, suitable for installing
	// in the context-switch collaborator.
	Root() uint64

	// Invalidate discards cached translations for the whole table.
	Invalidate()
}

// nextRoot generates fake page-table roots for the built-in table.
var nextRoot atomic.Uint64

// simplePageTable is the built-in PageTable used when no hardware-backed
// collaborator is plugged in. It tracks per-page permissions; translations
// resolve to the address space's own frames.
type simplePageTable struct {
	root  uint64
	pages map[hostarch.Addr]hostarch.AccessType
}

// NewPageTable returns an empty built-in page table.
func NewPageTable() PageTable {
	return &simplePageTable{
		root:  nextRoot.Add(1) << hostarch.PageShift,
		pages: make(map[hostarch.Addr]hostarch.AccessType),
	}
}

// Map implements PageTable.Map.
func (pt *simplePageTable) Map(ar hostarch.AddrRange, access hostarch.AccessType) error {
	for a := ar.Start; a < ar.End; a += hostarch.PageSize {
		pt.pages[a] = access
	}
	return nil
}

// Unmap implements PageTable.Unmap.
func (pt *simplePageTable) Unmap(ar hostarch.AddrRange) error {
	for a := ar.Start; a < ar.End; a += hostarch.PageSize {
		delete(pt.pages, a)
	}
	return nil
}

// Clone implements PageTable.Clone.
func (pt *simplePageTable) Clone() PageTable {
	return NewPageTable()
}

// Root implements PageTable.Root.
func (pt *simplePageTable) Root() uint64 {
	return pt.root
}

// Invalidate implements PageTable.Invalidate.
func (pt *simplePageTable) Invalidate() {
	// The built-in table has no translation cache.
}
