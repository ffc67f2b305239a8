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

package loader

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/google/go-cmp/cmp"

	"nucleus.dev/nucleus/pkg/abi/linux"
	"nucleus.dev/nucleus/pkg/errors/linuxerr"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/loader/loadertest"
)

func TestLoadSingleSegment(t *testing.T) {
	data := bytes.Repeat([]byte{0x90}, 123)
	const vaddr = 0x400123 // deliberately unaligned
	raw := loadertest.Build(loadertest.Image{
		Type:  elf.ET_EXEC,
		Entry: vaddr,
		Segments: []loadertest.Segment{
			{Vaddr: vaddr, Flags: uint32(elf.PF_R | elf.PF_X), Data: data},
		},
	})

	img, err := Load(raw, 0x7000)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.Base != 0 {
		t.Errorf("got base %#x, want 0 for a fixed-address executable", uint64(img.Base))
	}
	if img.Entry != vaddr {
		t.Errorf("got entry %#x, want %#x", uint64(img.Entry), uint64(vaddr))
	}
	if len(img.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(img.Segments))
	}

	seg := img.Segments[0]
	frontPad := uint64(vaddr % hostarch.PageSize)
	if want := hostarch.Addr(vaddr).RoundDown(); seg.Addr != want {
		t.Errorf("got segment start %#x, want %#x", uint64(seg.Addr), uint64(want))
	}
	if want := frontPad + uint64(len(data)); seg.Len != want {
		t.Errorf("got segment length %#x, want %#x", seg.Len, want)
	}
	rounded, ok := hostarch.PageRoundUp(uint64(len(data)) + frontPad)
	if mapped := hostarch.Addr(seg.Len).MustRoundUp(); !ok || mapped != hostarch.Addr(rounded) {
		t.Errorf("mapped length %#x is not align_up(n + front pad)", uint64(mapped))
	}
	want := hostarch.AccessType{Read: true, Execute: true, User: true}
	if seg.Access != want {
		t.Errorf("got access %v, want %v", seg.Access, want)
	}
	if !bytes.Equal(seg.Data[frontPad:], data) {
		t.Error("segment data does not carry the file content after the front padding")
	}
}

func TestLoadZeroFill(t *testing.T) {
	raw := loadertest.Build(loadertest.Image{
		Type:  elf.ET_EXEC,
		Entry: 0x401000,
		Segments: []loadertest.Segment{
			{Vaddr: 0x401000, Flags: uint32(elf.PF_R | elf.PF_W), Data: []byte{1, 2, 3}, Memsz: 0x2000},
		},
	})
	img, err := Load(raw, 0)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	seg := img.Segments[0]
	if seg.Len != 0x2000 {
		t.Errorf("got length %#x, want %#x including the zero-filled tail", seg.Len, 0x2000)
	}
	if len(seg.Data) != 3 {
		t.Errorf("got %d backing bytes, want 3; zero-fill must not be materialized", len(seg.Data))
	}
}

func TestLoadPositionIndependentUsesHint(t *testing.T) {
	raw := loadertest.Build(loadertest.Image{
		Type:  elf.ET_DYN,
		Entry: 0x100,
		Segments: []loadertest.Segment{
			{Vaddr: 0, Flags: uint32(elf.PF_R | elf.PF_X), Data: []byte{0xc3}},
		},
	})
	img, err := Load(raw, 0x5000)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.Base != 0x5000 {
		t.Errorf("got base %#x, want the caller's hint 0x5000", uint64(img.Base))
	}
	if img.Entry != 0x5100 {
		t.Errorf("got entry %#x, want 0x5100", uint64(img.Entry))
	}
}

func TestLoadFixedAtZeroFails(t *testing.T) {
	raw := loadertest.Build(loadertest.Image{
		Type:  elf.ET_EXEC,
		Entry: 0,
		Segments: []loadertest.Segment{
			{Vaddr: 0, Flags: uint32(elf.PF_R), Data: []byte{1}},
		},
	})
	if _, err := Load(raw, 0); err != linuxerr.ENOEXEC {
		t.Errorf("got %v, want ENOEXEC for a fixed-address executable at vaddr 0", err)
	}
}

func TestLoadBadMagic(t *testing.T) {
	raw := loadertest.Build(loadertest.Image{
		Type:  elf.ET_EXEC,
		Entry: 0x401000,
		Segments: []loadertest.Segment{
			{Vaddr: 0x401000, Flags: uint32(elf.PF_R), Data: []byte{1}},
		},
	})
	raw[0] = 'X'
	if _, err := Load(raw, 0); err != linuxerr.ENOEXEC {
		t.Errorf("got %v, want ENOEXEC for bad magic", err)
	}
	if _, err := Load(nil, 0); err != linuxerr.ENOEXEC {
		t.Errorf("got %v, want ENOEXEC for an empty image", err)
	}
}

func TestLoadRelativeRelocation(t *testing.T) {
	raw := loadertest.Build(loadertest.Image{
		Type:  elf.ET_DYN,
		Entry: 0,
		Segments: []loadertest.Segment{
			{Vaddr: 0, Flags: uint32(elf.PF_R | elf.PF_W), Data: make([]byte, 64)},
		},
		RelaDyn: []loadertest.Rela{
			{Off: 0x10, Typ: elf.R_X86_64_RELATIVE, Addend: 0x30},
		},
	})
	img, err := Load(raw, 0x9000)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := []Relocation{{Value: 0x9030, Target: 0x9010, Width: 8}}
	if diff := cmp.Diff(want, img.Relocations); diff != "" {
		t.Errorf("relocations mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSymbolRelocations(t *testing.T) {
	// GLOB_DAT and JMP_SLOT both write the named symbol's value into
	// their slot.
	raw := loadertest.Build(loadertest.Image{
		Type:  elf.ET_DYN,
		Entry: 0,
		Segments: []loadertest.Segment{
			{Vaddr: 0, Flags: uint32(elf.PF_R | elf.PF_W), Data: make([]byte, 64)},
		},
		RelaDyn: []loadertest.Rela{
			{Off: 0x10, Typ: elf.R_X86_64_GLOB_DAT, Sym: 1},
			{Off: 0x18, Typ: elf.R_X86_64_JMP_SLOT, Sym: 2},
		},
		Dynsyms: []loadertest.Sym{
			{Name: "g_var", Value: 0x1111},
			{Name: "g_func", Value: 0x2222},
		},
	})
	img, err := Load(raw, 0x9000)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := []Relocation{
		{Value: 0x1111, Target: 0x9010, Width: 8},
		{Value: 0x2222, Target: 0x9018, Width: 8},
	}
	if diff := cmp.Diff(want, img.Relocations); diff != "" {
		t.Errorf("relocations mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadIrelativeResolvesToZero(t *testing.T) {
	raw := loadertest.Build(loadertest.Image{
		Type:  elf.ET_DYN,
		Entry: 0,
		Segments: []loadertest.Segment{
			{Vaddr: 0, Flags: uint32(elf.PF_R | elf.PF_W), Data: make([]byte, 64)},
		},
		RelaDyn: []loadertest.Rela{
			{Off: 0x20, Typ: elf.R_X86_64_IRELATIVE, Addend: 0x8},
		},
	})
	img, err := Load(raw, 0x9000)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(img.Relocations) != 1 || img.Relocations[0].Value != 0 {
		t.Errorf("got %+v, want a single slot resolving to zero", img.Relocations)
	}
}

func TestLoadUnknownRelocationFails(t *testing.T) {
	raw := loadertest.Build(loadertest.Image{
		Type:  elf.ET_DYN,
		Entry: 0,
		Segments: []loadertest.Segment{
			{Vaddr: 0, Flags: uint32(elf.PF_R), Data: make([]byte, 64)},
		},
		RelaDyn: []loadertest.Rela{
			{Off: 0x20, Typ: elf.R_X86_64_TPOFF64},
		},
	})
	if _, err := Load(raw, 0); err != linuxerr.ENOEXEC {
		t.Errorf("got %v, want ENOEXEC for an unsupported relocation type", err)
	}
}

func TestLoadAuxv(t *testing.T) {
	raw := loadertest.Build(loadertest.Image{
		Type:  elf.ET_EXEC,
		Entry: 0x401000,
		Segments: []loadertest.Segment{
			{Vaddr: 0x401000, Flags: uint32(elf.PF_R | elf.PF_X), Data: []byte{0xc3}},
		},
	})
	img, err := Load(raw, 0)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got := make(map[uint64]uint64)
	for _, a := range img.Auxv {
		got[a.Tag] = a.Val
	}
	if got[linux.AT_PAGESZ] != hostarch.PageSize {
		t.Errorf("got AT_PAGESZ %#x, want %#x", got[linux.AT_PAGESZ], uint64(hostarch.PageSize))
	}
	if got[linux.AT_PHENT] != 56 {
		t.Errorf("got AT_PHENT %d, want 56", got[linux.AT_PHENT])
	}
	if got[linux.AT_PHNUM] != 1 {
		t.Errorf("got AT_PHNUM %d, want 1", got[linux.AT_PHNUM])
	}
	if _, ok := got[linux.AT_RANDOM]; !ok {
		t.Error("missing AT_RANDOM placeholder")
	}
}
