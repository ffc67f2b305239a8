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

// Package loader loads ELF images into descriptions of what to map.
//
// Loading is a pure transform: it parses an image and produces segments,
// relocations, auxiliary-vector entries and the entry point, without
// touching any address space. The exec path consumes the result. Any
// malformed structure aborts the load; there are no partial results.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"nucleus.dev/nucleus/pkg/abi/linux"
	"nucleus.dev/nucleus/pkg/errors/linuxerr"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/log"
)

// Segment is one loadable region of an image. Start is rounded down to a
// page boundary, with the leading padding bytes carried forward in Data so
// the file's layout is preserved.
type Segment struct {
	// Addr is the page-aligned start of the segment.
	Addr hostarch.Addr

	// Len is the in-memory size from Addr, including leading padding.
	// Bytes beyond len(Data) are zero-fill.
	Len uint64

	// Access is derived from the program header's R/W/X bits, plus the
	// user-accessible bit.
	Access hostarch.AccessType

	// Data is the exact backing bytes to write at Addr.
	Data []byte
}

// Relocation is a resolved relocation pair: Value is written to the Width
// bytes at Target once the segments are in place.
type Relocation struct {
	// Value is the value to store.
	Value uint64

	// Target is the address to patch.
	Target hostarch.Addr

	// Width is the number of bytes to write, 4 or 8.
	Width int
}

// AuxEntry is one auxiliary-vector entry.
type AuxEntry struct {
	// Tag is the AT_* key.
	Tag uint64

	// Val is the value.
	Val uint64
}

// LoadedImage is everything exec needs to populate an address space.
type LoadedImage struct {
	// Base is the resolved load base.
	Base hostarch.Addr

	// Entry is the program entry point, base applied.
	Entry hostarch.Addr

	// Segments are the loadable segments in program-header order.
	Segments []Segment

	// Relocations are the dynamic relocation pairs to apply.
	Relocations []Relocation

	// Auxv describes the loaded layout to the new program.
	Auxv []AuxEntry
}

// elfInfo caches the raw header fields debug/elf does not expose.
type elfInfo struct {
	phOff     uint64
	phEntSize uint16
	phNum     uint16
}

func parseFile(raw []byte) (*elf.File, elfInfo, error) {
	if len(raw) < 4 || !bytes.Equal(raw[:4], linux.ElfMagic[:]) {
		return nil, elfInfo{}, linuxerr.ENOEXEC
	}
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		log.Infof("Error parsing ELF: %v", err)
		return nil, elfInfo{}, linuxerr.ENOEXEC
	}
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB || f.Machine != elf.EM_X86_64 {
		log.Infof("Unsupported ELF: class %v, data %v, machine %v", f.Class, f.Data, f.Machine)
		return nil, elfInfo{}, linuxerr.ENOEXEC
	}
	if len(raw) < 0x40 {
		return nil, elfInfo{}, linuxerr.ENOEXEC
	}
	return f, elfInfo{
		phOff:     binary.LittleEndian.Uint64(raw[0x20:]),
		phEntSize: binary.LittleEndian.Uint16(raw[0x36:]),
		phNum:     binary.LittleEndian.Uint16(raw[0x38:]),
	}, nil
}

// firstLoad returns the PT_LOAD program header with the lowest virtual
// address, or nil if there is none.
func firstLoad(f *elf.File) *elf.Prog {
	var first *elf.Prog
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if first == nil || p.Vaddr < first.Vaddr {
			first = p
		}
	}
	return first
}

// resolveBase computes the load base. A position-independent image uses the
// caller's hint; a fixed-address executable uses the file's own addresses
// and the hint is ignored. A fixed-address executable whose lowest segment
// sits at virtual address zero cannot be loaded.
func resolveBase(f *elf.File, hint hostarch.Addr) (hostarch.Addr, error) {
	switch f.Type {
	case elf.ET_DYN:
		return hint, nil
	case elf.ET_EXEC:
		first := firstLoad(f)
		if first == nil {
			log.Infof("Fixed-address executable has no PT_LOAD segment")
			return 0, linuxerr.ENOEXEC
		}
		if first.Vaddr == 0 {
			log.Infof("Fixed-address executable loads at virtual address 0")
			return 0, linuxerr.ENOEXEC
		}
		return 0, nil
	default:
		log.Infof("Unsupported ELF type %v", f.Type)
		return 0, linuxerr.ENOEXEC
	}
}

func progAccess(p *elf.Prog) hostarch.AccessType {
	return hostarch.AccessType{
		Read:    p.Flags&elf.PF_R != 0,
		Write:   p.Flags&elf.PF_W != 0,
		Execute: p.Flags&elf.PF_X != 0,
		User:    true,
	}
}

// segments extracts the loadable segments with base applied.
func segments(f *elf.File, raw []byte, base hostarch.Addr) ([]Segment, error) {
	var segs []Segment
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Filesz > p.Memsz {
			log.Infof("PT_LOAD segment filesz %#x > memsz %#x", p.Filesz, p.Memsz)
			return nil, linuxerr.ENOEXEC
		}

		startVA := uint64(base) + p.Vaddr
		endVA := startVA + p.Memsz
		startOff := p.Off
		endOff := p.Off + p.Filesz

		// The file's virtual address need not be page-aligned, but it must
		// be congruent to the file offset modulo the page size so the
		// leading padding can be copied forward.
		if startVA%hostarch.PageSize != startOff%hostarch.PageSize {
			log.Infof("PT_LOAD segment vaddr %#x and offset %#x are misaligned", p.Vaddr, p.Off)
			return nil, linuxerr.ENOEXEC
		}
		frontPad := startVA % hostarch.PageSize
		startVA -= frontPad
		startOff -= frontPad

		if endOff > uint64(len(raw)) || startOff > endOff {
			log.Infof("PT_LOAD segment extends past the image: [%#x, %#x)", startOff, endOff)
			return nil, linuxerr.ENOEXEC
		}
		segs = append(segs, Segment{
			Addr:   hostarch.Addr(startVA),
			Len:    endVA - startVA,
			Access: progAccess(p),
			Data:   raw[startOff:endOff],
		})
	}
	return segs, nil
}

// auxv assembles the auxiliary-vector entries describing the loaded image.
func auxv(f *elf.File, info elfInfo, base hostarch.Addr) []AuxEntry {
	phdr := uint64(0)
	if first := firstLoad(f); first != nil {
		phdr = uint64(base) + first.Vaddr + info.phOff
	}
	return []AuxEntry{
		{linux.AT_PHDR, phdr},
		{linux.AT_PHENT, uint64(info.phEntSize)},
		{linux.AT_PHNUM, uint64(info.phNum)},
		{linux.AT_PAGESZ, hostarch.PageSize},
		{linux.AT_RANDOM, 0},
	}
}

// Load parses raw and produces the complete load description, with the base
// resolved against baseHint.
func Load(raw []byte, baseHint hostarch.Addr) (*LoadedImage, error) {
	f, info, err := parseFile(raw)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	base, err := resolveBase(f, baseHint)
	if err != nil {
		return nil, err
	}
	segs, err := segments(f, raw, base)
	if err != nil {
		return nil, err
	}
	rels, err := relocations(f, base)
	if err != nil {
		return nil, err
	}
	return &LoadedImage{
		Base:        base,
		Entry:       base + hostarch.Addr(f.Entry),
		Segments:    segs,
		Relocations: rels,
		Auxv:        auxv(f, info, base),
	}, nil
}
