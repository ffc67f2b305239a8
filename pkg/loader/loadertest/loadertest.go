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

// Package loadertest builds minimal ELF images for tests.
package loadertest

import (
	"debug/elf"
	"encoding/binary"
)

const (
	ehdrSize  = 64
	phdrSize  = 56
	shdrSize  = 64
	sym64Size = 24
)

// Segment describes one PT_LOAD program header in a built image.
type Segment struct {
	// Vaddr is the segment's virtual address.
	Vaddr uint64

	// Flags are the PF_* permission bits.
	Flags uint32

	// Data is the segment's file content.
	Data []byte

	// Memsz is the in-memory size; 0 means len(Data).
	Memsz uint64
}

// Rela is one Elf64_Rela entry for the built image's .rela.dyn section.
type Rela struct {
	// Off is r_offset.
	Off uint64

	// Typ is the relocation type.
	Typ elf.R_X86_64

	// Sym is the symbol index.
	Sym uint32

	// Addend is r_addend.
	Addend int64
}

// Sym is one defined dynamic symbol for the built image's .dynsym section.
// Symbol index 1 is the first entry of Dynsyms; index 0 is the reserved null
// symbol.
type Sym struct {
	// Name is the symbol name.
	Name string

	// Value is st_value.
	Value uint64
}

// Image describes an ELF to build.
type Image struct {
	// Type is ET_EXEC or ET_DYN.
	Type elf.Type

	// Entry is the entry point, uncorrected for load base.
	Entry uint64

	// Segments are the PT_LOAD segments. File offsets are assigned
	// sequentially at page-congruent positions.
	Segments []Segment

	// RelaDyn, if non-empty, becomes a .rela.dyn section.
	RelaDyn []Rela

	// Dynsyms, if non-empty, become a .dynsym/.dynstr section pair.
	Dynsyms []Sym
}

// Build serializes img into ELF bytes that debug/elf accepts.
func Build(img Image) []byte {
	le := binary.LittleEndian
	phnum := len(img.Segments)

	// Layout: ehdr, phdrs, then each segment's data placed at an offset
	// congruent to its vaddr modulo the page size, then sections.
	off := uint64(ehdrSize + phnum*phdrSize)
	segOffs := make([]uint64, phnum)
	for i, s := range img.Segments {
		if rem := (s.Vaddr - off) % 4096; rem != 0 {
			off += rem
		}
		segOffs[i] = off
		off += uint64(len(s.Data))
	}

	relaOff := off
	relaLen := uint64(24 * len(img.RelaDyn))
	off += relaLen

	// .dynsym holds the null symbol plus each provided one; .dynstr their
	// names.
	symOff := off
	symLen := uint64(sym64Size * (1 + len(img.Dynsyms)))
	dynstr := []byte{0}
	nameOffs := make([]uint32, len(img.Dynsyms))
	for i, s := range img.Dynsyms {
		nameOffs[i] = uint32(len(dynstr))
		dynstr = append(dynstr, s.Name...)
		dynstr = append(dynstr, 0)
	}
	if len(img.Dynsyms) > 0 {
		off += symLen
	}
	dynstrOff := off
	if len(img.Dynsyms) > 0 {
		off += uint64(len(dynstr))
	}

	// Section string table: "\0.rela.dyn\0.shstrtab\0.dynsym\0.dynstr\0".
	shstrtab := []byte("\x00.rela.dyn\x00.shstrtab\x00.dynsym\x00.dynstr\x00")
	strOff := off
	off += uint64(len(shstrtab))

	shnum := 0
	shoff := uint64(0)
	if len(img.RelaDyn) > 0 {
		shnum = 3
		if len(img.Dynsyms) > 0 {
			shnum = 5
		}
		shoff = off
		off += uint64(shnum * shdrSize)
	}

	buf := make([]byte, off)
	copy(buf, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(buf[16:], uint16(img.Type))
	le.PutUint16(buf[18:], uint16(elf.EM_X86_64))
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], img.Entry)
	le.PutUint64(buf[32:], ehdrSize) // e_phoff
	le.PutUint64(buf[40:], shoff)
	le.PutUint16(buf[52:], ehdrSize)
	le.PutUint16(buf[54:], phdrSize)
	le.PutUint16(buf[56:], uint16(phnum))
	le.PutUint16(buf[58:], shdrSize)
	le.PutUint16(buf[60:], uint16(shnum))
	if shnum > 0 {
		le.PutUint16(buf[62:], 2) // e_shstrndx
	}

	for i, s := range img.Segments {
		ph := buf[ehdrSize+i*phdrSize:]
		memsz := s.Memsz
		if memsz == 0 {
			memsz = uint64(len(s.Data))
		}
		le.PutUint32(ph[0:], uint32(elf.PT_LOAD))
		le.PutUint32(ph[4:], s.Flags)
		le.PutUint64(ph[8:], segOffs[i])
		le.PutUint64(ph[16:], s.Vaddr)
		le.PutUint64(ph[24:], s.Vaddr)
		le.PutUint64(ph[32:], uint64(len(s.Data)))
		le.PutUint64(ph[40:], memsz)
		le.PutUint64(ph[48:], 4096)
		copy(buf[segOffs[i]:], s.Data)
	}

	for i, r := range img.RelaDyn {
		e := buf[relaOff+uint64(24*i):]
		le.PutUint64(e[0:], r.Off)
		le.PutUint64(e[8:], uint64(r.Sym)<<32|uint64(uint32(r.Typ)))
		le.PutUint64(e[16:], uint64(r.Addend))
	}
	for i, s := range img.Dynsyms {
		e := buf[symOff+uint64(sym64Size*(1+i)):]
		le.PutUint32(e[0:], nameOffs[i])
		le.PutUint16(e[6:], 1) // st_shndx: any defined section
		le.PutUint64(e[8:], s.Value)
	}
	if len(img.Dynsyms) > 0 {
		copy(buf[dynstrOff:], dynstr)
	}
	copy(buf[strOff:], shstrtab)

	if shnum > 0 {
		shdr := func(i int, name uint32, typ elf.SectionType, off, size uint64, link uint32, entsize uint64) {
			sh := buf[shoff+uint64(i*shdrSize):]
			le.PutUint32(sh[0:], name)
			le.PutUint32(sh[4:], uint32(typ))
			le.PutUint64(sh[24:], off)
			le.PutUint64(sh[32:], size)
			le.PutUint32(sh[40:], link)
			le.PutUint64(sh[56:], entsize)
		}
		shdr(1, 1, elf.SHT_RELA, relaOff, relaLen, 0, 24)         // .rela.dyn
		shdr(2, 11, elf.SHT_STRTAB, strOff, uint64(len(shstrtab)), 0, 0) // .shstrtab
		if shnum == 5 {
			shdr(3, 21, elf.SHT_DYNSYM, symOff, symLen, 4, sym64Size) // .dynsym -> .dynstr
			shdr(4, 29, elf.SHT_STRTAB, dynstrOff, uint64(len(dynstr)), 0, 0)
		}
	}
	return buf
}
