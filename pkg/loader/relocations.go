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
	"debug/elf"
	"encoding/binary"
	"fmt"

	"nucleus.dev/nucleus/pkg/errors/linuxerr"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/log"
)

// rela64Size is the size of one Elf64_Rela entry.
const rela64Size = 24

// rela is one parsed Elf64_Rela entry.
type rela struct {
	off    uint64
	typ    elf.R_X86_64
	sym    uint32
	addend int64
}

func parseRelaSection(s *elf.Section) ([]rela, error) {
	data, err := s.Data()
	if err != nil {
		log.Infof("Error reading %s: %v", s.Name, err)
		return nil, linuxerr.ENOEXEC
	}
	if len(data)%rela64Size != 0 {
		log.Infof("%s size %d is not a multiple of %d", s.Name, len(data), rela64Size)
		return nil, linuxerr.ENOEXEC
	}
	rels := make([]rela, 0, len(data)/rela64Size)
	for i := 0; i+rela64Size <= len(data); i += rela64Size {
		info := binary.LittleEndian.Uint64(data[i+8:])
		rels = append(rels, rela{
			off:    binary.LittleEndian.Uint64(data[i:]),
			typ:    elf.R_X86_64(uint32(info)),
			sym:    uint32(info >> 32),
			addend: int64(binary.LittleEndian.Uint64(data[i+16:])),
		})
	}
	return rels, nil
}

// symValue resolves the value of the symbol a relocation names. Symbol
// index 0 is the reserved null symbol; debug/elf strips it from
// DynamicSymbols, so index n lives at position n-1.
func symValue(dynsyms []elf.Symbol, idx uint32) (uint64, error) {
	if idx == 0 || int(idx) > len(dynsyms) {
		return 0, fmt.Errorf("relocation names invalid symbol index %d", idx)
	}
	sym := dynsyms[idx-1]
	if sym.Section == elf.SHN_UNDEF {
		return 0, fmt.Errorf("relocation names undefined symbol %q", sym.Name)
	}
	return sym.Value, nil
}

// resolve turns one rela entry into the value/address pair to apply.
func resolve(r rela, dynsyms []elf.Symbol, base hostarch.Addr) (Relocation, error) {
	target := base + hostarch.Addr(r.off)
	switch r.typ {
	case elf.R_X86_64_64:
		v, err := symValue(dynsyms, r.sym)
		if err != nil {
			return Relocation{}, err
		}
		return Relocation{Value: v, Target: target, Width: 8}, nil

	case elf.R_X86_64_PC32:
		v, err := symValue(dynsyms, r.sym)
		if err != nil {
			return Relocation{}, err
		}
		return Relocation{Value: v + uint64(r.addend) - r.off, Target: target, Width: 4}, nil

	case elf.R_X86_64_GLOB_DAT, elf.R_X86_64_JMP_SLOT:
		v, err := symValue(dynsyms, r.sym)
		if err != nil {
			return Relocation{}, err
		}
		return Relocation{Value: v, Target: target, Width: 8}, nil

	case elf.R_X86_64_RELATIVE:
		return Relocation{Value: uint64(base) + uint64(r.addend), Target: target, Width: 8}, nil

	case elf.R_X86_64_IRELATIVE:
		// The resolver function cannot be run at load time, so the slot
		// resolves to zero. Calling through it will fault.
		log.Warningf("Unsupported IRELATIVE relocation at %#x resolves to zero", target)
		return Relocation{Value: 0, Target: target, Width: 8}, nil

	default:
		return Relocation{}, fmt.Errorf("unsupported relocation type %v at %#x", r.typ, target)
	}
}

// relocations collects and resolves the dynamic relocations from the
// .rela.dyn and .rela.plt sections. A relocation that cannot be resolved
// aborts the load; applying a corrupt slot would be worse than failing.
func relocations(f *elf.File, base hostarch.Addr) ([]Relocation, error) {
	dynsyms, err := f.DynamicSymbols()
	if err != nil && err != elf.ErrNoSymbols {
		log.Infof("Error reading dynamic symbols: %v", err)
		return nil, linuxerr.ENOEXEC
	}

	var out []Relocation
	for _, name := range []string{".rela.dyn", ".rela.plt"} {
		s := f.Section(name)
		if s == nil {
			continue
		}
		rels, err := parseRelaSection(s)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			rel, err := resolve(r, dynsyms, base)
			if err != nil {
				log.Infof("Error resolving relocation in %s: %v", name, err)
				return nil, linuxerr.ENOEXEC
			}
			out = append(out, rel)
		}
	}
	return out, nil
}
