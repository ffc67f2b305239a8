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
	"encoding/binary"

	"nucleus.dev/nucleus/pkg/abi/linux"
	"nucleus.dev/nucleus/pkg/arch"
	"nucleus.dev/nucleus/pkg/errors/linuxerr"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/loader"
	"nucleus.dev/nucleus/pkg/log"
	"nucleus.dev/nucleus/pkg/mm"
	"nucleus.dev/nucleus/pkg/vfs"
)

// Execve replaces the calling task's program image with the one at path.
// On success it does not return: the run loop continues in the new
// program. On failure before the address space is touched the old image is
// intact; once the user regions are unmapped a failed load cannot roll
// back, the task keeps running its old body over an empty space and must
// treat the error as fatal.
//
// A task sharing its address space cannot exec; the single-owner check
// runs before any destructive step.
func (t *Task) Execve(name string) error {
	path := vfs.Resolve(t.ns.FSContext.WorkingDirectory(), name)
	raw, err := t.k.fs.ReadFile(path)
	if err != nil {
		log.Infof("exec: cannot read %q: %v", path, err)
		return err
	}
	img, err := loader.Load(raw, t.k.layout.UserBase.MustRoundUp())
	if err != nil {
		return err
	}

	t.mu.Lock()
	as := t.aspace
	t.mu.Unlock()
	if as.ReadRefs() != 1 {
		log.Infof("exec: address space has %d owners, need sole ownership", as.ReadRefs())
		return linuxerr.EINVAL
	}

	// Point of no return: the old image is discarded.
	if err := as.UnmapUserRegions(); err != nil {
		return err
	}
	as.InvalidateTLB()

	for _, seg := range img.Segments {
		if err := as.MapAlloc(seg.Addr, seg.Len, seg.Access, true); err != nil {
			return err
		}
		if _, err := as.CopyOut(seg.Addr, seg.Data, mm.IOOpts{IgnorePermissions: true}); err != nil {
			return err
		}
	}
	for _, rel := range img.Relocations {
		if err := applyRelocation(as, rel); err != nil {
			return err
		}
	}

	stackTop, err := t.setupStack(as, img.Auxv)
	if err != nil {
		return err
	}

	body := t.k.program(path)
	if body == nil {
		log.Infof("exec: no program registered for %q, task will exit immediately", path)
		body = exitProgram
	}

	t.mu.Lock()
	t.image = path
	t.uctx = arch.NewUserContext(img.Entry, stackTop, 0)
	t.heap = NewHeapManager(as, t.k.layout.HeapBottom, t.k.layout.HeapMax)
	t.mu.Unlock()

	panic(&execControl{body: body})
}

// applyRelocation patches one relocation slot. Segments may be mapped
// read-only or execute-only, so writes bypass permission checks.
func applyRelocation(as *mm.AddressSpace, rel loader.Relocation) error {
	switch rel.Width {
	case 8:
		return as.CopyOutUint64(rel.Target, rel.Value, mm.IOOpts{IgnorePermissions: true})
	case 4:
		return as.CopyOutUint32(rel.Target, uint32(rel.Value), mm.IOOpts{IgnorePermissions: true})
	default:
		return linuxerr.ENOEXEC
	}
}

// setupStack maps a fresh user stack below the address-space ceiling and
// materializes the initial frame: argc, the argv and envp terminators, and
// the auxiliary vector closed by AT_NULL. Returns the initial stack
// pointer.
func (t *Task) setupStack(as *mm.AddressSpace, auxv []loader.AuxEntry) (hostarch.Addr, error) {
	top := t.k.layout.UserCeiling
	size := t.k.layout.StackSize
	if err := as.MapAlloc(top-hostarch.Addr(size), size, hostarch.UserReadWrite, true); err != nil {
		return 0, err
	}

	words := make([]uint64, 0, 3+2*len(auxv)+2)
	words = append(words, 0, 0, 0) // argc, argv NULL, envp NULL
	for _, a := range auxv {
		words = append(words, a.Tag, a.Val)
	}
	words = append(words, linux.AT_NULL, 0)

	sp := (top - hostarch.Addr(8*len(words))) &^ 15
	buf := make([]byte, 8*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[8*i:], w)
	}
	if _, err := as.CopyOut(sp, buf, mm.IOOpts{}); err != nil {
		return 0, err
	}
	return sp, nil
}
