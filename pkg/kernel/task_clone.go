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
	"nucleus.dev/nucleus/pkg/abi/linux"
	"nucleus.dev/nucleus/pkg/arch"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/log"
	"nucleus.dev/nucleus/pkg/mm"
)

// CloneArgs are the modeled clone arguments: a coarse flag pass-through
// plus the stack, TLS, parent-TID and child-TID pointers.
type CloneArgs struct {
	// Flags is the clone flag word. Only CLONE_VM, CLONE_SETTLS and the
	// TID-pointer flags change behavior; the rest pass through.
	Flags uint64

	// Stack is the child's initial stack pointer, or 0 to inherit the
	// parent's.
	Stack hostarch.Addr

	// ParentTID is where to write the child's ID in the parent's memory
	// when CLONE_PARENT_SETTID is set.
	ParentTID hostarch.Addr

	// TLS is the child's TLS pointer when CLONE_SETTLS is set.
	TLS hostarch.Addr

	// ChildTID is the child-TID address, consumed by
	// CLONE_CHILD_SETTID and CLONE_CHILD_CLEARTID.
	ChildTID hostarch.Addr

	// Body, if non-nil, is the program the child runs. A raw trap has
	// no continuation to hand over, so trap-path clones leave it nil
	// and the child exits with status 0.
	Body Program
}

// Fork clones the calling task with a fully duplicated address space and
// runs body in the child. It is the programmatic face of fork for callers
// that are not coming in through a trap frame.
func (t *Task) Fork(body Program) (ThreadID, error) {
	uctx := t.UserContext()
	tf := &arch.TrapFrame{PC: uctx.Entry, SP: uctx.StackTop, TLS: uctx.TLS}
	return t.Clone(tf, &CloneArgs{Body: body})
}

// Clone creates a child task from the caller's trap frame: the saved
// program counter is advanced past the trap instruction, the return value
// is forced to zero, and the address space is duplicated unless CLONE_VM
// asks for sharing. The child is registered in the caller's children list
// and starts immediately. On failure no partial task is left registered.
func (t *Task) Clone(tf *arch.TrapFrame, args *CloneArgs) (ThreadID, error) {
	uctx := arch.UserContextFromTrapFrame(tf)
	uctx.SetRet(0)
	if args.Stack != 0 {
		uctx.SetStack(args.Stack)
	}
	if args.Flags&linux.CLONE_SETTLS != 0 {
		uctx.SetTLS(args.TLS)
	}

	// Lock order for address-space work is current task before new; the
	// child's space is not reachable by anyone else yet.
	t.mu.Lock()
	parentAS := t.aspace
	parentHeap := t.heap
	image := t.image
	t.mu.Unlock()

	var childAS *mm.AddressSpace
	var childHeap *HeapManager
	if args.Flags&linux.CLONE_VM != 0 {
		parentAS.IncRef()
		childAS = parentAS
		childHeap = parentHeap
	} else {
		var err error
		childAS, err = parentAS.Clone()
		if err != nil {
			log.Infof("clone: address space duplication failed: %v", err)
			return 0, err
		}
		childHeap = parentHeap.Fork(childAS)
	}

	body := args.Body
	if body == nil {
		body = exitProgram
	}
	child := &Task{
		k:      t.k,
		id:     t.k.allocID(),
		image:  image,
		uctx:   uctx,
		aspace: childAS,
		heap:   childHeap,
		tstats: NewTimeStats(t.k.now()),
		ns:     t.ns.Fork(),
	}
	child.parentID.Store(int32(t.id))
	child.setBody(body)

	if args.Flags&linux.CLONE_CHILD_SETTID != 0 && args.ChildTID != 0 {
		if err := childAS.CopyOutUint32(args.ChildTID, uint32(child.id), mm.IOOpts{}); err != nil {
			log.Infof("clone: child TID write failed: %v", err)
		}
	}
	if args.Flags&linux.CLONE_CHILD_CLEARTID != 0 {
		child.clearChildTID.Store(uint64(args.ChildTID))
	}
	if args.Flags&linux.CLONE_PARENT_SETTID != 0 && args.ParentTID != 0 {
		if err := parentAS.CopyOutUint32(args.ParentTID, uint32(child.id), mm.IOOpts{}); err != nil {
			log.Infof("clone: parent TID write failed: %v", err)
		}
	}

	t.childrenMu.Lock()
	t.children = append(t.children, child)
	t.childrenMu.Unlock()
	t.k.addTask(child)
	child.start()
	return child.id, nil
}
