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

package syscalls

import (
	"nucleus.dev/nucleus/pkg/abi/linux"
	"nucleus.dev/nucleus/pkg/arch"
	"nucleus.dev/nucleus/pkg/errors/linuxerr"
	"nucleus.dev/nucleus/pkg/kernel"
	"nucleus.dev/nucleus/pkg/vfs"
)

// direntWriter serializes directory records into a fixed-capacity buffer
// with an explicit cursor; every write checks remaining capacity first.
type direntWriter struct {
	buf []byte

	// off is the consumed length, the sum of emitted reclens.
	off int

	// end is the number of buffer bytes actually filled, which exceeds
	// off only by the terminal header.
	end int
}

// remaining returns the unwritten capacity.
func (w *direntWriter) remaining() int {
	return len(w.buf) - w.off
}

// writeRecord appends one record for ent. The record's d_off is the
// cumulative byte offset of the record that follows it. Reports false,
// without partial writes, if the record does not fit.
func (w *direntWriter) writeRecord(ent vfs.Dirent) bool {
	reclen := linux.SizeOfDirentHdr + len(ent.Name) + 1
	if reclen > w.remaining() {
		return false
	}
	hdr := linux.DirentHdr{
		Ino:    ent.Ino,
		Off:    int64(w.off + reclen),
		Reclen: uint16(reclen),
		Typ:    ent.Typ,
	}
	hdr.MarshalBytes(w.buf[w.off:])
	n := copy(w.buf[w.off+linux.SizeOfDirentHdr:], ent.Name)
	w.buf[w.off+linux.SizeOfDirentHdr+n] = 0
	w.off += reclen
	w.end = w.off
	return true
}

// writeTerminal appends the zero-length terminal record marking the end of
// the directory. Its header bytes are transferred but do not count toward
// the consumed length, since its reclen is zero.
func (w *direntWriter) writeTerminal() bool {
	if linux.SizeOfDirentHdr > w.remaining() {
		return false
	}
	var terminal linux.DirentHdr
	terminal.MarshalBytes(w.buf[w.off:])
	w.end = w.off + linux.SizeOfDirentHdr
	return true
}

// getdents64 implements SYS_GETDENTS64 over the 19-byte header layout.
// Listing continues from the descriptor's cursor; the returned length is
// the sum of the emitted records' reclens.
func getdents64(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	fd, err := t.Namespace().FDTable.Get(args[0].Int())
	if err != nil {
		return 0, err
	}
	if !fd.IsDir {
		return 0, linuxerr.ENOTDIR
	}
	ents, err := t.Kernel().Filesystem().ReadDir(fd.Path)
	if err != nil {
		return 0, err
	}

	count := int(args[2].Uint())
	w := &direntWriter{buf: make([]byte, count)}
	cursor := fd.DirCursor()
	if cursor > len(ents) {
		// The terminal record has already been delivered.
		return 0, nil
	}
	for cursor < len(ents) {
		if !w.writeRecord(ents[cursor]) {
			if w.off == 0 {
				// Not even one record fits.
				return 0, linuxerr.EINVAL
			}
			break
		}
		cursor++
	}
	if cursor == len(ents) && w.writeTerminal() {
		cursor++
	}
	fd.SetDirCursor(cursor)

	if _, err := t.CopyOut(args[1].Pointer(), w.buf[:w.end]); err != nil {
		return 0, err
	}
	return uintptr(w.off), nil
}
