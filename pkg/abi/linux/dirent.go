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

package linux

import (
	"encoding/binary"
)

// Dirent file types, from include/dirent.h.
const (
	DT_UNKNOWN = 0
	DT_FIFO    = 1
	DT_CHR     = 2
	DT_DIR     = 4
	DT_BLK     = 6
	DT_REG     = 8
	DT_LNK     = 10
	DT_SOCK    = 12
	DT_WHT     = 14
)

// SizeOfDirentHdr is the size of the fixed header of a linux_dirent64: a
// 64-bit inode number, a 64-bit offset to the next entry, a 16-bit record
// length and an 8-bit file type. The struct ends mid-word; the name bytes
// follow immediately.
const SizeOfDirentHdr = 8 + 8 + 2 + 1

// DirentHdr is the fixed-size header of a linux_dirent64.
type DirentHdr struct {
	// Ino is the inode number.
	Ino uint64

	// Off is the signed offset to the next dirent in the buffer.
	Off int64

	// Reclen is the total length of this record, name included.
	Reclen uint16

	// Typ is the file type, one of the DT_* constants.
	Typ uint8
}

// MarshalBytes encodes h into dst, which must hold at least SizeOfDirentHdr
// bytes.
func (h *DirentHdr) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], h.Ino)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(h.Off))
	binary.LittleEndian.PutUint16(dst[16:18], h.Reclen)
	dst[18] = h.Typ
}

// UnmarshalBytes decodes h from src, which must hold at least SizeOfDirentHdr
// bytes.
func (h *DirentHdr) UnmarshalBytes(src []byte) {
	h.Ino = binary.LittleEndian.Uint64(src[0:8])
	h.Off = int64(binary.LittleEndian.Uint64(src[8:16]))
	h.Reclen = binary.LittleEndian.Uint16(src[16:18])
	h.Typ = src[18]
}
