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
	"encoding/binary"

	"nucleus.dev/nucleus/pkg/errors/linuxerr"
	"nucleus.dev/nucleus/pkg/hostarch"
)

// IOOpts contains options applied to kernel accesses of user memory.
type IOOpts struct {
	// If IgnorePermissions is true, the mapping's permissions are not
	// checked. This is the loader's path for populating freshly mapped
	// read-only segments.
	IgnorePermissions bool
}

// walk applies f to each (frame, frame offset, length) triple covering
// [addr, addr+n), materializing lazy frames on the way. Access is checked
// against want unless opts.IgnorePermissions.
func (as *AddressSpace) walk(addr hostarch.Addr, n int, want hostarch.AccessType, opts IOOpts, f func(frame []byte, off, length int)) (int, error) {
	if n == 0 {
		return 0, nil
	}
	if _, ok := addr.AddLength(uint64(n)); !ok {
		return 0, linuxerr.EFAULT
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	done := 0
	for done < n {
		cur := addr + hostarch.Addr(done)
		m := as.findLocked(cur)
		if m == nil {
			return done, linuxerr.EFAULT
		}
		// A mapped but forbidden access is a permission error, matching
		// what HandleFault reports for the same page.
		if !opts.IgnorePermissions {
			if !m.access.User || !m.access.SupersetOf(want) {
				return done, linuxerr.EACCES
			}
		}
		page := cur.RoundDown()
		frame, err := as.frameLocked(m, page)
		if err != nil {
			return done, err
		}
		off := int(cur - page)
		length := hostarch.PageSize - off
		if rem := n - done; length > rem {
			length = rem
		}
		// Clamp to the mapping in case it ends mid-page range.
		if mrem := int(m.ar.End - cur); length > mrem {
			length = mrem
		}
		f(frame, off, length)
		done += length
	}
	return done, nil
}

// CopyOut copies src into user memory at addr.
func (as *AddressSpace) CopyOut(addr hostarch.Addr, src []byte, opts IOOpts) (int, error) {
	return as.walk(addr, len(src), hostarch.Write, opts, func(frame []byte, off, length int) {
		copy(frame[off:off+length], src)
		src = src[length:]
	})
}

// CopyIn copies len(dst) bytes from user memory at addr into dst.
func (as *AddressSpace) CopyIn(addr hostarch.Addr, dst []byte, opts IOOpts) (int, error) {
	return as.walk(addr, len(dst), hostarch.Read, opts, func(frame []byte, off, length int) {
		copy(dst, frame[off:off+length])
		dst = dst[length:]
	})
}

// ZeroOut writes n zero bytes to user memory at addr.
func (as *AddressSpace) ZeroOut(addr hostarch.Addr, n int, opts IOOpts) (int, error) {
	return as.walk(addr, n, hostarch.Write, opts, func(frame []byte, off, length int) {
		clear(frame[off : off+length])
	})
}

// CopyOutUint64 writes a little-endian uint64 to user memory at addr.
func (as *AddressSpace) CopyOutUint64(addr hostarch.Addr, v uint64, opts IOOpts) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := as.CopyOut(addr, buf[:], opts)
	return err
}

// CopyInUint64 reads a little-endian uint64 from user memory at addr.
func (as *AddressSpace) CopyInUint64(addr hostarch.Addr, opts IOOpts) (uint64, error) {
	var buf [8]byte
	if _, err := as.CopyIn(addr, buf[:], opts); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// CopyOutUint32 writes a little-endian uint32 to user memory at addr.
func (as *AddressSpace) CopyOutUint32(addr hostarch.Addr, v uint32, opts IOOpts) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := as.CopyOut(addr, buf[:], opts)
	return err
}
