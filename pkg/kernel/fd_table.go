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
	"sync"

	"nucleus.dev/nucleus/pkg/errors/linuxerr"
)

// FileDescription is one open file description. Descriptors produced by dup
// and table forks share the description, so the read cursor is shared the
// way Linux shares it.
type FileDescription struct {
	// Path is the cleaned absolute path the description was opened at.
	// Immutable.
	Path string

	// IsDir is whether the description names a directory. Immutable.
	IsDir bool

	// mu protects dirCursor.
	mu sync.Mutex

	// dirCursor is the index of the next directory entry to emit from
	// listings.
	dirCursor int
}

// DirCursor returns the directory read cursor.
func (fd *FileDescription) DirCursor() int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.dirCursor
}

// SetDirCursor sets the directory read cursor.
func (fd *FileDescription) SetDirCursor(n int) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.dirCursor = n
}

// maxFD bounds descriptor numbers; dup3 to a larger number is rejected.
const maxFD = 1024

// FDTable maps descriptor numbers to open file descriptions.
type FDTable struct {
	// mu protects fds.
	mu sync.Mutex

	// fds maps descriptor numbers to descriptions.
	fds map[int32]*FileDescription
}

// NewFDTable returns an empty FDTable.
func NewFDTable() *FDTable {
	return &FDTable{fds: make(map[int32]*FileDescription)}
}

// Fork returns a copy of the table. The copy references the same file
// descriptions.
func (f *FDTable) Fork() *FDTable {
	f.mu.Lock()
	defer f.mu.Unlock()
	nf := &FDTable{fds: make(map[int32]*FileDescription, len(f.fds))}
	for n, fd := range f.fds {
		nf.fds[n] = fd
	}
	return nf
}

// lowestFreeLocked returns the lowest unused descriptor number.
func (f *FDTable) lowestFreeLocked() int32 {
	for n := int32(0); n < maxFD; n++ {
		if _, ok := f.fds[n]; !ok {
			return n
		}
	}
	return -1
}

// Add installs fd at the lowest free descriptor number and returns it.
func (f *FDTable) Add(fd *FileDescription) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.lowestFreeLocked()
	if n < 0 {
		return 0, linuxerr.EMFILE
	}
	f.fds[n] = fd
	return n, nil
}

// Get returns the description at n.
func (f *FDTable) Get(n int32) (*FileDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, ok := f.fds[n]
	if !ok {
		return nil, linuxerr.EBADF
	}
	return fd, nil
}

// Dup duplicates old at the lowest free descriptor number.
func (f *FDTable) Dup(old int32) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, ok := f.fds[old]
	if !ok {
		return 0, linuxerr.EBADF
	}
	n := f.lowestFreeLocked()
	if n < 0 {
		return 0, linuxerr.EMFILE
	}
	f.fds[n] = fd
	return n, nil
}

// Dup3 duplicates old at exactly new, silently closing whatever new held.
// old == new is an error, matching dup3 rather than dup2.
func (f *FDTable) Dup3(old, new int32) (int32, error) {
	if old == new {
		return 0, linuxerr.EINVAL
	}
	if new < 0 || new >= maxFD {
		return 0, linuxerr.EBADF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, ok := f.fds[old]
	if !ok {
		return 0, linuxerr.EBADF
	}
	f.fds[new] = fd
	return new, nil
}

// Remove closes descriptor n.
func (f *FDTable) Remove(n int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.fds[n]; !ok {
		return linuxerr.EBADF
	}
	delete(f.fds, n)
	return nil
}
