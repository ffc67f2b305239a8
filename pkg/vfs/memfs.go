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

package vfs

import (
	"path"
	"sort"
	"sync"

	"nucleus.dev/nucleus/pkg/abi/linux"
	"nucleus.dev/nucleus/pkg/errors/linuxerr"
)

// node is one file or directory in a MemFilesystem.
type node struct {
	ino  uint64
	dir  bool
	data []byte
}

// MemFilesystem is an in-memory Filesystem. The root directory always
// exists. All methods are safe to call concurrently.
type MemFilesystem struct {
	// mu protects nodes and nextIno.
	mu sync.Mutex

	// nodes maps cleaned absolute paths to their nodes. nodes["/"] is
	// always present and is a directory.
	nodes map[string]*node

	// nextIno is the next inode number to assign.
	nextIno uint64
}

// NewMemFilesystem returns a MemFilesystem containing only the root
// directory.
func NewMemFilesystem() *MemFilesystem {
	return &MemFilesystem{
		nodes:   map[string]*node{"/": {ino: 1, dir: true}},
		nextIno: 2,
	}
}

// AddFile creates or replaces the regular file at p, creating missing
// parent directories. Paths are cleaned, so callers can pass unnormalized
// names.
func (fs *MemFilesystem) AddFile(p string, data []byte) {
	p = path.Clean(p)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mkdirAllLocked(path.Dir(p))
	if n, ok := fs.nodes[p]; ok && !n.dir {
		n.data = data
		return
	}
	fs.nodes[p] = &node{ino: fs.allocInoLocked(), data: data}
}

func (fs *MemFilesystem) allocInoLocked() uint64 {
	ino := fs.nextIno
	fs.nextIno++
	return ino
}

func (fs *MemFilesystem) mkdirAllLocked(p string) {
	if _, ok := fs.nodes[p]; ok {
		return
	}
	if p != "/" {
		fs.mkdirAllLocked(path.Dir(p))
	}
	fs.nodes[p] = &node{ino: fs.allocInoLocked(), dir: true}
}

// ReadFile implements Filesystem.ReadFile.
func (fs *MemFilesystem) ReadFile(p string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[path.Clean(p)]
	if !ok {
		return nil, linuxerr.ENOENT
	}
	if n.dir {
		return nil, linuxerr.EISDIR
	}
	return n.data, nil
}

// ReadDir implements Filesystem.ReadDir.
func (fs *MemFilesystem) ReadDir(p string) ([]Dirent, error) {
	p = path.Clean(p)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d, ok := fs.nodes[p]
	if !ok {
		return nil, linuxerr.ENOENT
	}
	if !d.dir {
		return nil, linuxerr.ENOTDIR
	}
	var ents []Dirent
	for name, n := range fs.nodes {
		if name == "/" || path.Dir(name) != p {
			continue
		}
		typ := uint8(linux.DT_REG)
		if n.dir {
			typ = linux.DT_DIR
		}
		ents = append(ents, Dirent{Name: path.Base(name), Ino: n.ino, Typ: typ})
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].Name < ents[j].Name })
	return ents, nil
}

// Mkdir implements Filesystem.Mkdir.
func (fs *MemFilesystem) Mkdir(p string) error {
	p = path.Clean(p)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.nodes[p]; ok {
		return linuxerr.EEXIST
	}
	parent, ok := fs.nodes[path.Dir(p)]
	if !ok {
		return linuxerr.ENOENT
	}
	if !parent.dir {
		return linuxerr.ENOTDIR
	}
	fs.nodes[p] = &node{ino: fs.allocInoLocked(), dir: true}
	return nil
}

// IsDir implements Filesystem.IsDir.
func (fs *MemFilesystem) IsDir(p string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[path.Clean(p)]
	return ok && n.dir
}
