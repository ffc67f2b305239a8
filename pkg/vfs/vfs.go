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

// Package vfs is the filesystem surface the kernel programs against.
package vfs

import "path"

// Dirent is one directory entry as a filesystem reports it.
type Dirent struct {
	// Name is the entry's name within its directory.
	Name string

	// Ino is the entry's inode number.
	Ino uint64

	// Typ is the entry's DT_* file type.
	Typ uint8
}

// A Filesystem resolves absolute, cleaned paths. Relative-path resolution
// against a working directory happens in the caller.
type Filesystem interface {
	// ReadFile returns the contents of the regular file at p.
	ReadFile(p string) ([]byte, error)

	// ReadDir returns the entries of the directory at p, sorted by name.
	ReadDir(p string) ([]Dirent, error)

	// Mkdir creates a directory at p. The parent must already exist.
	Mkdir(p string) error

	// IsDir reports whether p names an existing directory.
	IsDir(p string) bool
}

// Resolve resolves name against the working directory cwd and returns the
// cleaned absolute path. cwd must itself be absolute.
func Resolve(cwd, name string) string {
	if !path.IsAbs(name) {
		name = path.Join(cwd, name)
	}
	return path.Clean(name)
}
