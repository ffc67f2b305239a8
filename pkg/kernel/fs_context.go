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
	"nucleus.dev/nucleus/pkg/vfs"
)

// FSContext is a task's filesystem-local state, currently just the working
// directory.
type FSContext struct {
	// mu protects cwd.
	mu sync.Mutex

	// cwd is the working directory. Always absolute and cleaned.
	cwd string
}

// NewFSContext returns an FSContext rooted at "/".
func NewFSContext() *FSContext {
	return &FSContext{cwd: "/"}
}

// Fork returns an independent copy of c.
func (c *FSContext) Fork() *FSContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &FSContext{cwd: c.cwd}
}

// WorkingDirectory returns the current working directory.
func (c *FSContext) WorkingDirectory() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cwd
}

// SetWorkingDirectory changes the working directory to name, resolved
// against the current one. fs must confirm the target is a directory.
func (c *FSContext) SetWorkingDirectory(fs vfs.Filesystem, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := vfs.Resolve(c.cwd, name)
	if !fs.IsDir(p) {
		return linuxerr.ENOENT
	}
	c.cwd = p
	return nil
}
