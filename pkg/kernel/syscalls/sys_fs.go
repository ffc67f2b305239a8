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

// maxPathLen bounds user-supplied path strings.
const maxPathLen = 4096

// resolveAt resolves a user path against a dirfd base: AT_FDCWD means the
// working directory, anything else must be an open directory descriptor.
func resolveAt(t *kernel.Task, dirfd int32, name string) (string, error) {
	if len(name) > 0 && name[0] == '/' {
		return vfs.Resolve("/", name), nil
	}
	if dirfd == linux.AT_FDCWD {
		return vfs.Resolve(t.Namespace().FSContext.WorkingDirectory(), name), nil
	}
	fd, err := t.Namespace().FDTable.Get(dirfd)
	if err != nil {
		return "", err
	}
	if !fd.IsDir {
		return "", linuxerr.ENOTDIR
	}
	return vfs.Resolve(fd.Path, name), nil
}

// openat implements SYS_OPENAT for read-only opens of existing files and
// directories.
func openat(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	name, err := t.CopyInString(args[1].Pointer(), maxPathLen)
	if err != nil {
		return 0, err
	}
	flags := args[2].Uint()
	path, err := resolveAt(t, args[0].Int(), name)
	if err != nil {
		return 0, err
	}

	fs := t.Kernel().Filesystem()
	isDir := fs.IsDir(path)
	if !isDir {
		if flags&linux.O_DIRECTORY != 0 {
			return 0, linuxerr.ENOTDIR
		}
		if _, err := fs.ReadFile(path); err != nil {
			return 0, err
		}
	}
	n, err := t.Namespace().FDTable.Add(&kernel.FileDescription{Path: path, IsDir: isDir})
	return uintptr(n), err
}

func dup(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	n, err := t.Namespace().FDTable.Dup(args[0].Int())
	return uintptr(n), err
}

func dup3(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	n, err := t.Namespace().FDTable.Dup3(args[0].Int(), args[1].Int())
	return uintptr(n), err
}

// getcwd implements SYS_GETCWD. Returns the number of bytes written,
// terminator included, matching the kernel convention rather than libc's.
func getcwd(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	cwd := t.Namespace().FSContext.WorkingDirectory()
	buf := append([]byte(cwd), 0)
	if uint64(len(buf)) > args[1].Uint64() {
		return 0, linuxerr.ERANGE
	}
	if _, err := t.CopyOut(args[0].Pointer(), buf); err != nil {
		return 0, err
	}
	return uintptr(len(buf)), nil
}

func chdir(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	name, err := t.CopyInString(args[0].Pointer(), maxPathLen)
	if err != nil {
		return 0, err
	}
	return 0, t.Namespace().FSContext.SetWorkingDirectory(t.Kernel().Filesystem(), name)
}

// mkdirat implements SYS_MKDIRAT. The mode argument is ignored.
func mkdirat(t *kernel.Task, tf *arch.TrapFrame, args arch.SyscallArguments) (uintptr, error) {
	name, err := t.CopyInString(args[1].Pointer(), maxPathLen)
	if err != nil {
		return 0, err
	}
	path, err := resolveAt(t, args[0].Int(), name)
	if err != nil {
		return 0, err
	}
	return 0, t.Kernel().Filesystem().Mkdir(path)
}
