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

package main

import (
	"encoding/binary"
	"os"

	"github.com/sirupsen/logrus"

	"nucleus.dev/nucleus/pkg/abi/linux"
	"nucleus.dev/nucleus/pkg/arch"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/kernel"
	"nucleus.dev/nucleus/pkg/vfs"
)

// installInit places the init image into the filesystem, either from a
// host file or as a built-in minimal executable.
func installInit(fs *vfs.MemFilesystem, initPath, hostImage string) error {
	if hostImage != "" {
		raw, err := os.ReadFile(hostImage)
		if err != nil {
			return err
		}
		fs.AddFile(initPath, raw)
		return nil
	}
	fs.AddFile(initPath, demoImage())
	return nil
}

// demoImage synthesizes a minimal fixed-address executable with a single
// read-execute PT_LOAD segment, enough for the loader to map.
func demoImage() []byte {
	const (
		vaddr  = 0x400000
		off    = 0x1000
		phoff  = 64
		phsize = 56
	)
	code := []byte{0x0f, 0x05, 0xc3} // syscall; ret

	buf := make([]byte, off+len(code))
	copy(buf, linux.ElfMagic[:])
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)    // e_type: ET_EXEC
	le.PutUint16(buf[18:], 0x3e) // e_machine: EM_X86_64
	le.PutUint32(buf[20:], 1)    // e_version
	le.PutUint64(buf[24:], vaddr)
	le.PutUint64(buf[32:], phoff)
	le.PutUint16(buf[52:], 64) // e_ehsize
	le.PutUint16(buf[54:], phsize)
	le.PutUint16(buf[56:], 1) // e_phnum

	ph := buf[phoff : phoff+phsize]
	le.PutUint32(ph[0:], 1) // p_type: PT_LOAD
	le.PutUint32(ph[4:], 5) // p_flags: R+X
	le.PutUint64(ph[8:], off)
	le.PutUint64(ph[16:], vaddr)
	le.PutUint64(ph[24:], vaddr)
	le.PutUint64(ph[32:], uint64(len(code))) // p_filesz
	le.PutUint64(ph[40:], uint64(len(code))) // p_memsz
	le.PutUint64(ph[48:], hostarch.PageSize) // p_align
	copy(buf[off:], code)
	return buf
}

func sysArgs(vals ...uintptr) arch.SyscallArguments {
	var args arch.SyscallArguments
	for i, v := range vals {
		args[i] = arch.SyscallArgument{Value: v}
	}
	return args
}

// atFDCWD returns AT_FDCWD as it rides in a syscall argument register.
func atFDCWD() uintptr {
	dirfd := linux.AT_FDCWD
	return uintptr(dirfd)
}

// demoInit is the body run by the built-in init image. It walks the core
// surface end to end: heap growth, directory operations, fork and wait,
// and time accounting.
func demoInit(t *kernel.Task) int32 {
	pid := t.Syscall(linux.SYS_GETPID, sysArgs())
	logrus.Infof("init running as pid %d", pid)

	// Grow the heap for a scratch page used to pass strings and buffers.
	scratch := hostarch.Addr(t.Syscall(linux.SYS_BRK, sysArgs(0)))
	if got := t.Syscall(linux.SYS_BRK, sysArgs(uintptr(scratch)+hostarch.PageSize)); got == uintptr(scratch) {
		logrus.Error("brk refused to grow the heap")
		return 1
	}
	putString := func(off uint64, s string) hostarch.Addr {
		addr := scratch + hostarch.Addr(off)
		if _, err := t.CopyOut(addr, append([]byte(s), 0)); err != nil {
			logrus.Errorf("copy out %q: %v", s, err)
		}
		return addr
	}

	// Build /data and list the root directory.
	dataPath := putString(0, "/data")
	if r := int64(t.Syscall(linux.SYS_MKDIRAT, sysArgs(atFDCWD(), uintptr(dataPath), 0o755))); r < 0 {
		logrus.Errorf("mkdirat failed: %d", r)
		return 1
	}
	rootPath := putString(16, "/")
	fd := int64(t.Syscall(linux.SYS_OPENAT, sysArgs(atFDCWD(), uintptr(rootPath), linux.O_DIRECTORY)))
	if fd < 0 {
		logrus.Errorf("openat failed: %d", fd)
		return 1
	}
	dirBuf := scratch + 512
	n := int64(t.Syscall(linux.SYS_GETDENTS64, sysArgs(uintptr(fd), uintptr(dirBuf), 512)))
	if n < 0 {
		logrus.Errorf("getdents64 failed: %d", n)
		return 1
	}
	listing := make([]byte, n)
	if _, err := t.CopyIn(dirBuf, listing); err == nil {
		for off := 0; off+linux.SizeOfDirentHdr <= len(listing); {
			var hdr linux.DirentHdr
			hdr.UnmarshalBytes(listing[off:])
			if hdr.Reclen == 0 {
				break
			}
			name := listing[off+linux.SizeOfDirentHdr : off+int(hdr.Reclen)-1]
			logrus.Infof("/: %s (ino %d)", name, hdr.Ino)
			off += int(hdr.Reclen)
		}
	}

	// Fork a child through the raw trap path and reap it.
	child := int64(t.Syscall(linux.SYS_FORK, sysArgs()))
	if child <= 0 {
		logrus.Errorf("fork failed: %d", child)
		return 1
	}
	statusAddr := scratch + 1024
	reaped := int64(t.Syscall(linux.SYS_WAIT4, sysArgs(uintptr(child), uintptr(statusAddr), 0)))
	if reaped != child {
		logrus.Errorf("wait4 returned %d, want %d", reaped, child)
		return 1
	}
	logrus.Infof("reaped child %d", reaped)

	ticks := t.Syscall(linux.SYS_TIMES, sysArgs(uintptr(scratch+2048)))
	logrus.Infof("%d clock ticks since boot", ticks)
	return 0
}
