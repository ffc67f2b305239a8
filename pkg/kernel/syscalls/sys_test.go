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
	"debug/elf"
	"testing"

	"nucleus.dev/nucleus/pkg/abi/linux"
	"nucleus.dev/nucleus/pkg/abi/linux/errno"
	"nucleus.dev/nucleus/pkg/arch"
	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/kernel"
	"nucleus.dev/nucleus/pkg/loader/loadertest"
	"nucleus.dev/nucleus/pkg/vfs"
)

var testLayout = kernel.MemoryLayout{
	UserBase:    0x1000,
	UserCeiling: 0x8000_0000,
	HeapBottom:  0x4000_0000,
	HeapMax:     1 << 20,
	StackSize:   0x10000,
}

func testImage() []byte {
	return loadertest.Build(loadertest.Image{
		Type:  elf.ET_EXEC,
		Entry: 0x401000,
		Segments: []loadertest.Segment{
			{Vaddr: 0x401000, Flags: uint32(elf.PF_R | elf.PF_X), Data: []byte{0x0f, 0x05, 0xc3}},
		},
	})
}

// runInit boots a kernel, lets body run as init and returns init's exit
// status along with the filesystem it ran over.
func runInit(t *testing.T, setup func(fs *vfs.MemFilesystem), body kernel.Program) int32 {
	t.Helper()
	fs := vfs.NewMemFilesystem()
	fs.AddFile("/init", testImage())
	if setup != nil {
		setup(fs)
	}
	k := kernel.New(kernel.Options{Layout: testLayout, FS: fs})
	Register(k)
	k.RegisterProgram("/init", body)
	k.Start()
	return k.SpawnInitial("/init").Join()
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

// scratch grows the heap one page through brk and returns its base.
func scratch(task *kernel.Task) hostarch.Addr {
	base := hostarch.Addr(task.Syscall(linux.SYS_BRK, sysArgs(0)))
	task.Syscall(linux.SYS_BRK, sysArgs(uintptr(base)+hostarch.PageSize))
	return base
}

func TestDirentWriter(t *testing.T) {
	ents := []vfs.Dirent{
		{Name: "a", Ino: 3, Typ: linux.DT_REG},
		{Name: "bb", Ino: 4, Typ: linux.DT_DIR},
	}
	w := &direntWriter{buf: make([]byte, 256)}
	for i, e := range ents {
		if !w.writeRecord(e) {
			t.Fatalf("record %d did not fit", i)
		}
	}
	if !w.writeTerminal() {
		t.Fatal("terminal record did not fit")
	}

	wantConsumed := (linux.SizeOfDirentHdr + 2) + (linux.SizeOfDirentHdr + 3)
	if w.off != wantConsumed {
		t.Errorf("consumed %d bytes, want the sum of the declared reclens %d", w.off, wantConsumed)
	}

	off := 0
	for i, e := range ents {
		var hdr linux.DirentHdr
		hdr.UnmarshalBytes(w.buf[off:])
		if hdr.Ino != e.Ino || hdr.Typ != e.Typ {
			t.Errorf("record %d header = %+v, want ino %d typ %d", i, hdr, e.Ino, e.Typ)
		}
		name := w.buf[off+linux.SizeOfDirentHdr : off+int(hdr.Reclen)]
		if string(name) != e.Name+"\x00" {
			t.Errorf("record %d name = %q, want %q", i, name, e.Name+"\x00")
		}
		off += int(hdr.Reclen)
		// d_off is the byte offset of the record that follows.
		if hdr.Off != int64(off) {
			t.Errorf("record %d d_off = %d, want the next record's offset %d", i, hdr.Off, off)
		}
	}
	var terminal linux.DirentHdr
	terminal.UnmarshalBytes(w.buf[off:])
	if terminal.Reclen != 0 {
		t.Errorf("terminal record has reclen %d, want 0", terminal.Reclen)
	}
}

func TestDirentWriterRejectsOverflow(t *testing.T) {
	w := &direntWriter{buf: make([]byte, linux.SizeOfDirentHdr+2)}
	if !w.writeRecord(vfs.Dirent{Name: "a"}) {
		t.Fatal("first record did not fit")
	}
	before := w.off
	if w.writeRecord(vfs.Dirent{Name: "b"}) {
		t.Error("second record fit in a full buffer")
	}
	if w.off != before {
		t.Error("rejected write moved the cursor")
	}
}

func TestGetdents64(t *testing.T) {
	status := runInit(t, func(fs *vfs.MemFilesystem) {
		fs.AddFile("/d/a", nil)
		fs.AddFile("/d/bb", nil)
	}, func(task *kernel.Task) int32 {
		s := scratch(task)
		task.CopyOut(s, append([]byte("/d"), 0))
		fd := int64(task.Syscall(linux.SYS_OPENAT, sysArgs(atFDCWD(), uintptr(s), linux.O_DIRECTORY)))
		if fd < 0 {
			t.Errorf("openat returned %d", fd)
			return 1
		}
		bufAddr := s + 256
		n := int64(task.Syscall(linux.SYS_GETDENTS64, sysArgs(uintptr(fd), uintptr(bufAddr), 256)))
		if n <= 0 {
			t.Errorf("getdents64 returned %d", n)
			return 1
		}
		buf := make([]byte, n)
		if _, err := task.CopyIn(bufAddr, buf); err != nil {
			t.Errorf("reading listing failed: %v", err)
			return 1
		}
		var names []string
		sum := 0
		for off := 0; off < len(buf); {
			var hdr linux.DirentHdr
			hdr.UnmarshalBytes(buf[off:])
			names = append(names, string(buf[off+linux.SizeOfDirentHdr:off+int(hdr.Reclen)-1]))
			sum += int(hdr.Reclen)
			off += int(hdr.Reclen)
			if hdr.Off != int64(off) {
				t.Errorf("d_off = %d, want the byte offset of the next entry %d", hdr.Off, off)
			}
		}
		if int64(sum) != n {
			t.Errorf("returned length %d != reclen sum %d", n, sum)
		}
		if len(names) != 2 || names[0] != "a" || names[1] != "bb" {
			t.Errorf("got names %q, want [a bb] in listing order", names)
		}
		// The directory is exhausted; the next read reports the end.
		if n := int64(task.Syscall(linux.SYS_GETDENTS64, sysArgs(uintptr(fd), uintptr(bufAddr), 256))); n != 0 {
			t.Errorf("second getdents64 returned %d, want 0", n)
		}
		return 0
	})
	if status != 0 {
		t.Fatalf("init exited with status %d", status)
	}
}

func TestBrk(t *testing.T) {
	status := runInit(t, nil, func(task *kernel.Task) int32 {
		bottom := task.Syscall(linux.SYS_BRK, sysArgs(0))
		if bottom != uintptr(testLayout.HeapBottom) {
			t.Errorf("brk(0) = %#x, want the heap bottom %#x", bottom, uintptr(testLayout.HeapBottom))
			return 1
		}
		if got := task.Syscall(linux.SYS_BRK, sysArgs(bottom+10)); got != bottom+10 {
			t.Errorf("brk(bottom+10) = %#x, want %#x", got, bottom+10)
			return 1
		}
		// A move past the configured max fails by returning the
		// unchanged current top.
		if got := task.Syscall(linux.SYS_BRK, sysArgs(bottom+uintptr(testLayout.HeapMax)+1)); got != bottom+10 {
			t.Errorf("oversized brk = %#x, want the unchanged top %#x", got, bottom+10)
			return 1
		}
		return 0
	})
	if status != 0 {
		t.Fatalf("init exited with status %d", status)
	}
}

func TestForkWait4(t *testing.T) {
	status := runInit(t, nil, func(task *kernel.Task) int32 {
		s := scratch(task)
		child := int64(task.Syscall(linux.SYS_FORK, sysArgs()))
		if child <= 0 {
			t.Errorf("fork returned %d", child)
			return 1
		}
		got := int64(task.Syscall(linux.SYS_WAIT4, sysArgs(uintptr(child), uintptr(s), 0)))
		if got != child {
			t.Errorf("wait4 returned %d, want %d", got, child)
			return 1
		}
		buf := make([]byte, 4)
		task.CopyIn(s, buf)
		if ws := uint32(buf[0]) | uint32(buf[1])<<8; ws != 0 {
			t.Errorf("trap-path fork child reported status %#x, want 0", ws)
			return 1
		}
		return 0
	})
	if status != 0 {
		t.Fatalf("init exited with status %d", status)
	}
}

func TestGetcwdChdir(t *testing.T) {
	status := runInit(t, nil, func(task *kernel.Task) int32 {
		s := scratch(task)
		task.CopyOut(s, append([]byte("/sub"), 0))
		if r := int64(task.Syscall(linux.SYS_MKDIRAT, sysArgs(atFDCWD(), uintptr(s), 0o755))); r < 0 {
			t.Errorf("mkdirat returned %d", r)
			return 1
		}
		if r := int64(task.Syscall(linux.SYS_CHDIR, sysArgs(uintptr(s)))); r < 0 {
			t.Errorf("chdir returned %d", r)
			return 1
		}
		bufAddr := s + 64
		n := int64(task.Syscall(linux.SYS_GETCWD, sysArgs(uintptr(bufAddr), 64)))
		if n != int64(len("/sub"))+1 {
			t.Errorf("getcwd returned %d", n)
			return 1
		}
		buf := make([]byte, n)
		task.CopyIn(bufAddr, buf)
		if string(buf) != "/sub\x00" {
			t.Errorf("got cwd %q, want /sub", buf)
			return 1
		}
		// A too-small buffer is ERANGE, not a truncated path.
		if r := int64(task.Syscall(linux.SYS_GETCWD, sysArgs(uintptr(bufAddr), 2))); r != -int64(errno.ERANGE) {
			t.Errorf("getcwd into a tiny buffer returned %d, want %d", r, -int64(errno.ERANGE))
			return 1
		}
		return 0
	})
	if status != 0 {
		t.Fatalf("init exited with status %d", status)
	}
}

func TestDup(t *testing.T) {
	status := runInit(t, nil, func(task *kernel.Task) int32 {
		s := scratch(task)
		task.CopyOut(s, append([]byte("/"), 0))
		fd := int64(task.Syscall(linux.SYS_OPENAT, sysArgs(atFDCWD(), uintptr(s), linux.O_DIRECTORY)))
		if fd < 0 {
			t.Errorf("openat returned %d", fd)
			return 1
		}
		nfd := int64(task.Syscall(linux.SYS_DUP, sysArgs(uintptr(fd))))
		if nfd < 0 || nfd == fd {
			t.Errorf("dup returned %d from %d", nfd, fd)
			return 1
		}
		if r := int64(task.Syscall(linux.SYS_DUP3, sysArgs(uintptr(fd), uintptr(fd), 0))); r != -int64(errno.EINVAL) {
			t.Errorf("dup3 onto itself returned %d, want %d", r, -int64(errno.EINVAL))
			return 1
		}
		if r := int64(task.Syscall(linux.SYS_DUP3, sysArgs(uintptr(fd), 9, 0))); r != 9 {
			t.Errorf("dup3 returned %d, want 9", r)
			return 1
		}
		return 0
	})
	if status != 0 {
		t.Fatalf("init exited with status %d", status)
	}
}

func TestUnknownSyscall(t *testing.T) {
	status := runInit(t, nil, func(task *kernel.Task) int32 {
		if r := int64(task.Syscall(9999, sysArgs())); r != -int64(errno.ENOSYS) {
			t.Errorf("unknown syscall returned %d, want %d", r, -int64(errno.ENOSYS))
			return 1
		}
		return 0
	})
	if status != 0 {
		t.Fatalf("init exited with status %d", status)
	}
}

func TestTimes(t *testing.T) {
	tick := uint64(0)
	fs := vfs.NewMemFilesystem()
	fs.AddFile("/init", testImage())
	k := kernel.New(kernel.Options{
		Layout: testLayout,
		FS:     fs,
		TickSource: func() uint64 {
			tick += linux.ClockTick
			return tick
		},
	})
	Register(k)
	k.RegisterProgram("/init", func(task *kernel.Task) int32 {
		s := scratch(task)
		if r := int64(task.Syscall(linux.SYS_TIMES, sysArgs(uintptr(s)))); r < 0 {
			t.Errorf("times returned %d", r)
			return 1
		}
		buf := make([]byte, 32)
		task.CopyIn(s, buf)
		utime := int64(uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24)
		stime := int64(uint64(buf[8]) | uint64(buf[9])<<8 | uint64(buf[10])<<16 | uint64(buf[11])<<24)
		if utime+stime == 0 {
			t.Error("no time accounted across syscall boundaries")
			return 1
		}
		return 0
	})
	k.Start()
	if status := k.SpawnInitial("/init").Join(); status != 0 {
		t.Fatalf("init exited with status %d", status)
	}
}
