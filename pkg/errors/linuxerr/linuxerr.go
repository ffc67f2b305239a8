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

// Package linuxerr contains syscall error codes exported as an error
// interface pointer. This allows for fast comparison and return operations
// comparable to unix.Errno constants.
package linuxerr

import (
	"golang.org/x/sys/unix"

	"nucleus.dev/nucleus/pkg/abi/linux/errno"
	"nucleus.dev/nucleus/pkg/errors"
)

// The following errors are semantically identical to Errno of type unix.Errno
// or syscall.Errno. However, since the types are distinct (these are
// *errors.Error), they are not directly comparable. The Errno method returns
// an Errno number such that the error can be compared to unix/syscall.Errno
// (e.g. unix.Errno(EPERM.Errno()) == unix.EPERM is true).
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(errno.EPERM, "operation not permitted")
	ENOENT                = errors.New(errno.ENOENT, "no such file or directory")
	ESRCH                 = errors.New(errno.ESRCH, "no such process")
	EINTR                 = errors.New(errno.EINTR, "interrupted system call")
	EIO                   = errors.New(errno.EIO, "I/O error")
	ENOEXEC               = errors.New(errno.ENOEXEC, "exec format error")
	EBADF                 = errors.New(errno.EBADF, "bad file number")
	ECHILD                = errors.New(errno.ECHILD, "no child processes")
	EAGAIN                = errors.New(errno.EAGAIN, "try again")
	ENOMEM                = errors.New(errno.ENOMEM, "out of memory")
	EACCES                = errors.New(errno.EACCES, "permission denied")
	EFAULT                = errors.New(errno.EFAULT, "bad address")
	EBUSY                 = errors.New(errno.EBUSY, "device or resource busy")
	EEXIST                = errors.New(errno.EEXIST, "file exists")
	ENODEV                = errors.New(errno.ENODEV, "no such device")
	ENOTDIR               = errors.New(errno.ENOTDIR, "not a directory")
	EISDIR                = errors.New(errno.EISDIR, "is a directory")
	EINVAL                = errors.New(errno.EINVAL, "invalid argument")
	ENFILE                = errors.New(errno.ENFILE, "file table overflow")
	EMFILE                = errors.New(errno.EMFILE, "too many open files")
	ENOSPC                = errors.New(errno.ENOSPC, "no space left on device")
	ERANGE                = errors.New(errno.ERANGE, "math result not representable")

	ENAMETOOLONG = errors.New(errno.ENAMETOOLONG, "file name too long")
	ENOSYS       = errors.New(errno.ENOSYS, "invalid system call number")
	ENOTEMPTY    = errors.New(errno.ENOTEMPTY, "directory not empty")
	ELOOP        = errors.New(errno.ELOOP, "too many symbolic links encountered")

	ENODATA    = errors.New(errno.ENODATA, "no data available")
	EOVERFLOW  = errors.New(errno.EOVERFLOW, "value too large for defined data type")
	EOPNOTSUPP = errors.New(errno.EOPNOTSUPP, "operation not supported")
	ETIMEDOUT  = errors.New(errno.ETIMEDOUT, "connection timed out")
)

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	return unixErr
}

// Equals compares a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err
}

// ErrnoOf extracts the errno value from err, if it carries one. Errors that
// are not *errors.Error report EINVAL, matching the catch-all conversion the
// syscall surface applies to untyped failures.
func ErrnoOf(err error) errno.Errno {
	if err == nil {
		return errno.NOERRNO
	}
	if e, ok := err.(*errors.Error); ok {
		return e.Errno()
	}
	return errno.EINVAL
}
