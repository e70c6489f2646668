// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "fmt"

const (
	EPERM Errno = 1 + iota
	ENOENT
	ESRCH
	EINTR
	EIO
	ENXIO
	E2BIG
	ENOEXEC
	EBADF
	ECHILD
	EAGAIN
	ENOMEM
	EACCES
	EFAULT
	ENOTBLK
	EBUSY
	EEXIST
	EXDEV
	ENODEV
	ENOTDIR
	EISDIR
	EINVAL
	ENFILE
	EMFILE
	ENOTTY
	ENOSYS Errno = 38

	// ERESTART asks the syscall path to restart the call
	// once pending signals have been processed.
	// It never reaches the caller.
	ERESTART Errno = 512
)

// An Errno is a syscall error number. Zero means success.
type Errno int

func (e Errno) Error() string {
	if 0 <= e && int(e) < len(enames) && enames[e] != "" {
		return enames[e]
	}
	switch e {
	case ENOSYS:
		return "ENOSYS"
	case ERESTART:
		return "ERESTART"
	}
	return fmt.Sprintf("Errno(%d)", int(e))
}

var enames = []string{
	"",
	"EPERM",
	"ENOENT",
	"ESRCH",
	"EINTR",
	"EIO",
	"ENXIO",
	"E2BIG",
	"ENOEXEC",
	"EBADF",
	"ECHILD",
	"EAGAIN",
	"ENOMEM",
	"EACCES",
	"EFAULT",
	"ENOTBLK",
	"EBUSY",
	"EEXIST",
	"EXDEV",
	"ENODEV",
	"ENOTDIR",
	"EISDIR",
	"EINVAL",
	"ENFILE",
	"EMFILE",
	"ENOTTY",
}
