package dispatch

import (
	"errors"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/veilfs/veilfs/internal/contentenc"
	"github.com/veilfs/veilfs/internal/tlog"
)

// toStatus converts a structured failure from the facade or one of its
// sub-packages into a negated POSIX error code: invalid-argument
// failures become EINVAL, AEAD/SIV verification failures become EIO,
// backing I/O errors propagate with the underlying errno, and anything
// unrecognized maps to EPERM and is logged.
func toStatus(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	if errno, ok := asErrno(err); ok {
		return fuse.Status(errno)
	}
	var corrupt *contentenc.CorruptHeaderError
	if errors.As(err, &corrupt) {
		return fuse.EINVAL
	}
	var invalid *contentenc.InvalidArgumentError
	if errors.As(err, &invalid) {
		return fuse.EINVAL
	}
	var verify *contentenc.VerifyError
	if errors.As(err, &verify) {
		return fuse.EIO
	}
	if errors.Is(err, os.ErrNotExist) {
		return fuse.ENOENT
	}
	tlog.Warn.Printf("dispatch: unmapped error, returning EPERM: %v", err)
	return fuse.EPERM
}

// asErrno unwraps "err" down to a raw syscall.Errno, the form most
// backing I/O errors (open/read/write/rename on the *at syscalls)
// arrive in, and propagates it unchanged.
func asErrno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return asErrno(pathErr.Err)
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return asErrno(linkErr.Err)
	}
	return 0, false
}
