// Package exitcodes contains the well-defined process exit codes that
// cmd/veilfs can return. Codes belonging to an out-of-scope command
// layer (password prompting, the on-disk config file, scrypt params,
// the control socket) are intentionally not carried forward from
// gocryptfs's larger taxonomy. cmd/veilfs returns Usage, CipherDir,
// Init and FuseNewServer, and Exit falls back to Other; MountPoint,
// SigInt and ForkChild are defined but not returned by cmd/veilfs.
package exitcodes

import (
	"fmt"
	"os"
)

const (
	// Usage - usage error like wrong cli syntax, wrong number of parameters.
	Usage = 1
	// 2 is reserved because it is used by Go panic

	// CipherDir means that the backing directory does not exist, is not
	// empty, or is not a directory.
	CipherDir = 6
	// Init is an error on filesystem init
	Init = 7
	// MountPoint error means that the mountpoint is invalid (not empty etc).
	MountPoint = 10
	// Other error - please inspect the message
	Other = 11
	// SigInt means we got SIGINT
	SigInt = 15
	// ForkChild means forking the worker child failed
	ForkChild = 17
	// FuseNewServer - this exit code means that the call to fuse.NewServer failed.
	// This usually means that there was a problem executing fusermount, or
	// fusermount could not attach the mountpoint to the kernel.
	FuseNewServer = 19
)

// Err wraps an error with an associated numeric exit code
type Err struct {
	error
	code int
}

// NewErr returns an error containing "msg" and the exit code "code".
func NewErr(msg string, code int) Err {
	return Err{
		error: fmt.Errorf(msg),
		code:  code,
	}
}

// Exit extracts the numeric exit code from "err" (if available) and exits the
// application.
func Exit(err error) {
	err2, ok := err.(Err)
	if !ok {
		os.Exit(Other)
	}
	os.Exit(err2.code)
}
