package dispatch

import (
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"

	"github.com/veilfs/veilfs/internal/tlog"
	"github.com/veilfs/veilfs/internal/vaultfs"
)

// fileHandle adapts a *vaultfs.File to go-fuse's nodefs.File. It embeds
// nodefs.NewDefaultFile() so operations it doesn't override
// (Chmod/Chown/Utimens/Allocate) return ENOSYS and the kernel
// falls back to the path-based FS methods, matching gocryptfs's File
// embedding idiom.
type fileHandle struct {
	f *vaultfs.File
	nodefs.File
}

func newFileHandle(f *vaultfs.File) *fileHandle {
	return &fileHandle{f: f, File: nodefs.NewDefaultFile()}
}

// Read reads at "off" into "dest" (a shared lock is held for the
// duration inside vaultfs.File.ReadAt).
func (h *fileHandle) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	n, err := h.f.ReadAt(dest, uint64(off))
	if err != nil {
		return nil, toStatus(err)
	}
	return fuse.ReadResultData(dest[:n]), fuse.OK
}

// Write writes "data" at "off".
func (h *fileHandle) Write(data []byte, off int64) (uint32, fuse.Status) {
	n, err := h.f.WriteAt(data, uint64(off))
	if err != nil {
		return uint32(n), toStatus(err)
	}
	return uint32(n), fuse.OK
}

// Flush fsyncs the backing file. Per POSIX this may be called more
// than once per handle (once per dup'd fd close); vaultfs.File.Flush
// is idempotent.
func (h *fileHandle) Flush() fuse.Status {
	return toStatus(h.f.Flush())
}

// Fsync durably persists the backing file.
func (h *fileHandle) Fsync(flags int) fuse.Status {
	return toStatus(h.f.Fsync())
}

// Release decrements the handle's reference count, closing the
// backing fd once it reaches zero. Must be called exactly once per
// handle.
func (h *fileHandle) Release() {
	if err := h.f.Release(); err != nil {
		tlog.Warn.Printf("dispatch: Release: %v", err)
	}
}

// Truncate resizes the crypt stream to "size".
func (h *fileHandle) Truncate(size uint64) fuse.Status {
	return toStatus(h.f.Truncate(size))
}

// GetAttr reports the handle's current logical size; other fields are
// left to the kernel's cached path-based attributes.
func (h *fileHandle) GetAttr(out *fuse.Attr) fuse.Status {
	out.Size = h.f.Size()
	return fuse.OK
}
