// Package osfs is a thin OS-primitives adapter: a FileStream over an
// already-open backing file, and a Dir that anchors every path
// operation to the backing root via the *at syscall family
// (openat/mkdirat/...) instead of re-resolving absolute paths, closing
// the symlink-race window that plain path-based syscalls leave open.
package osfs

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// FileStream is the OS primitives adapter's view of one open backing
// file: positional read/write, resize, flush, size, and a sparse hint.
type FileStream struct {
	f *os.File
}

// NewFileStream wraps an already-open *os.File.
func NewFileStream(f *os.File) *FileStream {
	return &FileStream{f: f}
}

// File exposes the underlying *os.File, e.g. for Fstat/Fchmod callers
// that need the raw fd.
func (fs *FileStream) File() *os.File {
	return fs.f
}

// ReadAt reads into "buf" at "off", same semantics as io.ReaderAt but
// tolerating an EOF-terminated short read without treating it as an
// error (callers already expect short reads past the backing size).
func (fs *FileStream) ReadAt(buf []byte, off int64) (int, error) {
	n, err := fs.f.ReadAt(buf, off)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// WriteAt writes "buf" at "off".
func (fs *FileStream) WriteAt(buf []byte, off int64) (int, error) {
	return fs.f.WriteAt(buf, off)
}

// Size returns the current backing file size.
func (fs *FileStream) Size() (int64, error) {
	st, err := fs.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Truncate resizes the backing file.
func (fs *FileStream) Truncate(size int64) error {
	return fs.f.Truncate(size)
}

// Flush fsyncs the backing file.
func (fs *FileStream) Flush() error {
	return fs.f.Sync()
}

// Close closes the backing file.
func (fs *FileStream) Close() error {
	return fs.f.Close()
}

// PunchHole asks the backing filesystem to deallocate the byte range
// [off, off+size), turning an all-zero logical block written by the
// sparsity convention into an actual hole on the backing side too.
// Best-effort: filesystems or platforms that don't support the flag
// just keep the explicit zero bytes on disk, which is still correct.
func (fs *FileStream) PunchHole(off, size int64) error {
	if size == 0 {
		return nil
	}
	err := unix.Fallocate(int(fs.f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, size)
	if err != nil {
		// Not all backing filesystems support hole punching (e.g. ZFS
		// without a recent kernel, overlayfs, tmpfs on old kernels).
		// The data is already correct with explicit zero bytes, so this
		// is not a correctness failure.
		return nil
	}
	return nil
}
