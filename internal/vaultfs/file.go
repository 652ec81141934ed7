package vaultfs

import (
	"sync"

	"github.com/veilfs/veilfs/internal/blockio"
	"github.com/veilfs/veilfs/internal/osfs"
	"github.com/veilfs/veilfs/internal/serialize_reads"
)

// File is the facade-allocated file handle: it bundles the AEAD crypt
// stream (wrapped in a blockio.Stream), the underlying backing fd, a
// mutex, and a reference count for dup-style sharing. Created by
// Open/Create, destroyed by Release; exclusively owned by the caller
// of Open, never interned across opens of the same path.
type File struct {
	mu        sync.RWMutex
	fd        *osfs.FileStream
	stream    *blockio.Stream
	refs      int
	serialize bool
}

func newFile(fd *osfs.FileStream, stream *blockio.Stream, serialize bool) *File {
	return &File{fd: fd, stream: stream, refs: 1, serialize: serialize}
}

// Dup increments the handle's reference count, for callers that share
// one File across multiple dup'd descriptors.
func (f *File) Dup() {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
}

// ReadAt reads up to len(buf) plaintext bytes at "offset" under a
// shared lock. If the mount was opened with SerializeReads, the read
// is additionally queued through internal/serialize_reads so that
// concurrent reads against the same handle complete in offset order.
func (f *File) ReadAt(buf []byte, offset uint64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.serialize {
		serialize_reads.Wait(int64(offset), len(buf))
		defer serialize_reads.Done()
	}
	return f.stream.ReadAt(buf, offset)
}

// WriteAt writes len(buf) plaintext bytes at "offset" under an
// exclusive lock; the same lock guards resize, flush and fsync.
func (f *File) WriteAt(buf []byte, offset uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stream.WriteAt(buf, offset)
}

// Truncate resizes the file under an exclusive lock.
func (f *File) Truncate(newSize uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stream.Truncate(newSize)
}

// Size returns the file's current logical size under a shared lock.
func (f *File) Size() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stream.Size()
}

// Flush fsyncs the backing file under an exclusive lock. Per POSIX,
// flush may be called more than once per handle (e.g. once per dup'd
// fd close) and must be idempotent; fsync on an already-synced file is.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd.Flush()
}

// Fsync is an alias for Flush: the core makes no distinction between
// fsync and flush, both map to "durably persist the backing fd".
func (f *File) Fsync() error {
	return f.Flush()
}

// Release decrements the reference count and, once it reaches zero,
// closes the backing fd. A File handle must be released exactly once
// per Open/Create/Dup by its owner.
func (f *File) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs--
	if f.refs > 0 {
		return nil
	}
	return f.fd.Close()
}
