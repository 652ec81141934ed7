// Package dispatch is the operation dispatcher: a thin shim between
// the host filesystem library's callback table and internal/vaultfs's
// facade. It implements go-fuse's pathfs.FileSystem interface, one
// callback per FUSE operation, addressed by plaintext path exactly
// like the facade's own methods, so this package does no more than
// translate argument/return shapes and convert errors to negated
// POSIX codes.
//
// Modeled on gocryptfs's pre-node-API fusefrontend, the historical
// pathfs.FileSystem-based frontend this design traces back to: one FS
// value wraps one *vaultfs.FS and is handed to pathfs.NewPathNodeFs by
// cmd/veilfs.
//
// No per-thread facade is needed here: internal/vaultfs.FS holds no
// per-call mutable crypto state (each open file owns its own
// session-keyed AES-GCM engine inside its contentenc.CryptStream), so
// a single dispatch.FS value is safe to share across every concurrent
// FUSE callback goroutine.
package dispatch

import (
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
	"golang.org/x/sys/unix"

	"github.com/veilfs/veilfs/internal/tlog"
	"github.com/veilfs/veilfs/internal/vaultfs"
)

// FS adapts a *vaultfs.FS to pathfs.FileSystem. It embeds
// pathfs.NewDefaultFileSystem() so that operations go-fuse's interface
// requires but this core doesn't implement (Access, Mknod, ...) return
// ENOSYS instead of breaking the build when the library adds methods,
// the same embedding idiom used below for nodefs.File.
type FS struct {
	vault *vaultfs.FS
	pathfs.FileSystem
}

// New wraps "vault" for use as a pathfs.FileSystem.
func New(vault *vaultfs.FS) *FS {
	return &FS{vault: vault, FileSystem: pathfs.NewDefaultFileSystem()}
}

// String identifies the filesystem in debug/mount-table output.
func (fs *FS) String() string {
	return "veilfs"
}

// fuseAttrFromStat copies the fields go-fuse's fuse.Attr needs out of
// a backing unix.Stat_t, field by field rather than through an unsafe
// cast: golang.org/x/sys/unix.Stat_t and syscall.Stat_t share layout
// but are distinct Go types.
func fuseAttrFromStat(st *unix.Stat_t) *fuse.Attr {
	return &fuse.Attr{
		Ino:       st.Ino,
		Size:      uint64(st.Size),
		Blocks:    uint64(st.Blocks),
		Atime:     uint64(st.Atim.Sec),
		Atimensec: uint32(st.Atim.Nsec),
		Mtime:     uint64(st.Mtim.Sec),
		Mtimensec: uint32(st.Mtim.Nsec),
		Ctime:     uint64(st.Ctim.Sec),
		Ctimensec: uint32(st.Ctim.Nsec),
		Mode:      st.Mode,
		Nlink:     uint32(st.Nlink),
		Owner:     fuse.Owner{Uid: st.Uid, Gid: st.Gid},
		Rdev:      uint32(st.Rdev),
		Blksize:   uint32(st.Blksize),
	}
}

// GetAttr stats "name" through the facade, which rewrites regular-file
// sizes to their logical (decrypted) value.
func (fs *FS) GetAttr(name string, context *fuse.Context) (*fuse.Attr, fuse.Status) {
	st, err := fs.vault.Stat(name)
	if err != nil {
		return nil, toStatus(err)
	}
	return fuseAttrFromStat(&st), fuse.OK
}

// Chmod delegates to the facade.
func (fs *FS) Chmod(name string, mode uint32, context *fuse.Context) fuse.Status {
	return toStatus(fs.vault.Chmod(name, os.FileMode(mode)))
}

// Chown delegates to the facade.
func (fs *FS) Chown(name string, uid uint32, gid uint32, context *fuse.Context) fuse.Status {
	return toStatus(fs.vault.Chown(name, int(uid), int(gid)))
}

// Utimens delegates to the facade; a nil Atime/Mtime is translated to
// "now", matching utimensat(2)'s UTIME_NOW semantics.
func (fs *FS) Utimens(name string, Atime, Mtime *time.Time, context *fuse.Context) fuse.Status {
	now := time.Now()
	a, m := now, now
	if Atime != nil {
		a = *Atime
	}
	if Mtime != nil {
		m = *Mtime
	}
	return toStatus(fs.vault.Utimens(name, a, m))
}

// Truncate resizes "name" by opening it, resizing the crypt stream,
// and releasing, since the facade's resize lives on an open File
// handle rather than as a bare path operation.
func (fs *FS) Truncate(name string, size uint64, context *fuse.Context) fuse.Status {
	f, err := fs.vault.Open(name, os.O_RDWR, 0)
	if err != nil {
		return toStatus(err)
	}
	defer f.Release()
	return toStatus(f.Truncate(size))
}

// Link creates a hard link.
func (fs *FS) Link(oldName string, newName string, context *fuse.Context) fuse.Status {
	return toStatus(fs.vault.Link(oldName, newName))
}

// Mkdir creates a directory.
func (fs *FS) Mkdir(name string, mode uint32, context *fuse.Context) fuse.Status {
	return toStatus(fs.vault.Mkdir(name, os.FileMode(mode)))
}

// Rename delegates to the facade, atomic per the backing filesystem.
func (fs *FS) Rename(oldName string, newName string, context *fuse.Context) fuse.Status {
	return toStatus(fs.vault.Rename(oldName, newName))
}

// Rmdir removes an empty directory.
func (fs *FS) Rmdir(name string, context *fuse.Context) fuse.Status {
	return toStatus(fs.vault.Rmdir(name))
}

// Unlink removes a file.
func (fs *FS) Unlink(name string, context *fuse.Context) fuse.Status {
	return toStatus(fs.vault.Unlink(name))
}

// GetXAttr decrypts and returns the named attribute's value.
func (fs *FS) GetXAttr(name string, attribute string, context *fuse.Context) ([]byte, fuse.Status) {
	data, err := fs.vault.Getxattr(name, attribute)
	if err != nil {
		return nil, toStatus(err)
	}
	return data, fuse.OK
}

// ListXAttr lists the backing file's attribute names.
func (fs *FS) ListXAttr(name string, context *fuse.Context) ([]string, fuse.Status) {
	names, err := fs.vault.Listxattr(name)
	if err != nil {
		return nil, toStatus(err)
	}
	return names, fuse.OK
}

// RemoveXAttr removes the named attribute.
func (fs *FS) RemoveXAttr(name string, attr string, context *fuse.Context) fuse.Status {
	return toStatus(fs.vault.Removexattr(name, attr))
}

// SetXAttr encrypts and stores the attribute's value.
func (fs *FS) SetXAttr(name string, attr string, data []byte, flags int, context *fuse.Context) fuse.Status {
	return toStatus(fs.vault.Setxattr(name, attr, data))
}

// Open translates flags and opens a File handle wrapped as a
// nodefs.File.
func (fs *FS) Open(name string, flags uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	f, err := fs.vault.Open(name, int(flags), 0)
	if err != nil {
		return nil, toStatus(err)
	}
	return newFileHandle(f), fuse.OK
}

// Create translates flags/mode and creates a new File handle.
func (fs *FS) Create(name string, flags uint32, mode uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	f, err := fs.vault.Create(name, int(flags), os.FileMode(mode))
	if err != nil {
		return nil, toStatus(err)
	}
	return newFileHandle(f), fuse.OK
}

// OpenDir lists "name", translating each decrypted DirEntry into a
// fuse.DirEntry.
func (fs *FS) OpenDir(name string, context *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	tr, err := fs.vault.Opendir(name)
	if err != nil {
		return nil, toStatus(err)
	}
	defer tr.Releasedir()
	entries, err := tr.Readdir()
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: e.Stat.Mode})
	}
	return out, fuse.OK
}

// Symlink creates a symlink whose backing target is the encryption of
// "value": the symlink target is itself an encrypted-view path.
func (fs *FS) Symlink(value string, linkName string, context *fuse.Context) fuse.Status {
	return toStatus(fs.vault.Symlink(value, linkName))
}

// Readlink decrypts and returns the symlink's target.
func (fs *FS) Readlink(name string, context *fuse.Context) (string, fuse.Status) {
	target, err := fs.vault.Readlink(name)
	if err != nil {
		return "", toStatus(err)
	}
	return target, fuse.OK
}

// StatFs delegates to the facade, which rewrites f_namemax for the
// encrypted view's name expansion.
func (fs *FS) StatFs(name string) *fuse.StatfsOut {
	st, err := fs.vault.Statfs()
	if err != nil {
		tlog.Warn.Printf("dispatch: StatFs: %v", err)
		return nil
	}
	out := &fuse.StatfsOut{}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.NameLen = uint32(st.Namelen)
	out.Frsize = uint32(st.Frsize)
	return out
}
