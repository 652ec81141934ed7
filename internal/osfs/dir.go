package osfs

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Dir anchors every path operation to a backing root directory opened
// once at mount, via the *at syscall family. Every "name" argument
// below is a backing (already-encrypted) path relative to the root;
// it may contain multiple "/"-separated components.
type Dir struct {
	f  *os.File
	fd int
}

// OpenRoot opens "path" as a directory handle to anchor subsequent
// operations on.
func OpenRoot(path string) (*Dir, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_DIRECTORY, 0)
	if err != nil {
		return nil, err
	}
	return &Dir{f: f, fd: int(f.Fd())}, nil
}

// Close releases the root directory handle.
func (d *Dir) Close() error {
	return d.f.Close()
}

// Fd returns the raw directory file descriptor.
func (d *Dir) Fd() int {
	return d.fd
}

// OpenFile opens "name" relative to the root with the given flags/mode
// and returns a *FileStream.
func (d *Dir) OpenFile(name string, flags int, mode os.FileMode) (*FileStream, error) {
	fd, err := unix.Openat(d.fd, name, flags|unix.O_NOFOLLOW, uint32(mode))
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(fd), name)
	return NewFileStream(f), nil
}

// Lstat stats "name" relative to the root without following a trailing
// symlink component.
func (d *Dir) Lstat(name string) (os.FileInfo, error) {
	var st unix.Stat_t
	if err := unix.Fstatat(d.fd, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return nil, err
	}
	return statFileInfo{name: name, st: st}, nil
}

// Mkdir creates directory "name" relative to the root.
func (d *Dir) Mkdir(name string, mode os.FileMode) error {
	return unix.Mkdirat(d.fd, name, uint32(mode))
}

// Rmdir removes the empty directory "name".
func (d *Dir) Rmdir(name string) error {
	return unix.Unlinkat(d.fd, name, unix.AT_REMOVEDIR)
}

// Unlink removes the file "name".
func (d *Dir) Unlink(name string) error {
	return unix.Unlinkat(d.fd, name, 0)
}

// Rename renames "oldName" to "newName", both relative to the root.
func (d *Dir) Rename(oldName, newName string) error {
	return unix.Renameat(d.fd, oldName, d.fd, newName)
}

// Link creates a hard link "newName" pointing at "oldName".
func (d *Dir) Link(oldName, newName string) error {
	return unix.Linkat(d.fd, oldName, d.fd, newName, 0)
}

// Symlink creates a symlink "linkName" with literal target "target".
func (d *Dir) Symlink(target, linkName string) error {
	return unix.Symlinkat(target, d.fd, linkName)
}

// Readlink reads the literal target of symlink "name".
func (d *Dir) Readlink(name string) (string, error) {
	buf := make([]byte, 4096)
	n, err := unix.Readlinkat(d.fd, name, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// Chmod changes the mode of "name".
func (d *Dir) Chmod(name string, mode os.FileMode) error {
	return unix.Fchmodat(d.fd, name, uint32(mode), 0)
}

// Chown changes the owner/group of "name".
func (d *Dir) Chown(name string, uid, gid int) error {
	return unix.Fchownat(d.fd, name, uid, gid, unix.AT_SYMLINK_NOFOLLOW)
}

// Utimens sets the access/modification times of "name".
func (d *Dir) Utimens(name string, atime, mtime unix.Timespec) error {
	ts := [2]unix.Timespec{atime, mtime}
	return unix.UtimesNanoAt(d.fd, name, ts[:], unix.AT_SYMLINK_NOFOLLOW)
}

// Statfs returns backing-filesystem-wide stats (used for statvfs
// translation).
func (d *Dir) Statfs() (unix.Statfs_t, error) {
	var st unix.Statfs_t
	err := unix.Fstatfs(d.fd, &st)
	return st, err
}

// statFileInfo adapts a unix.Stat_t to os.FileInfo.
type statFileInfo struct {
	name string
	st   unix.Stat_t
}

func (s statFileInfo) Name() string      { return s.name }
func (s statFileInfo) Size() int64       { return s.st.Size }
func (s statFileInfo) Mode() os.FileMode { return os.FileMode(s.st.Mode) }
func (s statFileInfo) ModTime() time.Time {
	return time.Unix(s.st.Mtim.Sec, s.st.Mtim.Nsec)
}
func (s statFileInfo) IsDir() bool      { return s.st.Mode&unix.S_IFMT == unix.S_IFDIR }
func (s statFileInfo) Sys() interface{} { return &s.st }

// Stat returns the raw unix.Stat_t for "name", for callers that need
// uid/gid/nlink beyond what os.FileInfo exposes.
func (d *Dir) Stat(name string) (unix.Stat_t, error) {
	var st unix.Stat_t
	err := unix.Fstatat(d.fd, name, &st, unix.AT_SYMLINK_NOFOLLOW)
	return st, err
}

// Entry is one raw backing directory entry produced by Readdir.
type Entry struct {
	Name string
	Mode os.FileMode
}

// Opendir opens "name" (relative to the root) as a directory and
// returns a *Dir anchored on it, for use as a traverser
// (opendir/readdir/releasedir).
func (d *Dir) Opendir(name string) (*Dir, error) {
	fd, err := unix.Openat(d.fd, name, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(fd), name)
	return &Dir{f: f, fd: fd}, nil
}

// Readdir lists the raw (still-encrypted) entries of this directory,
// filtering out "." and "..".
func (d *Dir) Readdir() ([]Entry, error) {
	names, err := d.f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		st, err := d.Stat(name)
		if err != nil {
			// Entry vanished between readdirnames and stat (concurrent
			// unlink); skip it rather than failing the whole listing.
			continue
		}
		out = append(out, Entry{Name: name, Mode: os.FileMode(st.Mode)})
	}
	return out, nil
}
