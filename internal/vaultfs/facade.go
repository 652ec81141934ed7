// Package vaultfs is the filesystem facade: a stateful object holding
// the three master subkeys, the root directory handle, and mount
// options, exposing path-level operations by composing the name codec
// (internal/nametransform) with the OS primitives adapter
// (internal/osfs) and returning AEAD crypt streams (internal/contentenc,
// internal/blockio) wrapped in an in-memory File handle.
//
// Modeled on gocryptfs's internal/fusefrontend (fs.go, file.go,
// xattr.go, node_xattr_linux.go), but collapsed from its Node-embedding,
// per-request style into a single facade object shared by every caller:
// there is no per-thread facade holding non-sharable AES engines,
// because the only mutable state (the session-key-derived AES-GCM
// engines) lives inside each per-file contentenc.CryptStream, not in
// the facade itself.
package vaultfs

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"

	"github.com/veilfs/veilfs/internal/blockio"
	"github.com/veilfs/veilfs/internal/contentenc"
	"github.com/veilfs/veilfs/internal/nametransform"
	"github.com/veilfs/veilfs/internal/osfs"
	"github.com/veilfs/veilfs/internal/serialize_reads"
	"github.com/veilfs/veilfs/internal/sivenc"
	"github.com/veilfs/veilfs/internal/vaultcfg"
)

// MasterKeySize is the size of the master key, partitioned into three
// equal subkeys.
const MasterKeySize = 96
const subKeySize = MasterKeySize / 3

// Two host-specific attribute names that macOS FUSE clients probe for
// on every file; neither has a meaningful encrypted-view representation,
// so both are swallowed rather than passed through.
const (
	appleQuarantine = "com.apple.quarantine"
	appleFinderInfo = "com.apple.FinderInfo"
)

// FS is the filesystem facade. A single FS is shared by every
// concurrent caller: it holds no per-call mutable crypto state, only
// the three subkeys, the backing root handle and the mount options,
// all of which are safe to read concurrently.
type FS struct {
	root       *osfs.Dir
	names      *nametransform.NameTransform
	contentKey []byte
	xattrKey   []byte
	opts       vaultcfg.Options
}

// New constructs the facade. "masterKey" must be exactly MasterKeySize
// bytes; it is split into name_key, content_key, xattr_key in that
// order.
func New(root *osfs.Dir, masterKey []byte, opts vaultcfg.Options) (*FS, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("vaultfs: master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	nameKey := masterKey[0*subKeySize : 1*subKeySize]
	contentKey := masterKey[1*subKeySize : 2*subKeySize]
	xattrKey := masterKey[2*subKeySize : 3*subKeySize]

	if opts.SerializeReads {
		serialize_reads.InitSerializer()
	}

	return &FS{
		root:       root,
		names:      nametransform.New(nameKey),
		contentKey: append([]byte{}, contentKey...),
		xattrKey:   append([]byte{}, xattrKey...),
		opts:       opts,
	}, nil
}

// Options returns the facade's mount options.
func (f *FS) Options() vaultcfg.Options { return f.opts }

// backingName maps a translated (still possibly-root) path onto the
// name osfs.Dir expects: the encrypted root is "", but the *at syscall
// family needs a non-empty relative name, so "." stands in for "self".
func backingName(cipherPath string) string {
	if cipherPath == "" {
		return "."
	}
	return cipherPath
}

func (f *FS) encrypt(path string) (string, error) {
	c, err := f.names.EncryptPath(path)
	if err != nil {
		return "", err
	}
	return backingName(c), nil
}

// checkWrite rejects any operation that would modify the backing tree
// when the facade was constructed with ReadOnly set.
func (f *FS) checkWrite() error {
	if f.opts.ReadOnly {
		return unix.EROFS
	}
	return nil
}

// rewriteSize applies the logical-size formula in place, for regular
// files only; directories and symlinks carry their backing size as-is.
func (f *FS) rewriteSize(st *unix.Stat_t) {
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		return
	}
	st.Size = int64(contentenc.SizeFromUnderlying(uint64(st.Size), f.opts.BlockSize, uint64(f.opts.IVSize), contentenc.MACSize))
}

// Stat translates "path" and stats the backing file, rewriting st_size
// for regular files.
func (f *FS) Stat(path string) (unix.Stat_t, error) {
	cpath, err := f.encrypt(path)
	if err != nil {
		return unix.Stat_t{}, err
	}
	st, err := f.root.Stat(cpath)
	if err != nil {
		return unix.Stat_t{}, err
	}
	f.rewriteSize(&st)
	return st, nil
}

// Open translates "path", opens the backing file with the same flags,
// and wraps its stream in a fresh AEAD crypt stream. O_TRUNC is handled
// by resizing the crypt stream to 0 after construction so the per-file
// header is read (or created) before any truncation.
func (f *FS) Open(path string, flags int, mode os.FileMode) (*File, error) {
	if flags&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		if err := f.checkWrite(); err != nil {
			return nil, err
		}
	}
	cpath, err := f.encrypt(path)
	if err != nil {
		return nil, err
	}
	trunc := flags&os.O_TRUNC != 0
	openFlags := flags &^ os.O_TRUNC
	return f.openBacking(cpath, openFlags, mode, trunc)
}

// Create translates "path" and creates a new backing file with
// O_CREAT|O_EXCL, matching the FUSE Create callback's "must not exist"
// contract.
func (f *FS) Create(path string, flags int, mode os.FileMode) (*File, error) {
	if err := f.checkWrite(); err != nil {
		return nil, err
	}
	cpath, err := f.encrypt(path)
	if err != nil {
		return nil, err
	}
	return f.openBacking(cpath, flags|os.O_CREATE|os.O_EXCL, mode, false)
}

func (f *FS) openBacking(cpath string, flags int, mode os.FileMode, trunc bool) (*File, error) {
	fstream, err := f.root.OpenFile(cpath, flags, mode)
	if err != nil {
		return nil, err
	}
	cs, err := contentenc.New(fstream, f.contentKey, f.opts.BlockSize, f.opts.IVSize, f.opts.Check())
	if err != nil {
		fstream.Close()
		return nil, err
	}
	stream := blockio.New(cs)
	if trunc {
		if err := stream.Truncate(0); err != nil {
			fstream.Close()
			return nil, err
		}
	}
	return newFile(fstream, stream, f.opts.SerializeReads), nil
}

// Unlink translates "path" and removes the backing file.
func (f *FS) Unlink(path string) error {
	if err := f.checkWrite(); err != nil {
		return err
	}
	cpath, err := f.encrypt(path)
	if err != nil {
		return err
	}
	return f.root.Unlink(cpath)
}

// Mkdir translates "path" and creates the backing directory. No
// metadata file is written for directories.
func (f *FS) Mkdir(path string, mode os.FileMode) error {
	if err := f.checkWrite(); err != nil {
		return err
	}
	cpath, err := f.encrypt(path)
	if err != nil {
		return err
	}
	return f.root.Mkdir(cpath, mode)
}

// Rmdir translates "path" and removes the (empty) backing directory.
func (f *FS) Rmdir(path string) error {
	if err := f.checkWrite(); err != nil {
		return err
	}
	cpath, err := f.encrypt(path)
	if err != nil {
		return err
	}
	return f.root.Rmdir(cpath)
}

// Rename translates both paths and delegates to the backing rename,
// atomic or not depending on the host.
func (f *FS) Rename(from, to string) error {
	if err := f.checkWrite(); err != nil {
		return err
	}
	cFrom, err := f.encrypt(from)
	if err != nil {
		return err
	}
	cTo, err := f.encrypt(to)
	if err != nil {
		return err
	}
	return f.root.Rename(cFrom, cTo)
}

// Link translates both paths and creates a hard link.
func (f *FS) Link(src, dst string) error {
	if err := f.checkWrite(); err != nil {
		return err
	}
	cSrc, err := f.encrypt(src)
	if err != nil {
		return err
	}
	cDst, err := f.encrypt(dst)
	if err != nil {
		return err
	}
	return f.root.Link(cSrc, cDst)
}

// Symlink creates a backing symlink at "linkPath" whose on-disk target
// is the encryption of "target": the link target is itself treated as
// a path in the encrypted view.
func (f *FS) Symlink(target, linkPath string) error {
	if err := f.checkWrite(); err != nil {
		return err
	}
	cTarget, err := f.names.EncryptPath(target)
	if err != nil {
		return err
	}
	cLink, err := f.encrypt(linkPath)
	if err != nil {
		return err
	}
	return f.root.Symlink(cTarget, cLink)
}

// Readlink reads and decrypts the backing symlink's target.
func (f *FS) Readlink(path string) (string, error) {
	cpath, err := f.encrypt(path)
	if err != nil {
		return "", err
	}
	cTarget, err := f.root.Readlink(cpath)
	if err != nil {
		return "", err
	}
	return f.names.DecryptPath(cTarget)
}

// Chmod translates "path" and changes the backing file's mode.
func (f *FS) Chmod(path string, mode os.FileMode) error {
	if err := f.checkWrite(); err != nil {
		return err
	}
	cpath, err := f.encrypt(path)
	if err != nil {
		return err
	}
	return f.root.Chmod(cpath, mode)
}

// Chown translates "path" and changes the backing file's owner/group.
func (f *FS) Chown(path string, uid, gid int) error {
	if err := f.checkWrite(); err != nil {
		return err
	}
	cpath, err := f.encrypt(path)
	if err != nil {
		return err
	}
	return f.root.Chown(cpath, uid, gid)
}

// Utimens translates "path" and sets the backing file's access/mod times.
func (f *FS) Utimens(path string, atime, mtime time.Time) error {
	if err := f.checkWrite(); err != nil {
		return err
	}
	cpath, err := f.encrypt(path)
	if err != nil {
		return err
	}
	return f.root.Utimens(cpath, unix.NsecToTimespec(atime.UnixNano()), unix.NsecToTimespec(mtime.UnixNano()))
}

// Statfs delegates to the backing filesystem, then rewrites f_namemax
// to reflect the base-32 + SIV expansion.
func (f *FS) Statfs() (unix.Statfs_t, error) {
	st, err := f.root.Statfs()
	if err != nil {
		return unix.Statfs_t{}, err
	}
	st.Namelen = int64(nametransform.Namemax(uint64(st.Namelen)))
	return st, nil
}

// isAppleQuirk reports whether "name" is one of the two host-specific
// attribute names swallowed rather than stored.
func isAppleQuirk(name string) bool {
	return name == appleQuarantine || name == appleFinderInfo
}

// Getxattr translates "path", opens the backing file, and decrypts the
// stored attribute value under xattr_key. The attribute name itself is
// passed through unencrypted (see DESIGN.md).
func (f *FS) Getxattr(path, name string) ([]byte, error) {
	if isAppleQuirk(name) {
		return nil, unix.ENODATA
	}
	cpath, err := f.encrypt(path)
	if err != nil {
		return nil, err
	}
	bf, err := f.root.OpenFile(cpath, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer bf.Close()
	sealed, err := xattr.FGet(bf.File(), name)
	if err != nil {
		return nil, err
	}
	return sivenc.Open(f.xattrKey, sealed)
}

// Setxattr translates "path", opens the backing file, and stores
// "value" encrypted under xattr_key.
func (f *FS) Setxattr(path, name string, value []byte) error {
	if isAppleQuirk(name) {
		return nil
	}
	if err := f.checkWrite(); err != nil {
		return err
	}
	cpath, err := f.encrypt(path)
	if err != nil {
		return err
	}
	bf, err := f.root.OpenFile(cpath, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer bf.Close()
	sealed, err := sivenc.Seal(f.xattrKey, value)
	if err != nil {
		return err
	}
	return xattr.FSet(bf.File(), name, sealed)
}

// Listxattr translates "path" and lists the backing file's attribute
// names, unencrypted (see Getxattr).
func (f *FS) Listxattr(path string) ([]string, error) {
	cpath, err := f.encrypt(path)
	if err != nil {
		return nil, err
	}
	bf, err := f.root.OpenFile(cpath, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer bf.Close()
	return xattr.FList(bf.File())
}

// Removexattr translates "path" and removes the named attribute.
func (f *FS) Removexattr(path, name string) error {
	if isAppleQuirk(name) {
		return unix.ENODATA
	}
	if err := f.checkWrite(); err != nil {
		return err
	}
	cpath, err := f.encrypt(path)
	if err != nil {
		return err
	}
	bf, err := f.root.OpenFile(cpath, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer bf.Close()
	return xattr.FRemove(bf.File(), name)
}
