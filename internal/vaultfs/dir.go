package vaultfs

import (
	"golang.org/x/sys/unix"

	"github.com/veilfs/veilfs/internal/osfs"
)

// DirEntry is one decrypted backing directory entry, produced by
// Traverser.Readdir as a (plaintext_name, stat) pair.
type DirEntry struct {
	Name string
	Stat unix.Stat_t
}

// Traverser holds an underlying OS directory handle and decrypts each
// entry name on the way out, dropping backing entries that fail to
// decode/verify since those are not part of the encrypted view.
// Created by Opendir, destroyed by Releasedir.
type Traverser struct {
	dir *osfs.Dir
	fs  *FS
}

// Opendir translates "path" and opens the backing directory, returning
// a Traverser over it.
func (f *FS) Opendir(path string) (*Traverser, error) {
	cpath, err := f.encrypt(path)
	if err != nil {
		return nil, err
	}
	d, err := f.root.Opendir(cpath)
	if err != nil {
		return nil, err
	}
	return &Traverser{dir: d, fs: f}, nil
}

// Readdir lists all entries, decrypting each backing name and
// rewriting each entry's size via the usual size-translation formula. A
// backing entry whose name does not base-32 decode or SIV-verify is
// silently dropped: it is not part of the encrypted view. Entries are
// additionally filtered so that "." and ".." never appear, matching
// osfs.Dir.Readdir's behavior.
func (t *Traverser) Readdir() ([]DirEntry, error) {
	raw, err := t.dir.Readdir()
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(raw))
	for _, e := range raw {
		plain, err := t.fs.names.DecryptComponent(e.Name)
		if err != nil {
			continue
		}
		st, err := t.dir.Stat(e.Name)
		if err != nil {
			continue
		}
		t.fs.rewriteSize(&st)
		out = append(out, DirEntry{Name: plain, Stat: st})
	}
	return out, nil
}

// Releasedir closes the traverser's backing directory handle.
func (t *Traverser) Releasedir() error {
	return t.dir.Close()
}
