package vaultfs

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/veilfs/veilfs/internal/osfs"
	"github.com/veilfs/veilfs/internal/vaultcfg"
)

func newTestFS(t *testing.T) (*FS, string) {
	t.Helper()
	dir := t.TempDir()
	root, err := osfs.OpenRoot(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { root.Close() })
	masterKey := make([]byte, MasterKeySize) // all-zero, test-only key
	fs, err := New(root, masterKey, vaultcfg.Default())
	if err != nil {
		t.Fatal(err)
	}
	return fs, dir
}

// backingPath returns the absolute backing-directory path for "path"
// in the encrypted view, for tests that need to tamper with the raw
// ciphertext directly.
func backingPath(t *testing.T, fs *FS, backingRoot, path string) string {
	t.Helper()
	cpath, err := fs.encrypt(path)
	if err != nil {
		t.Fatal(err)
	}
	return filepath.Join(backingRoot, cpath)
}

// S1: create /a, write "hello" at offset 0, read it back.
func TestS1CreateWriteRead(t *testing.T) {
	fs, _ := newTestFS(t)
	f, err := fs.Create("/a", os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, 5)
	n, err := f.ReadAt(out, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(out[:n]) != "hello" {
		t.Errorf("got %q, want %q", out[:n], "hello")
	}
	if err := f.Release(); err != nil {
		t.Fatal(err)
	}
}

// S4: create /a, write, rename to /b, stat /a -> ENOENT, stat /b ->
// exists with size 1.
func TestS4Rename(t *testing.T) {
	fs, _ := newTestFS(t)
	f, err := fs.Create("/a", os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte("X"), 0); err != nil {
		t.Fatal(err)
	}
	if err := f.Release(); err != nil {
		t.Fatal(err)
	}
	if err := fs.Rename("/a", "/b"); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Stat("/a"); !os.IsNotExist(err) && err != unix.ENOENT {
		t.Errorf("stat /a: got %v, want ENOENT", err)
	}
	st, err := fs.Stat("/b")
	if err != nil {
		t.Fatal(err)
	}
	if st.Size != 1 {
		t.Errorf("stat /b size = %d, want 1", st.Size)
	}
}

// S5: corrupt one MAC byte in the backing file's first block, read
// should fail verification (EIO-class error).
func TestS5CorruptMACReadFails(t *testing.T) {
	fs, backingRoot := newTestFS(t)
	f, err := fs.Create("/a", os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatal(err)
	}
	if err := f.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := f.Release(); err != nil {
		t.Fatal(err)
	}

	// Corrupt the last byte of the backing file directly (it falls
	// inside the first block's MAC for a 5-byte write).
	path := backingPath(t, fs, backingRoot, "/a")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	f2, err := fs.Open("/a", os.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Release()
	out := make([]byte, 5)
	if _, err := f2.ReadAt(out, 0); err == nil {
		t.Error("expected verification failure reading corrupted file")
	}
}

// S6: two handles to the same file; H1 writes, H2 flushes, close both,
// reopen and read back H1's bytes.
func TestS6TwoHandles(t *testing.T) {
	fs, _ := newTestFS(t)
	h1, err := fs.Create("/a", os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := fs.Open("/a", os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h1.WriteAt([]byte("0123456789"), 0); err != nil {
		t.Fatal(err)
	}
	if err := h2.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := h1.Release(); err != nil {
		t.Fatal(err)
	}
	if err := h2.Release(); err != nil {
		t.Fatal(err)
	}

	h3, err := fs.Open("/a", os.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer h3.Release()
	out := make([]byte, 10)
	n, err := h3.ReadAt(out, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(out[:n]) != "0123456789" {
		t.Errorf("got %q, want %q", out[:n], "0123456789")
	}
}

func TestMkdirRmdirReaddir(t *testing.T) {
	fs, _ := newTestFS(t)
	if err := fs.Mkdir("/dir", 0755); err != nil {
		t.Fatal(err)
	}
	f, err := fs.Create("/dir/child", os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.Release()

	tr, err := fs.Opendir("/dir")
	if err != nil {
		t.Fatal(err)
	}
	entries, err := tr.Readdir()
	if err != nil {
		t.Fatal(err)
	}
	tr.Releasedir()
	if len(entries) != 1 || entries[0].Name != "child" {
		t.Errorf("got entries %+v, want one entry named \"child\"", entries)
	}

	if err := fs.Unlink("/dir/child"); err != nil {
		t.Fatal(err)
	}
	if err := fs.Rmdir("/dir"); err != nil {
		t.Fatal(err)
	}
}

func TestSymlinkReadlink(t *testing.T) {
	fs, _ := newTestFS(t)
	if err := fs.Symlink("/some/target", "/link"); err != nil {
		t.Fatal(err)
	}
	target, err := fs.Readlink("/link")
	if err != nil {
		t.Fatal(err)
	}
	if target != "/some/target" {
		t.Errorf("got %q, want %q", target, "/some/target")
	}
}

func TestStatfsNamemax(t *testing.T) {
	fs, _ := newTestFS(t)
	st, err := fs.Statfs()
	if err != nil {
		t.Fatal(err)
	}
	if st.Namelen <= 0 {
		t.Errorf("Namelen = %d, want > 0", st.Namelen)
	}
}
