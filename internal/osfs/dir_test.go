package osfs

import (
	"os"
	"testing"
)

func TestFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	root, err := OpenRoot(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer root.Close()

	fs, err := root.OpenFile("a", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	n, err := fs.ReadAt(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("got %q, want %q", buf[:n], "hello")
	}
	if err := fs.Close(); err != nil {
		t.Fatal(err)
	}

	st, err := root.Stat("a")
	if err != nil {
		t.Fatal(err)
	}
	if st.Size != 5 {
		t.Errorf("size = %d, want 5", st.Size)
	}

	if err := root.Rename("a", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := root.Lstat("a"); err == nil {
		t.Error("expected error statting renamed-away name")
	}
	if err := root.Unlink("b"); err != nil {
		t.Fatal(err)
	}
}

func TestDirTraversal(t *testing.T) {
	dir := t.TempDir()
	root, err := OpenRoot(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer root.Close()

	if err := root.Mkdir("sub", 0755); err != nil {
		t.Fatal(err)
	}
	fs, err := root.OpenFile("sub/child", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatal(err)
	}
	fs.Close()

	d, err := root.Opendir("sub")
	if err != nil {
		t.Fatal(err)
	}
	entries, err := d.Readdir()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "child" {
		t.Errorf("got %+v, want one entry named \"child\"", entries)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSymlink(t *testing.T) {
	dir := t.TempDir()
	root, err := OpenRoot(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer root.Close()

	if err := root.Symlink("target", "link"); err != nil {
		t.Fatal(err)
	}
	got, err := root.Readlink("link")
	if err != nil {
		t.Fatal(err)
	}
	if got != "target" {
		t.Errorf("got %q, want %q", got, "target")
	}
}
