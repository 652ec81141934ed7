package nametransform

import (
	"strings"
	"testing"

	"github.com/veilfs/veilfs/internal/cryptocore"
)

func testKey() []byte {
	return cryptocore.RandBytes(32)
}

// TestNameDeterminism: encrypt_name(p, key) returns the same ciphertext
// on repeated calls; decrypt_name(encrypt_name(p, key), key) == p.
func TestNameDeterminism(t *testing.T) {
	nt := New(testKey())
	for _, p := range []string{"foo", "a", strings.Repeat("x", 100), "日本語"} {
		c1, err := nt.EncryptComponent(p)
		if err != nil {
			t.Fatal(err)
		}
		c2, err := nt.EncryptComponent(p)
		if err != nil {
			t.Fatal(err)
		}
		if c1 != c2 {
			t.Errorf("encryption not deterministic: %q != %q", c1, c2)
		}
		back, err := nt.DecryptComponent(c1)
		if err != nil {
			t.Fatal(err)
		}
		if back != p {
			t.Errorf("round-trip mismatch: got %q, want %q", back, p)
		}
	}
}

func TestNameAlphabetSafe(t *testing.T) {
	nt := New(testKey())
	c, err := nt.EncryptComponent("hello world")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range c {
		if !strings.ContainsRune("abcdefghijklmnopqrstuvwxyz234567", r) {
			t.Errorf("ciphertext name contains disallowed rune %q", r)
		}
	}
}

func TestDecryptGarbageFails(t *testing.T) {
	nt := New(testKey())
	if _, err := nt.DecryptComponent("not-base32!!"); err == nil {
		t.Error("expected error decoding invalid base32")
	}
	valid, _ := nt.EncryptComponent("foo")
	tampered := []byte(valid)
	tampered[0] ^= 1
	if _, err := nt.DecryptComponent(string(tampered)); err == nil {
		// tampering the first char either leaves the base32 alphabet
		// (decode error) or changes the sealed bytes, which SIV
		// verification rejects.
		t.Error("expected error decrypting a tampered name")
	}
}

func TestEncryptDecryptPath(t *testing.T) {
	nt := New(testKey())
	cPath, err := nt.EncryptPath("foo/bar/baz")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(cPath, "/") != 2 {
		t.Errorf("expected 2 separators, got %q", cPath)
	}
	plain, err := nt.DecryptPath(cPath)
	if err != nil {
		t.Fatal(err)
	}
	if plain != "foo/bar/baz" {
		t.Errorf("got %q, want foo/bar/baz", plain)
	}
}

func TestNamemax(t *testing.T) {
	// S7: statvfs.f_namemax == backing_namemax * 5 / 8 - 16
	got := Namemax(255)
	want := uint64(255)*5/8 - 16
	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}
