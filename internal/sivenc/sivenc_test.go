package sivenc

import (
	"bytes"
	"testing"

	"github.com/veilfs/veilfs/internal/cryptocore"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := cryptocore.RandBytes(32)
	plain := []byte("some/path/component")
	sealed, err := Seal(key, plain)
	if err != nil {
		t.Fatal(err)
	}
	if len(sealed) != Overhead+len(plain) {
		t.Errorf("sealed length = %d, want %d", len(sealed), Overhead+len(plain))
	}
	got, err := Open(key, sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("got %q, want %q", got, plain)
	}
}

func TestSealDeterministic(t *testing.T) {
	key := cryptocore.RandBytes(32)
	plain := []byte("foo")
	a, err := Seal(key, plain)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Seal(key, plain)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("Seal not deterministic: %x != %x", a, b)
	}
}

func TestOpenTamperedFails(t *testing.T) {
	key := cryptocore.RandBytes(32)
	sealed, err := Seal(key, []byte("foo"))
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := Open(key, sealed); err == nil {
		t.Error("expected verification failure on tampered ciphertext")
	}
}

func TestOpenTooShortFails(t *testing.T) {
	key := cryptocore.RandBytes(32)
	if _, err := Open(key, make([]byte, Overhead-1)); err == nil {
		t.Error("expected error for input shorter than Overhead")
	}
}
