// Package nametransform obfuscates path components so that the backing
// directory tree never reveals plaintext names, grounded on gocryptfs's
// internal/nametransform but swapping EME+base64 for the spec's
// SIV+base32 scheme: deterministic encryption (so a lookup never needs
// a directory scan) encoded with a filesystem-safe lowercase alphabet.
package nametransform

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/veilfs/veilfs/internal/sivenc"
)

// B32 is the RFC 4648 base-32 alphabet in lowercase, chosen because it
// is safe on every backing filesystem (no case folding surprises, no
// "+/=" shell-unfriendly characters once padding is stripped).
var B32 = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// NameTransform encrypts and decrypts individual path components.
type NameTransform struct {
	key []byte
}

// New returns a NameTransform keyed by the vault's name_key (32 bytes).
func New(nameKey []byte) *NameTransform {
	return &NameTransform{key: nameKey}
}

// EncryptComponent deterministically encrypts a single path component
// ("foo", not "foo/bar") and returns its base-32 backing-directory name.
// Equal plaintexts always yield equal ciphertexts, so a path lookup
// never requires scanning the backing directory.
func (n *NameTransform) EncryptComponent(plain string) (string, error) {
	sealed, err := sivenc.Seal(n.key, []byte(plain))
	if err != nil {
		return "", err
	}
	return B32.EncodeToString(sealed), nil
}

// DecryptComponent reverses EncryptComponent. It is also used, tolerant
// of failure, to recover plaintext names during directory listing: a
// backing entry that does not decode or verify is not part of the
// encrypted view and should be dropped by the caller.
func (n *NameTransform) DecryptComponent(cipherName string) (string, error) {
	sealed, err := B32.DecodeString(cipherName)
	if err != nil {
		return "", fmt.Errorf("nametransform: base32 decode: %w", err)
	}
	plain, err := sivenc.Open(n.key, sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// EncryptPath encrypts every non-empty component of a plaintext
// relative path, rejoining with "/". The root ("" or "/") maps to
// itself: it corresponds to the backing directory handle itself, not
// to an encrypted name.
func (n *NameTransform) EncryptPath(relPath string) (string, error) {
	if relPath == "" || relPath == "/" {
		return relPath, nil
	}
	parts := strings.Split(relPath, "/")
	out := make([]string, len(parts))
	for i, p := range parts {
		if p == "" {
			out[i] = p
			continue
		}
		c, err := n.EncryptComponent(p)
		if err != nil {
			return "", fmt.Errorf("nametransform: encrypting component %q: %w", p, err)
		}
		out[i] = c
	}
	return strings.Join(out, "/"), nil
}

// DecryptPath reverses EncryptPath. Used for symlink target decryption,
// since symlink targets are themselves encrypted-view paths.
func (n *NameTransform) DecryptPath(cipherPath string) (string, error) {
	if cipherPath == "" || cipherPath == "/" {
		return cipherPath, nil
	}
	parts := strings.Split(cipherPath, "/")
	out := make([]string, len(parts))
	for i, p := range parts {
		if p == "" {
			out[i] = p
			continue
		}
		d, err := n.DecryptComponent(p)
		if err != nil {
			return "", fmt.Errorf("nametransform: decrypting component %q: %w", p, err)
		}
		out[i] = d
	}
	return strings.Join(out, "/"), nil
}

// Namemax computes statvfs.f_namemax for the encrypted view from the
// backing filesystem's own f_namemax: base-32 expands 5 plaintext bytes
// into 8 backing characters, and every name carries a 16-byte synthetic
// IV overhead.
func Namemax(backingNamemax uint64) uint64 {
	return backingNamemax*5/8 - 16
}
