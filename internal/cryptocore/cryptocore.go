// Package cryptocore wraps the AES-GCM AEAD and nonce generation used
// by the content stream for block encryption. ECB-mode session-key
// derivation is a single raw block-cipher operation and lives directly
// in contentenc, which needs it before a CryptoCore can be built.
package cryptocore

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const (
	// KeyLen is the cipher key length in bytes (AES-256).
	KeyLen = 32
	// AuthTagLen is the length of a GCM authentication tag in bytes.
	AuthTagLen = 16
	// MinIVLen and MaxIVLen bound the permitted per-block IV length, per
	// the data model's iv_size range.
	MinIVLen = 12
	MaxIVLen = 32
)

// CryptoCore bundles the AES primitives needed by one content stream:
// an AEAD for block encryption and a nonce generator for fresh IVs.
type CryptoCore struct {
	Gcm   cipher.AEAD
	IVGen *nonceGenerator
	IVLen int
}

// New builds a CryptoCore around "key" using AES-GCM with ivLen-byte
// IVs. "key" must be a valid AES key length (16, 24 or 32 bytes): the
// master-key subkeys (name_key, content_key, xattr_key) are KeyLen
// (32) bytes, but a per-file session key derived from the file header
// is only header_size (16) bytes, so this accepts either.
func New(key []byte, ivLen int) (*CryptoCore, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("cryptocore: invalid AES key length %d", len(key))
	}
	if ivLen < MinIVLen || ivLen > MaxIVLen {
		return nil, fmt.Errorf("cryptocore: iv size %d out of range [%d,%d]", ivLen, MinIVLen, MaxIVLen)
	}
	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(blockCipher, ivLen)
	if err != nil {
		return nil, err
	}
	return &CryptoCore{
		Gcm:   gcm,
		IVGen: &nonceGenerator{nonceLen: ivLen},
		IVLen: ivLen,
	}, nil
}
