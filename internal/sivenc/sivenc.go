// Package sivenc provides deterministic authenticated encryption for
// path components, grounded on gocryptfs's internal/siv_aead wrapper
// around github.com/jacobsa/crypto/siv but stripped of the separate
// cipher.AEAD nonce parameter: the synthetic IV is derived purely from
// the plaintext, so equal plaintexts always produce equal ciphertexts.
package sivenc

import (
	"fmt"

	"github.com/jacobsa/crypto/siv"
)

// Overhead is the number of bytes the synthetic IV adds to the plaintext.
const Overhead = 16

// Seal deterministically encrypts "plaintext" under "key" (32 bytes is
// the smallest key size jacobsa/crypto/siv accepts; gocryptfs itself
// always uses 64, but our name_key is a 32-byte subkey of the master
// key). The returned slice is the 16-byte synthetic IV followed by the
// ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	out, err := siv.Encrypt(nil, key, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("sivenc: seal failed: %w", err)
	}
	return out, nil
}

// Open verifies and decrypts "sealed" (synthetic IV ‖ ciphertext) under
// "key". Returns an error if the synthetic IV does not match what a
// fresh encryption of the recovered plaintext would produce, i.e. the
// data was corrupted or forged.
func Open(key, sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("sivenc: input too short: %d bytes", len(sealed))
	}
	out, err := siv.Decrypt(key, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("sivenc: verification failed: %w", err)
	}
	return out, nil
}
