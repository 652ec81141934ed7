package cryptocore

import (
	"bytes"
	"crypto/rand"
	"log"
)

// RandBytes gets "n" random bytes from the OS random source or panics.
func RandBytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		// crypto/rand.Read() is documented to never return an
		// error, so this should never happen. Still, better safe than sorry.
		log.Panic("Failed to read random bytes: " + err.Error())
	}
	return b
}

// nonceGenerator hands out fresh IVs for block encryption. It re-rolls
// all-zero draws so that a non-sparse block can never collide with the
// all-zero-ciphertext sparse-block convention.
type nonceGenerator struct {
	nonceLen int // bytes
}

// Get returns a fresh "nonceLen"-byte IV that is guaranteed to not be
// all-zero.
func (n *nonceGenerator) Get() []byte {
	zero := make([]byte, n.nonceLen)
	for {
		b := RandBytes(n.nonceLen)
		if !bytes.Equal(b, zero) {
			return b
		}
	}
}
